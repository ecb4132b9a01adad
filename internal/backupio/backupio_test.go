package backupio

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelationTargetAcceptsBareString(t *testing.T) {
	var rt RelationTarget
	require.NoError(t, json.Unmarshal([]byte(`"Some Title"`), &rt))
	assert.Equal(t, "Some Title", rt.Title)
	assert.Nil(t, rt.Type)
	assert.Equal(t, 1.0, rt.WeightOrDefault())
}

func TestRelationTargetAcceptsObject(t *testing.T) {
	var rt RelationTarget
	require.NoError(t, json.Unmarshal([]byte(`{"title":"Other","type":"cites","weight":0.5}`), &rt))
	assert.Equal(t, "Other", rt.Title)
	require.NotNil(t, rt.Type)
	assert.Equal(t, "cites", *rt.Type)
	assert.Equal(t, 0.5, rt.WeightOrDefault())
}

func TestRelationTargetMarshalOmitsDefaultWeight(t *testing.T) {
	rt := RelationTarget{Title: "T"}
	data, err := json.Marshal(rt)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "weight")

	one := 1.0
	rt2 := RelationTarget{Title: "T", Weight: &one}
	data2, err := json.Marshal(rt2)
	require.NoError(t, err)
	assert.NotContains(t, string(data2), "weight")

	half := 0.5
	rt3 := RelationTarget{Title: "T", Weight: &half}
	data3, err := json.Marshal(rt3)
	require.NoError(t, err)
	assert.Contains(t, string(data3), "\"weight\":0.5")
}

func TestAppendAndReadAllRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.jsonl")
	require.NoError(t, Truncate(path))

	rec := Record{
		Title:       "Doc One",
		Content:     "hello world",
		ContentHash: "abc123",
		Metadata:    map[string]any{"k": "v"},
		Chunks: []Chunk{
			{Text: "hello world", Embedding: []float32{0.1, 0.2}, StartIndex: 0, EndIndex: 11, TokenCount: 11},
		},
		Relations: []RelationTarget{{Title: "Doc Two"}},
	}
	require.NoError(t, Append(path, rec))

	rec2 := rec
	rec2.Title = "Doc Two"
	rec2.ContentHash = "def456"
	require.NoError(t, Append(path, rec2))

	results, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Doc One", results[0].Record.Title)
	assert.Equal(t, "Doc Two", results[1].Record.Title)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
}

func TestReadAllSkipsBlankLinesAndReportsParseErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.jsonl")
	content := "{\"title\":\"Good\",\"content\":\"c\",\"contentHash\":\"h\"}\n\nnot json\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	results, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
}

func TestRelationsFieldAcceptsMixedArray(t *testing.T) {
	var rec Record
	data := []byte(`{"title":"t","content":"c","contentHash":"h","relations":["bare title",{"title":"typed","type":"cites"}]}`)
	require.NoError(t, json.Unmarshal(data, &rec))
	require.Len(t, rec.Relations, 2)
	assert.Equal(t, "bare title", rec.Relations[0].Title)
	assert.Equal(t, "typed", rec.Relations[1].Title)
}
