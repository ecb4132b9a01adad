package backup

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1qh/ragpg/internal/backupio"
)

func writeLines(t *testing.T, recs ...backupio.Record) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backup.jsonl")
	require.NoError(t, backupio.Truncate(path))
	for _, r := range recs {
		require.NoError(t, backupio.Append(path, r))
	}
	return path
}

func TestValidateAcceptsWellFormedBackup(t *testing.T) {
	path := writeLines(t, backupio.Record{
		Title: "A", Content: "c", ContentHash: "h1",
		Chunks: []backupio.Chunk{{Text: "t", Embedding: []float32{0.1, 0.2}, TokenCount: 1}},
	})
	result, err := Validate(path)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 1, result.TotalDocuments)
	assert.Equal(t, 1, result.TotalChunks)
	assert.Contains(t, result.Dimensions, 2)
}

func TestValidateDetectsMissingRequiredFields(t *testing.T) {
	path := writeLines(t, backupio.Record{Title: "", Content: "", ContentHash: ""})
	result, err := Validate(path)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestValidateDetectsMixedDimensions(t *testing.T) {
	path := writeLines(t,
		backupio.Record{Title: "A", Content: "c", ContentHash: "h1", Chunks: []backupio.Chunk{{Text: "t", Embedding: []float32{0.1, 0.2}}}},
		backupio.Record{Title: "B", Content: "c", ContentHash: "h2", Chunks: []backupio.Chunk{{Text: "t", Embedding: []float32{0.1, 0.2, 0.3}}}},
	)
	result, err := Validate(path)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Len(t, result.Dimensions, 2)
}

func TestValidateDetectsDuplicateContentHashes(t *testing.T) {
	path := writeLines(t,
		backupio.Record{Title: "A", Content: "c", ContentHash: "dup"},
		backupio.Record{Title: "B", Content: "c", ContentHash: "dup"},
	)
	result, err := Validate(path)
	require.NoError(t, err)
	assert.Contains(t, result.DuplicateHashes, "dup")
}

func TestValidationFailureErrorMessage(t *testing.T) {
	err := &ValidationFailure{LineErrors: []string{"bad line"}, Dimensions: []int{2, 3}}
	assert.Contains(t, err.Error(), "1 line error")
	assert.Contains(t, err.Error(), "[2 3]")
}
