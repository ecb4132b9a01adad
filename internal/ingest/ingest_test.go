package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigBatchSizeDefaultsTo64(t *testing.T) {
	assert.Equal(t, 64, Config{}.batchSize())
	assert.Equal(t, 16, Config{BatchSize: 16}.batchSize())
}

func TestEmbedInBatchesPreservesOrderAcrossBatches(t *testing.T) {
	var calls [][]string
	embed := func(_ context.Context, texts []string) ([][]float32, error) {
		calls = append(calls, append([]string(nil), texts...))
		out := make([][]float32, len(texts))
		for i, t := range texts {
			out[i] = []float32{float32(len(t))}
		}
		return out, nil
	}

	texts := []string{"a", "bb", "ccc", "dddd", "e"}
	vecs, err := embedInBatches(context.Background(), embed, texts, 2)
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	assert.Equal(t, []float32{1}, vecs[0])
	assert.Equal(t, []float32{2}, vecs[1])
	assert.Equal(t, []float32{3}, vecs[2])
	assert.Equal(t, []float32{4}, vecs[3])
	assert.Equal(t, []float32{1}, vecs[4])
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"a", "bb"}, calls[0])
	assert.Equal(t, []string{"ccc", "dddd"}, calls[1])
	assert.Equal(t, []string{"e"}, calls[2])
}
