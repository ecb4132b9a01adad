package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseRRFCombinesRanksAcrossLegs(t *testing.T) {
	vecRows := []Result{
		{ChunkID: 1, Text: "a"},
		{ChunkID: 2, Text: "b"},
	}
	bm25Rows := []Result{
		{ChunkID: 2, Text: "b"},
		{ChunkID: 3, Text: "c"},
	}
	out := fuseRRF(vecRows, bm25Rows, 60, 1, 1)
	require.Len(t, out, 3)
	// chunk 2 appears in both legs (rank 1 vector, rank 0 bm25) so it should score highest.
	assert.Equal(t, int64(2), out[0].ChunkID)
	for _, r := range out {
		assert.Equal(t, ResultVector, r.Mode)
	}
}

func TestFuseRRFMissingRankContributesZero(t *testing.T) {
	vecRows := []Result{{ChunkID: 1, Text: "solo"}}
	out := fuseRRF(vecRows, nil, 60, 1, 1)
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0/61.0, out[0].Score, 1e-9)
}

func TestDedupByTextKeepsFirstOccurrenceAndTruncates(t *testing.T) {
	results := []Result{
		{ChunkID: 1, Text: "same"},
		{ChunkID: 2, Text: "same"},
		{ChunkID: 3, Text: "other"},
	}
	out := dedupByText(results, 10)
	require.Len(t, out, 2)
	assert.Equal(t, int64(1), out[0].ChunkID)

	truncated := dedupByText(results, 1)
	require.Len(t, truncated, 1)
}

func TestDominantCommunityPicksHighestCount(t *testing.T) {
	one := int32(1)
	two := int32(2)
	results := []Result{
		{CommunityID: &one},
		{CommunityID: &one},
		{CommunityID: &two},
	}
	top, ok := dominantCommunity(results)
	require.True(t, ok)
	assert.Equal(t, int32(1), top)
}

func TestDominantCommunityFalseWhenNoneHaveCommunity(t *testing.T) {
	_, ok := dominantCommunity([]Result{{}, {}})
	assert.False(t, ok)
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, ModeHybrid, cfg.Mode)
	assert.Equal(t, 10, cfg.Limit)
	assert.Equal(t, 60, cfg.RRFK)
	assert.Equal(t, 1.0, cfg.VectorWeight)
	assert.Equal(t, 1.0, cfg.BM25Weight)
	assert.Equal(t, 1.0, cfg.GraphWeight)
	assert.Equal(t, 1.0, cfg.GraphDecay)
	assert.Equal(t, 200, cfg.GraphChunkLimit)
}
