package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkStartIndicesAreStrictlyIncreasing(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 200)
	chunks := Chunk(text, Options{ChunkSize: 256})
	require.NotEmpty(t, chunks)
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].StartIndex, chunks[i-1].StartIndex)
	}
}

func TestChunkRespectsSizeBound(t *testing.T) {
	text := strings.Repeat("word ", 1000)
	const size = 100
	chunks := Chunk(text, Options{ChunkSize: size})
	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, size+len(" word"))
	}
}

func TestChunkDropsShortFragments(t *testing.T) {
	chunks := Chunk("short", Options{ChunkSize: 256})
	assert.Empty(t, chunks)
}

func TestChunkDropsOCRGarbage(t *testing.T) {
	garbage := strings.Repeat("x", 250)
	text := "A normal sentence that is long enough to pass the minimum length filter on its own merit here. " + garbage
	chunks := Chunk(text, Options{ChunkSize: 4096})
	for _, c := range chunks {
		assert.NotContains(t, c.Text, garbage)
	}
}

func TestChunkPreservesHeaderBoundaries(t *testing.T) {
	text := "# Introduction\n\n" + strings.Repeat("Intro text goes here. ", 30) +
		"\n\n# Conclusion\n\n" + strings.Repeat("Conclusion text goes here. ", 30)
	chunks := Chunk(text, Options{ChunkSize: 200})
	require.NotEmpty(t, chunks)
	foundIntro, foundConclusion := false, false
	for _, c := range chunks {
		if strings.HasPrefix(c.Text, "# Introduction") {
			foundIntro = true
		}
		if strings.HasPrefix(c.Text, "# Conclusion") {
			foundConclusion = true
		}
	}
	assert.True(t, foundIntro)
	assert.True(t, foundConclusion)
}

func TestChunkUnwrapsHardBreaksButKeepsParagraphs(t *testing.T) {
	text := "This is line one\nthis is line two continuing the sentence.\n\nThis is a new paragraph."
	chunks := Chunk(text, Options{ChunkSize: 4096})
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "line one this is line two")
	assert.Contains(t, chunks[0].Text, "\n\nThis is a new paragraph.")
}

func TestChunkOverlapPrefixesTailOfPrevious(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta epsilon zeta eta theta. ", 60)
	chunks := Chunk(text, Options{ChunkSize: 120, Overlap: 20})
	require.Greater(t, len(chunks), 1)
	prevTail := lastRunes(strings.TrimSpace(chunks[0].Text), 20)
	assert.True(t, strings.HasPrefix(chunks[1].Text, prevTail) || strings.Contains(chunks[1].Text, prevTail))
}

func TestChunkAppliesNormalizeHook(t *testing.T) {
	text := "Hello   world, this needs enough length to survive the minimum chunk filter applied."
	calls := 0
	chunks := Chunk(text, Options{
		ChunkSize: 4096,
		Normalize: func(s string) string {
			calls++
			return strings.ReplaceAll(s, "   ", " ")
		},
	})
	assert.Equal(t, 1, calls)
	require.Len(t, chunks, 1)
	assert.NotContains(t, chunks[0].Text, "   ")
}

func TestChunkHandlesUnicodeOffsets(t *testing.T) {
	text := strings.Repeat("héllo wörld café naïve résumé déjà vu piñata jalapeño über. ", 30)
	chunks := Chunk(text, Options{ChunkSize: 100})
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, c.EndIndex-c.StartIndex, c.TokenCount)
	}
}

func TestChunkEmptyInputYieldsNoChunks(t *testing.T) {
	assert.Empty(t, Chunk("", Options{}))
	assert.Empty(t, Chunk("   \n\n  ", Options{}))
}

func TestSplitBeforeHeadersKeepsLeadingHeader(t *testing.T) {
	parts := splitBeforeHeaders("# Title\nbody text here")
	require.Len(t, parts, 1)
	assert.Equal(t, "# Title\nbody text here", parts[0])
}

func TestSplitAfterPunctKeepsPunctuationWithLeftPiece(t *testing.T) {
	parts := splitAfterPunct(sentenceSplitRe, "One. Two. Three")
	require.Len(t, parts, 3)
	assert.Equal(t, "One.", parts[0])
	assert.Equal(t, "Two.", parts[1])
	assert.Equal(t, "Three", parts[2])
}
