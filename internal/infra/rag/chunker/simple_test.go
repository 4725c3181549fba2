package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlidingWindowChunk_Empty(t *testing.T) {
	c := New(100, 20)
	require.Nil(t, c.Chunk(""))
}

func TestSlidingWindowChunk_CoversFullText(t *testing.T) {
	text := strings.Repeat("a", 1000)
	c := New(100, 20)
	chunks := c.Chunk(text)
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	require.Equal(t, len(text), last.EndOffset)
	for i, ch := range chunks {
		require.Equal(t, i, ch.ChunkIndex)
		require.Equal(t, text[ch.StartOffset:ch.EndOffset], ch.Text)
	}
}

func TestSlidingWindowChunk_OverlapLargerThanSizeStillTerminates(t *testing.T) {
	text := strings.Repeat("b", 300)
	c := New(10, 50) // overlap clamps the step to 1, not 0
	chunks := c.Chunk(text)
	require.NotEmpty(t, chunks)
	require.Equal(t, len(text), chunks[len(chunks)-1].EndOffset)
}

func TestSlidingWindowChunk_NonPositiveSizeFallsBackToDefault(t *testing.T) {
	c := New(0, -5)
	require.Equal(t, DefaultChunkSize, c.chunkSize)
	require.Equal(t, 0, c.overlap)
}

func TestSlidingWindowChunk_StampsTokenCount(t *testing.T) {
	c := New(100, 20)
	chunks := c.Chunk("the quick brown fox jumps over the lazy dog")
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		require.Greater(t, ch.TokenCount, 0)
	}
}
