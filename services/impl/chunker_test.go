package impl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkEmptyText(t *testing.T) {
	c := NewChunker(100, 20)
	assert.Nil(t, c.Chunk(""))
	assert.Nil(t, c.Chunk("   \n\t  "))
}

func TestChunkShortTextIsSingleChunk(t *testing.T) {
	c := NewChunker(100, 20)
	chunks := c.Chunk("a short announcement")
	assert.Equal(t, []string{"a short announcement"}, chunks)
}

func TestChunkOverlappingWindows(t *testing.T) {
	c := NewChunker(50, 10)
	words := make([]string, 60)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ")

	chunks := c.Chunk(text)
	assert.Greater(t, len(chunks), 1)

	// Every window stays within the configured size and none is empty.
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 50)
		assert.NotEmpty(t, chunk)
	}

	// No content is lost: each word occurrence survives somewhere.
	joined := strings.Join(chunks, " ")
	assert.GreaterOrEqual(t, strings.Count(joined, "word"), 60)
}

func TestChunkPrefersWordBoundaries(t *testing.T) {
	c := NewChunker(40, 8)
	text := strings.Repeat("ministry circular ", 20)

	for _, chunk := range c.Chunk(text) {
		assert.False(t, strings.HasSuffix(chunk, "minist"), "chunk cut a word: %q", chunk)
	}
}

func TestChunkUnbrokenTextStillChunks(t *testing.T) {
	c := NewChunker(30, 5)
	text := strings.Repeat("x", 200)

	chunks := c.Chunk(text)
	assert.Greater(t, len(chunks), 1)

	total := 0
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 30)
		total += len(chunk)
	}
	// Overlap duplicates some runes, so the sum is at least the input length.
	assert.GreaterOrEqual(t, total, 200)
}

func TestChunkMultibyteRunes(t *testing.T) {
	c := NewChunker(20, 4)
	text := strings.Repeat("教育部の通知 ", 30)

	for _, chunk := range c.Chunk(text) {
		assert.LessOrEqual(t, len([]rune(chunk)), 20)
	}
}

func TestChunkIsDeterministic(t *testing.T) {
	// Re-embedding a document must reproduce the same windows so chunk
	// indexes stay stable across rebuilds.
	c := NewChunker(50, 10)
	text := strings.Repeat("national curriculum framework revision notice ", 40)

	first := c.Chunk(text)
	second := c.Chunk(text)
	assert.Equal(t, first, second)
}

func TestNewChunkerDefaults(t *testing.T) {
	// Out-of-range parameters fall back to safe values instead of panicking.
	c := NewChunker(0, -1)
	chunks := c.Chunk(strings.Repeat("policy text ", 500))
	assert.NotEmpty(t, chunks)

	c = NewChunker(100, 100) // overlap >= size would loop forever
	chunks = c.Chunk(strings.Repeat("policy text ", 50))
	assert.NotEmpty(t, chunks)
}
