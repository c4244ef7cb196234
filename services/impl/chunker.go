package impl

import (
	"strings"
	"unicode"

	"github.com/beacon-core/services"
)

type windowChunker struct {
	size    int // characters per window
	overlap int // characters shared with the previous window
}

// NewChunker builds a sliding-window chunker. Windows prefer to end on a
// whitespace boundary so embedded text does not cut words in half.
func NewChunker(size, overlap int) services.Chunker {
	if size <= 0 {
		size = 1600
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 8
	}
	return &windowChunker{size: size, overlap: overlap}
}

func (c *windowChunker) Chunk(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.size {
		return []string{string(runes)}
	}

	var chunks []string
	step := c.size - c.overlap
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = backUpToBoundary(runes, start, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
		// Advance relative to where this window actually ended.
		step = end - start - c.overlap
		if step <= 0 {
			step = 1
		}
	}
	return chunks
}

// backUpToBoundary retreats from end to the nearest whitespace, but never
// more than a quarter of the window; pathological unbroken text still chunks.
func backUpToBoundary(runes []rune, start, end int) int {
	limit := end - (end-start)/4
	for i := end; i > limit; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
