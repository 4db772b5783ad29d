package pipeline

import (
	"fmt"
	"strings"

	"github.com/ternarybob/corpus/internal/interfaces"
)

// Chunker splits markdown into overlapping rune windows for embedding.
// Boundaries are deterministic for a given input and configuration, so
// re-indexing a document produces the same chunk ids and overwrites the
// previous vectors instead of adding new ones.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the given window size and overlap, both
// in runes. Overlap larger than the window is clamped.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1200
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split chunks content, preferring to break at a paragraph or line boundary
// near the end of each window. Chunk ids are documentID:chunk{ordinal}.
func (c *Chunker) Split(documentID, content string) []interfaces.Chunk {
	runes := []rune(content)
	if len(runes) == 0 {
		return nil
	}

	chunks := make([]interfaces.Chunk, 0, len(runes)/c.size+1)
	step := c.size - c.overlap
	ordinal := 0

	for start := 0; start < len(runes); {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.breakpoint(runes, start, end)
		}

		text := strings.TrimSpace(string(runes[start:end]))
		if text != "" {
			chunks = append(chunks, interfaces.Chunk{
				ID:      fmt.Sprintf("%s:chunk%d", documentID, ordinal),
				Ordinal: ordinal,
				Text:    text,
			})
			ordinal++
		}

		if end == len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = start + step
		}
		start = next
	}
	return chunks
}

// breakpoint searches backwards from end for a newline to cut at, without
// shrinking the window below half its size.
func (c *Chunker) breakpoint(runes []rune, start, end int) int {
	floor := start + c.size/2
	for i := end; i > floor; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	for i := end; i > floor; i-- {
		if runes[i-1] == ' ' {
			return i
		}
	}
	return end
}
