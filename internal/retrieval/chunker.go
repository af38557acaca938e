package retrieval

import "strings"

// Chunking defaults tuned for sentence-transformer context windows.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Chunker splits text into fixed-size overlapping windows. Sizes are in
// runes so multi-byte text does not split mid-character.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker. Non-positive size or negative overlap
// fall back to the defaults; overlap is clamped below size.
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 10
	}
	return Chunker{size: size, overlap: overlap}
}

// Split returns the chunks of text in document order. Whitespace-only
// chunks are dropped; whitespace-only input yields no chunks.
func (c Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(strings.TrimSpace(text)) == 0 {
		return nil
	}
	if len(runes) <= c.size {
		return []string{text}
	}

	step := c.size - c.overlap
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := min(start+c.size, len(runes))
		chunk := string(runes[start:end])
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
