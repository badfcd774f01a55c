package chunker

import (
	"strconv"
	"strings"

	"ragchat/internal/domain"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// WordChunker splits text into fixed-size word windows that overlap.
type WordChunker struct {
	chunkSize int
	overlap   int
}

// NewWordChunker validates the window parameters. overlap must be smaller than
// chunkSize, otherwise the window would never advance.
func NewWordChunker(chunkSize, overlap int) (*WordChunker, error) {
	if chunkSize <= 0 {
		return nil, &domain.ConfigurationError{Field: "chunker.chunk_size", Reason: "must be positive, got " + strconv.Itoa(chunkSize)}
	}
	if overlap < 0 {
		return nil, &domain.ConfigurationError{Field: "chunker.overlap", Reason: "must not be negative, got " + strconv.Itoa(overlap)}
	}
	if overlap >= chunkSize {
		return nil, &domain.ConfigurationError{Field: "chunker.overlap", Reason: "must be smaller than chunk_size"}
	}
	return &WordChunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// Chunk returns the ordered windows of text. Text that fits in one window,
// including empty text, comes back unchanged as a single chunk.
func (c *WordChunker) Chunk(text string) []domain.Chunk {
	words := strings.Fields(text)
	if len(words) <= c.chunkSize {
		return []domain.Chunk{{Text: text, Index: 0, StartWord: 0, EndWord: len(words)}}
	}
	step := c.chunkSize - c.overlap
	var chunks []domain.Chunk
	for start, idx := 0, 0; start < len(words); start, idx = start+step, idx+1 {
		end := start + c.chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, domain.Chunk{
			Text:      strings.Join(words[start:end], " "),
			Index:     idx,
			StartWord: start,
			EndWord:   end,
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}
