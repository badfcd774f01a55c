package domain

import (
	"context"
	"io"
)

// Chunker splits extracted document text into ordered chunks.
type Chunker interface {
	Chunk(text string) []Chunk
}

// Embedder converts free text into a fixed-length numeric vector.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(text string) ([]float64, error)
}

// VectorIndex persists chunk vectors and supports filtered similarity search.
type VectorIndex interface {
	Insert(ctx context.Context, batch []IndexedVector) ([]string, error)
	Query(ctx context.Context, vector []float64, topK int, filter *Filter) ([]RetrievalResult, error)
	DeleteBySource(ctx context.Context, sourcePath string) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// Extractor turns a stored file into plain text.
type Extractor interface {
	Extract(ctx context.Context, path string, fileType FileType) (string, error)
}

// DocumentStore persists document records on behalf of the ingestion pipeline.
type DocumentStore interface {
	Create(ctx context.Context, doc Document) error
	Get(ctx context.Context, id string) (Document, error)
	FindByHash(ctx context.Context, hash string) (Document, error)
	FindByPath(ctx context.Context, path string) (Document, error)
	List(ctx context.Context, offset, limit int) ([]Document, error)
	MarkProcessed(ctx context.Context, id, summary string, wordCount int) error
	MarkUnprocessed(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// FragmentStream is a pull iterator over incremental completion text.
// Next blocks until a fragment is available or the stream ends; Err reports
// why it ended. Close releases the underlying connection.
type FragmentStream interface {
	Next() bool
	Fragment() string
	Err() error
	io.Closer
}

// CompletionProvider is the hosted or local language model.
type CompletionProvider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Stream(ctx context.Context, req CompletionRequest) (FragmentStream, error)
	// Health reports whether the model backend is reachable.
	Health(ctx context.Context) error
}
