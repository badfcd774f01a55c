package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDuplicateDocument   = errors.New("document with the same content already exists")
	ErrDocumentNotFound    = errors.New("document not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file exceeds maximum allowed size")
	ErrStreamTruncated     = errors.New("response stream ended early")
)

// ConfigurationError reports invalid static configuration. It is never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// ExtractionError reports that a file could not be turned into text.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingError reports that text could not be vectorized.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return "embed: " + e.Err.Error() }

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IndexError reports an unavailable index or a failed index operation.
type IndexError struct {
	Op  string
	Err error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("vector index %s: %v", e.Op, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// IngestError reports that a document's chunks were not indexed. Nothing of
// the failed batch is visible in the index.
type IngestError struct {
	SourcePath string
	Err        error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.SourcePath, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// RetrievalError reports that a query could not be answered. It is distinct
// from an empty result, which means the search ran and found nothing.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string { return "retrieve: " + e.Err.Error() }

func (e *RetrievalError) Unwrap() error { return e.Err }

// ProviderError wraps a completion provider failure. RetryAfter carries a
// server-requested delay when the provider sent one.
type ProviderError struct {
	Provider   string
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "transient"
	}
	return fmt.Sprintf("%s provider (%s): %v", e.Provider, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether err carries a retryable ProviderError.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}
