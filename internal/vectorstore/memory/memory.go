package memory

import (
	"context"
	"fmt"
	"sync"

	"ragchat/internal/domain"
	"ragchat/internal/vectorstore"
)

// Storage is an in-memory vector index using brute-force cosine similarity.
// Entries are copied on the way in and out, so callers never share buffers.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	entries   []domain.IndexedVector
	ids       map[string]struct{}
	closed    bool
}

func NewStorage(dimension int) (*Storage, error) {
	if dimension <= 0 {
		return nil, &domain.ConfigurationError{Field: "vector_store.dimension", Reason: fmt.Sprintf("must be positive, got %d", dimension)}
	}
	return &Storage{dimension: dimension, ids: make(map[string]struct{})}, nil
}

func (s *Storage) Insert(ctx context.Context, batch []domain.IndexedVector) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.IndexError{Op: "insert", Err: err}
	}
	prepared, err := vectorstore.PrepareBatch(batch, s.dimension)
	if err != nil {
		return nil, &domain.IndexError{Op: "insert", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &domain.IndexError{Op: "insert", Err: vectorstore.ErrClosed}
	}
	for _, v := range prepared {
		if _, ok := s.ids[v.ID]; ok {
			return nil, &domain.IndexError{Op: "insert", Err: fmt.Errorf("%w: %s", vectorstore.ErrDuplicateID, v.ID)}
		}
	}
	for _, v := range prepared {
		s.ids[v.ID] = struct{}{}
	}
	s.entries = append(s.entries, prepared...)
	return vectorstore.IDs(prepared), nil
}

func (s *Storage) Query(ctx context.Context, vector []float64, topK int, filter *domain.Filter) ([]domain.RetrievalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.IndexError{Op: "query", Err: err}
	}
	if err := vectorstore.CheckQuery(vector, s.dimension, filter); err != nil {
		return nil, &domain.IndexError{Op: "query", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &domain.IndexError{Op: "query", Err: vectorstore.ErrClosed}
	}
	cands := make([]vectorstore.Candidate, 0, len(s.entries))
	for _, e := range s.entries {
		if !filter.Match(e.Metadata) {
			continue
		}
		cands = append(cands, vectorstore.Candidate{Entry: e, Similarity: vectorstore.Cosine(e.Vector, vector)})
	}
	return vectorstore.TopK(cands, topK), nil
}

func (s *Storage) DeleteBySource(ctx context.Context, sourcePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &domain.IndexError{Op: "delete", Err: vectorstore.ErrClosed}
	}
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.Metadata.SourcePath == sourcePath {
			delete(s.ids, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = domain.IndexedVector{}
	}
	s.entries = kept
	return nil
}

func (s *Storage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &domain.IndexError{Op: "clear", Err: vectorstore.ErrClosed}
	}
	s.entries = nil
	s.ids = make(map[string]struct{})
	return nil
}

func (s *Storage) Stats(ctx context.Context) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.Stats{}, &domain.IndexError{Op: "stats", Err: vectorstore.ErrClosed}
	}
	sources := make(map[string]struct{})
	for _, e := range s.entries {
		sources[e.Metadata.SourcePath] = struct{}{}
	}
	return domain.Stats{TotalChunks: len(s.entries), TotalSources: len(sources)}, nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	s.ids = nil
	return nil
}
