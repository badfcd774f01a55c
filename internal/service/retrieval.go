package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ragchat/internal/domain"
)

// RetrievalService ties the chunker, embedder and vector index together for
// both the ingestion and the query path.
type RetrievalService struct {
	chunker  domain.Chunker
	embedder domain.Embedder
	index    domain.VectorIndex
	log      *slog.Logger
	now      func() time.Time
}

func NewRetrievalService(chunker domain.Chunker, embedder domain.Embedder, index domain.VectorIndex, log *slog.Logger) *RetrievalService {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &RetrievalService{chunker: chunker, embedder: embedder, index: index, log: log, now: time.Now}
}

// Ingest embeds every chunk of doc and writes them to the index as one
// batch. When chunks is nil the configured chunker splits doc.Text. Nothing
// is written unless every chunk embedded successfully.
func (s *RetrievalService) Ingest(ctx context.Context, doc domain.SourceDocument, chunks []domain.Chunk) ([]string, error) {
	if chunks == nil {
		chunks = s.chunker.Chunk(doc.Text)
	}
	indexedAt := doc.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = s.now().UTC()
	}
	batch := make([]domain.IndexedVector, 0, len(chunks))
	for _, ch := range chunks {
		vec, err := s.embedder.Embed(ch.Text)
		if err != nil {
			return nil, &domain.IngestError{SourcePath: doc.SourcePath, Err: fmt.Errorf("chunk %d: %w", ch.Index, err)}
		}
		batch = append(batch, domain.IndexedVector{
			Vector: vec,
			Text:   ch.Text,
			Metadata: domain.Metadata{
				SourcePath:  doc.SourcePath,
				SourceType:  doc.SourceType,
				Filename:    doc.Filename,
				ChunkIndex:  ch.Index,
				IndexedAt:   indexedAt,
				Fingerprint: doc.Fingerprint,
			},
		})
	}
	ids, err := s.index.Insert(ctx, batch)
	if err != nil {
		return nil, &domain.IngestError{SourcePath: doc.SourcePath, Err: err}
	}
	s.log.Info("ingested document", "source", doc.SourcePath, "chunks", len(ids), "embedder", s.embedder.Name())
	return ids, nil
}

// Retrieve returns the topK chunks closest to query, optionally restricted to
// the given source paths. Scores are not thresholded here.
func (s *RetrievalService) Retrieve(ctx context.Context, query string, topK int, sources []string) ([]domain.RetrievalResult, error) {
	var filter *domain.Filter
	if len(sources) > 0 {
		filter = domain.In(domain.FieldSourcePath, sources...)
	}
	return s.Search(ctx, query, topK, filter)
}

// Search is Retrieve with an arbitrary single-field filter.
func (s *RetrievalService) Search(ctx context.Context, query string, topK int, filter *domain.Filter) ([]domain.RetrievalResult, error) {
	vec, err := s.embedder.Embed(query)
	if err != nil {
		return nil, &domain.RetrievalError{Err: err}
	}
	results, err := s.index.Query(ctx, vec, topK, filter)
	if err != nil {
		return nil, &domain.RetrievalError{Err: err}
	}
	s.log.Debug("retrieved", "top_k", topK, "results", len(results))
	return results, nil
}

// BuildContext joins retrieved chunk texts into a single grounding block.
func BuildContext(results []domain.RetrievalResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Content)
	}
	return strings.Join(parts, "\n\n")
}

func (s *RetrievalService) DeleteSource(ctx context.Context, sourcePath string) error {
	if err := s.index.DeleteBySource(ctx, sourcePath); err != nil {
		return fmt.Errorf("delete source %s: %w", sourcePath, err)
	}
	return nil
}

func (s *RetrievalService) Clear(ctx context.Context) error {
	if err := s.index.Clear(ctx); err != nil {
		return fmt.Errorf("clear knowledge base: %w", err)
	}
	s.log.Info("knowledge base cleared")
	return nil
}

func (s *RetrievalService) Stats(ctx context.Context) (domain.Stats, error) {
	st, err := s.index.Stats(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("knowledge base statistics: %w", err)
	}
	return st, nil
}
