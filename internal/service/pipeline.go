package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragchat/internal/domain"
	"ragchat/internal/extract"
)

var (
	ErrPipelineClosed = errors.New("document pipeline is closed")
	ErrQueueFull      = errors.New("document processing queue is full")
)

type PipelineConfig struct {
	UploadDir        string
	MaxFileSize      int64
	AllowedTypes     []domain.FileType
	Workers          int
	QueueSize        int
	SummarySentences int
}

// DocumentPipeline owns the lifecycle of uploaded files: storing, registering,
// extracting, indexing and deleting them. A document is marked processed only
// after its chunks are in the index.
type DocumentPipeline struct {
	cfg        PipelineConfig
	store      domain.DocumentStore
	extractor  domain.Extractor
	retrieval  *RetrievalService
	summarizer domain.Summarizer
	log        *slog.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan string
	wg     sync.WaitGroup
}

// NewDocumentPipeline starts cfg.Workers background workers for ProcessAsync.
func NewDocumentPipeline(cfg PipelineConfig, store domain.DocumentStore, extractor domain.Extractor, retrieval *RetrievalService, summarizer domain.Summarizer, log *slog.Logger) *DocumentPipeline {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.SummarySentences <= 0 {
		cfg.SummarySentences = 3
	}
	p := &DocumentPipeline{
		cfg:        cfg,
		store:      store,
		extractor:  extractor,
		retrieval:  retrieval,
		summarizer: summarizer,
		log:        log,
		jobs:       make(chan string, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *DocumentPipeline) worker() {
	defer p.wg.Done()
	for id := range p.jobs {
		if err := p.Process(context.Background(), id); err != nil {
			p.log.Error("document processing failed", "document_id", id, "error", err)
		}
	}
}

func (p *DocumentPipeline) allowed(ft domain.FileType) bool {
	return len(p.cfg.AllowedTypes) == 0 || slices.Contains(p.cfg.AllowedTypes, ft)
}

// Upload stores r under the upload directory and registers it unprocessed.
// Content already present in the registry is rejected with
// domain.ErrDuplicateDocument and the stored copy is removed.
func (p *DocumentPipeline) Upload(ctx context.Context, filename string, r io.Reader) (domain.Document, error) {
	name := filepath.Base(filename)
	ft, err := domain.ParseFileType(name)
	if err != nil {
		return domain.Document{}, err
	}
	if !p.allowed(ft) {
		return domain.Document{}, &domain.ExtractionError{Path: name, Err: domain.ErrUnsupportedFileType}
	}
	if err := os.MkdirAll(p.cfg.UploadDir, 0o755); err != nil {
		return domain.Document{}, fmt.Errorf("create upload dir: %w", err)
	}
	now := time.Now().UTC()
	stored := filepath.Join(p.cfg.UploadDir, fmt.Sprintf("%s_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8], name))
	f, err := os.OpenFile(stored, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.Document{}, fmt.Errorf("store upload: %w", err)
	}
	h := sha256.New()
	src := r
	if p.cfg.MaxFileSize > 0 {
		src = io.LimitReader(r, p.cfg.MaxFileSize+1)
	}
	n, err := io.Copy(io.MultiWriter(f, h), src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(stored)
		return domain.Document{}, fmt.Errorf("store upload: %w", err)
	}
	if p.cfg.MaxFileSize > 0 && n > p.cfg.MaxFileSize {
		os.Remove(stored)
		return domain.Document{}, fmt.Errorf("%s: %w (limit %d bytes)", name, domain.ErrFileTooLarge, p.cfg.MaxFileSize)
	}
	fingerprint := hex.EncodeToString(h.Sum(nil))

	if existing, err := p.store.FindByHash(ctx, fingerprint); err == nil {
		os.Remove(stored)
		return existing, domain.ErrDuplicateDocument
	} else if !errors.Is(err, domain.ErrDocumentNotFound) {
		os.Remove(stored)
		return domain.Document{}, err
	}

	doc := domain.Document{
		ID:        uuid.NewString(),
		Filename:  name,
		FilePath:  stored,
		FileType:  string(ft),
		FileSize:  n,
		FileHash:  fingerprint,
		CreatedAt: now,
	}
	if err := p.store.Create(ctx, doc); err != nil {
		os.Remove(stored)
		return domain.Document{}, err
	}
	p.log.Info("document uploaded", "document_id", doc.ID, "filename", name, "size", n)
	return doc, nil
}

// Process extracts, indexes and summarizes a registered document. A
// processed document is flagged unprocessed and its previous index entries
// are removed before reindexing, so on failure it stays unprocessed.
func (p *DocumentPipeline) Process(ctx context.Context, id string) error {
	doc, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}
	log := p.log.With("document_id", id, "path", doc.FilePath)

	text, err := p.extractor.Extract(ctx, doc.FilePath, domain.FileType(doc.FileType))
	if err != nil {
		log.Error("extraction failed", "error", err)
		return err
	}
	if doc.Processed {
		if err := p.store.MarkUnprocessed(ctx, id); err != nil {
			return fmt.Errorf("mark unprocessed: %w", err)
		}
	}
	if err := p.retrieval.DeleteSource(ctx, doc.FilePath); err != nil {
		return &domain.IngestError{SourcePath: doc.FilePath, Err: err}
	}
	ids, err := p.retrieval.Ingest(ctx, domain.SourceDocument{
		Text:        text,
		SourcePath:  doc.FilePath,
		SourceType:  doc.FileType,
		Filename:    doc.Filename,
		Fingerprint: doc.FileHash,
	}, nil)
	if err != nil {
		log.Error("ingest failed", "error", err)
		return err
	}

	summary, err := p.summarizer.Summarize(text, p.cfg.SummarySentences)
	if err != nil {
		log.Warn("summary failed", "error", err)
		summary = ""
	}
	if err := p.store.MarkProcessed(ctx, id, summary, len(strings.Fields(text))); err != nil {
		if derr := p.retrieval.DeleteSource(ctx, doc.FilePath); derr != nil {
			log.Error("rollback of index entries failed", "error", derr)
		}
		return fmt.Errorf("mark processed: %w", err)
	}
	log.Info("document processed", "chunks", len(ids))
	return nil
}

// ProcessAsync queues id for a background worker.
func (p *DocumentPipeline) ProcessAsync(id string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPipelineClosed
	}
	select {
	case p.jobs <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Delete removes a document's index entries, its stored file when it lives
// under the upload directory, and its record.
func (p *DocumentPipeline) Delete(ctx context.Context, id string) error {
	doc, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := p.retrieval.DeleteSource(ctx, doc.FilePath); err != nil {
		return err
	}
	if p.managed(doc.FilePath) {
		if err := os.Remove(doc.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.log.Warn("remove stored file", "path", doc.FilePath, "error", err)
		}
	}
	if err := p.store.Delete(ctx, id); err != nil {
		return err
	}
	p.log.Info("document deleted", "document_id", id)
	return nil
}

func (p *DocumentPipeline) managed(path string) bool {
	if p.cfg.UploadDir == "" {
		return false
	}
	dir, err := filepath.Abs(p.cfg.UploadDir)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(dir, abs)
	return err == nil && !strings.HasPrefix(rel, "..")
}

// SourcePaths resolves document ids into the source paths their chunks are
// indexed under. An unknown id fails the whole call.
func (p *DocumentPipeline) SourcePaths(ctx context.Context, ids []string) ([]string, error) {
	paths := make([]string, 0, len(ids))
	for _, id := range ids {
		doc, err := p.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", id, err)
		}
		paths = append(paths, doc.FilePath)
	}
	return paths, nil
}

// IngestPath registers a local file in place and processes it synchronously.
// Re-ingesting an unchanged file reindexes it; a changed file replaces the
// previous record.
func (p *DocumentPipeline) IngestPath(ctx context.Context, path string) (domain.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.Document{}, err
	}
	ft, err := domain.ParseFileType(abs)
	if err != nil {
		return domain.Document{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return domain.Document{}, &domain.ExtractionError{Path: abs, Err: err}
	}
	fingerprint, err := extract.Fingerprint(abs)
	if err != nil {
		return domain.Document{}, err
	}

	if prev, err := p.store.FindByPath(ctx, abs); err == nil {
		if prev.FileHash == fingerprint {
			if err := p.Process(ctx, prev.ID); err != nil {
				return prev, err
			}
			return p.store.Get(ctx, prev.ID)
		}
		if err := p.Delete(ctx, prev.ID); err != nil {
			return domain.Document{}, err
		}
	} else if !errors.Is(err, domain.ErrDocumentNotFound) {
		return domain.Document{}, err
	}
	if dup, err := p.store.FindByHash(ctx, fingerprint); err == nil {
		return dup, domain.ErrDuplicateDocument
	}

	doc := domain.Document{
		ID:        uuid.NewString(),
		Filename:  filepath.Base(abs),
		FilePath:  abs,
		FileType:  string(ft),
		FileSize:  info.Size(),
		FileHash:  fingerprint,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.Create(ctx, doc); err != nil {
		return domain.Document{}, err
	}
	if err := p.Process(ctx, doc.ID); err != nil {
		return doc, err
	}
	return p.store.Get(ctx, doc.ID)
}

func (p *DocumentPipeline) Get(ctx context.Context, id string) (domain.Document, error) {
	return p.store.Get(ctx, id)
}

// List returns registered documents, newest first.
func (p *DocumentPipeline) List(ctx context.Context, offset, limit int) ([]domain.Document, error) {
	return p.store.List(ctx, offset, limit)
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *DocumentPipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}
