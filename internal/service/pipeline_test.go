package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
	"ragchat/internal/extract"
	"ragchat/internal/registry"
	"ragchat/internal/summarizer"
	"ragchat/internal/vectorstore/memory"
)

type pipelineFixture struct {
	pipeline  *DocumentPipeline
	retrieval *RetrievalService
	store     *registry.SQLiteStore
	uploadDir string
}

func newPipeline(t *testing.T, cfg PipelineConfig) *pipelineFixture {
	t.Helper()
	idx, err := memory.NewStorage(domain.EmbeddingDimension)
	require.NoError(t, err)
	return newPipelineWithIndex(t, cfg, idx)
}

func newPipelineWithIndex(t *testing.T, cfg PipelineConfig, idx domain.VectorIndex) *pipelineFixture {
	t.Helper()
	dir := t.TempDir()
	store, err := registry.Open(filepath.Join(dir, "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	retrieval := newRetrieval(t, nil, idx)

	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(dir, "uploads")
	}
	p := NewDocumentPipeline(cfg, store, extract.New(nil), retrieval, summarizer.NewFrequencySummarizer(), nil)
	t.Cleanup(func() { p.Close() })
	return &pipelineFixture{pipeline: p, retrieval: retrieval, store: store, uploadDir: cfg.UploadDir}
}

func (f *pipelineFixture) uploads(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.uploadDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

const notes = "Rivers carry water to the sea. Mountains collect snow in winter. Rivers feed the valley farms."

func TestPipeline_UploadAndProcess(t *testing.T) {
	ctx := context.Background()
	f := newPipeline(t, PipelineConfig{})

	doc, err := f.pipeline.Upload(ctx, "notes.txt", strings.NewReader(notes))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", doc.Filename)
	assert.Equal(t, "txt", doc.FileType)
	assert.EqualValues(t, len(notes), doc.FileSize)
	assert.False(t, doc.Processed)
	assert.True(t, strings.HasPrefix(doc.FilePath, f.uploadDir))
	assert.True(t, strings.HasSuffix(doc.FilePath, "_notes.txt"))

	fp, err := extract.Fingerprint(doc.FilePath)
	require.NoError(t, err)
	assert.Equal(t, fp, doc.FileHash)

	require.NoError(t, f.pipeline.Process(ctx, doc.ID))
	got, err := f.store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.Equal(t, len(strings.Fields(notes)), got.WordCount)
	assert.NotEmpty(t, got.Summary)

	paths, err := f.pipeline.SourcePaths(ctx, []string{doc.ID})
	require.NoError(t, err)
	res, err := f.retrieval.Retrieve(ctx, notes, 1, paths)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, doc.FilePath, res[0].Metadata.SourcePath)
	assert.Equal(t, doc.FileHash, res[0].Metadata.Fingerprint)

	// Reprocessing replaces rather than duplicates the chunks.
	require.NoError(t, f.pipeline.Process(ctx, doc.ID))
	st, err := f.retrieval.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalChunks)
}

// switchIndex fails inserts once failInsert is set.
type switchIndex struct {
	*memory.Storage
	failInsert atomic.Bool
}

func (s *switchIndex) Insert(ctx context.Context, batch []domain.IndexedVector) ([]string, error) {
	if s.failInsert.Load() {
		return nil, &domain.IndexError{Op: "insert", Err: errors.New("disk full")}
	}
	return s.Storage.Insert(ctx, batch)
}

func TestPipeline_ReprocessFailureLeavesUnprocessed(t *testing.T) {
	ctx := context.Background()
	mem, err := memory.NewStorage(domain.EmbeddingDimension)
	require.NoError(t, err)
	idx := &switchIndex{Storage: mem}
	f := newPipelineWithIndex(t, PipelineConfig{}, idx)

	doc, err := f.pipeline.Upload(ctx, "a.txt", strings.NewReader(notes))
	require.NoError(t, err)
	require.NoError(t, f.pipeline.Process(ctx, doc.ID))
	got, err := f.store.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, got.Processed)

	idx.failInsert.Store(true)
	err = f.pipeline.Process(ctx, doc.ID)
	var ie *domain.IngestError
	require.ErrorAs(t, err, &ie)

	got, err = f.store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, got.Processed)
	assert.Nil(t, got.ProcessedAt)
	st, err := f.retrieval.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.TotalChunks)

	idx.failInsert.Store(false)
	require.NoError(t, f.pipeline.Process(ctx, doc.ID))
	got, err = f.store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
}

func TestPipeline_UploadDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newPipeline(t, PipelineConfig{})

	first, err := f.pipeline.Upload(ctx, "a.txt", strings.NewReader(notes))
	require.NoError(t, err)
	second, err := f.pipeline.Upload(ctx, "b.txt", strings.NewReader(notes))
	require.ErrorIs(t, err, domain.ErrDuplicateDocument)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.uploads(t), 1)
}

func TestPipeline_UploadRejects(t *testing.T) {
	ctx := context.Background()
	f := newPipeline(t, PipelineConfig{
		MaxFileSize:  16,
		AllowedTypes: []domain.FileType{domain.FileTypeText},
	})

	_, err := f.pipeline.Upload(ctx, "big.txt", bytes.NewReader(make([]byte, 17)))
	assert.ErrorIs(t, err, domain.ErrFileTooLarge)

	_, err = f.pipeline.Upload(ctx, "tool.exe", strings.NewReader("MZ"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedFileType)

	_, err = f.pipeline.Upload(ctx, "report.pdf", strings.NewReader("%PDF"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedFileType)

	assert.Empty(t, f.uploads(t))

	_, err = f.pipeline.Upload(ctx, "fits.txt", bytes.NewReader(make([]byte, 16)))
	assert.NoError(t, err)
}

func TestPipeline_ProcessExtractionFailure(t *testing.T) {
	ctx := context.Background()
	f := newPipeline(t, PipelineConfig{})
	doc, err := f.pipeline.Upload(ctx, "broken.docx", strings.NewReader("not a zip archive"))
	require.NoError(t, err)

	err = f.pipeline.Process(ctx, doc.ID)
	var ee *domain.ExtractionError
	require.ErrorAs(t, err, &ee)

	got, err := f.store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, got.Processed)
}

func TestPipeline_Delete(t *testing.T) {
	ctx := context.Background()
	f := newPipeline(t, PipelineConfig{})
	doc, err := f.pipeline.Upload(ctx, "notes.txt", strings.NewReader(notes))
	require.NoError(t, err)
	require.NoError(t, f.pipeline.Process(ctx, doc.ID))

	require.NoError(t, f.pipeline.Delete(ctx, doc.ID))
	_, err = os.Stat(doc.FilePath)
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = f.store.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	st, err := f.retrieval.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.TotalChunks)

	assert.ErrorIs(t, f.pipeline.Delete(ctx, doc.ID), domain.ErrDocumentNotFound)
}

func TestPipeline_SourcePathsUnknownID(t *testing.T) {
	f := newPipeline(t, PipelineConfig{})
	_, err := f.pipeline.SourcePaths(context.Background(), []string{"missing"})
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestPipeline_IngestPath(t *testing.T) {
	ctx := context.Background()
	f := newPipeline(t, PipelineConfig{})
	path := filepath.Join(t.TempDir(), "local.md")
	require.NoError(t, os.WriteFile(path, []byte(notes), 0o644))

	doc, err := f.pipeline.IngestPath(ctx, path)
	require.NoError(t, err)
	assert.True(t, doc.Processed)
	assert.Equal(t, path, doc.FilePath)

	again, err := f.pipeline.IngestPath(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, again.ID)
	st, err := f.retrieval.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalChunks)

	require.NoError(t, os.WriteFile(path, []byte("Completely different words now."), 0o644))
	changed, err := f.pipeline.IngestPath(ctx, path)
	require.NoError(t, err)
	assert.NotEqual(t, doc.ID, changed.ID)
	_, err = f.store.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	// Files outside the upload directory are never removed.
	_, err = os.Stat(path)
	assert.NoError(t, err)

	res, err := f.retrieval.Retrieve(ctx, "Completely different words now.", 5, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, changed.FileHash, res[0].Metadata.Fingerprint)
}

func TestPipeline_ProcessAsync(t *testing.T) {
	ctx := context.Background()
	f := newPipeline(t, PipelineConfig{Workers: 1, QueueSize: 4})
	doc, err := f.pipeline.Upload(ctx, "notes.txt", strings.NewReader(notes))
	require.NoError(t, err)

	require.NoError(t, f.pipeline.ProcessAsync(doc.ID))
	require.NoError(t, f.pipeline.Close())

	got, err := f.store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.ErrorIs(t, f.pipeline.ProcessAsync(doc.ID), ErrPipelineClosed)
}
