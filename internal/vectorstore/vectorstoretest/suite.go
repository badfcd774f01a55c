// Package vectorstoretest runs the behaviour every VectorIndex backend must
// share. Backends call Run from their own tests with a constructor that
// returns a fresh, empty index.
package vectorstoretest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
	"ragchat/internal/embedding/hash"
	"ragchat/internal/vectorstore"
)

// Factory builds an empty index of domain.EmbeddingDimension.
type Factory func(t *testing.T) domain.VectorIndex

func Run(t *testing.T, newIndex Factory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newIndex(t)) })
	t.Run("AssignsIDs", func(t *testing.T) { testAssignsIDs(t, newIndex(t)) })
	t.Run("RejectsBadBatch", func(t *testing.T) { testRejectsBadBatch(t, newIndex(t)) })
	t.Run("Filter", func(t *testing.T) { testFilter(t, newIndex(t)) })
	t.Run("DeleteBySource", func(t *testing.T) { testDeleteBySource(t, newIndex(t)) })
	t.Run("Clear", func(t *testing.T) { testClear(t, newIndex(t)) })
	t.Run("TopK", func(t *testing.T) { testTopK(t, newIndex(t)) })
	t.Run("ConcurrentInserts", func(t *testing.T) { testConcurrentInserts(t, newIndex(t)) })
}

var embedder = hash.NewEmbedder()

// Entry builds an IndexedVector for text using the hash embedder.
func Entry(t *testing.T, id, source, text string, seq int) domain.IndexedVector {
	t.Helper()
	v, err := embedder.Embed(text)
	require.NoError(t, err)
	return domain.IndexedVector{
		ID:     id,
		Vector: v,
		Text:   text,
		Metadata: domain.Metadata{
			SourcePath:  source,
			SourceType:  "txt",
			Filename:    source,
			ChunkIndex:  seq,
			IndexedAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			Fingerprint: "fp-" + source,
		},
	}
}

func embed(t *testing.T, text string) []float64 {
	t.Helper()
	v, err := embedder.Embed(text)
	require.NoError(t, err)
	return v
}

func testRoundTrip(t *testing.T, idx domain.VectorIndex) {
	ctx := context.Background()
	batch := []domain.IndexedVector{
		Entry(t, "a0", "/a.txt", "alpha chunk", 0),
		Entry(t, "a1", "/a.txt", "beta chunk", 1),
		Entry(t, "b0", "/b.txt", "gamma chunk", 0),
	}
	ids, err := idx.Insert(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, []string{"a0", "a1", "b0"}, ids)

	res, err := idx.Query(ctx, embed(t, "beta chunk"), 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "a1", res[0].ID)
	assert.Equal(t, "beta chunk", res[0].Content)
	assert.Equal(t, "/a.txt", res[0].Metadata.SourcePath)
	assert.Equal(t, 1, res[0].Metadata.ChunkIndex)
	assert.Equal(t, "fp-/a.txt", res[0].Metadata.Fingerprint)
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)
	for i := 1; i < len(res); i++ {
		assert.LessOrEqual(t, res[i].Score, res[i-1].Score)
		assert.GreaterOrEqual(t, res[i].Score, 0.0)
	}

	st, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{TotalChunks: 3, TotalSources: 2}, st)
}

func testAssignsIDs(t *testing.T, idx domain.VectorIndex) {
	ctx := context.Background()
	ids, err := idx.Insert(ctx, []domain.IndexedVector{
		Entry(t, "", "/a.txt", "one", 0),
		Entry(t, "", "/a.txt", "two", 1),
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0])
	assert.NotEqual(t, ids[0], ids[1])

	res, err := idx.Query(ctx, embed(t, "two"), 1, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, ids[1], res[0].ID)
}

func testRejectsBadBatch(t *testing.T, idx domain.VectorIndex) {
	ctx := context.Background()
	_, err := idx.Insert(ctx, []domain.IndexedVector{Entry(t, "x", "/a.txt", "x", 0)})
	require.NoError(t, err)

	short := Entry(t, "y", "/b.txt", "y", 0)
	short.Vector = short.Vector[:10]
	_, err = idx.Insert(ctx, []domain.IndexedVector{Entry(t, "z", "/b.txt", "z", 0), short})
	var ie *domain.IndexError
	require.ErrorAs(t, err, &ie)

	_, err = idx.Insert(ctx, []domain.IndexedVector{Entry(t, "w", "/b.txt", "w", 0), Entry(t, "x", "/b.txt", "x again", 1)})
	require.ErrorAs(t, err, &ie)

	_, err = idx.Insert(ctx, []domain.IndexedVector{Entry(t, "v", "/b.txt", "v", 0), Entry(t, "u", "", "no source", 1)})
	require.ErrorAs(t, err, &ie)
	assert.ErrorIs(t, err, vectorstore.ErrMissingSource)

	st, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{TotalChunks: 1, TotalSources: 1}, st, "failed batches must leave nothing behind")

	_, err = idx.Query(ctx, embed(t, "x")[:5], 1, nil)
	require.ErrorAs(t, err, &ie)
	_, err = idx.Query(ctx, embed(t, "x"), 1, &domain.Filter{Field: "nope", Op: domain.OpEq, Values: []string{"v"}})
	require.ErrorAs(t, err, &ie)
}

func testFilter(t *testing.T, idx domain.VectorIndex) {
	ctx := context.Background()
	a := Entry(t, "a", "/a.txt", "same content", 0)
	b := Entry(t, "b", "/b.txt", "same content", 0)
	c := Entry(t, "c", "/c.md", "other content", 0)
	c.Metadata.SourceType = "md"
	_, err := idx.Insert(ctx, []domain.IndexedVector{b, a, c})
	require.NoError(t, err)

	q := embed(t, "same content")
	res, err := idx.Query(ctx, q, 5, domain.In(domain.FieldSourcePath, "/a.txt"))
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "/a.txt", res[0].Metadata.SourcePath)

	res, err = idx.Query(ctx, q, 5, domain.In(domain.FieldSourcePath, "/a.txt", "/c.md"))
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a", res[0].ID)
	assert.Equal(t, "c", res[1].ID)

	res, err = idx.Query(ctx, q, 5, domain.Eq(domain.FieldSourceType, "md"))
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "c", res[0].ID)

	res, err = idx.Query(ctx, q, 5, domain.In(domain.FieldSourcePath))
	require.NoError(t, err)
	assert.Empty(t, res)
}

func testDeleteBySource(t *testing.T, idx domain.VectorIndex) {
	ctx := context.Background()
	_, err := idx.Insert(ctx, []domain.IndexedVector{
		Entry(t, "a0", "/a.txt", "a zero", 0),
		Entry(t, "a1", "/a.txt", "a one", 1),
		Entry(t, "b0", "/b.txt", "b zero", 0),
	})
	require.NoError(t, err)

	require.NoError(t, idx.DeleteBySource(ctx, "/a.txt"))
	res, err := idx.Query(ctx, embed(t, "a zero"), 5, domain.In(domain.FieldSourcePath, "/a.txt"))
	require.NoError(t, err)
	assert.Empty(t, res)

	st, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{TotalChunks: 1, TotalSources: 1}, st)

	require.NoError(t, idx.DeleteBySource(ctx, "/missing.txt"))
	st2, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, st2)

	_, err = idx.Insert(ctx, []domain.IndexedVector{Entry(t, "a0", "/a.txt", "a zero again", 0)})
	require.NoError(t, err, "ids of deleted entries can be reused")
}

func testClear(t *testing.T, idx domain.VectorIndex) {
	ctx := context.Background()
	_, err := idx.Insert(ctx, []domain.IndexedVector{Entry(t, "a", "/a.txt", "a", 0)})
	require.NoError(t, err)
	require.NoError(t, idx.Clear(ctx))

	st, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalChunks)

	res, err := idx.Query(ctx, embed(t, "a"), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, res)

	_, err = idx.Insert(ctx, []domain.IndexedVector{Entry(t, "a", "/a.txt", "a", 0)})
	require.NoError(t, err)
	st, err = idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalChunks)
}

func testTopK(t *testing.T, idx domain.VectorIndex) {
	ctx := context.Background()
	var batch []domain.IndexedVector
	for i := 0; i < 12; i++ {
		batch = append(batch, Entry(t, fmt.Sprintf("e%02d", i), "/a.txt", fmt.Sprintf("text %d", i), i))
	}
	_, err := idx.Insert(ctx, batch)
	require.NoError(t, err)

	res, err := idx.Query(ctx, embed(t, "text 4"), 3, nil)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "e04", res[0].ID)

	res, err = idx.Query(ctx, embed(t, "text 4"), 0, nil)
	require.NoError(t, err)
	assert.Len(t, res, 5)
}

func testConcurrentInserts(t *testing.T, idx domain.VectorIndex) {
	ctx := context.Background()
	const workers, perWorker = 8, 5
	batches := make([][]domain.IndexedVector, workers)
	for w := range batches {
		src := fmt.Sprintf("/doc%d.txt", w)
		for i := 0; i < perWorker; i++ {
			batches[w] = append(batches[w], Entry(t, fmt.Sprintf("w%d-%d", w, i), src, fmt.Sprintf("worker %d chunk %d", w, i), i))
		}
	}
	var wg sync.WaitGroup
	errs := make(chan error, 2*workers)
	for _, batch := range batches {
		wg.Add(1)
		go func(batch []domain.IndexedVector) {
			defer wg.Done()
			if _, err := idx.Insert(ctx, batch); err != nil {
				errs <- err
			}
			if _, err := idx.Query(ctx, batch[0].Vector, 1, nil); err != nil {
				errs <- err
			}
		}(batch)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	st, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{TotalChunks: workers * perWorker, TotalSources: workers}, st)

	res, err := idx.Query(ctx, embed(t, "worker 3 chunk 2"), 1, domain.Eq(domain.FieldSourcePath, "/doc3.txt"))
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "w3-2", res[0].ID)
}
