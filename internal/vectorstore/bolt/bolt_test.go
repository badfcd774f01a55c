package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
	"ragchat/internal/vectorstore/vectorstoretest"
)

func TestStorage_Contract(t *testing.T) {
	vectorstoretest.Run(t, func(t *testing.T) domain.VectorIndex {
		s, err := Open(filepath.Join(t.TempDir(), "index.db"), domain.EmbeddingDimension)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestStorage_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(path, domain.EmbeddingDimension)
	require.NoError(t, err)
	e := vectorstoretest.Entry(t, "a0", "/a.txt", "persisted chunk", 0)
	_, err = s.Insert(ctx, []domain.IndexedVector{e})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, domain.EmbeddingDimension)
	require.NoError(t, err)
	defer s.Close()
	res, err := s.Query(ctx, e.Vector, 1, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "persisted chunk", res[0].Content)
	assert.True(t, e.Metadata.IndexedAt.Equal(res[0].Metadata.IndexedAt))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{TotalChunks: 1, TotalSources: 1}, st)
}

func TestOpen_DimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(path, domain.EmbeddingDimension)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path, 128)
	var ie *domain.IndexError
	assert.ErrorAs(t, err, &ie)
}
