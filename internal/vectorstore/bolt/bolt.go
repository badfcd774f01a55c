// Package bolt is a VectorIndex persisted in a single bbolt file. Every
// operation runs in one bbolt transaction, so a failed insert leaves nothing
// behind and concurrent writers are serialized by the database.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"ragchat/internal/domain"
	"ragchat/internal/vectorstore"
)

var (
	bucketVectors = []byte("vectors")
	bucketSources = []byte("sources")
	bucketMeta    = []byte("meta")
	keyDimension  = []byte("dimension")
)

type Storage struct {
	db        *bbolt.DB
	dimension int
}

// Open opens or creates the index file. A file created with another
// dimension is rejected.
func Open(path string, dimension int) (*Storage, error) {
	if dimension <= 0 {
		return nil, &domain.ConfigurationError{Field: "vector_store.dimension", Reason: fmt.Sprintf("must be positive, got %d", dimension)}
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, &domain.IndexError{Op: "open", Err: err}
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if err := createBuckets(tx); err != nil {
			return err
		}
		meta := tx.Bucket(bucketMeta)
		if raw := meta.Get(keyDimension); raw != nil {
			if got := int(binary.BigEndian.Uint64(raw)); got != dimension {
				return fmt.Errorf("%w: index file has %d, configured %d", vectorstore.ErrDimensionMismatch, got, dimension)
			}
			return nil
		}
		return meta.Put(keyDimension, binary.BigEndian.AppendUint64(nil, uint64(dimension)))
	})
	if err != nil {
		db.Close()
		return nil, &domain.IndexError{Op: "open", Err: err}
	}
	return &Storage{db: db, dimension: dimension}, nil
}

func createBuckets(tx *bbolt.Tx) error {
	for _, name := range [][]byte{bucketVectors, bucketSources, bucketMeta} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) Insert(ctx context.Context, batch []domain.IndexedVector) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.IndexError{Op: "insert", Err: err}
	}
	prepared, err := vectorstore.PrepareBatch(batch, s.dimension)
	if err != nil {
		return nil, &domain.IndexError{Op: "insert", Err: err}
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		vectors := tx.Bucket(bucketVectors)
		sources := tx.Bucket(bucketSources)
		added := make(map[string]uint64)
		for _, v := range prepared {
			key := []byte(v.ID)
			if vectors.Get(key) != nil {
				return fmt.Errorf("%w: %s", vectorstore.ErrDuplicateID, v.ID)
			}
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			if err := vectors.Put(key, data); err != nil {
				return err
			}
			added[v.Metadata.SourcePath]++
		}
		for src, n := range added {
			if err := sources.Put([]byte(src), encodeCount(decodeCount(sources.Get([]byte(src)))+n)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, &domain.IndexError{Op: "insert", Err: err}
	}
	return vectorstore.IDs(prepared), nil
}

func (s *Storage) Query(ctx context.Context, vector []float64, topK int, filter *domain.Filter) ([]domain.RetrievalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.IndexError{Op: "query", Err: err}
	}
	if err := vectorstore.CheckQuery(vector, s.dimension, filter); err != nil {
		return nil, &domain.IndexError{Op: "query", Err: err}
	}
	var cands []vectorstore.Candidate
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVectors).ForEach(func(_, data []byte) error {
			var e domain.IndexedVector
			if err := json.Unmarshal(data, &e); err != nil {
				return err
			}
			if filter.Match(e.Metadata) {
				cands = append(cands, vectorstore.Candidate{Entry: e, Similarity: vectorstore.Cosine(e.Vector, vector)})
			}
			return nil
		})
	})
	if err != nil {
		return nil, &domain.IndexError{Op: "query", Err: err}
	}
	return vectorstore.TopK(cands, topK), nil
}

func (s *Storage) DeleteBySource(ctx context.Context, sourcePath string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		vectors := tx.Bucket(bucketVectors)
		var doomed [][]byte
		err := vectors.ForEach(func(k, data []byte) error {
			var e struct {
				Metadata domain.Metadata `json:"metadata"`
			}
			if err := json.Unmarshal(data, &e); err != nil {
				return err
			}
			if e.Metadata.SourcePath == sourcePath {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range doomed {
			if err := vectors.Delete(k); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketSources).Delete([]byte(sourcePath))
	})
	if err != nil {
		return &domain.IndexError{Op: "delete", Err: err}
	}
	return nil
}

// Clear drops and recreates the data buckets. The dimension record is kept.
func (s *Storage) Clear(ctx context.Context) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketVectors, bucketSources} {
			if err := tx.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
		}
		return createBuckets(tx)
	})
	if err != nil {
		return &domain.IndexError{Op: "clear", Err: err}
	}
	return nil
}

func (s *Storage) Stats(ctx context.Context) (domain.Stats, error) {
	var st domain.Stats
	err := s.db.View(func(tx *bbolt.Tx) error {
		st.TotalChunks = countKeys(tx.Bucket(bucketVectors))
		return tx.Bucket(bucketSources).ForEach(func(_, v []byte) error {
			if decodeCount(v) > 0 {
				st.TotalSources++
			}
			return nil
		})
	})
	if err != nil {
		return domain.Stats{}, &domain.IndexError{Op: "stats", Err: err}
	}
	return st, nil
}

func (s *Storage) Close() error { return s.db.Close() }

func countKeys(b *bbolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

func encodeCount(n uint64) []byte { return binary.BigEndian.AppendUint64(nil, n) }

func decodeCount(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
