// Package vectorstore holds the similarity math and batch checks shared by
// the VectorIndex backends in its subpackages.
package vectorstore

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"ragchat/internal/domain"
)

// DefaultTopK is used when a query asks for zero or fewer results.
const DefaultTopK = 5

var (
	ErrDuplicateID       = errors.New("duplicate vector id")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrMissingSource     = errors.New("vector has no source path")
	ErrClosed            = errors.New("index is closed")
)

// Cosine returns the cosine similarity of a and b. Zero-norm vectors score 0.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Score maps a raw similarity into [0,1].
func Score(similarity float64) float64 {
	switch {
	case similarity < 0:
		return 0
	case similarity > 1:
		return 1
	}
	return similarity
}

// Candidate is an index entry paired with its raw similarity to a query.
type Candidate struct {
	Entry      domain.IndexedVector
	Similarity float64
}

// TopK orders candidates by raw similarity, highest first, and converts the
// best k into results. Ties keep their input order.
func TopK(cands []Candidate, k int) []domain.RetrievalResult {
	if k <= 0 {
		k = DefaultTopK
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Similarity > cands[j].Similarity })
	if k > len(cands) {
		k = len(cands)
	}
	out := make([]domain.RetrievalResult, 0, k)
	for _, c := range cands[:k] {
		out = append(out, domain.RetrievalResult{
			ID:       c.Entry.ID,
			Content:  c.Entry.Text,
			Metadata: c.Entry.Metadata,
			Score:    Score(c.Similarity),
		})
	}
	return out
}

// PrepareBatch validates a batch against the index dimension and returns a
// deep copy with ids assigned where missing. Every entry needs a source path. Ids must be unique within the
// batch; uniqueness against stored entries is the backend's job.
func PrepareBatch(batch []domain.IndexedVector, dimension int) ([]domain.IndexedVector, error) {
	out := make([]domain.IndexedVector, len(batch))
	seen := make(map[string]struct{}, len(batch))
	for i, v := range batch {
		if len(v.Vector) != dimension {
			return nil, fmt.Errorf("entry %d: %w: got %d, want %d", i, ErrDimensionMismatch, len(v.Vector), dimension)
		}
		if v.Metadata.SourcePath == "" {
			return nil, fmt.Errorf("entry %d: %w", i, ErrMissingSource)
		}
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		if _, dup := seen[v.ID]; dup {
			return nil, fmt.Errorf("entry %d: %w: %s", i, ErrDuplicateID, v.ID)
		}
		seen[v.ID] = struct{}{}
		v.Vector = append([]float64(nil), v.Vector...)
		out[i] = v
	}
	return out, nil
}

// IDs lists the ids of a prepared batch in order.
func IDs(batch []domain.IndexedVector) []string {
	ids := make([]string, len(batch))
	for i, v := range batch {
		ids[i] = v.ID
	}
	return ids
}

// CheckQuery validates query inputs common to every backend.
func CheckQuery(vector []float64, dimension int, filter *domain.Filter) error {
	if len(vector) != dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), dimension)
	}
	return filter.Validate()
}
