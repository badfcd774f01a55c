// Package hash provides a deterministic embedder that derives vectors from
// SHA-256 digests of the input. It needs no model and no network access, so
// vectors carry no semantic meaning: only identical texts are guaranteed to
// score as identical.
package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"unicode/utf8"

	"ragchat/internal/domain"
)

var errInvalidUTF8 = errors.New("text is not valid UTF-8")

type Embedder struct {
	dimension int
}

// NewEmbedder returns an embedder producing vectors of domain.EmbeddingDimension.
func NewEmbedder() *Embedder { return &Embedder{dimension: domain.EmbeddingDimension} }

func (e *Embedder) Name() string   { return "sha256-hash" }
func (e *Embedder) Dimension() int { return e.dimension }

// Embed maps text to a fixed-length vector. Each 32-byte digest yields eight
// big-endian uint32 groups scaled into [-0.5, 0.5). When more values are
// needed the previous digest is hashed again.
func (e *Embedder) Embed(text string) ([]float64, error) {
	if !utf8.ValidString(text) {
		return nil, &domain.EmbeddingError{Err: errInvalidUTF8}
	}
	out := make([]float64, 0, e.dimension)
	block := sha256.Sum256([]byte(text))
	for {
		for off := 0; off+4 <= len(block) && len(out) < e.dimension; off += 4 {
			g := binary.BigEndian.Uint32(block[off : off+4])
			out = append(out, float64(g)/(1<<32)-0.5)
		}
		if len(out) == e.dimension {
			return out, nil
		}
		block = sha256.Sum256(block[:])
	}
}
