package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// StubBackend derives vectors from a hash of the input, with no external
// calls. Tokens are feature-hashed into signed buckets, so texts sharing
// vocabulary land near each other under cosine while unrelated texts stay
// close to orthogonal. Deterministic across runs.
type StubBackend struct {
	dim int
}

// NewStubBackend creates a deterministic test/dev backend.
func NewStubBackend(dimension int) *StubBackend {
	return &StubBackend{dim: dimension}
}

func (b *StubBackend) Name() string { return "stub" }

// Embed hashes each token of each text into a bucket with a hash-derived
// sign, then L2-normalizes.
func (b *StubBackend) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = b.embedOne(text)
	}
	return vecs, nil
}

func (b *StubBackend) embedOne(text string) []float32 {
	vec := make([]float32, b.dim)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(b.dim))
		sign := float32(1)
		if (sum>>63)&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

var _ Backend = (*StubBackend)(nil)
