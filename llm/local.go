package llm

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/junyiz/lawkb/tokenize"
)

// LocalEmbedder is a deterministic feature-hashing embedder. Each term
// of the text hashes to a dimension bucket with a sign, and the bucket
// sums are L2-normalized. Texts sharing many terms land close in cosine
// space, which is enough for the semantic half of blended retrieval
// without any model download or network dependency.
type LocalEmbedder struct {
	dim int
}

// NewLocalEmbedder creates a local embedder producing dim-dimensional
// unit vectors.
func NewLocalEmbedder(dim int) *LocalEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &LocalEmbedder{dim: dim}
}

// Dim returns the embedding dimension.
func (e *LocalEmbedder) Dim() int {
	return e.dim
}

// Embed implements Embedder. It never fails and ignores ctx beyond the
// usual cancellation check.
func (e *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embedOne(text)
	}
	return out, nil
}

func (e *LocalEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, term := range tokenize.Tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(term))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dim))
		// Second hash bit decides the sign so colliding terms do not
		// systematically reinforce each other.
		sign := float32(1)
		if (sum>>32)&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
