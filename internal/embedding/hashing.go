package embedding

import (
	"context"
	"hash/fnv"

	"topicflow/internal/textnorm"
)

// HashingModel is the model id of the local feature-hashing backend.
const HashingModel = "hashing-v1"

// HashingBackend is a deterministic local embedder. Unigrams and bigrams are
// hashed into a fixed number of signed buckets and the result is L2-normalized.
// Documents sharing vocabulary land close together under cosine distance.
type HashingBackend struct {
	dims int
}

// NewHashingBackend creates a hashing backend with the given dimensionality.
func NewHashingBackend(dims int) *HashingBackend {
	if dims <= 0 {
		dims = 256
	}
	return &HashingBackend{dims: dims}
}

// Model returns HashingModel
func (h *HashingBackend) Model() string { return HashingModel }

// Dimensions returns the bucket count
func (h *HashingBackend) Dimensions() int { return h.dims }

// Embed hashes the tokens of text into a unit vector.
func (h *HashingBackend) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, h.dims)
	tokens := textnorm.Tokenize(text)
	for i, tok := range tokens {
		h.add(vec, tok, 1)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	return Normalize(vec), nil
}

func (h *HashingBackend) add(vec []float64, feature string, weight float64) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}
