package pipeline

import (
	"context"

	"topicflow/internal/clustering"
	"topicflow/internal/embedding"
)

// Embedder turns document texts into vectors
type Embedder interface {
	// Model returns the pinned embedding model id
	Model() string

	// Dimensions returns the vector length
	Dimensions() int

	// EmbedAll embeds texts, reporting per-document failures in the result.
	// Only cancellation aborts the batch.
	EmbedAll(ctx context.Context, texts []string) (embedding.Result, error)
}

// Clusterer groups the vectors of one batch
type Clusterer interface {
	// Cluster labels vectors; texts[i] feeds the representative terms of vectors[i]
	Cluster(ctx context.Context, vectors [][]float64, texts []string) (clustering.Result, error)
}
