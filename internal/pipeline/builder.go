package pipeline

import (
	"fmt"
	"time"

	"topicflow/internal/clustering"
	"topicflow/internal/embedding"
	"topicflow/internal/persistence"
)

// Builder helps construct a fully configured Pipeline
type Builder struct {
	db      persistence.Database
	backend embedding.Backend
	labeler clustering.Labeler
	config  *Config
	now     func() time.Time
}

// NewBuilder creates a new pipeline builder with default settings
func NewBuilder() *Builder {
	return &Builder{
		config: DefaultConfig(),
		now:    time.Now,
	}
}

// WithDatabase sets the store
func (b *Builder) WithDatabase(db persistence.Database) *Builder {
	b.db = db
	return b
}

// WithEmbeddingBackend sets the embedding backend
func (b *Builder) WithEmbeddingBackend(backend embedding.Backend) *Builder {
	b.backend = backend
	return b
}

// WithLabeler replaces the HDBSCAN labeler
func (b *Builder) WithLabeler(labeler clustering.Labeler) *Builder {
	b.labeler = labeler
	return b
}

// WithConfig sets the pipeline configuration
func (b *Builder) WithConfig(config *Config) *Builder {
	b.config = config
	return b
}

// WithClock sets the time source used for run and topic timestamps
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build constructs a fully configured Pipeline
func (b *Builder) Build() (*Pipeline, error) {
	if b.db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if b.backend == nil {
		return nil, fmt.Errorf("embedding backend is required")
	}
	if b.config == nil {
		b.config = DefaultConfig()
	}
	if b.config.LockTTL <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive")
	}

	labeler := b.labeler
	if labeler == nil {
		labeler = clustering.NewHDBSCANLabeler()
	}

	embedder := embedding.NewService(b.backend, b.config.Embedding)
	clusterer := clustering.NewEngine(labeler, b.config.Cluster)

	return NewPipeline(b.db, embedder, clusterer, b.config, b.now), nil
}
