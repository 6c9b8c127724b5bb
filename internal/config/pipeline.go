package config

import (
	"topicflow/internal/clustering"
	"topicflow/internal/embedding"
	"topicflow/internal/pipeline"
	"topicflow/internal/topicmodel"
)

// Pipeline converts the loaded settings into pipeline configuration
func (c *Config) Pipeline() *pipeline.Config {
	embed := embedding.DefaultOptions()
	embed.Concurrency = c.EmbeddingConcurrency
	embed.MaxRetries = c.EmbeddingMaxRetries

	return &pipeline.Config{
		Embedding: embed,
		Cluster: clustering.Options{
			MinTopicSize: c.MinTopicSize,
			MinDF:        c.MinDF,
			MaxDF:        c.MaxDF,
			TopN:         c.TopicTermsTopN,
			ReduceDims:   c.ReduceDims,
			Reduction:    c.Reduction,
			Seed:         c.Seed,
			MaxRetries:   c.ClusterMaxRetries,
		},
		Reconcile: topicmodel.Params{
			SimilarityThreshold: c.SimilarityThreshold,
			TieEpsilon:          c.TieEpsilon,
			Decay:               c.Decay,
			TopN:                c.TopicTermsTopN,
		},
		StoreTimeout: c.StoreTimeoutDuration(),
		LockTTL:      c.LockTTLDuration(),
		SnapshotPath: c.State.SnapshotPath,
	}
}
