// Package topicmodel holds the long-lived topic model state and reconciles
// batch clusters into it.
package topicmodel

import (
	"fmt"
	"sort"
	"time"

	"topicflow/internal/core"
)

// Snapshot is the complete topic model state at one version. Values are
// treated as immutable: Reconcile returns a new snapshot.
type Snapshot struct {
	EmbeddingModel string       `json:"embedding_model"`
	Dimensions     int          `json:"embedding_dims"`
	Version        int64        `json:"version"`
	NextTopicID    int          `json:"next_topic_id"`
	Topics         []core.Topic `json:"topics"` // Ordered by id
	UpdatedAt      time.Time    `json:"updated_at"`
}

// New returns an empty snapshot for the given embedding model.
func New(model string, dims int) Snapshot {
	return Snapshot{EmbeddingModel: model, Dimensions: dims}
}

// CheckModel fails with core.ErrModelMismatch when the snapshot was built
// with a different embedding model.
func (s Snapshot) CheckModel(model string) error {
	if s.EmbeddingModel != model {
		return fmt.Errorf("%w: state uses %q, configured %q", core.ErrModelMismatch, s.EmbeddingModel, model)
	}
	return nil
}

// Topic returns the topic with the given id.
func (s Snapshot) Topic(id int) (core.Topic, bool) {
	i := sort.Search(len(s.Topics), func(i int) bool { return s.Topics[i].ID >= id })
	if i < len(s.Topics) && s.Topics[i].ID == id {
		return s.Topics[i], true
	}
	return core.Topic{}, false
}

// TotalSize is the sum of topic sizes.
func (s Snapshot) TotalSize() int {
	total := 0
	for _, t := range s.Topics {
		total += t.Size
	}
	return total
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Topics = make([]core.Topic, len(s.Topics))
	for i, t := range s.Topics {
		out.Topics[i] = cloneTopic(t)
	}
	return out
}

// Reset drops all topics for a forced rebuild. Ids keep counting from
// NextTopicID so they are never reused.
func (s Snapshot) Reset(model string, dims int, now time.Time) Snapshot {
	return Snapshot{
		EmbeddingModel: model,
		Dimensions:     dims,
		Version:        s.Version,
		NextTopicID:    s.NextTopicID,
		Topics:         []core.Topic{},
		UpdatedAt:      now,
	}
}

func cloneTopic(t core.Topic) core.Topic {
	t.Terms = append([]core.TermWeight(nil), t.Terms...)
	t.Centroid = append([]float64(nil), t.Centroid...)
	return t
}
