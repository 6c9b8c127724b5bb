// Package assign turns batch cluster labels into per-document topic assignments.
package assign

import (
	"topicflow/internal/clustering"
	"topicflow/internal/core"
	"topicflow/internal/topicmodel"
)

// MinProbability is the floor for assigned documents, so that a probability
// of 0 only ever means outlier.
const MinProbability = 1e-6

// Assign produces exactly one assignment per clustered document, indexed like
// res.Labels. Documents without a cluster, or whose cluster was not
// reconciled, are outliers.
func Assign(res clustering.Result, outcome topicmodel.Outcome) []core.Assignment {
	out := make([]core.Assignment, len(res.Labels))
	for i, label := range res.Labels {
		if label == clustering.NoCluster {
			out[i] = core.Outlier()
			continue
		}
		topicID, ok := outcome.TopicFor(label)
		if !ok {
			out[i] = core.Outlier()
			continue
		}
		out[i] = core.Assigned(topicID, Probability(res.Strengths[i]))
	}
	return out
}

// Probability clamps a membership strength to [MinProbability, 1].
func Probability(strength float64) float64 {
	if strength < MinProbability {
		return MinProbability
	}
	if strength > 1 {
		return 1
	}
	return strength
}
