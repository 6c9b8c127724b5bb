package assign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topicflow/internal/clustering"
	"topicflow/internal/topicmodel"
)

func TestAssign(t *testing.T) {
	res := clustering.Result{
		Labels:    []int{0, clustering.NoCluster, 1, 0, 2},
		Strengths: []float64{0.9, 0, 0, 1.2, 0.5},
	}
	outcome := topicmodel.Outcome{TopicByLabel: map[int]int{0: 7, 1: 3}}

	got := Assign(res, outcome)
	require.Len(t, got, 5)

	id, ok := got[0].Topic()
	assert.True(t, ok)
	assert.Equal(t, 7, id)
	assert.Equal(t, 0.9, got[0].Probability())

	assert.True(t, got[1].IsOutlier())
	sid, p := got[1].StorageValues()
	assert.Equal(t, -1, sid)
	assert.Equal(t, 0.0, p)

	// Zero strength is floored for assigned documents.
	assert.Equal(t, MinProbability, got[2].Probability())
	assert.Equal(t, 1.0, got[3].Probability())

	// Label without a reconciled topic is an outlier.
	assert.True(t, got[4].IsOutlier())
}

func TestProbability(t *testing.T) {
	assert.Equal(t, MinProbability, Probability(-0.3))
	assert.Equal(t, 0.42, Probability(0.42))
	assert.Equal(t, 1.0, Probability(3))
}
