// Package mocks provides deterministic stand-ins for the embedding backend and
// the density clusterer, for tests that need exact, repeatable groupings.
package mocks

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"topicflow/internal/clustering"
	"topicflow/internal/core"
)

// ThresholdLabeler groups points by single linkage: two points are connected
// when their distance is at most MaxDistance. Components smaller than
// minClusterSize are noise. Labels follow the smallest member index.
type ThresholdLabeler struct {
	MaxDistance float64
	LabelFunc   func(points [][]float64, distance clustering.DistanceFunc, minClusterSize int) ([]int, error)
	Calls       atomic.Int32
}

// Label implements clustering.Labeler
func (m *ThresholdLabeler) Label(points [][]float64, distance clustering.DistanceFunc, minClusterSize int) ([]int, error) {
	m.Calls.Add(1)
	if m.LabelFunc != nil {
		return m.LabelFunc(points, distance, minClusterSize)
	}

	n := len(points)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if distance(points[i], points[j]) <= m.MaxDistance {
				ri, rj := find(i), find(j)
				if ri < rj {
					parent[rj] = ri
				} else if rj < ri {
					parent[ri] = rj
				}
			}
		}
	}

	size := make(map[int]int)
	for i := 0; i < n; i++ {
		size[find(i)]++
	}

	labels := make([]int, n)
	next := 0
	assigned := make(map[int]int)
	for i := 0; i < n; i++ {
		root := find(i)
		if size[root] < minClusterSize {
			labels[i] = clustering.NoCluster
			continue
		}
		l, ok := assigned[root]
		if !ok {
			l = next
			assigned[root] = l
			next++
		}
		labels[i] = l
	}
	return labels, nil
}

// KeywordBackend embeds text as a normalized bag of the configured keywords.
// Texts sharing keywords are close under cosine distance; texts with none of
// the keywords get a dedicated "other" axis.
type KeywordBackend struct {
	Keywords []string
	// Errors maps a text substring to the error returned for matching texts.
	Errors map[string]error
	Calls  atomic.Int32
}

// Model implements embedding.Backend
func (k *KeywordBackend) Model() string { return "keyword-test" }

// Dimensions implements embedding.Backend
func (k *KeywordBackend) Dimensions() int { return len(k.Keywords) + 1 }

// Embed implements embedding.Backend
func (k *KeywordBackend) Embed(ctx context.Context, text string) ([]float64, error) {
	k.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for substr, err := range k.Errors {
		if strings.Contains(text, substr) {
			return nil, err
		}
	}

	vec := make([]float64, k.Dimensions())
	lower := strings.ToLower(text)
	hit := false
	for i, kw := range k.Keywords {
		if c := strings.Count(lower, kw); c > 0 {
			vec[i] = float64(c)
			hit = true
		}
	}
	if !hit {
		vec[len(k.Keywords)] = 1
	}

	var norm float64
	for _, x := range vec {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

// TransientError returns an error the embedding service retries.
func TransientError(msg string) error {
	return fmt.Errorf("%s: %w", msg, core.ErrTransient)
}
