// Package clustering groups the embeddings of one batch into clusters and
// extracts representative terms for each. It works on the batch alone; matching
// clusters against existing topics happens in the topicmodel package.
package clustering

import (
	"context"
	"fmt"
	"sort"

	"topicflow/internal/core"
	"topicflow/internal/logger"
)

// NoCluster is the label of points that belong to no cluster.
const NoCluster = -1

// Options configure the engine
type Options struct {
	MinTopicSize int
	MinDF        int
	MaxDF        float64
	TopN         int
	ReduceDims   int
	Reduction    string // pca or random
	Seed         int64
	MaxRetries   int
}

// DefaultOptions returns the defaults used for production batches
func DefaultOptions() Options {
	return Options{
		MinTopicSize: 15,
		MinDF:        5,
		MaxDF:        0.9,
		TopN:         10,
		ReduceDims:   5,
		Reduction:    ReductionPCA,
		Seed:         42,
		MaxRetries:   2,
	}
}

// Cluster is one group of batch documents.
type Cluster struct {
	Label    int
	Members  []int     // Input indices, ascending
	Centroid []float64 // Mean of members in the original embedding space
	Terms    []core.TermWeight
}

// Size is the number of member documents
func (c Cluster) Size() int { return len(c.Members) }

// Result is the clustering of one batch. Labels and Strengths are indexed by input position.
type Result struct {
	Labels    []int
	Strengths []float64 // Membership strength in [0,1], 0 for NoCluster
	Clusters  []Cluster // Ordered by label
	Reduced   bool
}

// Noise returns the number of points without a cluster
func (r Result) Noise() int {
	n := 0
	for _, l := range r.Labels {
		if l == NoCluster {
			n++
		}
	}
	return n
}

// Engine runs reduction, density clustering and term extraction
type Engine struct {
	labeler Labeler
	opts    Options
}

// NewEngine creates a cluster engine
func NewEngine(labeler Labeler, opts Options) *Engine {
	return &Engine{labeler: labeler, opts: opts}
}

// Cluster groups vectors. texts[i] is the normalized text of vectors[i] and is
// used only for representative terms.
func (e *Engine) Cluster(ctx context.Context, vectors [][]float64, texts []string) (Result, error) {
	if len(vectors) != len(texts) {
		return Result{}, fmt.Errorf("got %d vectors and %d texts", len(vectors), len(texts))
	}

	n := len(vectors)
	res := Result{
		Labels:    make([]int, n),
		Strengths: make([]float64, n),
	}
	for i := range res.Labels {
		res.Labels[i] = NoCluster
	}
	if n == 0 || n < e.opts.MinTopicSize {
		logger.Info("Batch smaller than minimum topic size, all documents are outliers", "documents", n, "min_topic_size", e.opts.MinTopicSize)
		return res, nil
	}

	points := vectors
	distance := CosineDistance
	if shouldReduce(n, len(vectors[0]), e.opts.ReduceDims) {
		reduced, err := reduce(vectors, e.opts.ReduceDims, e.opts.Reduction, e.opts.Seed)
		if err != nil {
			return Result{}, fmt.Errorf("dimensionality reduction failed: %w", err)
		}
		points = reduced
		distance = EuclideanDistance
		res.Reduced = true
	}

	raw, err := e.labelWithRetry(ctx, points, distance)
	if err != nil {
		return Result{}, err
	}
	if len(raw) != n {
		return Result{}, fmt.Errorf("labeler returned %d labels for %d points", len(raw), n)
	}

	groups := e.groups(raw)
	for label, members := range groups {
		for _, idx := range members {
			res.Labels[idx] = label
		}
	}

	classes := make([][]int, 0, len(groups)+1)
	classes = append(classes, groups...)
	var noise []int
	for i, l := range res.Labels {
		if l == NoCluster {
			noise = append(noise, i)
		}
	}
	if len(noise) > 0 {
		classes = append(classes, noise)
	}
	terms := classTerms(texts, classes, TermOptions{MinDF: e.opts.MinDF, MaxDF: e.opts.MaxDF, TopN: e.opts.TopN})

	res.Clusters = make([]Cluster, len(groups))
	for label, members := range groups {
		centroid := Mean(vectors, members)
		for _, idx := range members {
			res.Strengths[idx] = clamp01(CosineSimilarity(vectors[idx], centroid))
		}
		res.Clusters[label] = Cluster{
			Label:    label,
			Members:  members,
			Centroid: centroid,
			Terms:    terms[label],
		}
	}

	logger.Info("Clustered batch",
		"documents", n,
		"clusters", len(res.Clusters),
		"noise", len(noise),
		"reduced", res.Reduced,
		"seed", e.opts.Seed)
	return res, nil
}

func (e *Engine) labelWithRetry(ctx context.Context, points [][]float64, distance DistanceFunc) ([]int, error) {
	var lastErr error
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		labels, err := e.labeler.Label(points, distance, e.opts.MinTopicSize)
		if err == nil {
			return labels, nil
		}
		lastErr = err
		logger.Warn("Clustering attempt failed", "attempt", attempt+1, "error", err.Error())
	}
	return nil, fmt.Errorf("clustering failed after %d attempts: %w: %w", e.opts.MaxRetries+1, core.ErrTransient, lastErr)
}

// groups folds small groups into noise and renumbers the rest by their
// smallest member index, so identical inputs yield identical labels.
func (e *Engine) groups(raw []int) [][]int {
	byLabel := make(map[int][]int)
	for i, l := range raw {
		if l < 0 {
			continue
		}
		byLabel[l] = append(byLabel[l], i)
	}

	groups := make([][]int, 0, len(byLabel))
	for _, members := range byLabel {
		if len(members) < e.opts.MinTopicSize {
			continue
		}
		groups = append(groups, members)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
