package clustering

import (
	"fmt"
	"reflect"

	"github.com/humilityai/hdbscan"
)

// Labeler assigns a cluster label to every point, or NoCluster for noise.
type Labeler interface {
	Label(points [][]float64, distance DistanceFunc, minClusterSize int) ([]int, error)
}

// HDBSCANLabeler labels points with HDBSCAN. It discovers the number of
// clusters and marks low density points as noise.
type HDBSCANLabeler struct{}

// NewHDBSCANLabeler creates a new HDBSCAN labeler
func NewHDBSCANLabeler() *HDBSCANLabeler {
	return &HDBSCANLabeler{}
}

// Label runs HDBSCAN over points.
func (h *HDBSCANLabeler) Label(points [][]float64, distance DistanceFunc, minClusterSize int) (labels []int, err error) {
	labels = make([]int, len(points))
	for i := range labels {
		labels[i] = NoCluster
	}
	if len(points) < minClusterSize || len(points) < 2 {
		return labels, nil
	}

	// The library panics on some degenerate inputs (e.g. all points identical).
	defer func() {
		if r := recover(); r != nil {
			labels = nil
			err = fmt.Errorf("HDBSCAN panicked: %v", r)
		}
	}()

	clustering, err := hdbscan.NewClustering(points, minClusterSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create HDBSCAN clusterer: %w", err)
	}

	// Configure: mark outliers
	clustering = clustering.OutlierDetection()

	if err := clustering.Run(func(a, b []float64) float64 { return distance(a, b) }, hdbscan.VarianceScore, true); err != nil {
		return nil, fmt.Errorf("HDBSCAN clustering failed: %w", err)
	}

	clusters, err := extractClusterPoints(clustering)
	if err != nil {
		return nil, err
	}

	// A point listed by more than one cluster keeps the first.
	for clusterID, points := range clusters {
		for _, idx := range points {
			if idx < 0 || idx >= len(labels) || labels[idx] != NoCluster {
				continue
			}
			labels[idx] = clusterID
		}
	}
	return labels, nil
}

// extractClusterPoints uses reflection to read the member indices of every
// cluster. Structure: clustering.Clusters is a slice of *cluster, each with
// Points []int. A missing or reshaped field is an error, not an empty result.
func extractClusterPoints(clustering *hdbscan.Clustering) ([][]int, error) {
	v := reflect.ValueOf(clustering).Elem()
	clustersField := v.FieldByName("Clusters")
	if !clustersField.IsValid() || clustersField.Kind() != reflect.Slice {
		return nil, fmt.Errorf("unexpected HDBSCAN result: Clusters field missing or not a slice")
	}

	result := make([][]int, clustersField.Len())
	for i := range result {
		cluster := clustersField.Index(i)
		if cluster.Kind() == reflect.Ptr {
			if cluster.IsNil() {
				continue
			}
			cluster = cluster.Elem()
		}
		if cluster.Kind() != reflect.Struct {
			return nil, fmt.Errorf("unexpected HDBSCAN result: cluster %d is %s", i, cluster.Kind())
		}

		pointsField := cluster.FieldByName("Points")
		if !pointsField.IsValid() || pointsField.Kind() != reflect.Slice {
			return nil, fmt.Errorf("unexpected HDBSCAN result: cluster %d has no Points slice", i)
		}
		points := make([]int, pointsField.Len())
		for j := range points {
			points[j] = int(pointsField.Index(j).Int())
		}
		result[i] = points
	}
	return result, nil
}
