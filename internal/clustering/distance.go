package clustering

import "math"

// DistanceFunc measures the distance between two points.
type DistanceFunc func(a, b []float64) float64

// CosineSimilarity calculates the cosine similarity between two vectors.
// Mismatched lengths and zero vectors have similarity 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, magA, magB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}

	if magA == 0 || magB == 0 {
		return 0
	}

	similarity := dotProduct / (math.Sqrt(magA) * math.Sqrt(magB))

	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1.0 {
		similarity = 1.0
	} else if similarity < -1.0 {
		similarity = -1.0
	}
	return similarity
}

// CosineDistance is 1 - cosine similarity, in [0, 2].
// For high-dimensional embeddings cosine distance works much better than Euclidean.
func CosineDistance(a, b []float64) float64 {
	if len(a) != len(b) {
		return 1.0
	}
	return 1.0 - CosineSimilarity(a, b)
}

// EuclideanDistance is the L2 distance, used in the reduced space.
func EuclideanDistance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Mean returns the component-wise mean of the selected rows of points.
func Mean(points [][]float64, rows []int) []float64 {
	if len(rows) == 0 {
		return nil
	}
	out := make([]float64, len(points[rows[0]]))
	for _, r := range rows {
		for i, v := range points[r] {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float64(len(rows))
	}
	return out
}
