package clustering

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"topicflow/internal/logger"
)

// Reduction methods
const (
	ReductionPCA    = "pca"
	ReductionRandom = "random"
)

// shouldReduce reports whether a batch of n vectors of width d is reduced to k dims.
func shouldReduce(n, d, k int) bool {
	return k > 0 && n > k+1 && d > k
}

// reduce projects points onto k dimensions. The input is not modified.
func reduce(points [][]float64, k int, method string, seed int64) ([][]float64, error) {
	n := len(points)
	if n == 0 {
		return nil, nil
	}
	d := len(points[0])

	data := mat.NewDense(n, d, nil)
	for i, p := range points {
		if len(p) != d {
			return nil, fmt.Errorf("point %d has %d dims, expected %d", i, len(p), d)
		}
		data.SetRow(i, p)
	}

	var basis mat.Matrix
	switch method {
	case ReductionRandom:
		basis = randomBasis(d, k, seed)
	default:
		var pc stat.PC
		if ok := pc.PrincipalComponents(data, nil); !ok {
			logger.Warn("PCA did not converge, falling back to random projection", "points", n, "dims", d)
			basis = randomBasis(d, k, seed)
			break
		}
		var vecs mat.Dense
		pc.VectorsTo(&vecs)
		_, cols := vecs.Dims()
		if cols < k {
			return nil, fmt.Errorf("PCA returned %d components, need %d", cols, k)
		}
		basis = vecs.Slice(0, d, 0, k)
	}

	var proj mat.Dense
	proj.Mul(data, basis)

	out := make([][]float64, n)
	for i := range out {
		out[i] = mat.Row(nil, i, &proj)
	}
	return out, nil
}

// randomBasis draws a seeded d x k Gaussian projection matrix.
func randomBasis(d, k int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	scale := 1 / math.Sqrt(float64(k))
	basis := mat.NewDense(d, k, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < k; j++ {
			basis.Set(i, j, rng.NormFloat64()*scale)
		}
	}
	return basis
}
