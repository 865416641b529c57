package clusters

import (
	"gonum.org/v1/gonum/stat"
)

func squaredDistance(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += (a[i] - b[i]) * (a[i] - b[i])
	}
	return s
}

// meanColumnVariance returns the variance of each dimension of the n x dim
// row-major dataset, averaged over dimensions. Used to scale the stopping
// tolerance to the spread of the data.
func meanColumnVariance(n, dim int, data []float64) float64 {
	var (
		col   = make([]float64, n)
		total float64
	)

	for j := 0; j < dim; j++ {
		for i := 0; i < n; i++ {
			col[i] = data[i*dim+j]
		}
		total += stat.Variance(col, nil)
	}

	return total / float64(dim)
}

// oneHot expands hard labels into an n x k row-major responsibility matrix.
func oneHot(n, k int, labels []int) []float64 {
	r := make([]float64, n*k)
	for i, l := range labels {
		r[i*k+l] = 1
	}
	return r
}

func validateDataset(n, dim int, data []float64) error {
	if n < 1 {
		return ErrZeroPoints
	}
	if len(data) < n*dim {
		return ErrShortData
	}
	return nil
}
