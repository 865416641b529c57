package clusters

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	_ Model = (*KMeansResult)(nil)
	_ Model = (*MixtureResult)(nil)
)

// makeBlobs samples perCluster points around each center with isotropic
// spread sigma, returning the point count, the row-major dataset and the
// generating labels.
func makeBlobs(t *testing.T, centers [][]float64, sigma float64, perCluster int, seed uint64) (int, []float64, []int) {
	t.Helper()

	var (
		src    = rand.NewSource(seed)
		dim    = len(centers[0])
		n      = perCluster * len(centers)
		data   = make([]float64, 0, n*dim)
		labels = make([]int, 0, n)
	)

	for c, center := range centers {
		for i := 0; i < perCluster; i++ {
			for d := 0; d < dim; d++ {
				data = append(data, distuv.Normal{Mu: center[d], Sigma: sigma, Src: src}.Rand())
			}
			labels = append(labels, c)
		}
	}

	return n, data, labels
}

// nearestCenter returns the index of the closest true center and the
// distance to it.
func nearestCenter(p []float64, centers [][]float64) (int, float64) {
	best, min := 0, math.Inf(1)
	for i, c := range centers {
		if d := math.Sqrt(squaredDistance(p, c)); d < min {
			min = d
			best = i
		}
	}
	return best, min
}
