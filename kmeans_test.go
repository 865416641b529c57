package clusters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestNewKMeansValidation(t *testing.T) {
	_, err := NewKMeans(0, 3)
	require.ErrorIs(t, err, ErrZeroClusters)

	_, err = NewKMeans(3, 0)
	require.ErrorIs(t, err, ErrZeroDimensions)
}

func TestKMeansFitValidation(t *testing.T) {
	c, err := NewKMeans(2, 2)
	require.NoError(t, err)

	_, err = c.Fit(context.Background(), 0, nil, 10, 1e-4)
	require.ErrorIs(t, err, ErrZeroPoints)

	_, err = c.Fit(context.Background(), 3, []float64{1, 2, 3, 4}, 10, 1e-4)
	require.ErrorIs(t, err, ErrShortData)

	_, err = c.Fit(context.Background(), 2, []float64{1, 2, 3, 4}, 0, 1e-4)
	require.ErrorIs(t, err, ErrZeroIterations)
}

func TestKMeansRecoversSeparatedClusters(t *testing.T) {
	centers := [][]float64{
		{0, 0, 0},
		{600, 600, 0},
		{1200, 0, 600},
	}

	n, data, _ := makeBlobs(t, centers, 10, 200, 1)

	c, err := NewKMeans(3, 3, WithRandSource(rand.NewSource(2)))
	require.NoError(t, err)

	const maxIterations = 1000

	r, err := c.Fit(context.Background(), n, data, maxIterations, 1e-4)
	require.NoError(t, err)

	assert.True(t, r.Converged)
	assert.Less(t, r.Iterations, maxIterations/10)
	assert.Len(t, r.Centroids, 9)
	assert.GreaterOrEqual(t, r.Inertia, 0.0)

	seen := make(map[int]bool)
	for j := 0; j < 3; j++ {
		i, dist := nearestCenter(r.Centroids[j*3:(j+1)*3], centers)
		assert.Less(t, dist, 5.0, "centroid %d too far from any true center", j)
		seen[i] = true
	}
	assert.Len(t, seen, 3, "centroids collapsed onto fewer than 3 true centers")

	for _, l := range r.Labels() {
		assert.GreaterOrEqual(t, l, 0)
		assert.Less(t, l, 3)
	}
}

func TestKMeansIdenticalPoints(t *testing.T) {
	const n = 50

	data := make([]float64, 0, n*2)
	for i := 0; i < n; i++ {
		data = append(data, 1.5, -2.5)
	}

	c, err := NewKMeans(3, 2, WithRandSource(rand.NewSource(4)))
	require.NoError(t, err)

	r, err := c.Fit(context.Background(), n, data, 100, 1e-4)
	require.NoError(t, err)

	assert.True(t, r.Converged)
	assert.Equal(t, 0, r.Iterations)
	assert.Zero(t, r.Inertia)
}

func TestKMeansTrueMeansAreFixedPoint(t *testing.T) {
	c, err := NewKMeans(2, 2)
	require.NoError(t, err)

	var (
		data      = []float64{-1, 0, 1, 0, 9, 10, 11, 10}
		centroids = []float64{0, 0, 10, 10}
	)

	labels := assign(4, 2, 2, data, centroids)
	next, err := c.update(context.Background(), 4, data, labels, centroids)
	require.NoError(t, err)

	assert.True(t, identical(centroids, next), "update moved centroids already at the cluster means")
}

func TestKMeansPredictSelfConsistent(t *testing.T) {
	centers := [][]float64{{-20, 0}, {20, 0}}
	n, data, _ := makeBlobs(t, centers, 2, 100, 5)

	c, err := NewKMeans(2, 2, WithRandSource(rand.NewSource(6)))
	require.NoError(t, err)

	r, err := c.Fit(context.Background(), n, data, 100, 1e-4)
	require.NoError(t, err)

	labels, err := r.Predict(n, data)
	require.NoError(t, err)
	assert.Equal(t, r.Labels(), labels)
}

func TestKMeansDeterministicWithSource(t *testing.T) {
	centers := [][]float64{{0, 0}, {30, 30}, {-30, 30}}
	n, data, _ := makeBlobs(t, centers, 3, 50, 7)

	fit := func() *KMeansResult {
		c, err := NewKMeans(3, 2, WithRandSource(rand.NewSource(8)))
		require.NoError(t, err)

		r, err := c.Fit(context.Background(), n, data, 100, 1e-4)
		require.NoError(t, err)
		return r
	}

	a, b := fit(), fit()
	assert.Equal(t, a.Centroids, b.Centroids)
	assert.Equal(t, a.Labels(), b.Labels())
	assert.Equal(t, a.Iterations, b.Iterations)
}

func TestKMeansCancellation(t *testing.T) {
	centers := [][]float64{{0, 0}, {1, 1}, {2, 2}, {3, 3}}
	n, data, _ := makeBlobs(t, centers, 50, 2500, 9)

	c, err := NewKMeans(4, 2, WithRandSource(rand.NewSource(10)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := c.Fit(ctx, n, data, 1000, 0)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, r, "a cancelled fit must not return a partial result")
}
