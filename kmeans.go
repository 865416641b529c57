package clusters

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// KMeans is the partition engine: k-means++ seeding followed by Lloyd
// iteration with a parallel centroid update. An engine is cheap to construct
// and carries no state between fits.
type KMeans struct {
	clusters   int
	dimensions int
	src        rand.Source
}

// NewKMeans creates a partition engine for the given cluster and dimension
// counts.
func NewKMeans(clusters, dimensions int, opts ...Option) (*KMeans, error) {
	if clusters < 1 {
		return nil, ErrZeroClusters
	}

	if dimensions < 1 {
		return nil, ErrZeroDimensions
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.src == nil {
		o.src = rand.NewSource(uint64(time.Now().UnixNano()))
	}

	return &KMeans{
		clusters:   clusters,
		dimensions: dimensions,
		src:        o.src,
	}, nil
}

// KMeansResult holds the outcome of one partition fit.
type KMeansResult struct {
	// Centroids is the fitted clusters x dimensions row-major centroid set.
	Centroids []float64
	// Iterations is the number of Lloyd iterations performed.
	Iterations int
	// Inertia is the sum of squared distances from each point to its
	// assigned centroid.
	Inertia float64
	// Converged reports whether the centroids stabilized before the
	// iteration cap.
	Converged bool

	clusters   int
	dimensions int
	labels     []int
}

// Fit clusters the n row-major points in data. Iteration stops when the
// centroids stop moving, when their total squared displacement falls below
// tolerance scaled by the mean per-dimension variance of the dataset, or at
// maxIterations. Cancelling ctx aborts the fit at the next iteration
// boundary and discards any partial result.
func (c *KMeans) Fit(ctx context.Context, n int, data []float64, maxIterations int, tolerance float64) (*KMeansResult, error) {
	if err := validateDataset(n, c.dimensions, data); err != nil {
		return nil, err
	}

	if maxIterations < 1 {
		return nil, ErrZeroIterations
	}

	var (
		dim       = c.dimensions
		threshold = tolerance * meanColumnVariance(n, dim, data)
		centroids = c.seed(n, data)
		labels    []int

		iterations = maxIterations
		converged  bool
	)

	for i := 0; i < maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		labels = assign(n, dim, c.clusters, data, centroids)

		next, err := c.update(ctx, n, data, labels, centroids)
		if err != nil {
			return nil, err
		}

		if identical(centroids, next) {
			iterations = i
			converged = true
			break
		}

		shift := squaredDistance(centroids, next)
		centroids = next

		if shift < threshold {
			iterations = i + 1
			converged = true
			break
		}
	}

	labels = assign(n, dim, c.clusters, data, centroids)

	var inertia float64
	for i := 0; i < n; i++ {
		l := labels[i]
		inertia += squaredDistance(data[i*dim:(i+1)*dim], centroids[l*dim:(l+1)*dim])
	}

	return &KMeansResult{
		Centroids:  centroids,
		Iterations: iterations,
		Inertia:    inertia,
		Converged:  converged,
		clusters:   c.clusters,
		dimensions: dim,
		labels:     labels,
	}, nil
}

// Labels returns the hard assignment of the training points.
func (r *KMeansResult) Labels() []int {
	return r.labels
}

// Predict assigns each of the n points in data to its nearest fitted
// centroid.
func (r *KMeansResult) Predict(n int, data []float64) ([]int, error) {
	if err := validateDataset(n, r.dimensions, data); err != nil {
		return nil, err
	}

	return assign(n, r.dimensions, r.clusters, data, r.Centroids), nil
}

// seed picks the initial centroids by sequential weighted sampling without
// replacement: the first uniformly, each subsequent one with probability
// proportional to the squared distance to the nearest centroid chosen so
// far. A chosen point has its weight zeroed and cannot be re-selected.
func (c *KMeans) seed(n int, data []float64) []float64 {
	var (
		dim       = c.dimensions
		rnd       = rand.New(c.src)
		centroids = make([]float64, c.clusters*dim)
		weights   = make([]float64, n)
	)

	first := rnd.Intn(n)
	copy(centroids[:dim], data[first*dim:(first+1)*dim])

	for i := 0; i < n; i++ {
		weights[i] = squaredDistance(data[i*dim:(i+1)*dim], centroids[:dim])
	}
	weights[first] = 0

	for j := 1; j < c.clusters; j++ {
		sampler := sampleuv.NewWeighted(weights, c.src)
		idx, ok := sampler.Take()
		if !ok {
			// every remaining point coincides with a chosen centroid
			idx = rnd.Intn(n)
		}

		chosen := centroids[j*dim : (j+1)*dim]
		copy(chosen, data[idx*dim:(idx+1)*dim])
		weights[idx] = 0

		for i := 0; i < n; i++ {
			if weights[i] == 0 {
				continue
			}
			if d := squaredDistance(data[i*dim:(i+1)*dim], chosen); d < weights[i] {
				weights[i] = d
			}
		}
	}

	return centroids
}

// assign labels every point with the index of its nearest centroid. The
// scores are ||c||^2 - 2*x.c, the squared distance up to the per-point
// ||x||^2 term, computed for all pairs with a single matrix product. Ties
// go to the lowest index.
func assign(n, dim, k int, data, centroids []float64) []int {
	var (
		x = mat.NewDense(n, dim, data[:n*dim])
		c = mat.NewDense(k, dim, centroids)
		g mat.Dense
	)

	g.Mul(x, c.T())

	norms := make([]float64, k)
	for j := 0; j < k; j++ {
		row := centroids[j*dim : (j+1)*dim]
		norms[j] = floats.Dot(row, row)
	}

	labels := make([]int, n)
	for i := 0; i < n; i++ {
		var (
			row  = g.RawRowView(i)
			best = 0
			min  = norms[0] - 2*row[0]
		)

		for j := 1; j < k; j++ {
			if s := norms[j] - 2*row[j]; s < min {
				min = s
				best = j
			}
		}

		labels[i] = best
	}

	return labels
}

// update recomputes the centroids as the mean of their assigned points. The
// points are split into contiguous chunks, one per available CPU; each chunk
// accumulates per-cluster counts and coordinate sums into its own slot, so
// no synchronization is needed beyond the final single-threaded reduction.
// A cluster with no assigned points keeps its previous centroid.
func (c *KMeans) update(ctx context.Context, n int, data []float64, labels []int, prev []float64) ([]float64, error) {
	var (
		dim    = c.dimensions
		k      = c.clusters
		chunks = runtime.GOMAXPROCS(0)
	)

	if chunks > n {
		chunks = n
	}

	var (
		sums   = make([][]float64, chunks)
		counts = make([][]int, chunks)
		size   = (n + chunks - 1) / chunks
	)

	g, ctx := errgroup.WithContext(ctx)

	for w := 0; w < chunks; w++ {
		w := w
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			var (
				sum   = make([]float64, k*dim)
				count = make([]int, k)
				a     = w * size
				b     = a + size
			)

			if b > n {
				b = n
			}

			for i := a; i < b; i++ {
				l := labels[i]
				count[l]++
				floats.Add(sum[l*dim:(l+1)*dim], data[i*dim:(i+1)*dim])
			}

			sums[w] = sum
			counts[w] = count

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		next  = make([]float64, k*dim)
		total = make([]int, k)
	)

	for w := 0; w < chunks; w++ {
		floats.Add(next, sums[w])
		for j := 0; j < k; j++ {
			total[j] += counts[w][j]
		}
	}

	for j := 0; j < k; j++ {
		row := next[j*dim : (j+1)*dim]
		if total[j] == 0 {
			copy(row, prev[j*dim:(j+1)*dim])
			continue
		}
		floats.Scale(1/float64(total[j]), row)
	}

	return next, nil
}

func identical(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
