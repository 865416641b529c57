package clusters

import (
	"context"
	"math"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// weightFloor keeps the weight of an empty component strictly positive
// during the M-step, so its logarithm stays finite.
var weightFloor = 10 * (math.Nextafter(1, 2) - 1)

// GaussianMixture is the mixture engine: a diagonal-covariance Gaussian
// mixture fit by Expectation-Maximization, initialized from a k-means hard
// assignment and restarted best-of-N.
type GaussianMixture struct {
	components int
	dimensions int
	src        rand.Source
}

// NewGaussianMixture creates a mixture engine for the given component and
// dimension counts.
func NewGaussianMixture(components, dimensions int, opts ...Option) (*GaussianMixture, error) {
	if components < 1 {
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

	return &GaussianMixture{
		components: components,
		dimensions: dimensions,
		src:        o.src,
	}, nil
}

// GaussianParams is one immutable snapshot of the mixture parameters. A new
// snapshot replaces the previous one after every M-step; snapshots are never
// mutated in place.
type GaussianParams struct {
	// Weights are the component mixing proportions, length components,
	// summing to 1.
	Weights []float64
	// Means is the components x dimensions row-major matrix of component
	// means.
	Means []float64
	// Covariances holds the strictly positive diagonal covariance of each
	// component, components x dimensions row-major.
	Covariances []float64
	// PrecisionsChol is the elementwise reciprocal square root of
	// Covariances.
	PrecisionsChol []float64
}

// MixtureFitConfig carries the fit-time parameters of the mixture engine.
type MixtureFitConfig struct {
	// Repetitions is the number of independent restarts; the result with
	// the greatest lower bound wins.
	Repetitions int
	// MaxIterations caps the EM iterations of each restart.
	MaxIterations int
	// Tolerance stops a restart once the lower bound changes by less than
	// this between iterations.
	Tolerance float64
	// RegCovar is added to every diagonal covariance entry, keeping it
	// strictly positive for degenerate clusters.
	RegCovar float64
	// InitialResponsibilities is an optional n x components row-major warm
	// start; rows need not be one-hot. When nil, every restart begins from
	// a fresh k-means assignment.
	InitialResponsibilities []float64
}

// MixtureResult holds the outcome of one mixture fit.
type MixtureResult struct {
	// Params are the fitted mixture parameters.
	Params GaussianParams
	// Converged reports whether the lower bound stabilized before the
	// iteration cap.
	Converged bool
	// LowerBound is the final per-point log-likelihood lower bound.
	LowerBound float64
	// Iterations is the number of EM iterations performed by the winning
	// restart.
	Iterations int

	components int
	dimensions int
	labels     []int
}

// Fit runs EM on the n row-major points in data, restarting
// cfg.Repetitions times and keeping the restart with the strictly greatest
// lower bound (the first found wins ties). Cancelling ctx aborts at the
// next iteration boundary and discards any partial result.
func (g *GaussianMixture) Fit(ctx context.Context, n int, data []float64, cfg MixtureFitConfig) (*MixtureResult, error) {
	if err := validateDataset(n, g.dimensions, data); err != nil {
		return nil, err
	}

	if cfg.Repetitions < 1 {
		return nil, ErrZeroRepetitions
	}

	if cfg.MaxIterations < 1 {
		return nil, ErrZeroIterations
	}

	if cfg.InitialResponsibilities != nil && len(cfg.InitialResponsibilities) < n*g.components {
		return nil, ErrShortResponsibilities
	}

	var best *MixtureResult

	for rep := 0; rep < cfg.Repetitions; rep++ {
		resp, err := g.initialResponsibilities(ctx, n, data, cfg)
		if err != nil {
			return nil, err
		}

		r, err := g.singleFit(ctx, n, data, resp, cfg)
		if err != nil {
			return nil, err
		}

		if best == nil || r.LowerBound > best.LowerBound {
			best = r
		}
	}

	return best, nil
}

// Labels returns the hard assignment of the training points.
func (r *MixtureResult) Labels() []int {
	return r.labels
}

// Predict runs a single E-step against the fitted parameters and returns
// the arg-max component per point.
func (r *MixtureResult) Predict(n int, data []float64) ([]int, error) {
	if err := validateDataset(n, r.dimensions, data); err != nil {
		return nil, err
	}

	var (
		eng = GaussianMixture{components: r.components, dimensions: r.dimensions}
		x   = mat.NewDense(n, r.dimensions, data[:n*r.dimensions])
	)

	return argmaxRows(eng.weightedLogProb(n, x, squared(x), r.Params)), nil
}

// initialResponsibilities returns the caller's warm start when supplied,
// otherwise one k-means fit converted to a one-hot responsibility matrix.
func (g *GaussianMixture) initialResponsibilities(ctx context.Context, n int, data []float64, cfg MixtureFitConfig) ([]float64, error) {
	if cfg.InitialResponsibilities != nil {
		return cfg.InitialResponsibilities[:n*g.components], nil
	}

	km := &KMeans{
		clusters:   g.components,
		dimensions: g.dimensions,
		src:        g.src,
	}

	r, err := km.Fit(ctx, n, data, cfg.MaxIterations, cfg.Tolerance)
	if err != nil {
		return nil, err
	}

	return oneHot(n, g.components, r.Labels()), nil
}

// singleFit runs one EM convergence loop from the given responsibilities.
func (g *GaussianMixture) singleFit(ctx context.Context, n int, data []float64, resp []float64, cfg MixtureFitConfig) (*MixtureResult, error) {
	var (
		x  = mat.NewDense(n, g.dimensions, data[:n*g.dimensions])
		x2 = squared(x)

		params     = g.estimateGaussianParams(n, resp, x, x2, cfg.RegCovar)
		lower      = math.Inf(-1)
		iterations = cfg.MaxIterations
		converged  bool
	)

	for i := 0; i < cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		prev := lower

		var logResp *mat.Dense
		lower, logResp = g.eStep(n, x, x2, params)

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		params = g.estimateGaussianParams(n, expInPlace(logResp), x, x2, cfg.RegCovar)

		if math.Abs(lower-prev) < cfg.Tolerance {
			iterations = i + 1
			converged = true
			break
		}
	}

	return &MixtureResult{
		Params:     params,
		Converged:  converged,
		LowerBound: lower,
		Iterations: iterations,
		components: g.components,
		dimensions: g.dimensions,
		labels:     argmaxRows(g.weightedLogProb(n, x, x2, params)),
	}, nil
}

// estimateGaussianParams is the M-step. Component weights are the floored
// column sums of the responsibilities, renormalized to sum exactly to 1;
// means and second moments come from the matrix products resp^T*x and
// resp^T*x^2; regCovar keeps every diagonal covariance strictly positive.
func (g *GaussianMixture) estimateGaussianParams(n int, resp []float64, x, x2 *mat.Dense, regCovar float64) GaussianParams {
	var (
		k   = g.components
		dim = g.dimensions
		r   = mat.NewDense(n, k, resp[:n*k])

		nk      = make([]float64, k)
		weights = make([]float64, k)
		means   = make([]float64, k*dim)
		covs    = make([]float64, k*dim)
		precs   = make([]float64, k*dim)
	)

	for j := 0; j < k; j++ {
		var col float64
		for i := 0; i < n; i++ {
			col += resp[i*k+j]
		}
		nk[j] = col + weightFloor
	}

	var m, m2 mat.Dense
	m.Mul(r.T(), x)
	m2.Mul(r.T(), x2)

	for j := 0; j < k; j++ {
		for d := 0; d < dim; d++ {
			i := j*dim + d
			means[i] = m.At(j, d) / nk[j]
			covs[i] = m2.At(j, d)/nk[j] - means[i]*means[i] + regCovar
			precs[i] = 1 / math.Sqrt(covs[i])
		}
	}

	copy(weights, nk)
	floats.Scale(1/floats.Sum(nk), weights)

	return GaussianParams{
		Weights:        weights,
		Means:          means,
		Covariances:    covs,
		PrecisionsChol: precs,
	}
}

// eStep returns the mean per-point log-likelihood lower bound and the n x k
// matrix of log-responsibilities under params. Each row is normalized with
// the log-sum-exp trick.
func (g *GaussianMixture) eStep(n int, x, x2 *mat.Dense, params GaussianParams) (float64, *mat.Dense) {
	var (
		wlp   = g.weightedLogProb(n, x, x2, params)
		total float64
	)

	for i := 0; i < n; i++ {
		row := wlp.RawRowView(i)
		norm := floats.LogSumExp(row)
		total += norm
		floats.AddConst(-norm, row)
	}

	return total / float64(n), wlp
}

// weightedLogProb computes the n x k matrix of log(weight_j * N(x_i |
// mean_j, cov_j)) for the diagonal Gaussians of params. The quadratic form
// expands into three terms, two of which are matrix products over all
// points at once:
//
//	sum_d mean^2*prec - 2*x.(mean*prec) + x^2.prec
func (g *GaussianMixture) weightedLogProb(n int, x, x2 *mat.Dense, params GaussianParams) *mat.Dense {
	var (
		k   = g.components
		dim = g.dimensions

		prec     = make([]float64, k*dim)
		meanPrec = make([]float64, k*dim)
		meanSq   = make([]float64, k)
		logDet   = make([]float64, k)
		logW     = make([]float64, k)
	)

	for j := 0; j < k; j++ {
		logW[j] = math.Log(params.Weights[j])
		for d := 0; d < dim; d++ {
			i := j*dim + d
			prec[i] = params.PrecisionsChol[i] * params.PrecisionsChol[i]
			meanPrec[i] = params.Means[i] * prec[i]
			meanSq[j] += params.Means[i] * meanPrec[i]
			logDet[j] += math.Log(params.PrecisionsChol[i])
		}
	}

	var a, b mat.Dense
	a.Mul(x, mat.NewDense(k, dim, meanPrec).T())
	b.Mul(x2, mat.NewDense(k, dim, prec).T())

	var (
		out = mat.NewDense(n, k, nil)
		// the Gaussian normalizer uses the dimension count
		norm = float64(dim) * math.Log(2*math.Pi)
	)

	for i := 0; i < n; i++ {
		var (
			row = out.RawRowView(i)
			ra  = a.RawRowView(i)
			rb  = b.RawRowView(i)
		)

		for j := 0; j < k; j++ {
			logProb := meanSq[j] - 2*ra[j] + rb[j]
			row[j] = -0.5*(norm+logProb) + logDet[j] + logW[j]
		}
	}

	return out
}

// squared returns the elementwise square of x.
func squared(x *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return v * v }, x)
	return &out
}

// expInPlace exponentiates the matrix elementwise and returns its backing
// slice, turning log-responsibilities into responsibilities.
func expInPlace(m *mat.Dense) []float64 {
	d := m.RawMatrix().Data
	for i, v := range d {
		d[i] = math.Exp(v)
	}
	return d
}

func argmaxRows(m *mat.Dense) []int {
	r, _ := m.Dims()
	labels := make([]int, r)
	for i := 0; i < r; i++ {
		labels[i] = floats.MaxIdx(m.RawRowView(i))
	}
	return labels
}
