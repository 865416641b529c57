package clusters

import (
	"golang.org/x/exp/rand"
)

// Model is the capability shared by both engines' fit results: the hard
// assignment computed during training and out-of-sample prediction against
// the frozen parameters. Exactly two types implement it, *KMeansResult and
// *MixtureResult.
type Model interface {
	// Labels returns the per-point cluster indices assigned during
	// training. Every label lies in [0, clusters).
	Labels() []int

	// Predict assigns each of the n row-major points in data to a cluster
	// using the fitted parameters, without refitting.
	Predict(n int, data []float64) ([]int, error)
}

// Option configures an engine at construction time.
type Option func(*options)

type options struct {
	src rand.Source
}

// WithRandSource sets the random source used by centroid seeding, making
// fits deterministic. When absent a time-seeded source is used.
func WithRandSource(src rand.Source) Option {
	return func(o *options) {
		o.src = src
	}
}
