package clusters

import "errors"

var (
	// ErrZeroClusters indicates a non-positive cluster count at construction.
	ErrZeroClusters = errors.New("clusters: number of clusters cannot be less than 1")
	// ErrZeroDimensions indicates a non-positive dimension count at construction.
	ErrZeroDimensions = errors.New("clusters: number of dimensions cannot be less than 1")
	// ErrZeroPoints indicates a non-positive point count passed to a fit or predict.
	ErrZeroPoints = errors.New("clusters: number of points cannot be less than 1")
	// ErrShortData indicates a dataset shorter than points times dimensions.
	ErrShortData = errors.New("clusters: dataset shorter than points x dimensions")
	// ErrZeroIterations indicates a non-positive iteration cap.
	ErrZeroIterations = errors.New("clusters: number of iterations cannot be less than 1")
	// ErrZeroRepetitions indicates a non-positive restart count for the mixture fit.
	ErrZeroRepetitions = errors.New("clusters: number of repetitions cannot be less than 1")
	// ErrShortResponsibilities indicates a warm-start responsibility matrix
	// shorter than points times clusters.
	ErrShortResponsibilities = errors.New("clusters: responsibility matrix shorter than points x clusters")
)
