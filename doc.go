/*
Package clusters implements unsupervised clustering of points in a
fixed-dimensional vector space.

Two fitting engines are provided: KMeans, a partition-based method with
k-means++ seeding, Lloyd iteration and a parallel centroid update, and
GaussianMixture, a diagonal-covariance Gaussian mixture fit by
Expectation-Maximization with best-of-N restarts.

Datasets are flat row-major float64 slices of length >= n*dimensions,
with the point count passed explicitly alongside. Both engines return a
result implementing the Model interface, exposing the trained labels and
out-of-sample prediction against the frozen parameters.
*/
package clusters
