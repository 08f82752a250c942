// Package distance provides the distance metrics used by the indexes.
//
// Every function returns a dissimilarity: smaller values mean closer vectors.
package distance

import (
	"fmt"

	"github.com/hupe1980/embeddb/internal/math32"
)

// MaxCosineDistance is returned when either vector has zero magnitude.
// It is the upper bound of the cosine distance range [0, 2].
const MaxCosineDistance float32 = 2.0

// Metric identifies a distance metric.
type Metric int

const (
	// Cosine is 1 - cos(a, b). Range [0, 2], zero-magnitude inputs map to 2.
	Cosine Metric = iota
	// Euclidean is the L2 distance.
	Euclidean
	// InnerProduct is the negated dot product.
	InnerProduct
)

// String returns the canonical name of the metric.
func (m Metric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case Euclidean:
		return "euclidean"
	case InnerProduct:
		return "inner_product"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// ParseMetric returns the metric for a canonical name.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "cosine":
		return Cosine, nil
	case "euclidean":
		return Euclidean, nil
	case "inner_product":
		return InnerProduct, nil
	default:
		return 0, fmt.Errorf("distance: unknown metric %q", s)
	}
}

// Func computes the distance between two vectors of equal dimension.
// Callers validate dimensions; the functions assume len(a) == len(b).
type Func func(a, b []float32) float32

// Provider returns the distance function for a metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case Cosine:
		return CosineDistance, nil
	case Euclidean:
		return EuclideanDistance, nil
	case InnerProduct:
		return InnerProductDistance, nil
	default:
		return nil, fmt.Errorf("distance: unknown metric %q", m)
	}
}

// CosineDistance returns 1 - dot(a,b)/(|a|*|b|).
//
// If either vector has zero magnitude the angle is undefined; the result is
// MaxCosineDistance so such vectors rank behind every real match instead of
// producing NaN.
func CosineDistance(a, b []float32) float32 {
	na := math32.Norm(a)
	nb := math32.Norm(b)
	if na == 0 || nb == 0 {
		return MaxCosineDistance
	}

	return 1 - math32.Dot(a, b)/(na*nb)
}

// EuclideanDistance returns the L2 distance between a and b.
func EuclideanDistance(a, b []float32) float32 {
	return math32.Sqrt(math32.SquaredL2(a, b))
}

// InnerProductDistance returns -dot(a, b), so larger dot products rank first.
func InnerProductDistance(a, b []float32) float32 {
	return -math32.Dot(a, b)
}
