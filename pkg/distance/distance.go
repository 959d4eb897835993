// Package distance implements the three distance metrics lynxdb supports
// over equal-length float32 vector views: L2, cosine, and negated dot
// product. Smaller is always "more similar" regardless of metric.
//
// Dimension mismatch between a and b is treated as an internal programming
// error: callers (the index implementations) must validate dimensions
// before calling into these kernels. The kernels themselves never
// allocate and never return an error.
package distance

import "github.com/lynxvec/lynxdb/pkg/simd"

// Metric selects the distance function a database or index uses to order
// candidates. Smaller is always "more similar" regardless of metric.
type Metric int

const (
	L2 Metric = iota
	Cosine
	Dot
)

func (m Metric) String() string {
	switch m {
	case L2:
		return "l2"
	case Cosine:
		return "cosine"
	case Dot:
		return "dot"
	default:
		return "unknown"
	}
}

// ParseMetric parses a metric name, defaulting to L2 on an unrecognized
// value.
func ParseMetric(s string) Metric {
	switch s {
	case "cosine":
		return Cosine
	case "dot", "dotproduct", "negdot":
		return Dot
	default:
		return L2
	}
}

// minNormThreshold is the norm below which cosine distance treats a
// vector as degenerate and returns maximum dissimilarity.
const minNormThreshold = 1e-10

// Calculate returns the distance between a and b under metric m. Smaller
// values mean "more similar" for every metric, including Dot (negated dot
// product).
func Calculate(a, b []float32, m Metric) float32 {
	switch m {
	case Cosine:
		return cosineDistance(a, b)
	case Dot:
		return -simd.DotProduct(a, b)
	default:
		return simd.L2(a, b)
	}
}

// SquaredL2 is the squared Euclidean distance, used internally wherever
// only relative ordering matters and the sqrt can be skipped.
func SquaredL2(a, b []float32) float32 {
	return simd.SquaredL2(a, b)
}

func cosineDistance(a, b []float32) float32 {
	na := simd.Norm(a)
	nb := simd.Norm(b)
	if na < minNormThreshold || nb < minNormThreshold {
		return 1.0
	}
	ratio := simd.DotProduct(a, b) / (na * nb)
	if ratio > 1 {
		ratio = 1
	} else if ratio < -1 {
		ratio = -1
	}
	return 1 - ratio
}
