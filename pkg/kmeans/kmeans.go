// Package kmeans implements k-means++ initialization followed by Lloyd
// iteration, the clustering routine the IVF index trains its centroids
// with.
package kmeans

import (
	"math"
	"math/rand"
	"time"

	"github.com/lynxvec/lynxdb/pkg/distance"
)

func defaultSeed() int64 {
	return time.Now().UnixNano()
}

// Config controls the clustering run.
type Config struct {
	K                    int
	MaxIterations        int
	ConvergenceThreshold float64
	// Seed makes the run reproducible. A zero value draws entropy from
	// the runtime clock instead.
	Seed int64
}

// DefaultConfig returns the standard training parameters for k clusters.
func DefaultConfig(k int) Config {
	return Config{
		K:                    k,
		MaxIterations:        100,
		ConvergenceThreshold: 1e-4,
	}
}

// Result holds the trained centroids and the final cluster assignment for
// every input vector, in input order.
type Result struct {
	Centroids   [][]float32
	Assignments []int
}

func cloneVec(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// Run clusters vectors into at most cfg.K groups under metric. If cfg.K
// exceeds len(vectors), k is silently clamped to len(vectors).
func Run(vectors [][]float32, cfg Config, metric distance.Metric) Result {
	n := len(vectors)
	if n == 0 {
		return Result{}
	}

	k := cfg.K
	if k > n {
		k = n
	}
	if k <= 0 {
		k = 1
	}

	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}
	threshold := cfg.ConvergenceThreshold
	if threshold <= 0 {
		threshold = 1e-4
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = defaultSeed()
	}
	rng := rand.New(rand.NewSource(seed))

	centroids := initPlusPlus(rng, vectors, k, metric)
	dim := len(vectors[0])
	assignments := make([]int, n)

	for iter := 0; iter < maxIter; iter++ {
		for i, v := range vectors {
			bestC, bestD := 0, float32(math.MaxFloat32)
			for c, centroid := range centroids {
				d := distance.Calculate(v, centroid, metric)
				if d < bestD {
					bestD = d
					bestC = c
				}
			}
			assignments[i] = bestC
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, v := range vectors {
			c := assignments[i]
			counts[c]++
			for d := 0; d < dim; d++ {
				sums[c][d] += float64(v[d])
			}
		}

		newCentroids := make([][]float32, k)
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Empty cluster: reseed to a random training point.
				newCentroids[c] = cloneVec(vectors[rng.Intn(n)])
				continue
			}
			nc := make([]float32, dim)
			for d := 0; d < dim; d++ {
				nc[d] = float32(sums[c][d] / float64(counts[c]))
			}
			newCentroids[c] = nc
		}

		var movement float64
		for c := 0; c < k; c++ {
			movement += float64(distance.Calculate(centroids[c], newCentroids[c], distance.L2))
		}
		centroids = newCentroids

		if movement < threshold {
			break
		}
	}

	return Result{Centroids: centroids, Assignments: assignments}
}

// initPlusPlus implements k-means++ seeding: the first centroid is chosen
// uniformly at random, then each subsequent centroid is sampled with
// probability proportional to its squared distance to the nearest
// already-chosen centroid.
func initPlusPlus(rng *rand.Rand, vectors [][]float32, k int, metric distance.Metric) [][]float32 {
	n := len(vectors)
	centroids := make([][]float32, 0, k)
	centroids = append(centroids, cloneVec(vectors[rng.Intn(n)]))

	weights := make([]float64, n)
	for len(centroids) < k {
		var total float64
		for i, v := range vectors {
			best := math.MaxFloat64
			for _, c := range centroids {
				d := float64(distance.Calculate(v, c, metric))
				if d < best {
					best = d
				}
			}
			w := best * best
			weights[i] = w
			total += w
		}

		if total <= 0 {
			// Every point coincides with an existing centroid; fall back
			// to a uniform draw so the loop still terminates.
			centroids = append(centroids, cloneVec(vectors[rng.Intn(n)]))
			continue
		}

		target := rng.Float64() * total
		var cum float64
		chosen := n - 1
		for i, w := range weights {
			cum += w
			if cum >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, cloneVec(vectors[chosen]))
	}
	return centroids
}
