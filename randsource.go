package cmaes

import (
	"math"

	"golang.org/x/exp/rand"
)

// randSource is a seeded, single-stream pseudo-random generator producing
// uniform deviates on [0,1) and standard normal deviates. It is not
// goroutine-safe; the Optimizer that owns one is itself single-threaded.
//
// Gaussian deviates are generated in pairs by the polar (Marsaglia) method
// and cached between calls, mirroring the historical CMA-ES source this
// package ports: golang.org/x/exp/rand.Rand.NormFloat64 does not expose the
// cached-pair behavior the reference algorithm relies on for its call
// count and determinism contract, so the generator is hand-rolled on top
// of the package's uniform stream.
type randSource struct {
	rng *rand.Rand

	haveCached bool
	cached     float64
}

// newRandSource seeds a randSource deterministically from seed.
func newRandSource(seed uint64) *randSource {
	return &randSource{rng: rand.New(rand.NewSource(seed))}
}

// uniform returns a deviate in [0,1).
func (r *randSource) uniform() float64 {
	return r.rng.Float64()
}

// gauss returns a standard normal deviate via the polar method, caching
// the second deviate of each generated pair for the following call.
func (r *randSource) gauss() float64 {
	if r.haveCached {
		r.haveCached = false
		return r.cached
	}
	var u, v, s float64
	for {
		u = 2*r.uniform() - 1
		v = 2*r.uniform() - 1
		s = u*u + v*v
		if s > 0 && s < 1 {
			break
		}
	}
	factor := math.Sqrt(-2 * math.Log(s) / s)
	r.cached = v * factor
	r.haveCached = true
	return u * factor
}
