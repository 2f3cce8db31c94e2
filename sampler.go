package cmaes

import "math"

// maxDiffMinChangeIterations bounds the sigma-inflation loop in
// presampleMaintenance. The loop grows sigma geometrically, so in
// practice it exits in one or two passes; the bound only guards against
// a pathological DiffMinChange configuration that could never be
// satisfied.
const maxDiffMinChangeIterations = 1000

// presampleMaintenance refreshes the eigensystem (lazily, subject to
// EigenUpdateModulo in full mode) and then enforces the per-coordinate
// minimum-resolvable-deviation floor, inflating sigma until every
// coordinate's sigma*sqrt(C_ii) clears DiffMinChange.
func (o *Optimizer) presampleMaintenance() {
	o.updateEigensystem(false)
	if o.p.DiffMinChange == nil {
		return
	}
	for iter := 0; iter < maxDiffMinChangeIterations; iter++ {
		violated := false
		for i := 0; i < o.p.N; i++ {
			if o.sigma*math.Sqrt(o.C.At(i, i)) < o.p.DiffMinChange[i] {
				violated = true
				break
			}
		}
		if !violated {
			return
		}
		o.sigma *= math.Exp(0.05 + o.r.cs/o.r.damps)
	}
}

// drawOffspring fills population[k] with a fresh draw from N(xmean,
// sigma^2 C), using the cheaper elementwise formula in diagonal mode and
// the full B*(rgD⊙z) transform otherwise.
func (o *Optimizer) drawOffspring(k int, diag bool) {
	row := o.population[k]
	for i := range o.z {
		o.z[i] = o.rng.gauss()
	}
	if diag {
		for i := range row {
			row[i] = o.xmean[i] + o.sigma*o.rgD[i]*o.z[i]
		}
		return
	}
	for i := range o.BDz {
		o.BDz[i] = o.rgD[i] * o.z[i]
	}
	for i := 0; i < o.p.N; i++ {
		sum := 0.0
		for j := 0; j < o.p.N; j++ {
			sum += o.B.At(i, j) * o.BDz[j]
		}
		row[i] = o.xmean[i] + o.sigma*sum
	}
}

// SamplePopulation draws Lambda offspring from the current sampling
// distribution and returns them as borrowed rows, valid until the next
// SamplePopulation, ResampleSingle, or UpdateDistribution call that
// touches them. It advances the generation counter and transitions the
// Optimizer into the Sampled state.
func (o *Optimizer) SamplePopulation() [][]float64 {
	o.presampleMaintenance()
	diag := o.diagonalActive()
	for k := 0; k < o.p.Lambda; k++ {
		o.drawOffspring(k, diag)
	}
	o.gen++
	o.state = Sampled
	return o.population
}

// ResampleSingle redraws offspring k in place, discarding its previous
// value. It is meant for callers enforcing feasibility constraints CMA-ES
// itself knows nothing about. ResampleSingle panics if k is out of
// range or if no population has been sampled yet.
func (o *Optimizer) ResampleSingle(k int) []float64 {
	if o.state == Initialized {
		panic(notSampledYet)
	}
	if k < 0 || k >= o.p.Lambda {
		panic(offspringIndexOOR)
	}
	o.drawOffspring(k, o.diagonalActive())
	return o.population[k]
}

// Perturb fills out with xmean + eps*sigma*B*(rgD⊙z) for a fresh draw z,
// independent of the current population. It is intended for sensitivity
// or uncertainty probes around the current mean rather than for
// evolving the search itself, so it does not consume an evaluation or
// touch any adaptation state. out is resized if necessary.
func (o *Optimizer) Perturb(out []float64, eps float64) []float64 {
	out = resizeFloats(out, o.p.N)
	for i := range o.z {
		o.z[i] = o.rng.gauss()
	}
	for i := 0; i < o.p.N; i++ {
		sum := 0.0
		for j := 0; j < o.p.N; j++ {
			sum += o.B.At(i, j) * (o.rgD[j] * o.z[j])
		}
		out[i] = o.xmean[i] + eps*o.sigma*sum
	}
	return out
}
