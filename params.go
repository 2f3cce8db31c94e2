package cmaes

import (
	"log"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	nonpositiveDimension   = "cmaes: non-positive dimension"
	invalidPopulationSize  = "cmaes: lambda must be at least 2"
	invalidParentCount     = "cmaes: mu must satisfy 1 <= mu <= lambda/2"
	mismatchedVectorLength = "cmaes: vector length does not match dimension"
	nonpositiveWeight      = "cmaes: recombination weights must be strictly positive"
)

// Params bundles the immutable configuration of an Optimizer. It is
// populated by the caller (directly, or via NewParams for sane defaults)
// and never mutated after NewOptimizer runs.
type Params struct {
	// N is the search-space dimension.
	N int
	// Lambda is the number of offspring sampled per generation.
	Lambda int
	// Mu is the number of parents used for recombination. Zero selects the
	// canonical default of floor(Lambda/2).
	Mu int
	// Weights are the recombination weights for the Mu selected parents, in
	// non-increasing order, strictly positive, summing to 1. Nil selects
	// the canonical log-scale default.
	Weights []float64

	// XStart is the initial mean. Must have length N.
	XStart []float64
	// InitialStdDevs is the initial per-coordinate standard deviation.
	// Must have length N.
	InitialStdDevs []float64
	// TypicalX, when true, treats XStart as a typical value and perturbs
	// the initial mean by InitialStdDevs rather than starting exactly at
	// XStart.
	TypicalX bool

	// DiagonalCov, when 1, forces a diagonal covariance matrix for the
	// life of the run. When greater than 1, it is the number of
	// generations during which the covariance is held diagonal before
	// switching to the full matrix. Zero behaves as "never diagonal".
	DiagonalCov int

	// StopTolFun, StopTolFunHist, StopTolX, StopTolUpXFactor, StopMaxFunEvals
	// and StopMaxIter parameterize the termination battery in
	// TestForTermination. StopFitness is optional; nil disables the
	// fitness-threshold test.
	StopTolFun       float64
	StopTolFunHist   float64
	StopTolX         float64
	StopTolUpXFactor float64
	StopMaxFunEvals  int64
	StopMaxIter      int64
	StopFitness      *float64

	// EigenUpdateModulo is the minimum number of generations between
	// full eigendecompositions of C.
	EigenUpdateModulo int64

	// DiffMinChange is an optional per-coordinate floor on the resolvable
	// deviation sigma*sqrt(C_ii). Nil disables the check.
	DiffMinChange []float64

	// Seed initializes the Optimizer's random source. Two Optimizers
	// constructed with identical Params (including Seed) and fed
	// identical fitness streams produce bitwise-identical trajectories.
	Seed uint64

	// Logger receives numerical warnings (flat-fitness inflation,
	// eigendecomposition accuracy). A nil Logger silently drops them.
	Logger *log.Logger

	// CheckEigen enables an O(N^3) post-decomposition diagnostic that
	// reconstructs C from B and rgD and logs any entry exceeding the
	// expected tolerance. Off by default; meant for debugging a
	// suspect eigensolver, not routine use.
	CheckEigen bool
}

// NewParams returns a Params with the canonical CMA-ES defaults for a
// search space of dimension n, an initial mean of xstart, and an initial
// per-coordinate standard deviation of initialStdDev. Fields may be
// overridden before passing the result to NewOptimizer.
func NewParams(n int, xstart []float64, initialStdDev float64) *Params {
	if n <= 0 {
		panic(nonpositiveDimension)
	}
	lambda := 4 + int(3*math.Log(float64(n)))
	stds := make([]float64, n)
	for i := range stds {
		stds[i] = initialStdDev
	}
	return &Params{
		N:                 n,
		Lambda:            lambda,
		XStart:            append([]float64(nil), xstart...),
		InitialStdDevs:    stds,
		StopTolFun:        1e-12,
		StopTolFunHist:    1e-13,
		StopTolX:          1e-11 * initialStdDev,
		StopTolUpXFactor:  1e3,
		StopMaxFunEvals:   int64(900 * (n + 3) * (n + 3)),
		StopMaxIter:       int64(100 + 50*(n+3)*(n+3)/int(math.Sqrt(float64(lambda)))),
		EigenUpdateModulo: 1,
	}
}

// rates holds the adaptation rates derived from N and muEff. They are
// computed once in NewOptimizer and never change afterward.
type rates struct {
	weights                         []float64
	muEff                           float64
	cs, cCumCov, cCov, muCov, damps float64
	chiN                            float64
	dMaxSignifKond                  float64
}

// deriveRates validates p and computes the derived adaptation rates per
// the canonical CMA-ES formulas (Hansen, "The CMA Evolution Strategy: A
// Tutorial").
func deriveRates(p *Params) rates {
	if p.N <= 0 {
		panic(nonpositiveDimension)
	}
	if p.Lambda < 2 {
		panic(invalidPopulationSize)
	}
	n := float64(p.N)

	mu := p.Mu
	if mu == 0 {
		mu = p.Lambda / 2
	}
	if mu < 1 || mu > p.Lambda/2 {
		panic(invalidParentCount)
	}

	weights := make([]float64, mu)
	if p.Weights != nil {
		if len(p.Weights) != mu {
			panic(mismatchedVectorLength)
		}
		copy(weights, p.Weights)
	} else {
		for i := range weights {
			weights[i] = math.Log(float64(mu)+0.5) - math.Log(float64(i)+1)
		}
	}
	for _, w := range weights {
		if w <= 0 {
			panic(nonpositiveWeight)
		}
	}
	floats.Scale(1/floats.Sum(weights), weights)

	muEff := 0.0
	for _, w := range weights {
		muEff += w * w
	}
	muEff = 1 / muEff

	cs := (muEff + 2) / (n + muEff + 3)
	damps := 1 + 2*math.Max(0, math.Sqrt((muEff-1)/(n+1))-1) + cs
	cCumCov := (4 + muEff/n) / (n + 4 + 2*muEff/n)

	muCov := muEff
	cCov := (1/muCov)*2/((n+1.3)*(n+1.3)+muEff) +
		(1-1/muCov)*math.Min(1, (2*muEff-1)/((n+2)*(n+2)+muEff))

	chiN := math.Sqrt(n) * (1 - 1/(4*n) + 1/(21*n*n))

	return rates{
		weights:        weights,
		muEff:          muEff,
		cs:             cs,
		cCumCov:        cCumCov,
		cCov:           cCov,
		muCov:          muCov,
		damps:          damps,
		chiN:           chiN,
		dMaxSignifKond: maxSignificantCondition(),
	}
}

// maxSignificantCondition finds, by repeated halving, the smallest power
// of two delta for which 1+delta still differs from 1 at the working
// precision (2^-52 for float64; half of it rounds 1+delta/2 to 1), then
// scales it into the condition-number threshold 1/(1000*delta) used by
// the ConditionNumber termination test.
func maxSignificantCondition() float64 {
	delta := 1.0
	for 1+delta/2 != 1 {
		delta /= 2
	}
	return 1 / delta / 1000
}
