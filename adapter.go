package cmaes

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	notSampledYet      = "cmaes: UpdateDistribution called without a preceding SamplePopulation"
	sampledAlready     = "cmaes: SetMean is not permitted between SamplePopulation and UpdateDistribution"
	fitnessLenMismatch = "cmaes: fitness slice length must equal Lambda"
	offspringIndexOOR  = "cmaes: offspring index out of range"
)

// Optimizer is a single CMA-ES run. It owns every vector and matrix
// describing the sampling distribution and its adaptation history; the
// caller only ever supplies fitness values and reads back borrowed views.
//
// An Optimizer is not safe for concurrent use: the adaptation loop is
// strictly single-threaded cooperative, matching the original algorithm
// this package ports.
type Optimizer struct {
	p   *Params
	r   rates
	rng *randSource
	eig *eigenSolver

	sigma               float64
	gen                 int64
	countevals          int64
	minEW, maxEW        float64
	maxdiagC, mindiagC  float64
	eigensysIsUptodate  bool
	genOfEigensysUpdate int64
	state               State
	stopReasons         []string

	xmean, xold []float64
	pc, ps      []float64
	rgD         []float64
	BDz         []float64
	z           []float64   // scratch: standard normal draw / solved coordinates
	yk          [][]float64 // scratch: selected[k]-xold, one row per parent

	bestEverX     []float64
	bestEverF     float64
	bestEverEvals int64

	C *mat.SymDense
	B *mat.Dense

	population       [][]float64
	functionValues   []float64
	funcValueHistory []float64
	historyFilled    int
	index            []int
}

// NewOptimizer validates p, derives the adaptation rates, and returns an
// Optimizer in the Initialized state. p is copied by reference and must
// not be mutated afterward.
func NewOptimizer(p *Params) *Optimizer {
	if len(p.XStart) != p.N || len(p.InitialStdDevs) != p.N {
		panic(mismatchedVectorLength)
	}
	r := deriveRates(p)

	n := p.N
	o := &Optimizer{
		p:   p,
		r:   r,
		rng: newRandSource(p.Seed),
		eig: newEigenSolver(n),

		xmean: make([]float64, n),
		xold:  make([]float64, n),
		pc:    make([]float64, n),
		ps:    make([]float64, n),
		rgD:   make([]float64, n),
		BDz:   make([]float64, n),
		z:     make([]float64, n),

		bestEverX: make([]float64, n),
		bestEverF: math.Inf(1),

		C: mat.NewSymDense(n, nil),
		B: mat.NewDense(n, n, nil),

		population:     make([][]float64, p.Lambda),
		functionValues: make([]float64, p.Lambda),
		index:          make([]int, p.Lambda),
	}
	for k := range o.population {
		o.population[k] = make([]float64, n)
	}
	o.yk = make([][]float64, len(r.weights))
	for k := range o.yk {
		o.yk[k] = make([]float64, n)
	}

	h := 10 + int(math.Ceil(30*float64(n)/float64(p.Lambda)))
	o.funcValueHistory = make([]float64, h)

	trace := 0.0
	for _, s := range p.InitialStdDevs {
		trace += s * s
	}
	o.sigma = math.Sqrt(trace / float64(n))
	for i := 0; i < n; i++ {
		o.B.Set(i, i, 1)
		o.rgD[i] = p.InitialStdDevs[i] * math.Sqrt(float64(n)/trace)
		o.C.SetSym(i, i, p.InitialStdDevs[i]*p.InitialStdDevs[i]*float64(n)/trace)
	}
	o.refreshDiagCBounds()
	o.refreshEigenvalueBounds()
	o.eigensysIsUptodate = true

	for i := 0; i < n; i++ {
		if p.TypicalX {
			o.xmean[i] = p.XStart[i] + p.InitialStdDevs[i]*o.rng.gauss()
		} else {
			o.xmean[i] = p.XStart[i]
		}
	}
	copy(o.xold, o.xmean)

	o.state = Initialized
	return o
}

func (o *Optimizer) diagonalActive() bool {
	dc := o.p.DiagonalCov
	return dc == 1 || (dc > 1 && o.gen < int64(dc))
}

func (o *Optimizer) warnf(format string, args ...interface{}) {
	if o.p.Logger != nil {
		o.p.Logger.Printf(format, args...)
	}
}

// updateEigensystem recomputes B and rgD from C. It runs unconditionally
// when force is true; otherwise it only acts when the eigensystem is
// stale and, for full (non-diagonal) mode, at least EigenUpdateModulo
// generations have elapsed since the last refresh.
func (o *Optimizer) updateEigensystem(force bool) {
	if !force {
		if o.eigensysIsUptodate {
			return
		}
		if !o.diagonalActive() && o.gen < o.genOfEigensysUpdate+o.p.EigenUpdateModulo {
			return
		}
	}
	if o.diagonalActive() {
		for i := 0; i < o.p.N; i++ {
			o.rgD[i] = math.Sqrt(o.C.At(i, i))
		}
	} else {
		o.eig.decompose(o.C, o.B, o.rgD)
		if o.p.CheckEigen {
			o.eig.checkEigen(o.C, o.B, o.rgD, o.warnf)
		}
		for i, ev := range o.rgD {
			o.rgD[i] = math.Sqrt(math.Max(ev, 0))
		}
	}
	o.refreshEigenvalueBounds()
	o.genOfEigensysUpdate = o.gen
	o.eigensysIsUptodate = true
}

func (o *Optimizer) refreshEigenvalueBounds() {
	o.minEW, o.maxEW = math.Inf(1), 0
	for _, d := range o.rgD {
		ev := d * d
		if ev < o.minEW {
			o.minEW = ev
		}
		if ev > o.maxEW {
			o.maxEW = ev
		}
	}
}

func (o *Optimizer) refreshDiagCBounds() {
	o.mindiagC, o.maxdiagC = math.Inf(1), 0
	for i := 0; i < o.p.N; i++ {
		c := o.C.At(i, i)
		if c < o.mindiagC {
			o.mindiagC = c
		}
		if c > o.maxdiagC {
			o.maxdiagC = c
		}
	}
}

// UpdateDistribution consumes the fitness of the last sampled population,
// advancing the mean, evolution paths, covariance matrix, and step size.
// It returns the new mean (a borrowed slice, valid until the next call
// that mutates it). UpdateDistribution panics if called without a
// preceding SamplePopulation.
func (o *Optimizer) UpdateDistribution(fitness []float64) []float64 {
	if o.state != Sampled {
		panic(notSampledYet)
	}
	if len(fitness) != o.p.Lambda {
		panic(fitnessLenMismatch)
	}
	o.countevals += int64(o.p.Lambda)
	copy(o.functionValues, fitness)

	o.rankByFitness()

	if fitness[o.index[0]] == fitness[o.index[o.p.Lambda/2]] {
		o.sigma *= math.Exp(0.2 + o.r.cs/o.r.damps)
		o.warnf("cmaes: flat fitness detected at generation %d, inflating sigma to %g", o.gen, o.sigma)
	}

	copy(o.funcValueHistory[1:], o.funcValueHistory[:len(o.funcValueHistory)-1])
	o.funcValueHistory[0] = fitness[o.index[0]]
	if o.historyFilled < len(o.funcValueHistory) {
		o.historyFilled++
	}

	if o.gen == 1 || fitness[o.index[0]] < o.bestEverF {
		copy(o.bestEverX, o.population[o.index[0]])
		o.bestEverF = fitness[o.index[0]]
		o.bestEverEvals = o.countevals
	}

	o.recombineMean()
	hsig := o.cumulatePaths()
	o.updateCovariance(hsig)

	normPs := floats.Norm(o.ps, 2)
	o.sigma *= math.Exp((normPs/o.r.chiN - 1) * o.r.cs / o.r.damps)

	o.state = Updated
	return o.xmean
}

func (o *Optimizer) rankByFitness() {
	for i := range o.index {
		o.index[i] = i
	}
	fitness := o.functionValues
	idx := o.index
	// insertion sort: lambda is small, and stable enough that ties keep
	// their original relative order.
	for i := 1; i < len(idx); i++ {
		k := idx[i]
		fk := fitness[k]
		j := i - 1
		for j >= 0 && fitness[idx[j]] > fk {
			idx[j+1] = idx[j]
			j--
		}
		idx[j+1] = k
	}
}

func (o *Optimizer) recombineMean() {
	copy(o.xold, o.xmean)
	for i := range o.xmean {
		o.xmean[i] = 0
	}
	for j, w := range o.r.weights {
		floats.AddScaled(o.xmean, w, o.population[o.index[j]])
	}
	scale := math.Sqrt(o.r.muEff) / o.sigma
	for i := range o.BDz {
		o.BDz[i] = scale * (o.xmean[i] - o.xold[i])
	}
}

// cumulatePaths solves z = D^-1 B^T BDz, advances the isotropic path ps,
// computes the Heaviside indicator hsig, and advances the anisotropic
// path pc. It returns hsig as 1.0/0.0 for use in the covariance update.
func (o *Optimizer) cumulatePaths() float64 {
	n := o.p.N
	diag := o.diagonalActive()
	if diag {
		for i := 0; i < n; i++ {
			o.z[i] = o.BDz[i] / o.rgD[i]
		}
	} else {
		for i := 0; i < n; i++ {
			sum := 0.0
			for k := 0; k < n; k++ {
				sum += o.B.At(k, i) * o.BDz[k]
			}
			o.z[i] = sum / o.rgD[i]
		}
	}

	psScale := math.Sqrt(o.r.cs * (2 - o.r.cs))
	for i := 0; i < n; i++ {
		o.ps[i] *= 1 - o.r.cs
	}
	if diag {
		for i := 0; i < n; i++ {
			o.ps[i] += psScale * o.z[i]
		}
	} else {
		for i := 0; i < n; i++ {
			sum := 0.0
			for j := 0; j < n; j++ {
				sum += o.B.At(i, j) * o.z[j]
			}
			o.ps[i] += psScale * sum
		}
	}

	normPs := floats.Norm(o.ps, 2)
	threshold := (1.4 + 2/(float64(n)+1))
	lhs := normPs / math.Sqrt(1-math.Pow(1-o.r.cs, 2*float64(o.gen))) / o.r.chiN
	hsig := 0.0
	if lhs < threshold {
		hsig = 1.0
	}

	pcScale := hsig * math.Sqrt(o.r.cCumCov*(2-o.r.cCumCov))
	for i := 0; i < n; i++ {
		o.pc[i] = (1-o.r.cCumCov)*o.pc[i] + pcScale*o.BDz[i]
	}
	return hsig
}

// updateCovariance applies the rank-1 + rank-mu covariance update,
// folding the (1-hsig) minor-axis correction term in alongside the
// rank-1 contribution rather than as a separate term.
func (o *Optimizer) updateCovariance(hsig float64) {
	n := o.p.N
	diag := o.diagonalActive()

	for k, idx := range o.index[:len(o.r.weights)] {
		floats.SubTo(o.yk[k], o.population[idx], o.xold)
	}

	diagFactor := 1.0
	if diag {
		diagFactor = (float64(n) + 1.5) / 3
	}
	ccov1 := math.Min(o.r.cCov*diagFactor/o.r.muCov, 1)
	ccovmu := math.Min(o.r.cCov*diagFactor*(1-1/o.r.muCov), 1-ccov1)
	longFactor := (1 - hsig) * o.r.cCumCov * (2 - o.r.cCumCov)
	sigma2 := o.sigma * o.sigma

	for i := 0; i < n; i++ {
		jmin := i // diagonal mode only ever touches C[i][i]
		if !diag {
			jmin = 0
		}
		for j := jmin; j <= i; j++ {
			cij := o.C.At(i, j)
			rankMu := 0.0
			for k, w := range o.r.weights {
				rankMu += w * o.yk[k][i] * o.yk[k][j]
			}
			newCij := (1-ccov1-ccovmu)*cij + ccov1*(o.pc[i]*o.pc[j]+longFactor*cij) + (ccovmu/sigma2)*rankMu
			o.C.SetSym(i, j, newCij)
		}
	}
	o.refreshDiagCBounds()
	o.eigensysIsUptodate = false
}

// SetMean overwrites the sampling mean. It is an advanced escape hatch
// for callers that want to relocate the search outside the normal
// sample/update cycle; it does not touch sigma, C, or the evolution
// paths. SetMean panics if called while a population is sampled but not
// yet updated, or if newMean has the wrong length.
func (o *Optimizer) SetMean(newMean []float64) {
	if o.state == Sampled {
		panic(sampledAlready)
	}
	if len(newMean) != o.p.N {
		panic(mismatchedVectorLength)
	}
	copy(o.xmean, newMean)
}

// Dimension returns N.
func (o *Optimizer) Dimension() int { return o.p.N }

// Lambda returns the population size.
func (o *Optimizer) Lambda() int { return o.p.Lambda }

// Generation returns the current generation counter.
func (o *Optimizer) Generation() int64 { return o.gen }

// CountEvals returns the cumulative number of fitness evaluations
// consumed so far.
func (o *Optimizer) CountEvals() int64 { return o.countevals }

// Sigma returns the current global step size.
func (o *Optimizer) Sigma() float64 { return o.sigma }

// MinEigenvalue and MaxEigenvalue return the extremal eigenvalues of C as
// of the last eigendecomposition refresh.
func (o *Optimizer) MinEigenvalue() float64 { return o.minEW }
func (o *Optimizer) MaxEigenvalue() float64 { return o.maxEW }

// MinAxisLength and MaxAxisLength return sigma times the extremal axis
// lengths (sqrt eigenvalues) of the sampling ellipsoid.
func (o *Optimizer) MinAxisLength() float64 { return o.sigma * math.Sqrt(o.minEW) }
func (o *Optimizer) MaxAxisLength() float64 { return o.sigma * math.Sqrt(o.maxEW) }

// AxisRatio returns the condition number of the sampling ellipsoid.
func (o *Optimizer) AxisRatio() float64 { return math.Sqrt(o.maxEW / o.minEW) }

// DiagC writes the diagonal of C into dst, allocating if dst is nil, and
// returns it.
func (o *Optimizer) DiagC(dst []float64) []float64 {
	dst = resizeFloats(dst, o.p.N)
	for i := range dst {
		dst[i] = o.C.At(i, i)
	}
	return dst
}

// StdDev writes sigma*sqrt(diag(C)) into dst, allocating if dst is nil,
// and returns it.
func (o *Optimizer) StdDev(dst []float64) []float64 {
	dst = resizeFloats(dst, o.p.N)
	for i := range dst {
		dst[i] = o.sigma * math.Sqrt(o.C.At(i, i))
	}
	return dst
}

// BestEver returns a copy of the best candidate seen across all
// generations, its fitness, and the cumulative eval count at which it
// was discovered.
func (o *Optimizer) BestEver() (x []float64, f float64, evals int64) {
	return append([]float64(nil), o.bestEverX...), o.bestEverF, o.bestEverEvals
}

// Fitness returns the fitness of the best-ranked member of the most
// recently updated population, as distinct from BestEver's all-time
// record.
func (o *Optimizer) Fitness() float64 {
	return o.functionValues[o.index[0]]
}

// XBest returns a copy of the best-ranked member of the most recently
// updated population, as distinct from BestEver's all-time record.
func (o *Optimizer) XBest() []float64 {
	return append([]float64(nil), o.population[o.index[0]]...)
}

// DiagonalD writes the current axis lengths (the square roots of C's
// eigenvalues, or of its diagonal in diagonal mode) into dst,
// allocating if dst is nil, and returns it.
func (o *Optimizer) DiagonalD(dst []float64) []float64 {
	dst = resizeFloats(dst, o.p.N)
	copy(dst, o.rgD)
	return dst
}

// State returns the current lifecycle state.
func (o *Optimizer) State() State { return o.state }

func resizeFloats(dst []float64, n int) []float64 {
	if cap(dst) < n {
		return make([]float64, n)
	}
	return dst[:n]
}
