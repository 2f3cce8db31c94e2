package cmaes

import (
	"bytes"
	"log"
	"math"
	"strings"
	"testing"
)

func sphere(x []float64) float64 {
	s := 0.0
	for _, v := range x {
		s += v * v
	}
	return s
}

func rosenbrock(x []float64) float64 {
	s := 0.0
	for i := 0; i < len(x)-1; i++ {
		d1 := x[i+1] - x[i]*x[i]
		d2 := 1 - x[i]
		s += 100*d1*d1 + d2*d2
	}
	return s
}

func rastrigin(x []float64) float64 {
	s := 10 * float64(len(x))
	for _, v := range x {
		s += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return s
}

func runUntilTermination(o *Optimizer, f func([]float64) float64, maxGen int) {
	fit := make([]float64, o.Lambda())
	for gen := 0; gen < maxGen; gen++ {
		pop := o.SamplePopulation()
		for k, row := range pop {
			fit[k] = f(row)
		}
		o.UpdateDistribution(fit)
		if o.TestForTermination() {
			return
		}
	}
}

func TestSphereConverges(t *testing.T) {
	n := 10
	xstart := make([]float64, n)
	for i := range xstart {
		xstart[i] = 1
	}
	p := NewParams(n, xstart, 1)
	p.Lambda = 10
	p.Mu = 5
	p.Seed = 1
	p.StopMaxIter = 0
	o := NewOptimizer(p)

	runUntilTermination(o, sphere, 500)

	_, f, _ := o.BestEver()
	if f >= 1e-10 {
		t.Fatalf("sphere did not converge: best fitness = %v after %d generations", f, o.Generation())
	}
}

func TestRosenbrockConverges(t *testing.T) {
	n := 5
	p := NewParams(n, make([]float64, n), 0.5)
	p.Seed = 2
	p.StopMaxIter = 0
	o := NewOptimizer(p)

	runUntilTermination(o, rosenbrock, 5000)

	x, _, _ := o.BestEver()
	dist := 0.0
	for _, xi := range x {
		dist += (xi - 1) * (xi - 1)
	}
	dist = math.Sqrt(dist)
	if dist >= 1e-4 {
		t.Fatalf("rosenbrock did not converge: ||xBestEver - 1|| = %v after %d generations", dist, o.Generation())
	}
}

func TestRastriginReachesLowFitnessOrMaxIter(t *testing.T) {
	n := 20
	passes := 0
	const trials = 5
	for trial := 0; trial < trials; trial++ {
		xstart := make([]float64, n)
		r := newRandSource(uint64(100 + trial))
		for i := range xstart {
			xstart[i] = 4 * (r.uniform() - 0.5)
		}
		p := NewParams(n, xstart, 3)
		p.Seed = uint64(100 + trial)
		p.StopMaxIter = 4000
		o := NewOptimizer(p)

		runUntilTermination(o, rastrigin, int(p.StopMaxIter))

		_, f, _ := o.BestEver()
		if f < 1 || strings.Contains(o.GetStopMessage(), "MaxIter") {
			passes++
		}
	}
	if passes < trials/2 {
		t.Fatalf("rastrigin passed only %d/%d trials", passes, trials)
	}
}

func TestFlatFitnessInflatesSigma(t *testing.T) {
	n, lambda := 4, 8
	var buf bytes.Buffer
	p := NewParams(n, make([]float64, n), 1)
	p.Lambda = lambda
	p.Seed = 5
	p.Logger = log.New(&buf, "", 0)
	o := NewOptimizer(p)

	sigma0 := o.Sigma()
	fit := make([]float64, lambda)
	for i := range fit {
		fit[i] = 7
	}
	for gen := 0; gen < 10; gen++ {
		o.SamplePopulation()
		o.UpdateDistribution(fit)
	}

	growth := o.Sigma() / sigma0
	if growth < math.Exp(10*0.2) {
		t.Fatalf("sigma grew by factor %v over 10 flat generations, want at least exp(2)", growth)
	}
	if buf.Len() == 0 {
		t.Fatal("expected a warning to be logged for flat fitness")
	}
}

func TestDiagonalModeKeepsOffDiagonalZero(t *testing.T) {
	n := 50
	xstart := make([]float64, n)
	for i := range xstart {
		xstart[i] = 1
	}
	p := NewParams(n, xstart, 1)
	p.Seed = 9
	p.DiagonalCov = 1
	o := NewOptimizer(p)

	fit := make([]float64, o.Lambda())
	for gen := 0; gen < 200; gen++ {
		pop := o.SamplePopulation()
		for k, row := range pop {
			fit[k] = sphere(row)
		}
		o.UpdateDistribution(fit)
		for i := 0; i < n; i++ {
			for j := 0; j < i; j++ {
				if o.C.At(i, j) != 0 {
					t.Fatalf("C[%d][%d] = %v at generation %d, want exactly 0 in diagonal mode", i, j, o.C.At(i, j), gen)
				}
			}
		}
	}
	_, f, _ := o.BestEver()
	if f >= 1 {
		t.Fatalf("diagonal-mode sphere did not make progress: best fitness = %v", f)
	}
}

func TestTolXTermination(t *testing.T) {
	n := 3
	p := NewParams(n, make([]float64, n), 1)
	p.Seed = 11
	p.StopTolX = 1e-15
	// The default TolFun/TolFunHist thresholds fire once fitness values are
	// around 1e-12, long before sigma*sqrt(C_ii) drops below 1e-15.
	p.StopTolFun = 0
	p.StopTolFunHist = 0
	o := NewOptimizer(p)

	runUntilTermination(o, sphere, 2000)

	if !strings.Contains(o.GetStopMessage(), "TolX") {
		t.Fatalf("stop message = %q, want it to contain TolX", o.GetStopMessage())
	}
}

func TestDeterministicReplay(t *testing.T) {
	n := 6
	newRun := func() *Optimizer {
		p := NewParams(n, make([]float64, n), 1)
		p.Seed = 123
		return NewOptimizer(p)
	}
	a, b := newRun(), newRun()
	fit := make([]float64, a.Lambda())
	for gen := 0; gen < 30; gen++ {
		popA := a.SamplePopulation()
		popB := b.SamplePopulation()
		for k := range fit {
			fit[k] = sphere(popA[k])
			if !floatsEqual(popA[k], popB[k]) {
				t.Fatalf("generation %d offspring %d diverged between identically seeded runs", gen, k)
			}
		}
		a.UpdateDistribution(fit)
		b.UpdateDistribution(fit)
	}
	xa, fa, _ := a.BestEver()
	xb, fb, _ := b.BestEver()
	if fa != fb || !floatsEqual(xa, xb) {
		t.Fatal("identically seeded runs produced different best-ever results")
	}
}

func TestBestEverIsMonotone(t *testing.T) {
	n := 8
	p := NewParams(n, make([]float64, n), 1)
	p.Seed = 17
	o := NewOptimizer(p)

	fit := make([]float64, o.Lambda())
	best := math.Inf(1)
	for gen := 0; gen < 100; gen++ {
		pop := o.SamplePopulation()
		for k, row := range pop {
			fit[k] = sphere(row)
		}
		o.UpdateDistribution(fit)
		_, f, _ := o.BestEver()
		if f > best {
			t.Fatalf("generation %d: best-ever fitness regressed from %v to %v", gen, best, f)
		}
		best = f
	}
}

func TestSampledStateRejectsSetMean(t *testing.T) {
	n := 3
	p := NewParams(n, make([]float64, n), 1)
	p.Seed = 1
	o := NewOptimizer(p)
	o.SamplePopulation()

	defer func() {
		if recover() == nil {
			t.Fatal("expected SetMean to panic while a population is Sampled")
		}
	}()
	o.SetMean(make([]float64, n))
}

func TestUpdateDistributionRequiresSample(t *testing.T) {
	n := 3
	p := NewParams(n, make([]float64, n), 1)
	p.Seed = 1
	o := NewOptimizer(p)

	defer func() {
		if recover() == nil {
			t.Fatal("expected UpdateDistribution to panic without a preceding SamplePopulation")
		}
	}()
	o.UpdateDistribution(make([]float64, o.Lambda()))
}

func floatsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
