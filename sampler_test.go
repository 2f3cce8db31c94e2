package cmaes

import "testing"

func newTestOptimizer(n int, seed uint64) *Optimizer {
	p := NewParams(n, make([]float64, n), 1)
	p.Seed = seed
	return NewOptimizer(p)
}

func TestSamplePopulationShapeAndState(t *testing.T) {
	o := newTestOptimizer(5, 1)
	if o.State() != Initialized {
		t.Fatalf("state = %v, want Initialized", o.State())
	}
	pop := o.SamplePopulation()
	if len(pop) != o.Lambda() {
		t.Fatalf("len(population) = %d, want %d", len(pop), o.Lambda())
	}
	for _, row := range pop {
		if len(row) != o.Dimension() {
			t.Fatalf("offspring length = %d, want %d", len(row), o.Dimension())
		}
	}
	if o.State() != Sampled {
		t.Fatalf("state = %v, want Sampled", o.State())
	}
	if o.Generation() != 1 {
		t.Fatalf("generation = %d, want 1", o.Generation())
	}
}

func TestResampleSingleReplacesOnlyOneOffspring(t *testing.T) {
	o := newTestOptimizer(4, 2)
	pop := o.SamplePopulation()
	before := append([]float64(nil), pop[2]...)
	snapshot := make([][]float64, len(pop))
	for k, row := range pop {
		snapshot[k] = append([]float64(nil), row...)
	}

	o.ResampleSingle(2)
	after := pop[2]
	identical := true
	for i := range before {
		if before[i] != after[i] {
			identical = false
		}
	}
	if identical {
		t.Fatal("ResampleSingle did not change the targeted offspring (vanishingly unlikely unless broken)")
	}
	for k, row := range pop {
		if k == 2 {
			continue
		}
		if !floatsEqual(row, snapshot[k]) {
			t.Fatalf("offspring %d corrupted by ResampleSingle", k)
		}
	}
}

func TestResampleSingleOutOfRangePanics(t *testing.T) {
	o := newTestOptimizer(3, 3)
	o.SamplePopulation()
	defer func() {
		if recover() == nil {
			t.Fatal("expected ResampleSingle to panic for an out-of-range index")
		}
	}()
	o.ResampleSingle(o.Lambda())
}

func TestResampleSingleBeforeSamplePanics(t *testing.T) {
	o := newTestOptimizer(3, 4)
	defer func() {
		if recover() == nil {
			t.Fatal("expected ResampleSingle to panic before any SamplePopulation call")
		}
	}()
	o.ResampleSingle(0)
}

func TestPerturbReturnsRequestedLength(t *testing.T) {
	o := newTestOptimizer(6, 5)
	out := o.Perturb(nil, 0.1)
	if len(out) != o.Dimension() {
		t.Fatalf("len(Perturb(...)) = %d, want %d", len(out), o.Dimension())
	}
	backing := make([]float64, o.Dimension())
	out2 := o.Perturb(backing[:0], 0.1)
	if &out2[0] != &backing[0] {
		t.Fatal("Perturb did not reuse the provided backing array")
	}
}

func TestDiagonalSamplingMatchesElementwiseFormula(t *testing.T) {
	n := 4
	p := NewParams(n, make([]float64, n), 1)
	p.Seed = 8
	p.DiagonalCov = 1
	o := NewOptimizer(p)
	r := newRandSource(p.Seed)

	pop := o.SamplePopulation()
	row := pop[0]
	for i := 0; i < n; i++ {
		want := o.xmean[i] + o.Sigma()*o.rgD[i]*r.gauss()
		if row[i] != want {
			t.Fatalf("offspring coordinate %d = %v, want xmean+sigma*rgD*z = %v", i, row[i], want)
		}
	}
}
