package cmaes

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// TestForTermination evaluates the full termination battery against the
// Optimizer's current state and the fitness values from the most recent
// UpdateDistribution call. It returns true if at least one condition
// fires; GetStopMessage then reports which. TestForTermination may be
// called at any time after the first UpdateDistribution; calling it
// before that point simply finds nothing to report.
func (o *Optimizer) TestForTermination() bool {
	o.stopReasons = o.stopReasons[:0]
	n := o.p.N

	if o.countevals == 0 {
		return false
	}

	best := o.functionValues[o.index[0]]

	if o.p.StopFitness != nil && best <= *o.p.StopFitness {
		o.stopReasons = append(o.stopReasons, "Fitness")
	}

	recentLo, recentHi := best, best
	for _, k := range o.index {
		v := o.functionValues[k]
		if v < recentLo {
			recentLo = v
		}
		if v > recentHi {
			recentHi = v
		}
	}
	histLo, _ := floats.Min(o.funcValueHistory[:o.historyFilled])
	histHi, _ := floats.Max(o.funcValueHistory[:o.historyFilled])
	tolFunLo, tolFunHi := math.Min(recentLo, histLo), math.Max(recentHi, histHi)
	if tolFunHi-tolFunLo < o.p.StopTolFun {
		o.stopReasons = append(o.stopReasons, "TolFun")
	}

	if o.historyFilled >= len(o.funcValueHistory) && histHi-histLo < o.p.StopTolFunHist {
		o.stopReasons = append(o.stopReasons, "TolFunHist")
	}

	tolX := true
	tolUpX := false
	for i := 0; i < n; i++ {
		sd := o.sigma * math.Sqrt(o.C.At(i, i))
		if sd >= o.p.StopTolX || o.sigma*o.pc[i] >= o.p.StopTolX {
			tolX = false
		}
		if sd > o.p.StopTolUpXFactor*o.p.InitialStdDevs[i] {
			tolUpX = true
		}
	}
	if tolX {
		o.stopReasons = append(o.stopReasons, "TolX")
	}
	if tolUpX {
		o.stopReasons = append(o.stopReasons, "TolUpX")
	}

	if o.maxEW >= o.minEW*o.r.dMaxSignifKond {
		o.stopReasons = append(o.stopReasons, "ConditionNumber")
	}

	if !o.diagonalActive() {
		for axis := 0; axis < n; axis++ {
			fac := 0.1 * o.sigma * o.rgD[axis]
			noEffect := true
			for i := 0; i < n; i++ {
				if o.xmean[i] != o.xmean[i]+fac*o.B.At(i, axis) {
					noEffect = false
					break
				}
			}
			if noEffect {
				o.stopReasons = append(o.stopReasons, "NoEffectAxis")
				break
			}
		}
	}

	for i := 0; i < n; i++ {
		if o.xmean[i]+0.2*o.sigma*math.Sqrt(o.C.At(i, i)) == o.xmean[i] {
			o.stopReasons = append(o.stopReasons, "NoEffectCoordinate")
			break
		}
	}

	if o.p.StopMaxFunEvals > 0 && o.countevals >= o.p.StopMaxFunEvals {
		o.stopReasons = append(o.stopReasons, "MaxFunEvals")
	}
	if o.p.StopMaxIter > 0 && o.gen >= o.p.StopMaxIter {
		o.stopReasons = append(o.stopReasons, "MaxIter")
	}

	return len(o.stopReasons) > 0
}

// GetStopMessage returns the semicolon-joined list of termination
// reasons from the most recent TestForTermination call, or the empty
// string if none fired (or TestForTermination has not been called).
func (o *Optimizer) GetStopMessage() string {
	return strings.Join(o.stopReasons, "; ")
}
