package montage

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ParallelFactor caps the number of workers used by residual maps.
var ParallelFactor = runtime.GOMAXPROCS(0)

// parallelThreshold is the point count below which residuals are computed
// inline; goroutine overhead dominates for small montages.
const parallelThreshold = 512

// skipped marks a residual slot that does not take part in the reduction
// (null point, clipped by the cut plane, no correspondence).
var skipped = math.NaN()

// mapResiduals computes f(i) for every index into a private slot. Workers
// own disjoint contiguous ranges, so no locking is needed; the reduction is
// done afterwards on a single goroutine.
func mapResiduals(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	workers := ParallelFactor
	if workers < 1 {
		workers = 1
	}
	if n < parallelThreshold || workers == 1 {
		for i := range out {
			out[i] = f(i)
		}
		return out
	}

	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	for from := 0; from < n; from += chunk {
		to := min(from+chunk, n)
		g.Go(func() error {
			for i := from; i < to; i++ {
				out[i] = f(i)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// residualSum is the single-threaded reduce step over a residual buffer.
type residualSum struct {
	Sum    float64
	Weight float64
	Count  int
	Max    float64
}

// reduceResiduals sums the kept residuals (optionally squared) weighted by
// weights (nil means weight 1). keep may be nil to keep every non-skipped slot.
func reduceResiduals(res []float64, weights []float64, keep []bool, squared bool) residualSum {
	var s residualSum
	for i, r := range res {
		if math.IsNaN(r) {
			continue
		}
		if keep != nil && !keep[i] {
			continue
		}
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		v := r
		if squared {
			v = r * r
		}
		s.Sum += w * v
		s.Weight += w
		s.Count++
		if r > s.Max {
			s.Max = r
		}
	}
	return s
}

// Mean returns the weighted mean, or MaxEvaluation when nothing was kept
func (s residualSum) Mean() float64 {
	if s.Weight <= 0 {
		return MaxEvaluation
	}
	return s.Sum / s.Weight
}
