package montage

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// FitQuality summarises the residual distances accepted by an evaluation.
type FitQuality struct {
	Average float64 `json:"average"`
	Max     float64 `json:"max"`
	StdDev  float64 `json:"stdDev"`
	Kept    int     `json:"kept"`
	Total   int     `json:"total"`
}

// Combined folds average and spread into a single comparable score
func (q FitQuality) Combined() float64 {
	return math.Hypot(q.Average, q.StdDev)
}

// ExcludedFraction is the share of candidate points rejected as outliers
func (q FitQuality) ExcludedFraction() float64 {
	if q.Total == 0 {
		return 0
	}
	return float64(q.Total-q.Kept) / float64(q.Total)
}

// OutlierMultiplier returns how many standard deviations above the mean a
// residual may lie before it is rejected. Coarse searches (precision at or
// above the outlier precision) allow 4 SD; the allowance falls linearly to
// 1 SD as the precision approaches zero.
func OutlierMultiplier(state SearchState) float64 {
	if state.OutlierPrecision <= 0 {
		return 4
	}
	return 1 + 3*clip(state.Precision/state.OutlierPrecision, 0, 1)
}

// TrimOutliers marks residuals that pass the precision-dependent threshold
// mean + k·SD. Skipped (NaN) slots are never kept. Exclusion applies to the
// current evaluation only.
func TrimOutliers(res []float64, state SearchState) (keep []bool, threshold float64) {
	vals := make([]float64, 0, len(res))
	for _, r := range res {
		if !math.IsNaN(r) {
			vals = append(vals, r)
		}
	}
	keep = make([]bool, len(res))
	if len(vals) < 3 {
		for i, r := range res {
			keep[i] = !math.IsNaN(r)
		}
		return keep, math.Inf(1)
	}

	mean, sd := stat.MeanStdDev(vals, nil)
	threshold = mean + OutlierMultiplier(state)*sd
	for i, r := range res {
		keep[i] = !math.IsNaN(r) && r <= threshold
	}
	return keep, threshold
}

// qualityOf fills a FitQuality from the kept residuals
func qualityOf(res []float64, keep []bool) FitQuality {
	q := FitQuality{}
	vals := make([]float64, 0, len(res))
	for i, r := range res {
		if math.IsNaN(r) {
			continue
		}
		q.Total++
		if keep != nil && !keep[i] {
			continue
		}
		vals = append(vals, r)
		if r > q.Max {
			q.Max = r
		}
	}
	q.Kept = len(vals)
	switch len(vals) {
	case 0:
	case 1:
		q.Average = vals[0]
	default:
		q.Average, q.StdDev = stat.MeanStdDev(vals, nil)
	}
	return q
}
