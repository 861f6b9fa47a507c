package montage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutlierMultiplier(t *testing.T) {
	tests := []struct {
		name  string
		state SearchState
		want  float64
	}{
		{"coarse", SearchState{Precision: 1, OutlierPrecision: 0.05}, 4},
		{"at outlier precision", SearchState{Precision: 0.05, OutlierPrecision: 0.05}, 4},
		{"halfway", SearchState{Precision: 0.025, OutlierPrecision: 0.05}, 2.5},
		{"converged", SearchState{Precision: 0, OutlierPrecision: 0.05}, 1},
		{"no outlier precision", SearchState{Precision: 0.5}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, OutlierMultiplier(tt.state), 1e-12)
		})
	}
}

// residualsWithSpike returns ten 1s, nine 2s and one 3.5: mean 1.575 and
// sample SD 0.674, so the spike survives a 4 SD cut but not a 1 SD cut
func residualsWithSpike() []float64 {
	res := make([]float64, 0, 20)
	for i := 0; i < 10; i++ {
		res = append(res, 1)
	}
	for i := 0; i < 9; i++ {
		res = append(res, 2)
	}
	return append(res, 3.5)
}

func TestTrimOutliers_NarrowsWithPrecision(t *testing.T) {
	res := residualsWithSpike()

	coarse, coarseThreshold := TrimOutliers(res, SearchState{Precision: 1, OutlierPrecision: 0.05})
	fine, fineThreshold := TrimOutliers(res, SearchState{Precision: 0, OutlierPrecision: 0.05})

	assert.InDelta(t, 4.272, coarseThreshold, 1e-3)
	assert.InDelta(t, 2.249, fineThreshold, 1e-3)
	assert.Greater(t, coarseThreshold, fineThreshold)

	for i := range res {
		assert.True(t, coarse[i], "coarse search should keep residual %d", i)
	}
	for i := 0; i < 19; i++ {
		assert.True(t, fine[i], "fine search should keep residual %d", i)
	}
	assert.False(t, fine[19], "fine search should exclude the spike")
}

func TestTrimOutliers_SkippedAndSmallSets(t *testing.T) {
	keep, threshold := TrimOutliers([]float64{1, skipped, 100}, SearchState{Precision: 0, OutlierPrecision: 0.05})
	assert.Equal(t, []bool{true, false, true}, keep, "fewer than 3 values are all kept")
	assert.True(t, math.IsInf(threshold, 1))

	keep, _ = TrimOutliers([]float64{1, 1, skipped, 1}, SearchState{Precision: 0, OutlierPrecision: 0.05})
	assert.Equal(t, []bool{true, true, false, true}, keep)
}

func TestQualityOf(t *testing.T) {
	res := []float64{1, 3, skipped, 10}
	keep := []bool{true, true, false, false}
	q := qualityOf(res, keep)

	assert.Equal(t, 3, q.Total)
	assert.Equal(t, 2, q.Kept)
	assert.InDelta(t, 2, q.Average, 1e-12)
	assert.InDelta(t, 3, q.Max, 1e-12)
	assert.InDelta(t, math.Sqrt2, q.StdDev, 1e-12)
	assert.InDelta(t, 1.0/3, q.ExcludedFraction(), 1e-12)
	assert.InDelta(t, math.Hypot(2, math.Sqrt2), q.Combined(), 1e-12)

	empty := qualityOf(nil, nil)
	assert.Zero(t, empty.ExcludedFraction())
}
