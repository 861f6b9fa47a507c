package montage

import (
	"math"
	"testing"
)

func TestMapResiduals_ParallelMatchesSequential(t *testing.T) {
	f := func(i int) float64 {
		if i%7 == 0 {
			return skipped
		}
		return math.Sqrt(float64(i))
	}

	old := ParallelFactor
	defer func() { ParallelFactor = old }()

	n := 4 * parallelThreshold
	ParallelFactor = 1
	seq := mapResiduals(n, f)
	ParallelFactor = 8
	par := mapResiduals(n, f)

	for i := range seq {
		if math.IsNaN(seq[i]) != math.IsNaN(par[i]) || (!math.IsNaN(seq[i]) && seq[i] != par[i]) {
			t.Fatalf("slot %d: sequential %v, parallel %v", i, seq[i], par[i])
		}
	}

	a := reduceResiduals(seq, nil, nil, false)
	b := reduceResiduals(par, nil, nil, false)
	if a != b {
		t.Errorf("reductions differ: %+v vs %+v", a, b)
	}
}

func TestReduceResiduals(t *testing.T) {
	res := []float64{1, 2, skipped, 4}
	tests := []struct {
		name     string
		weights  []float64
		keep     []bool
		squared  bool
		wantMean float64
		wantN    int
	}{
		{"plain", nil, nil, false, 7.0 / 3, 3},
		{"squared", nil, nil, true, 21.0 / 3, 3},
		{"kept subset", nil, []bool{true, true, true, false}, false, 1.5, 2},
		{"weighted", []float64{1, 1, 1, 2}, nil, false, 11.0 / 4, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := reduceResiduals(res, tt.weights, tt.keep, tt.squared)
			if s.Count != tt.wantN {
				t.Errorf("Count = %d, want %d", s.Count, tt.wantN)
			}
			if math.Abs(s.Mean()-tt.wantMean) > 1e-12 {
				t.Errorf("Mean() = %v, want %v", s.Mean(), tt.wantMean)
			}
		})
	}

	if got := reduceResiduals([]float64{skipped}, nil, nil, false).Mean(); got != MaxEvaluation {
		t.Errorf("Mean() of nothing = %v, want MaxEvaluation", got)
	}
}
