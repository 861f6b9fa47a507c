package montage

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shifted(ps PointSet, offsets ...r3.Vector) PointSet {
	out := ps.Clone()
	for i := range out.Points {
		out.Points[i] = out.Points[i].Add(offsets[i])
	}
	return out
}

func diagnosticsFixture() (PointSet, []PointSet) {
	template := NewPointSet([]r3.Vector{{X: 1}, {Y: 1}, {Z: 1}}, []string{"A", "B", "C"})
	small, big := r3.Vector{X: 0.1}, r3.Vector{X: 1}
	return template, []PointSet{
		shifted(template, small, small, small),
		shifted(template, big, big, big),
		shifted(template, small, small, r3.Vector{X: 2}),
	}
}

func TestComputeDiagnostics(t *testing.T) {
	template, registered := diagnosticsFixture()
	th := QualityThresholds{DistanceRatio: 1.5, MaxCV: 0.8}
	d := ComputeDiagnostics(template, registered, nil, []string{"alice", "bob"}, th)

	require.Len(t, d.Distances, 3)
	assert.InDelta(t, 5.5/9, d.GlobalAverage, 1e-12)
	assert.InDelta(t, math.Sqrt2, d.Spacing, 1e-12)

	require.Len(t, d.Subjects, 3)
	assert.Equal(t, "alice", d.Subjects[0].Name)
	assert.Equal(t, "subject3", d.Subjects[2].Name)
	assert.InDelta(t, 0.1, d.Subjects[0].Average, 1e-12)
	assert.InDelta(t, 0, d.Subjects[0].CV, 1e-9)
	assert.InDelta(t, 2.2/3, d.Subjects[2].Average, 1e-12)
	assert.InDelta(t, 2, d.Subjects[2].Max, 1e-12)

	require.Len(t, d.Electrodes, 3)
	assert.Equal(t, "A", d.Electrodes[0].Name)
	assert.Equal(t, 3, d.Electrodes[0].Count)
	assert.InDelta(t, 0.1, d.Electrodes[0].Median, 1e-12)
	assert.InDelta(t, 1, d.Electrodes[0].Max, 1e-12)

	require.Len(t, d.Warnings, 2)
	assert.Equal(t, 1, d.Warnings[0].Subject)
	assert.Equal(t, []QualityReason{ReasonDistance}, d.Warnings[0].Reasons)
	assert.InDelta(t, 1/(5.5/9), d.Warnings[0].Ratio, 1e-9)
	assert.Equal(t, 2, d.Warnings[1].Subject)
	assert.Equal(t, []QualityReason{ReasonDispersion}, d.Warnings[1].Reasons)
	assert.Greater(t, d.Warnings[1].CV, 0.8)
}

func TestComputeDiagnostics_MaskAndNulls(t *testing.T) {
	template, registered := diagnosticsFixture()
	mask := [][]bool{{false, true, true}, {true, true, true}, {true, true, true}}
	template.Points[2] = r3.Vector{}

	d := ComputeDiagnostics(template, registered, mask, nil, DefaultQualityThresholds())

	assert.True(t, math.IsNaN(d.Distances[0][0]), "masked point")
	assert.True(t, math.IsNaN(d.Distances[1][2]), "null template point")
	assert.Equal(t, 1, d.Subjects[0].Count)
	assert.Equal(t, 0, d.Electrodes[2].Count)
	assert.Equal(t, 2, d.Electrodes[0].Count)
	assert.InDelta(t, math.Sqrt2, d.Spacing, 1e-12, "null template points are not neighbours")
}

func TestFlagSubjects_Thresholds(t *testing.T) {
	subjects := []DistanceStats{
		{Count: 3, Average: 1, CV: 0.1},
		{Count: 3, Average: 3, CV: 0.9},
		{Count: 0},
	}
	tests := []struct {
		name string
		th   QualityThresholds
		want int
	}{
		{"default", DefaultQualityThresholds(), 1},
		{"disabled", QualityThresholds{}, 0},
		{"strict", QualityThresholds{DistanceRatio: 0.5, MaxCV: 0.05}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, flagSubjects(subjects, 1.5, tt.th), tt.want)
		})
	}

	w := flagSubjects(subjects, 1.5, DefaultQualityThresholds())
	assert.ElementsMatch(t, []QualityReason{ReasonDispersion}, w[0].Reasons)
}

func TestSummarizeDistances(t *testing.T) {
	assert.Equal(t, DistanceStats{}, summarizeDistances(nil))

	one := summarizeDistances([]float64{2})
	assert.Equal(t, 2.0, one.Average)
	assert.Zero(t, one.StdDev)
	assert.Equal(t, 2.0, one.Median)

	st := summarizeDistances([]float64{1, 2, 3, 4})
	assert.InDelta(t, 2.5, st.Average, 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/3), st.StdDev, 1e-12)
	assert.InDelta(t, 2.5, st.Median, 1e-12)
	assert.Equal(t, 4.0, st.Max)
}
