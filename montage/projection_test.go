package montage

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjection_Project(t *testing.T) {
	pr := Projection{Radius: 10}
	tests := []struct {
		name string
		in   r3.Vector
		want orb.Point
	}{
		{"vertex", r3.Vector{Z: 7}, orb.Point{0, 0}},
		{"center", r3.Vector{}, orb.Point{0, 0}},
		{"nose on the equator", r3.Vector{Y: 5}, orb.Point{0, 5 * math.Pi}},
		{"right ear", r3.Vector{X: 2}, orb.Point{5 * math.Pi, 0}},
		{"tilted", r3.Vector{X: 3, Z: 4}, orb.Point{10 * math.Acos(0.8), 0}},
		{"below the equator", r3.Vector{Y: -1, Z: -1}, orb.Point{0, -10 * 3 * math.Pi / 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pr.Project(tt.in)
			assert.InDelta(t, tt.want[0], got[0], 1e-9)
			assert.InDelta(t, tt.want[1], got[1], 1e-9)
		})
	}
}

func TestNewProjection(t *testing.T) {
	pr := NewProjection(domePoints())
	assert.True(t, vecNear(pr.Center, r3.Vector{}, 1e-9), "center %v", pr.Center)
	assert.Greater(t, pr.Radius, 75.0)
	assert.Less(t, pr.Radius, 95.0)

	assert.Equal(t, 1.0, NewProjection(NewPointSet([]r3.Vector{{}}, nil)).Radius)
}

func TestNewModelProjection(t *testing.T) {
	m, err := NewSurfaceModel(SurfaceParams{Scale: Val(80), TranslateZ: Val(10)})
	require.NoError(t, err)
	pr := NewModelProjection(m)
	assert.True(t, vecNear(pr.Center, r3.Vector{Z: 10}, 1e-12))
	assert.InDelta(t, 80, pr.Radius, 1e-6)
}

func TestProjection_SetAndBound(t *testing.T) {
	pr := Projection{Radius: 10}
	ps := NewPointSet([]r3.Vector{{Y: 5}, {}, {X: -2}}, nil)
	pts, ok := pr.ProjectSet(ps)
	assert.Equal(t, []bool{true, false, true}, ok)
	assert.Equal(t, orb.Point{}, pts[1])

	b := pr.Bound(ps)
	assert.InDelta(t, -5*math.Pi, b.Min[0], 1e-9)
	assert.InDelta(t, 5*math.Pi, b.Max[1], 1e-9)

	assert.Equal(t, orb.Bound{}, pr.Bound(NewPointSet([]r3.Vector{{}}, nil)))
}
