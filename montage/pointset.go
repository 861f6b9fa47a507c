package montage

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
)

// PointSet is an ordered collection of 3D points with optional names.
// Index order is significant: paired registration and template averaging
// match points by index.
type PointSet struct {
	Points []r3.Vector `json:"points"`
	Names  []string    `json:"names,omitempty"`
}

// NewPointSet creates a point set, copying the given slices
func NewPointSet(points []r3.Vector, names []string) PointSet {
	ps := PointSet{Points: append([]r3.Vector(nil), points...)}
	if len(names) > 0 {
		ps.Names = append([]string(nil), names...)
	}
	return ps
}

// IsNull reports whether p is the null point (all components exactly zero).
// Null points mark missing electrodes.
func IsNull(p r3.Vector) bool {
	return p.X == 0 && p.Y == 0 && p.Z == 0
}

// Len returns the number of points
func (ps PointSet) Len() int {
	return len(ps.Points)
}

// HasNames reports whether the set carries a name per point
func (ps PointSet) HasNames() bool {
	return len(ps.Names) > 0 && len(ps.Names) == len(ps.Points)
}

// Validate checks the set is non-empty and names match the point count
func (ps PointSet) Validate() error {
	if len(ps.Points) == 0 {
		return fmt.Errorf("%w: empty point set", ErrInvalidInput)
	}
	if len(ps.Names) != 0 && len(ps.Names) != len(ps.Points) {
		return fmt.Errorf("%w: %d names for %d points", ErrInvalidInput, len(ps.Names), len(ps.Points))
	}
	for i, p := range ps.Points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsNaN(p.Z) ||
			math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) || math.IsInf(p.Z, 0) {
			return fmt.Errorf("%w: point %d is not finite", ErrInvalidInput, i)
		}
	}
	return nil
}

// Clone returns a deep copy
func (ps PointSet) Clone() PointSet {
	return NewPointSet(ps.Points, ps.Names)
}

// NonNullMask returns true for every point that is not null
func (ps PointSet) NonNullMask() []bool {
	mask := make([]bool, len(ps.Points))
	for i, p := range ps.Points {
		mask[i] = !IsNull(p)
	}
	return mask
}

// NonNullPoints returns the non-null points in order
func (ps PointSet) NonNullPoints() []r3.Vector {
	out := make([]r3.Vector, 0, len(ps.Points))
	for _, p := range ps.Points {
		if !IsNull(p) {
			out = append(out, p)
		}
	}
	return out
}

// Centroid returns the mean of the non-null points
func (ps PointSet) Centroid() r3.Vector {
	var sum r3.Vector
	n := 0
	for _, p := range ps.Points {
		if IsNull(p) {
			continue
		}
		sum = sum.Add(p)
		n++
	}
	if n == 0 {
		return r3.Vector{}
	}
	return sum.Mul(1 / float64(n))
}

// BoundingBox returns the min and max corners over non-null points
func (ps PointSet) BoundingBox() (lo, hi r3.Vector) {
	first := true
	for _, p := range ps.Points {
		if IsNull(p) {
			continue
		}
		if first {
			lo, hi = p, p
			first = false
			continue
		}
		lo = r3.Vector{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vector{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	return lo, hi
}

// BoundingRadius returns the largest distance from the centroid
func (ps PointSet) BoundingRadius() float64 {
	c := ps.Centroid()
	var r float64
	for _, p := range ps.Points {
		if IsNull(p) {
			continue
		}
		r = math.Max(r, p.Sub(c).Norm())
	}
	return r
}

// MedianNearestDistance returns the median over points of the distance to
// their nearest other point. Used as the natural length unit of a montage.
func (ps PointSet) MedianNearestDistance() float64 {
	pts := ps.NonNullPoints()
	if len(pts) < 2 {
		return 0
	}
	idx := NewPointIndex(pts)
	dists := make([]float64, len(pts))
	for i, p := range pts {
		_, d := idx.NearestExcluding(p, i)
		dists[i] = d
	}
	sort.Float64s(dists)
	mid := len(dists) / 2
	if len(dists)%2 == 0 {
		return (dists[mid-1] + dists[mid]) / 2
	}
	return dists[mid]
}

// IndexOf returns the index of the named point, or -1
func (ps PointSet) IndexOf(name string) int {
	for i, n := range ps.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// Name returns the name of point i, or a generated label when unnamed
func (ps PointSet) Name(i int) string {
	if ps.HasNames() {
		return ps.Names[i]
	}
	return fmt.Sprintf("E%d", i+1)
}

// Translate returns a copy moved by v (null points stay null)
func (ps PointSet) Translate(v r3.Vector) PointSet {
	return Translation(v).ApplySet(ps)
}
