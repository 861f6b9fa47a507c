package montage

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
)

// Projection flattens a head montage onto the plane with an azimuthal
// equidistant projection centred on the vertex (+Z). A point's distance
// from the origin is its arc length from the vertex on a sphere of the
// given radius; its bearing keeps +X to the right and +Y to the nose.
type Projection struct {
	Center r3.Vector
	Radius float64
}

// NewProjection centres the projection on the XY middle of the bounding box
// at the height of its lowest point, which for an electrode cap is close to
// the head's equatorial plane
func NewProjection(ps PointSet) Projection {
	lo, hi := ps.BoundingBox()
	c := r3.Vector{X: (lo.X + hi.X) / 2, Y: (lo.Y + hi.Y) / 2, Z: lo.Z}
	var sum float64
	n := 0
	for _, p := range ps.Points {
		if IsNull(p) {
			continue
		}
		sum += p.Sub(c).Norm()
		n++
	}
	r := 1.0
	if n > 0 && sum > 0 {
		r = sum / float64(n)
	}
	return Projection{Center: c, Radius: r}
}

// NewModelProjection centres the projection on a fitted surface model
func NewModelProjection(m *SurfaceModel) Projection {
	return Projection{Center: m.Center(), Radius: m.Radius(r3.Vector{Z: 1})}
}

// Project maps p onto the plane
func (pr Projection) Project(p r3.Vector) orb.Point {
	d := p.Sub(pr.Center)
	n := d.Norm()
	if n == 0 {
		return orb.Point{0, 0}
	}
	theta := math.Acos(clip(d.Z/n, -1, 1))
	rho := math.Hypot(d.X, d.Y)
	if rho < 1e-12 {
		return orb.Point{0, 0}
	}
	arc := theta * pr.Radius
	return orb.Point{arc * d.X / rho, arc * d.Y / rho}
}

// ProjectSet maps every non-null point of ps; ok[i] is false for nulls
func (pr Projection) ProjectSet(ps PointSet) (pts []orb.Point, ok []bool) {
	pts = make([]orb.Point, ps.Len())
	ok = make([]bool, ps.Len())
	for i, p := range ps.Points {
		if IsNull(p) {
			continue
		}
		pts[i] = pr.Project(p)
		ok[i] = true
	}
	return pts, ok
}

// Bound returns the planar bounds of the projected non-null points of all sets
func (pr Projection) Bound(sets ...PointSet) orb.Bound {
	var mp orb.MultiPoint
	for _, ps := range sets {
		pts, ok := pr.ProjectSet(ps)
		for i, p := range pts {
			if ok[i] {
				mp = append(mp, p)
			}
		}
	}
	if len(mp) == 0 {
		return orb.Bound{}
	}
	return mp.Bound()
}
