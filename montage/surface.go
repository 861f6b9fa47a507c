package montage

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// SurfaceParams is the optional parameter set of the deformable sphere.
// Rotations are in degrees. Scale and ScaleX/Y/Z are mutually exclusive.
type SurfaceParams struct {
	Scale  Param `json:"scale"`
	ScaleX Param `json:"scaleX"`
	ScaleY Param `json:"scaleY"`
	ScaleZ Param `json:"scaleZ"`

	RotateX Param `json:"rotateX"`
	RotateY Param `json:"rotateY"`
	RotateZ Param `json:"rotateZ"`

	TranslateX Param `json:"translateX"`
	TranslateY Param `json:"translateY"`
	TranslateZ Param `json:"translateZ"`

	FlattenX Param `json:"flattenX"`
	FlattenY Param `json:"flattenY"`
	FlattenZ Param `json:"flattenZ"`

	TopBump        Param `json:"topBump"`
	TopLateralBump Param `json:"topLateralBump"`

	PinchXbyY Param `json:"pinchXbyY"`
	PinchXbyZ Param `json:"pinchXbyZ"`
	PinchYbyZ Param `json:"pinchYbyZ"`

	ShearZbyY Param `json:"shearZbyY"`
}

// Validate rejects Scale combined with any per-axis scale
func (p SurfaceParams) Validate() error {
	if p.Scale.Set && (p.ScaleX.Set || p.ScaleY.Set || p.ScaleZ.Set) {
		return fmt.Errorf("%w: Scale and ScaleX/Y/Z are mutually exclusive", ErrInvalidParams)
	}
	return nil
}

// Center returns the model center (the translation)
func (p SurfaceParams) Center() r3.Vector {
	return r3.Vector{X: p.TranslateX.Or(0), Y: p.TranslateY.Or(0), Z: p.TranslateZ.Or(0)}
}

// Bump windows in the coronal (XZ) plane, degrees.
const (
	topBumpCenter       = 90.0
	topBumpHalfWidth    = 45.0
	lateralBumpLeft     = 135.0
	lateralBumpRight    = 45.0
	lateralBumpHalfWide = 30.0
)

// Inverse projection limits.
const (
	projectionInitialStep = 0.5                 // radians
	projectionPrecision   = 0.1 * math.Pi / 180 // radians
	projectionSaturation  = 1e-12               // 1 - cos
	projectionMaxSteps    = 128
)

// SurfaceModel is a deformable unit sphere: scale and rotation plus a fixed
// menu of shape terms, centered at the translation.
type SurfaceModel struct {
	params   SurfaceParams
	rotation Matrix4 // canonical -> world
	inverse  Matrix4 // world -> canonical
	rotated  bool
}

// NewSurfaceModel validates params and precomputes the rotation
func NewSurfaceModel(p SurfaceParams) (*SurfaceModel, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return newSurfaceModel(p), nil
}

func newSurfaceModel(p SurfaceParams) *SurfaceModel {
	m := &SurfaceModel{params: p, rotation: Identity(), inverse: Identity()}
	if p.RotateX.Set || p.RotateY.Set || p.RotateZ.Set {
		m.rotated = true
		m.rotation = RotationX(p.RotateX.Or(0)).Mul(RotationY(p.RotateY.Or(0))).Mul(RotationZ(p.RotateZ.Or(0)))
		m.inverse = m.rotation.Transpose()
	}
	return m
}

// Params returns the model parameters
func (m *SurfaceModel) Params() SurfaceParams {
	return m.params
}

// Center returns the model center
func (m *SurfaceModel) Center() r3.Vector {
	return m.params.Center()
}

// Forward maps a direction (relative to the center) to the model surface,
// relative to the center. The output direction generally differs from the
// input direction because the shape terms are non-linear.
func (m *SurfaceModel) Forward(dir r3.Vector) r3.Vector {
	n := dir.Norm()
	if n == 0 {
		return r3.Vector{}
	}
	c := dir.Mul(1 / n)
	if m.rotated {
		c = m.inverse.ApplyDirection(c)
	}
	p := m.params

	if p.FlattenX.Set {
		c.X *= 1 - p.FlattenX.Value*c.X*c.X
	}
	if p.FlattenY.Set {
		c.Y *= 1 - p.FlattenY.Value*c.Y*c.Y
	}
	if p.FlattenZ.Set {
		c.Z *= 1 - p.FlattenZ.Value*c.Z*c.Z
	}

	if p.TopBump.Set || p.TopLateralBump.Set {
		theta := radToDeg(math.Atan2(c.Z, c.X))
		fade := 1 - c.Y*c.Y
		fade *= fade
		bump := 0.0
		if p.TopBump.Set {
			bump += p.TopBump.Value * bumpProfile(theta, topBumpCenter, topBumpHalfWidth)
		}
		if p.TopLateralBump.Set {
			lateral := math.Max(
				bumpProfile(theta, lateralBumpLeft, lateralBumpHalfWide),
				bumpProfile(theta, lateralBumpRight, lateralBumpHalfWide))
			bump += p.TopLateralBump.Value * lateral
		}
		c = c.Mul(1 + bump*fade)
	}

	if p.PinchXbyY.Set {
		c.X *= 1 + p.PinchXbyY.Value*math.Sin(math.Pi/2*clip(c.Y, -1, 1))
	}
	if p.PinchXbyZ.Set {
		c.X *= 1 + p.PinchXbyZ.Value*math.Sin(math.Pi/2*clip(c.Z, -1, 1))
	}
	if p.PinchYbyZ.Set {
		c.Y *= 1 + p.PinchYbyZ.Value*math.Sin(math.Pi/2*clip(c.Z, -1, 1))
	}

	if p.Scale.Set {
		c = c.Mul(p.Scale.Value)
	} else {
		c = r3.Vector{X: c.X * p.ScaleX.Or(1), Y: c.Y * p.ScaleY.Or(1), Z: c.Z * p.ScaleZ.Or(1)}
	}

	if p.ShearZbyY.Set {
		c.Z += p.ShearZbyY.Value * c.Y
	}

	if m.rotated {
		c = m.rotation.ApplyDirection(c)
	}
	return c
}

// bumpProfile is a powered-sine window: 1 at center, 0 at and beyond halfWidth
func bumpProfile(theta, center, halfWidth float64) float64 {
	d := math.Abs(theta - center)
	if d >= halfWidth {
		return 0
	}
	s := math.Sin(math.Pi / 2 * (1 - d/halfWidth))
	return s * s
}

// projectionState is one step of the cross-hair direction search.
type projectionState struct {
	direction r3.Vector
	step      float64
	score     float64
}

// next evaluates the cross-hair around s and returns the following state.
// The current direction is kept unless an offset scores strictly better;
// when both axes improve, the diagonal is tried. The step is halved only
// when the current direction wins.
func (s projectionState) next(target r3.Vector, score func(r3.Vector) float64) projectionState {
	u, v := tangentBasis(s.direction)
	sin, cos := math.Sincos(s.step)
	offset := func(a, b float64) r3.Vector {
		return s.direction.Mul(cos).Add(u.Mul(a * sin)).Add(v.Mul(b * sin)).Normalize()
	}

	best := projectionState{direction: s.direction, step: s.step, score: s.score}
	var du, dv float64
	var su, sv float64 = s.score, s.score
	for _, a := range [2]float64{1, -1} {
		if sc := score(offset(a, 0)); sc > su {
			su, du = sc, a
		}
		if sc := score(offset(0, a)); sc > sv {
			sv, dv = sc, a
		}
	}
	if su > best.score {
		best.direction, best.score = offset(du, 0), su
	}
	if sv > best.score {
		best.direction, best.score = offset(0, dv), sv
	}
	if du != 0 && dv != 0 {
		d := s.direction.Mul(cos).Add(u.Mul(du * sin)).Add(v.Mul(dv * sin)).Normalize()
		if sc := score(d); sc > best.score {
			best.direction, best.score = d, sc
		}
	}
	if best.score == s.score {
		best.step = s.step / 2
	}
	return best
}

// tangentBasis returns two unit vectors orthogonal to d and to each other
func tangentBasis(d r3.Vector) (r3.Vector, r3.Vector) {
	u := d.Ortho()
	v := d.Cross(u).Normalize()
	return u, v
}

// Project finds the point of the model surface whose direction from the
// center is closest to dir. The result is relative to the center.
func (m *SurfaceModel) Project(dir r3.Vector) r3.Vector {
	if dir.Norm() == 0 {
		return r3.Vector{}
	}
	target := dir.Normalize()
	score := func(d r3.Vector) float64 {
		f := m.Forward(d)
		n := f.Norm()
		if n == 0 {
			return -2
		}
		return f.Dot(target) / n
	}

	s := projectionState{direction: target, step: projectionInitialStep, score: score(target)}
	for i := 0; i < projectionMaxSteps; i++ {
		if s.step < projectionPrecision || 1-s.score < projectionSaturation {
			break
		}
		s = s.next(target, score)
	}
	return m.Forward(s.direction)
}

// Radius returns the model radius along dir
func (m *SurfaceModel) Radius(dir r3.Vector) float64 {
	return m.Project(dir).Norm()
}

// Transform projects an arbitrary point onto the model surface along its
// direction from the center.
func (m *SurfaceModel) Transform(p r3.Vector) r3.Vector {
	c := m.Center()
	return c.Add(m.Project(p.Sub(c)))
}

// TransformSet projects every non-null point onto the surface
func (m *SurfaceModel) TransformSet(ps PointSet) PointSet {
	out := ps.Clone()
	for i, p := range ps.Points {
		if !IsNull(p) {
			out.Points[i] = m.Transform(p)
		}
	}
	return out
}

// Spherize maps a point into the canonical unit-sphere space: its offset
// from the center divided by the model radius in that direction.
func (m *SurfaceModel) Spherize(p r3.Vector) r3.Vector {
	q := p.Sub(m.Center())
	r := m.Radius(q)
	if r == 0 {
		return r3.Vector{}
	}
	return q.Mul(1 / r)
}

// Unspherize is the inverse of Spherize
func (m *SurfaceModel) Unspherize(u r3.Vector) r3.Vector {
	return m.Center().Add(u.Mul(m.Radius(u)))
}

// SpherizeSet spherizes every non-null point
func (m *SurfaceModel) SpherizeSet(ps PointSet) PointSet {
	out := ps.Clone()
	for i, p := range ps.Points {
		if !IsNull(p) {
			out.Points[i] = m.Spherize(p)
		}
	}
	return out
}

// icosahedron returns the 12 unit vertices of a regular icosahedron
func icosahedron() []r3.Vector {
	phi := (1 + math.Sqrt(5)) / 2
	raw := []r3.Vector{
		{X: -1, Y: phi}, {X: 1, Y: phi}, {X: -1, Y: -phi}, {X: 1, Y: -phi},
		{Y: -1, Z: phi}, {Y: 1, Z: phi}, {Y: -1, Z: -phi}, {Y: 1, Z: -phi},
		{X: phi, Z: -1}, {X: phi, Z: 1}, {X: -phi, Z: -1}, {X: -phi, Z: 1},
	}
	for i := range raw {
		raw[i] = raw[i].Normalize()
	}
	return raw
}
