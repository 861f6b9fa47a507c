package montage

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// RegistrationMode selects how correspondences are formed.
type RegistrationMode string

const (
	// ClosestPoints pairs every source point with its nearest target point
	ClosestPoints RegistrationMode = "closest-points"
	// MatchingPairs pairs source and target points by index
	MatchingPairs RegistrationMode = "matching-pairs"
)

// CutPlane discards transformed source points lying below it, e.g. the
// electrodes under a neck cut. A point is kept when (p-Point)·Normal >= 0.
type CutPlane struct {
	Point  r3.Vector `yaml:"point" json:"point"`
	Normal r3.Vector `yaml:"normal" json:"normal"`
}

// Below reports whether p lies strictly below the plane
func (c CutPlane) Below(p r3.Vector) bool {
	return p.Sub(c.Point).Dot(c.Normal) < 0
}

// RegistrationParams is the optional parameter set of a similarity transform.
// Rotations are in degrees. Scale and ScaleX/Y/Z are mutually exclusive.
type RegistrationParams struct {
	Scale      Param `json:"scale"`
	ScaleX     Param `json:"scaleX"`
	ScaleY     Param `json:"scaleY"`
	ScaleZ     Param `json:"scaleZ"`
	RotateX    Param `json:"rotateX"`
	RotateY    Param `json:"rotateY"`
	RotateZ    Param `json:"rotateZ"`
	TranslateX Param `json:"translateX"`
	TranslateY Param `json:"translateY"`
	TranslateZ Param `json:"translateZ"`
}

// Validate rejects Scale combined with any per-axis scale
func (p RegistrationParams) Validate() error {
	if p.Scale.Set && (p.ScaleX.Set || p.ScaleY.Set || p.ScaleZ.Set) {
		return fmt.Errorf("%w: Scale and ScaleX/Y/Z are mutually exclusive", ErrInvalidParams)
	}
	return nil
}

// scaleFactors returns the per-axis scale implied by the params
func (p RegistrationParams) scaleFactors() (sx, sy, sz float64) {
	if p.Scale.Set {
		return p.Scale.Value, p.Scale.Value, p.Scale.Value
	}
	return p.ScaleX.Or(1), p.ScaleY.Or(1), p.ScaleZ.Or(1)
}

// sizePenalty keeps the search from collapsing the source to a point:
// 1/scale, or 1/cbrt(sx·sy·sz) for per-axis scaling.
func (p RegistrationParams) sizePenalty() float64 {
	switch {
	case p.Scale.Set:
		return 1 / nonNull(math.Abs(p.Scale.Value))
	case p.ScaleX.Set || p.ScaleY.Set || p.ScaleZ.Set:
		sx, sy, sz := p.scaleFactors()
		return 1 / nonNull(math.Cbrt(math.Abs(sx*sy*sz)))
	default:
		return 1
	}
}

// Matrix builds p' = cTo + S·Rx·Ry·Rz·(p - cFrom + t). Unset dimensions are
// no-ops; scaling is skipped when applyScaling is false.
func (p RegistrationParams) Matrix(cFrom, cTo r3.Vector, applyScaling bool) Matrix4 {
	t := r3.Vector{X: p.TranslateX.Or(0), Y: p.TranslateY.Or(0), Z: p.TranslateZ.Or(0)}
	m := Translation(t.Sub(cFrom))
	if p.RotateZ.Set {
		m = RotationZ(p.RotateZ.Value).Mul(m)
	}
	if p.RotateY.Set {
		m = RotationY(p.RotateY.Value).Mul(m)
	}
	if p.RotateX.Set {
		m = RotationX(p.RotateX.Value).Mul(m)
	}
	if applyScaling {
		sx, sy, sz := p.scaleFactors()
		m = Scaling(sx, sy, sz).Mul(m)
	}
	return Translation(cTo).Mul(m)
}

// RegistrationConfig holds the options of a similarity registration.
type RegistrationConfig struct {
	Mode    RegistrationMode `yaml:"mode" json:"mode"`
	Scaling ScalingMode      `yaml:"scaling" json:"scaling"`

	// RotationRange is the ± search range per axis in degrees (default 30).
	RotationRange float64 `yaml:"rotationRange" json:"rotationRange"`

	// TranslationRange is the ± search range as a fraction of the target's
	// bounding radius (default 0.5).
	TranslationRange float64 `yaml:"translationRange" json:"translationRange"`

	// ScaleMin and ScaleMax bound every scale dimension (default 0.5 and 2).
	ScaleMin float64 `yaml:"scaleMin" json:"scaleMin"`
	ScaleMax float64 `yaml:"scaleMax" json:"scaleMax"`

	// CutPlane optionally discards transformed source points (ClosestPoints only).
	CutPlane *CutPlane `yaml:"cutPlane,omitempty" json:"cutPlane,omitempty"`

	Search SearchConfig `yaml:"search" json:"search"`
}

// DefaultRegistrationConfig returns a RegistrationConfig with sensible defaults
func DefaultRegistrationConfig() RegistrationConfig {
	return RegistrationConfig{
		Mode:             MatchingPairs,
		Scaling:          ScalingUniform,
		RotationRange:    30,
		TranslationRange: 0.5,
		ScaleMin:         0.5,
		ScaleMax:         2,
		Search:           DefaultSearchConfig(),
	}
}

// Validate checks mode, scaling and ranges
func (c RegistrationConfig) Validate() error {
	switch c.Mode {
	case ClosestPoints, MatchingPairs:
	default:
		return fmt.Errorf("%w: unknown registration mode %q", ErrInvalidParams, c.Mode)
	}
	switch c.Scaling {
	case ScalingNone, ScalingUniform, ScalingPerAxis:
	default:
		return fmt.Errorf("%w: unknown scaling %q", ErrInvalidParams, c.Scaling)
	}
	if c.RotationRange < 0 || c.RotationRange > 180 {
		return fmt.Errorf("%w: rotation range %g must be in [0, 180]", ErrInvalidParams, c.RotationRange)
	}
	if c.TranslationRange < 0 {
		return fmt.Errorf("%w: negative translation range", ErrInvalidParams)
	}
	if c.Scaling != ScalingNone && (c.ScaleMin <= 0 || c.ScaleMax < c.ScaleMin) {
		return fmt.Errorf("%w: scale bounds [%g, %g]", ErrInvalidParams, c.ScaleMin, c.ScaleMax)
	}
	return c.Search.Validate()
}

// pairing is one correspondence strategy. Each variant computes its own
// per-point residuals and folds them into a cost.
type pairing interface {
	evaluate(r *Registration, p RegistrationParams, state SearchState, q *FitQuality) float64
}

// closestPoints pairs each source point with its nearest target point.
type closestPoints struct {
	index *PointIndex
	cut   *CutPlane
}

func (c closestPoints) evaluate(r *Registration, p RegistrationParams, state SearchState, q *FitQuality) float64 {
	m := p.Matrix(r.cFrom, r.cTo, true)
	res := mapResiduals(len(r.from.Points), func(i int) float64 {
		src := r.from.Points[i]
		if IsNull(src) {
			return skipped
		}
		tp := m.Apply(src)
		if c.cut != nil && c.cut.Below(tp) {
			return skipped
		}
		_, d := c.index.Nearest(tp)
		return d
	})
	keep, _ := TrimOutliers(res, state)
	if q != nil {
		*q = qualityOf(res, keep)
	}
	sum := reduceResiduals(res, nil, keep, true)
	if sum.Count == 0 {
		return MaxEvaluation
	}
	return sum.Mean() * p.sizePenalty()
}

// matchingPairs pairs source and target points by index.
type matchingPairs struct{}

func (matchingPairs) evaluate(r *Registration, p RegistrationParams, state SearchState, q *FitQuality) float64 {
	m := p.Matrix(r.cFrom, r.cTo, true)
	res := mapResiduals(len(r.from.Points), func(i int) float64 {
		src, dst := r.from.Points[i], r.to.Points[i]
		if IsNull(src) || IsNull(dst) {
			return skipped
		}
		return m.Apply(src).Sub(dst).Norm()
	})
	keep, _ := TrimOutliers(res, state)
	if q != nil {
		*q = qualityOf(res, keep)
	}
	sum := reduceResiduals(res, nil, keep, false)
	if sum.Count == 0 {
		return MaxEvaluation
	}
	return sum.Mean()
}

// Registration fits a similarity transform mapping one point set onto another.
type Registration struct {
	from     PointSet
	to       PointSet
	cFrom    r3.Vector
	cTo      r3.Vector
	cfg      RegistrationConfig
	strategy pairing
	params   RegistrationParams
	fitted   bool
}

// NewRegistration validates the inputs and selects the correspondence
// strategy. MatchingPairs requires the target to have at least as many
// points as the source.
func NewRegistration(from, to PointSet, cfg RegistrationConfig) (*Registration, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := from.Validate(); err != nil {
		return nil, fmt.Errorf("registration source: %w", err)
	}
	if err := to.Validate(); err != nil {
		return nil, fmt.Errorf("registration target: %w", err)
	}

	r := &Registration{
		from:  from,
		to:    to,
		cFrom: from.Centroid(),
		cTo:   to.Centroid(),
		cfg:   cfg,
	}
	switch cfg.Mode {
	case MatchingPairs:
		if to.Len() < from.Len() {
			return nil, fmt.Errorf("%w: target has %d points, source has %d", ErrReferenceMismatch, to.Len(), from.Len())
		}
		r.strategy = matchingPairs{}
		r.cFrom, r.cTo = pairedCentroids(from, to)
	case ClosestPoints:
		r.strategy = closestPoints{index: NewPointSetIndex(to), cut: cfg.CutPlane}
	}
	return r, nil
}

// pairedCentroids averages only the indices valid in both sets
func pairedCentroids(from, to PointSet) (r3.Vector, r3.Vector) {
	var a, b r3.Vector
	n := 0
	for i, p := range from.Points {
		if IsNull(p) || IsNull(to.Points[i]) {
			continue
		}
		a = a.Add(p)
		b = b.Add(to.Points[i])
		n++
	}
	if n == 0 {
		return from.Centroid(), to.Centroid()
	}
	return a.Mul(1 / float64(n)), b.Mul(1 / float64(n))
}

// Reset clears the fitted parameters
func (r *Registration) Reset() {
	r.params = RegistrationParams{}
	r.fitted = false
}

// Space declares the scaling, rotation and translation groups
func (r *Registration) Space() ParameterSpace[RegistrationParams] {
	var s ParameterSpace[RegistrationParams]

	rFrom, rTo := r.from.BoundingRadius(), r.to.BoundingRadius()
	initScale := 1.0
	if rFrom > 0 && rTo > 0 {
		initScale = clip(rTo/rFrom, r.cfg.ScaleMin, r.cfg.ScaleMax)
	}
	scaleDim := func(name string, f func(*RegistrationParams) *Param) Dimension[RegistrationParams] {
		return Dimension[RegistrationParams]{Name: name, Lower: r.cfg.ScaleMin, Upper: r.cfg.ScaleMax, Initial: initScale, Field: f}
	}
	switch r.cfg.Scaling {
	case ScalingUniform:
		s.Add("scaling", scaleDim("scale", func(p *RegistrationParams) *Param { return &p.Scale }))
	case ScalingPerAxis:
		s.Add("scaling",
			scaleDim("scaleX", func(p *RegistrationParams) *Param { return &p.ScaleX }),
			scaleDim("scaleY", func(p *RegistrationParams) *Param { return &p.ScaleY }),
			scaleDim("scaleZ", func(p *RegistrationParams) *Param { return &p.ScaleZ }),
		)
	}

	rr := r.cfg.RotationRange
	if rr > 0 {
		s.Add("rotation",
			Dimension[RegistrationParams]{Name: "rotateX", Lower: -rr, Upper: rr, Field: func(p *RegistrationParams) *Param { return &p.RotateX }},
			Dimension[RegistrationParams]{Name: "rotateY", Lower: -rr, Upper: rr, Field: func(p *RegistrationParams) *Param { return &p.RotateY }},
			Dimension[RegistrationParams]{Name: "rotateZ", Lower: -rr, Upper: rr, Field: func(p *RegistrationParams) *Param { return &p.RotateZ }},
		)
	}

	tr := r.cfg.TranslationRange * math.Max(rTo, 1e-9)
	if tr > 0 {
		s.Add("translation",
			Dimension[RegistrationParams]{Name: "translateX", Lower: -tr, Upper: tr, Field: func(p *RegistrationParams) *Param { return &p.TranslateX }},
			Dimension[RegistrationParams]{Name: "translateY", Lower: -tr, Upper: tr, Field: func(p *RegistrationParams) *Param { return &p.TranslateY }},
			Dimension[RegistrationParams]{Name: "translateZ", Lower: -tr, Upper: tr, Field: func(p *RegistrationParams) *Param { return &p.TranslateZ }},
		)
	}
	return s
}

// Evaluate returns the cost of the proposed params under the configured mode
func (r *Registration) Evaluate(p RegistrationParams, state SearchState, q *FitQuality) float64 {
	return r.strategy.evaluate(r, p, state, q)
}

// RegistrationResult is the outcome of a registration fit.
type RegistrationResult struct {
	Params      RegistrationParams `json:"params"`
	Matrix      Matrix4            `json:"matrix"`
	Quality     FitQuality         `json:"quality"`
	Cost        float64            `json:"cost"`
	Iterations  int                `json:"iterations"`
	Evaluations int                `json:"evaluations"`
}

// Fit runs the search and stores the best params
func (r *Registration) Fit(ctx context.Context) (*RegistrationResult, error) {
	res, err := Minimize(ctx, r.Space(), r.Evaluate, r.cfg.Search)
	if err != nil {
		return nil, fmt.Errorf("registration: %w", err)
	}
	if err := res.Params.Validate(); err != nil {
		return nil, err
	}
	r.params = res.Params
	r.fitted = true
	return &RegistrationResult{
		Params:      res.Params,
		Matrix:      res.Params.Matrix(r.cFrom, r.cTo, true),
		Quality:     res.Quality,
		Cost:        res.Cost,
		Iterations:  res.Iterations,
		Evaluations: res.Evaluations,
	}, nil
}

// Transform maps p with the fitted params. With applyScaling false only
// orientation and position are changed.
func (r *Registration) Transform(p r3.Vector, applyScaling bool) r3.Vector {
	return r.params.Matrix(r.cFrom, r.cTo, applyScaling).Apply(p)
}

// TransformSet maps every non-null point of ps into a new set
func (r *Registration) TransformSet(ps PointSet, applyScaling bool) PointSet {
	return r.params.Matrix(r.cFrom, r.cTo, applyScaling).ApplySet(ps)
}

// Register fits from onto to and returns the result with the transformed set
func Register(ctx context.Context, from, to PointSet, cfg RegistrationConfig) (*RegistrationResult, PointSet, error) {
	reg, err := NewRegistration(from, to, cfg)
	if err != nil {
		return nil, PointSet{}, err
	}
	res, err := reg.Fit(ctx)
	if err != nil {
		return nil, PointSet{}, err
	}
	return res, reg.TransformSet(from, true), nil
}
