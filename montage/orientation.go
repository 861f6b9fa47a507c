package montage

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// OrientationObjective selects what the orientation solver optimises.
type OrientationObjective string

const (
	// Sagittal finds the best mirror-symmetry plane (YZ after transform)
	Sagittal OrientationObjective = "sagittal"
	// Transverse aligns the convex, superior part of the cloud with +Z
	Transverse OrientationObjective = "transverse"
	// ReorientTop pulls the top of the distribution toward +Z
	ReorientTop OrientationObjective = "top"
)

// OrientationParams is the shared rotation/translation parameter set.
type OrientationParams struct {
	RotateX    Param `json:"rotateX"`
	RotateY    Param `json:"rotateY"`
	RotateZ    Param `json:"rotateZ"`
	TranslateX Param `json:"translateX"`
	TranslateY Param `json:"translateY"`
	TranslateZ Param `json:"translateZ"`
}

// Matrix builds p' = t + Rx·Ry·Rz·(p - center)
func (p OrientationParams) Matrix(center r3.Vector) Matrix4 {
	m := Translation(center.Mul(-1))
	if p.RotateZ.Set {
		m = RotationZ(p.RotateZ.Value).Mul(m)
	}
	if p.RotateY.Set {
		m = RotationY(p.RotateY.Value).Mul(m)
	}
	if p.RotateX.Set {
		m = RotationX(p.RotateX.Value).Mul(m)
	}
	t := r3.Vector{X: p.TranslateX.Or(0), Y: p.TranslateY.Or(0), Z: p.TranslateZ.Or(0)}
	return Translation(t).Mul(m)
}

// OrientationConfig holds the options of an orientation fit.
type OrientationConfig struct {
	Objective OrientationObjective `yaml:"objective" json:"objective"`

	// RotationRange is the ± search range in degrees (default 45).
	RotationRange float64 `yaml:"rotationRange" json:"rotationRange"`

	// TranslationRange is a fraction of the bounding radius (default 0.2).
	TranslationRange float64 `yaml:"translationRange" json:"translationRange"`

	Search SearchConfig `yaml:"search" json:"search"`
}

// DefaultOrientationConfig returns an OrientationConfig for objective
func DefaultOrientationConfig(objective OrientationObjective) OrientationConfig {
	return OrientationConfig{
		Objective:        objective,
		RotationRange:    45,
		TranslationRange: 0.2,
		Search:           DefaultSearchConfig(),
	}
}

// orientationCost is one orientation objective over transformed points.
type orientationCost interface {
	evaluate(q []r3.Vector, state SearchState, fq *FitQuality) float64
	declare(s *ParameterSpace[OrientationParams], rr, tr float64)
}

type sagittalCost struct{}

// evaluate mirrors every point across the YZ plane and measures the distance
// to its nearest neighbour in the same cloud. The squared residuals are
// normalised by Σy², which rewards front-back elongation along Y.
func (sagittalCost) evaluate(q []r3.Vector, state SearchState, fq *FitQuality) float64 {
	idx := NewPointIndex(q)
	res := mapResiduals(len(q), func(i int) float64 {
		_, d := idx.Nearest(mirrorX(q[i]))
		return d
	})
	keep, _ := TrimOutliers(res, state)
	if fq != nil {
		*fq = qualityOf(res, keep)
	}
	var num, den float64
	for i, r := range res {
		if !keep[i] {
			continue
		}
		num += r * r
		den += q[i].Y * q[i].Y
	}
	if den < 1e-12 {
		return MaxEvaluation
	}
	return num / den
}

func (sagittalCost) declare(s *ParameterSpace[OrientationParams], rr, tr float64) {
	type dim = Dimension[OrientationParams]
	s.Add("rotation",
		dim{Name: "rotateY", Lower: -rr, Upper: rr, Field: func(p *OrientationParams) *Param { return &p.RotateY }},
		dim{Name: "rotateZ", Lower: -rr, Upper: rr, Field: func(p *OrientationParams) *Param { return &p.RotateZ }},
	)
	if tr > 0 {
		s.Add("translation",
			dim{Name: "translateX", Lower: -tr, Upper: tr, Field: func(p *OrientationParams) *Param { return &p.TranslateX }},
		)
	}
}

type transverseCost struct{}

// evaluate sums (1 - ẑ)² over the unit directions of the points
func (transverseCost) evaluate(q []r3.Vector, _ SearchState, fq *FitQuality) float64 {
	res := mapResiduals(len(q), func(i int) float64 {
		n := q[i].Norm()
		if n == 0 {
			return skipped
		}
		return 1 - q[i].Z/n
	})
	if fq != nil {
		*fq = qualityOf(res, nil)
	}
	return reduceResiduals(res, nil, nil, true).Sum
}

func (transverseCost) declare(s *ParameterSpace[OrientationParams], rr, _ float64) {
	declareTilt(s, rr)
}

type topCost struct{}

// evaluate sums (zmax - z)²
func (topCost) evaluate(q []r3.Vector, _ SearchState, fq *FitQuality) float64 {
	zmax := math.Inf(-1)
	for _, p := range q {
		zmax = math.Max(zmax, p.Z)
	}
	res := mapResiduals(len(q), func(i int) float64 {
		return zmax - q[i].Z
	})
	if fq != nil {
		*fq = qualityOf(res, nil)
	}
	return reduceResiduals(res, nil, nil, true).Sum
}

func (topCost) declare(s *ParameterSpace[OrientationParams], rr, _ float64) {
	declareTilt(s, rr)
}

func declareTilt(s *ParameterSpace[OrientationParams], rr float64) {
	type dim = Dimension[OrientationParams]
	s.Add("rotation",
		dim{Name: "rotateX", Lower: -rr, Upper: rr, Field: func(p *OrientationParams) *Param { return &p.RotateX }},
		dim{Name: "rotateY", Lower: -rr, Upper: rr, Field: func(p *OrientationParams) *Param { return &p.RotateY }},
	)
}

// OrientationSolver estimates a canonical orientation of a point cloud.
type OrientationSolver struct {
	points []r3.Vector
	center r3.Vector
	radius float64
	cfg    OrientationConfig
	cost   orientationCost
	params OrientationParams
}

// NewOrientationSolver validates the inputs and selects the objective
func NewOrientationSolver(ps PointSet, cfg OrientationConfig) (*OrientationSolver, error) {
	if err := ps.Validate(); err != nil {
		return nil, fmt.Errorf("orientation: %w", err)
	}
	s := &OrientationSolver{
		points: ps.NonNullPoints(),
		center: ps.Centroid(),
		radius: ps.BoundingRadius(),
		cfg:    cfg,
	}
	switch cfg.Objective {
	case Sagittal:
		s.cost = sagittalCost{}
	case Transverse:
		s.cost = transverseCost{}
	case ReorientTop:
		s.cost = topCost{}
	default:
		return nil, fmt.Errorf("%w: unknown orientation objective %q", ErrInvalidParams, cfg.Objective)
	}
	if err := cfg.Search.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reset clears the fitted params
func (s *OrientationSolver) Reset() {
	s.params = OrientationParams{}
}

// Space declares the dimensions relevant to the objective
func (s *OrientationSolver) Space() ParameterSpace[OrientationParams] {
	var space ParameterSpace[OrientationParams]
	s.cost.declare(&space, s.cfg.RotationRange, s.cfg.TranslationRange*s.radius)
	return space
}

// Evaluate returns the objective cost for the proposed params
func (s *OrientationSolver) Evaluate(p OrientationParams, state SearchState, q *FitQuality) float64 {
	m := p.Matrix(s.center)
	moved := make([]r3.Vector, len(s.points))
	for i, pt := range s.points {
		moved[i] = m.Apply(pt)
	}
	return s.cost.evaluate(moved, state, q)
}

// OrientationResult is the outcome of an orientation fit.
type OrientationResult struct {
	Params  OrientationParams `json:"params"`
	Matrix  Matrix4           `json:"matrix"`
	Quality FitQuality        `json:"quality"`
	Cost    float64           `json:"cost"`
}

// Fit runs the search and stores the best params
func (s *OrientationSolver) Fit(ctx context.Context) (*OrientationResult, error) {
	res, err := Minimize(ctx, s.Space(), s.Evaluate, s.cfg.Search)
	if err != nil {
		return nil, fmt.Errorf("orientation: %w", err)
	}
	s.params = res.Params
	return &OrientationResult{
		Params:  res.Params,
		Matrix:  res.Params.Matrix(s.center),
		Quality: res.Quality,
		Cost:    res.Cost,
	}, nil
}

// TransformSet applies the fitted orientation to ps
func (s *OrientationSolver) TransformSet(ps PointSet) PointSet {
	return s.params.Matrix(s.center).ApplySet(ps)
}

// FitOrientation runs one orientation objective on ps
func FitOrientation(ctx context.Context, ps PointSet, cfg OrientationConfig) (*OrientationResult, error) {
	s, err := NewOrientationSolver(ps, cfg)
	if err != nil {
		return nil, err
	}
	return s.Fit(ctx)
}

// frontBackFlip negates X and Y (a 180° turn about Z)
var frontBackFlip = Scaling(-1, -1, 1)

// ResolveFrontBackOrientation removes the 180° front/back ambiguity. Points
// below heightRatio of the bounding-box height are counted in front of or
// behind the box's Y center; when more lie behind, X and Y are negated.
// Returns the possibly flipped copy and whether a flip happened.
func ResolveFrontBackOrientation(ps PointSet, heightRatio float64) (PointSet, bool) {
	if heightRatio <= 0 || heightRatio > 1 {
		heightRatio = 0.5
	}
	lo, hi := ps.BoundingBox()
	zCut := lo.Z + heightRatio*(hi.Z-lo.Z)
	cy := (lo.Y + hi.Y) / 2

	front, back := 0, 0
	for _, p := range ps.Points {
		if IsNull(p) || p.Z >= zCut {
			continue
		}
		switch {
		case p.Y > cy:
			front++
		case p.Y < cy:
			back++
		}
	}
	if back > front {
		return frontBackFlip.ApplySet(ps), true
	}
	return ps.Clone(), false
}

// Orienter provides the matrix that brings a raw template into the
// canonical (RAS) frame.
type Orienter interface {
	Orientation(ctx context.Context, template PointSet) (Matrix4, error)
}

// FixedOrientation returns a matrix obtained elsewhere (e.g. from a
// reference montage or a configuration file).
type FixedOrientation struct {
	Matrix Matrix4
}

// Orientation returns the fixed matrix
func (f FixedOrientation) Orientation(context.Context, PointSet) (Matrix4, error) {
	return f.Matrix, nil
}

// SolverOrientation resolves the front/back ambiguity on the raw template,
// then levels it with the transverse objective and aligns its symmetry plane
// with the sagittal objective. Both fits rotate within bounded ranges, so
// they cannot undo the flip.
type SolverOrientation struct {
	Transverse  OrientationConfig
	Sagittal    OrientationConfig
	HeightRatio float64
}

// NewSolverOrientation returns a SolverOrientation with default configs
func NewSolverOrientation() SolverOrientation {
	return SolverOrientation{
		Transverse:  DefaultOrientationConfig(Transverse),
		Sagittal:    DefaultOrientationConfig(Sagittal),
		HeightRatio: 0.5,
	}
}

// Orientation composes front/back, transverse and sagittal steps
func (o SolverOrientation) Orientation(ctx context.Context, template PointSet) (Matrix4, error) {
	m := Identity()
	if _, flipped := ResolveFrontBackOrientation(template, o.HeightRatio); flipped {
		m = frontBackFlip
	}

	tr, err := FitOrientation(ctx, m.ApplySet(template), o.Transverse)
	if err != nil {
		return Identity(), fmt.Errorf("transverse plane: %w", err)
	}
	m = tr.Matrix.Mul(m)

	sg, err := FitOrientation(ctx, m.ApplySet(template), o.Sagittal)
	if err != nil {
		return Identity(), fmt.Errorf("sagittal plane: %w", err)
	}
	return sg.Matrix.Mul(m), nil
}
