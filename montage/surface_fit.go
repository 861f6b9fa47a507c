package montage

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// SurfaceFitMode selects the objective of the surface fit.
type SurfaceFitMode string

const (
	// Norm1 sums |dr|, robust to noise spikes
	Norm1 SurfaceFitMode = "norm1"
	// Norm2 sums dr², preferred on clean data
	Norm2 SurfaceFitMode = "norm2"
	// WeightedNorm1 is Norm1 favouring superior and posterior points
	WeightedNorm1 SurfaceFitMode = "weighted-norm1"
	// WeightedNorm2 is Norm2 favouring superior and posterior points
	WeightedNorm2 SurfaceFitMode = "weighted-norm2"
	// ContainModel1 searches the tightest, most centered enclosing model (linear spread)
	ContainModel1 SurfaceFitMode = "contain1"
	// ContainModel2 searches the tightest, most centered enclosing model (squared spread)
	ContainModel2 SurfaceFitMode = "contain2"
)

// Deformation names accepted in SurfaceFitConfig.Deformations.
var deformationFields = map[string]func(*SurfaceParams) *Param{
	"flattenX":       func(p *SurfaceParams) *Param { return &p.FlattenX },
	"flattenY":       func(p *SurfaceParams) *Param { return &p.FlattenY },
	"flattenZ":       func(p *SurfaceParams) *Param { return &p.FlattenZ },
	"topBump":        func(p *SurfaceParams) *Param { return &p.TopBump },
	"topLateralBump": func(p *SurfaceParams) *Param { return &p.TopLateralBump },
	"pinchXbyY":      func(p *SurfaceParams) *Param { return &p.PinchXbyY },
	"pinchXbyZ":      func(p *SurfaceParams) *Param { return &p.PinchXbyZ },
	"pinchYbyZ":      func(p *SurfaceParams) *Param { return &p.PinchYbyZ },
	"shearZbyY":      func(p *SurfaceParams) *Param { return &p.ShearZbyY },
}

// SurfaceFitConfig holds the options of a surface fit.
type SurfaceFitConfig struct {
	Mode    SurfaceFitMode `yaml:"mode" json:"mode"`
	Scaling ScalingMode    `yaml:"scaling" json:"scaling"`

	// ScaleMin and ScaleMax bound the scale as fractions of the mean
	// distance of the points from their centroid (default 0.5 and 1.5).
	ScaleMin float64 `yaml:"scaleMin" json:"scaleMin"`
	ScaleMax float64 `yaml:"scaleMax" json:"scaleMax"`

	Rotate        bool    `yaml:"rotate" json:"rotate"`
	RotationRange float64 `yaml:"rotationRange" json:"rotationRange"`

	Translate bool `yaml:"translate" json:"translate"`
	// TranslationRange is a fraction of the mean distance (default 0.5).
	TranslationRange float64 `yaml:"translationRange" json:"translationRange"`

	// Deformations lists the shape terms to fit, e.g. "flattenZ", "topBump".
	Deformations     []string `yaml:"deformations" json:"deformations"`
	DeformationRange float64  `yaml:"deformationRange" json:"deformationRange"`

	Search SearchConfig `yaml:"search" json:"search"`
}

// DefaultSurfaceFitConfig returns a SurfaceFitConfig with sensible defaults
func DefaultSurfaceFitConfig() SurfaceFitConfig {
	return SurfaceFitConfig{
		Mode:             Norm2,
		Scaling:          ScalingPerAxis,
		ScaleMin:         0.5,
		ScaleMax:         1.5,
		RotationRange:    15,
		Translate:        true,
		TranslationRange: 0.5,
		DeformationRange: 0.3,
		Search:           DefaultSearchConfig(),
	}
}

// Validate checks mode, scaling and deformation names
func (c SurfaceFitConfig) Validate() error {
	if _, err := c.objective(); err != nil {
		return err
	}
	switch c.Scaling {
	case ScalingUniform, ScalingPerAxis:
	default:
		return fmt.Errorf("%w: surface scaling %q", ErrInvalidParams, c.Scaling)
	}
	if c.ScaleMin <= 0 || c.ScaleMax < c.ScaleMin {
		return fmt.Errorf("%w: scale bounds [%g, %g]", ErrInvalidParams, c.ScaleMin, c.ScaleMax)
	}
	for _, d := range c.Deformations {
		if _, ok := deformationFields[d]; !ok {
			return fmt.Errorf("%w: unknown deformation %q", ErrInvalidParams, d)
		}
	}
	return c.Search.Validate()
}

// objective maps the configured mode onto its strategy
func (c SurfaceFitConfig) objective() (surfaceObjective, error) {
	switch c.Mode {
	case Norm1:
		return normObjective{}, nil
	case Norm2:
		return normObjective{squared: true}, nil
	case WeightedNorm1:
		return normObjective{weighted: true}, nil
	case WeightedNorm2:
		return normObjective{squared: true, weighted: true}, nil
	case ContainModel1:
		return containObjective{}, nil
	case ContainModel2:
		return containObjective{squared: true}, nil
	default:
		return nil, fmt.Errorf("%w: unknown surface fit mode %q", ErrInvalidParams, c.Mode)
	}
}

// surfaceObjective is one fitting mode.
type surfaceObjective interface {
	evaluate(f *SurfaceFitter, m *SurfaceModel, state SearchState, q *FitQuality) float64
}

// normObjective accumulates |dr| or dr², optionally weighted, after outlier
// trimming on |dr|.
type normObjective struct {
	squared  bool
	weighted bool
}

func (o normObjective) evaluate(f *SurfaceFitter, m *SurfaceModel, state SearchState, q *FitQuality) float64 {
	center := m.Center()
	res := mapResiduals(len(f.points), func(i int) float64 {
		d := f.points[i].Sub(center)
		tonorm := d.Norm()
		if tonorm == 0 {
			return skipped
		}
		return math.Abs(m.Forward(d).Norm() - tonorm)
	})
	keep, _ := TrimOutliers(res, state)
	if q != nil {
		*q = qualityOf(res, keep)
	}
	var weights []float64
	if o.weighted {
		weights = f.weights
	}
	sum := reduceResiduals(res, weights, keep, o.squared)
	if sum.Count == 0 {
		return MaxEvaluation
	}
	return sum.Mean()
}

// containObjective rewards the smallest, most centered model that contains
// every point. For each point the distances to the 12 transformed
// icosahedron vertices give dmin and dmax; the cost is dmax + (dmax-dmin)
// (or the squared form). Points outside the model cost a fixed penalty.
// Ties between candidates with the same spread are broken toward the
// smaller model by adding 1e-9·modelnorm.
type containObjective struct {
	squared bool
}

const containTieBreak = 1e-9

func (o containObjective) evaluate(f *SurfaceFitter, m *SurfaceModel, state SearchState, q *FitQuality) float64 {
	center := m.Center()
	verts := make([]r3.Vector, len(f.ico))
	for k, v := range f.ico {
		verts[k] = m.Forward(v)
	}
	drs := make([]float64, len(f.points))
	costs := mapResiduals(len(f.points), func(i int) float64 {
		d := f.points[i].Sub(center)
		tonorm := d.Norm()
		if tonorm == 0 {
			drs[i] = skipped
			return skipped
		}
		modelnorm := m.Forward(d).Norm()
		dr := modelnorm - tonorm
		drs[i] = math.Abs(dr)
		if dr < 0 {
			return f.penalty
		}
		dmin, dmax := math.Inf(1), 0.0
		for _, v := range verts {
			dist := d.Sub(v).Norm()
			dmin = math.Min(dmin, dist)
			dmax = math.Max(dmax, dist)
		}
		spread := dmax - dmin
		if o.squared {
			return dmax*dmax + spread*spread + containTieBreak*modelnorm
		}
		return dmax + spread + containTieBreak*modelnorm
	})
	if q != nil {
		*q = qualityOf(drs, nil)
	}
	sum := reduceResiduals(costs, nil, nil, false)
	if sum.Count == 0 {
		return MaxEvaluation
	}
	return sum.Mean()
}

// SurfaceFitter fits a SurfaceModel to a point cloud.
type SurfaceFitter struct {
	points   []r3.Vector
	weights  []float64
	centroid r3.Vector
	meanDist float64
	penalty  float64
	ico      []r3.Vector
	cfg      SurfaceFitConfig
	strategy surfaceObjective
	model    *SurfaceModel
}

// NewSurfaceFitter validates the inputs and selects the objective
func NewSurfaceFitter(ps PointSet, cfg SurfaceFitConfig) (*SurfaceFitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ps.Validate(); err != nil {
		return nil, fmt.Errorf("surface fit: %w", err)
	}
	pts := ps.NonNullPoints()
	if len(pts) < 4 {
		return nil, fmt.Errorf("%w: surface fit needs at least 4 points, got %d", ErrInvalidInput, len(pts))
	}
	strategy, _ := cfg.objective()

	f := &SurfaceFitter{
		points:   pts,
		centroid: ps.Centroid(),
		ico:      icosahedron(),
		cfg:      cfg,
		strategy: strategy,
	}
	for _, p := range pts {
		f.meanDist += p.Sub(f.centroid).Norm()
	}
	f.meanDist /= float64(len(pts))
	f.penalty = 100 * (4 * f.meanDist * f.meanDist)
	f.weights = postSuperiorWeights(ps, pts)
	return f, nil
}

// postSuperiorWeights favours superior and posterior points: the weight is
// the larger of two linear ramps over the bounding box, clipped to [0.1, 1].
func postSuperiorWeights(ps PointSet, pts []r3.Vector) []float64 {
	lo, hi := ps.BoundingBox()
	size := hi.Sub(lo)
	w := make([]float64, len(pts))
	for i, p := range pts {
		rel := p.Sub(lo)
		rel = r3.Vector{X: rel.X / nonNull(size.X), Y: rel.Y / nonNull(size.Y), Z: rel.Z / nonNull(size.Z)}
		rel = clipVector(rel, 0, 1)
		superior := clip(2*rel.Z, 0.1, 1)
		posterior := clip(2*(1-rel.Y), 0.1, 1)
		w[i] = math.Max(superior, posterior)
	}
	return w
}

// Reset drops the fitted model
func (f *SurfaceFitter) Reset() {
	f.model = nil
}

// Model returns the fitted model, or nil before Fit
func (f *SurfaceFitter) Model() *SurfaceModel {
	return f.model
}

// Space declares scaling, rotation, translation and deformation groups
func (f *SurfaceFitter) Space() ParameterSpace[SurfaceParams] {
	var s ParameterSpace[SurfaceParams]
	type dim = Dimension[SurfaceParams]

	lo, hi := f.cfg.ScaleMin*f.meanDist, f.cfg.ScaleMax*f.meanDist
	if f.cfg.Scaling == ScalingUniform {
		s.Add("scaling", dim{Name: "scale", Lower: lo, Upper: hi, Initial: f.meanDist, Field: func(p *SurfaceParams) *Param { return &p.Scale }})
	} else {
		s.Add("scaling",
			dim{Name: "scaleX", Lower: lo, Upper: hi, Initial: f.meanDist, Field: func(p *SurfaceParams) *Param { return &p.ScaleX }},
			dim{Name: "scaleY", Lower: lo, Upper: hi, Initial: f.meanDist, Field: func(p *SurfaceParams) *Param { return &p.ScaleY }},
			dim{Name: "scaleZ", Lower: lo, Upper: hi, Initial: f.meanDist, Field: func(p *SurfaceParams) *Param { return &p.ScaleZ }},
		)
	}

	if f.cfg.Rotate && f.cfg.RotationRange > 0 {
		rr := f.cfg.RotationRange
		s.Add("rotation",
			dim{Name: "rotateX", Lower: -rr, Upper: rr, Field: func(p *SurfaceParams) *Param { return &p.RotateX }},
			dim{Name: "rotateY", Lower: -rr, Upper: rr, Field: func(p *SurfaceParams) *Param { return &p.RotateY }},
			dim{Name: "rotateZ", Lower: -rr, Upper: rr, Field: func(p *SurfaceParams) *Param { return &p.RotateZ }},
		)
	}

	if f.cfg.Translate {
		tr := f.cfg.TranslationRange * f.meanDist
		c := f.centroid
		s.Add("translation",
			dim{Name: "translateX", Lower: c.X - tr, Upper: c.X + tr, Initial: c.X, Field: func(p *SurfaceParams) *Param { return &p.TranslateX }},
			dim{Name: "translateY", Lower: c.Y - tr, Upper: c.Y + tr, Initial: c.Y, Field: func(p *SurfaceParams) *Param { return &p.TranslateY }},
			dim{Name: "translateZ", Lower: c.Z - tr, Upper: c.Z + tr, Initial: c.Z, Field: func(p *SurfaceParams) *Param { return &p.TranslateZ }},
		)
	} else {
		s.Base.TranslateX, s.Base.TranslateY, s.Base.TranslateZ = Val(f.centroid.X), Val(f.centroid.Y), Val(f.centroid.Z)
	}

	var shape []dim
	dr := f.cfg.DeformationRange
	for _, name := range f.cfg.Deformations {
		shape = append(shape, dim{Name: name, Lower: -dr, Upper: dr, Field: deformationFields[name]})
	}
	s.Add("deformation", shape...)
	return s
}

// Evaluate returns the cost of the proposed params under the configured mode
func (f *SurfaceFitter) Evaluate(p SurfaceParams, state SearchState, q *FitQuality) float64 {
	if p.Validate() != nil {
		return MaxEvaluation
	}
	return f.strategy.evaluate(f, newSurfaceModel(p), state, q)
}

// SurfaceFitResult is the outcome of a surface fit.
type SurfaceFitResult struct {
	Params      SurfaceParams `json:"params"`
	Quality     FitQuality    `json:"quality"`
	Cost        float64       `json:"cost"`
	Iterations  int           `json:"iterations"`
	Evaluations int           `json:"evaluations"`
	Model       *SurfaceModel `json:"-"`
}

// Fit runs the search and keeps the best model
func (f *SurfaceFitter) Fit(ctx context.Context) (*SurfaceFitResult, error) {
	res, err := Minimize(ctx, f.Space(), f.Evaluate, f.cfg.Search)
	if err != nil {
		return nil, fmt.Errorf("surface fit: %w", err)
	}
	model, err := NewSurfaceModel(res.Params)
	if err != nil {
		return nil, err
	}
	f.model = model
	return &SurfaceFitResult{
		Params:      res.Params,
		Quality:     res.Quality,
		Cost:        res.Cost,
		Iterations:  res.Iterations,
		Evaluations: res.Evaluations,
		Model:       model,
	}, nil
}

// FitSurface fits a model to ps
func FitSurface(ctx context.Context, ps PointSet, cfg SurfaceFitConfig) (*SurfaceFitResult, error) {
	f, err := NewSurfaceFitter(ps, cfg)
	if err != nil {
		return nil, err
	}
	return f.Fit(ctx)
}
