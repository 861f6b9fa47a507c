package montage

import (
	"context"
	"fmt"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"
)

// CanonicalizeMethod selects where the canonical (RAS) orientation of the
// template comes from.
type CanonicalizeMethod string

const (
	// CanonicalizeNone keeps the template in the frame of the first subject
	CanonicalizeNone CanonicalizeMethod = "none"
	// CanonicalizeSolver estimates the frame with the orientation solver
	CanonicalizeSolver CanonicalizeMethod = "solver"
	// CanonicalizeMatrix applies a fixed, externally obtained matrix
	CanonicalizeMatrix CanonicalizeMethod = "matrix"
)

// CanonicalizeConfig configures the canonicalization step.
type CanonicalizeConfig struct {
	Method CanonicalizeMethod `yaml:"method" json:"method"`

	// Matrix is required with CanonicalizeMatrix.
	Matrix *Matrix4 `yaml:"matrix,omitempty" json:"matrix,omitempty"`

	// HeightRatio is the fraction of the template height used for the
	// front/back decision (default 0.5).
	HeightRatio float64 `yaml:"heightRatio" json:"heightRatio"`
}

// Orienter returns the Orienter for the configured method, or nil for none
func (c CanonicalizeConfig) Orienter() (Orienter, error) {
	switch c.Method {
	case "", CanonicalizeNone:
		return nil, nil
	case CanonicalizeMatrix:
		if c.Matrix == nil {
			return nil, fmt.Errorf("%w: canonicalize method matrix needs a matrix", ErrInvalidParams)
		}
		return FixedOrientation{Matrix: *c.Matrix}, nil
	case CanonicalizeSolver:
		o := NewSolverOrientation()
		if c.HeightRatio > 0 {
			o.HeightRatio = c.HeightRatio
		}
		return o, nil
	default:
		return nil, fmt.Errorf("%w: unknown canonicalize method %q", ErrInvalidParams, c.Method)
	}
}

// TemplateConfig holds every option of a template build.
type TemplateConfig struct {
	Registration RegistrationConfig `yaml:"registration" json:"registration"`

	// Repetitions is the number of refinement passes (default 3).
	Repetitions int `yaml:"repetitions" json:"repetitions"`

	Canonicalize CanonicalizeConfig `yaml:"canonicalize" json:"canonicalize"`

	// Symmetrize makes the final template mirror-symmetric about its
	// estimated sagittal plane.
	Symmetrize bool              `yaml:"symmetrize" json:"symmetrize"`
	Sagittal   OrientationConfig `yaml:"sagittal" json:"sagittal"`

	Landmarks LandmarksConfig   `yaml:"landmarks" json:"landmarks"`
	Quality   QualityThresholds `yaml:"quality" json:"quality"`

	// SubjectNames label subjects in diagnostics and reports.
	SubjectNames []string `yaml:"-" json:"-"`
}

// DefaultTemplateConfig returns a TemplateConfig with the standard settings
func DefaultTemplateConfig() TemplateConfig {
	return TemplateConfig{
		Registration: DefaultRegistrationConfig(),
		Repetitions:  3,
		Canonicalize: CanonicalizeConfig{Method: CanonicalizeSolver, HeightRatio: 0.5},
		Symmetrize:   true,
		Sagittal:     DefaultOrientationConfig(Sagittal),
		Quality:      DefaultQualityThresholds(),
	}
}

// Validate checks the nested configs
func (c TemplateConfig) Validate() error {
	if c.Repetitions < 0 {
		return fmt.Errorf("%w: negative repetitions", ErrInvalidParams)
	}
	if err := c.Registration.Validate(); err != nil {
		return fmt.Errorf("registration: %w", err)
	}
	if _, err := c.Canonicalize.Orienter(); err != nil {
		return err
	}
	if c.Symmetrize {
		if err := c.Sagittal.Search.Validate(); err != nil {
			return fmt.Errorf("sagittal: %w", err)
		}
	}
	return nil
}

// TemplateResult is the outcome of a template build.
type TemplateResult struct {
	Template PointSet `json:"template"`

	// Registered holds every subject mapped into the template frame.
	Registered []PointSet `json:"registered"`

	// Transforms map each raw subject into the template frame.
	Transforms []Matrix4 `json:"transforms"`

	// Mask marks the points that took part in averaging.
	Mask [][]bool `json:"-"`

	Quality     []FitQuality     `json:"quality"`
	Diagnostics Diagnostics      `json:"diagnostics"`
	Warnings    []QualityWarning `json:"warnings,omitempty"`
	Landmarks   *Landmarks       `json:"landmarks,omitempty"`
	Subjects    []string         `json:"subjects"`
}

// templateBuilder is the mutable state of one build.
type templateBuilder struct {
	cfg        TemplateConfig
	subjects   []PointSet
	mask       [][]bool
	template   PointSet
	registered []PointSet
	transforms []Matrix4
	quality    []FitQuality
}

// BuildTemplate converges the subjects onto one group-average montage,
// canonicalizes it and reports per-subject and per-electrode dispersion.
// Subjects must all have the same number of points; points are matched by
// index and null points are excluded from averaging.
func BuildTemplate(ctx context.Context, subjects []PointSet, cfg TemplateConfig) (*TemplateResult, error) {
	if err := validateSubjects(subjects); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &templateBuilder{
		cfg:        cfg,
		subjects:   subjects,
		mask:       make([][]bool, len(subjects)),
		registered: make([]PointSet, len(subjects)),
		transforms: make([]Matrix4, len(subjects)),
		quality:    make([]FitQuality, len(subjects)),
	}
	for s, ps := range subjects {
		b.mask[s] = ps.NonNullMask()
	}

	Logf("[TEMPLATE] Building template from %d subjects of %d points", len(subjects), subjects[0].Len())

	// bootstrap onto the first subject
	b.registered[0] = subjects[0].Clone()
	b.transforms[0] = Identity()
	if err := b.registerAll(ctx, subjects[0], 1); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	b.template = b.average()

	for rep := 0; rep < cfg.Repetitions; rep++ {
		if err := b.registerAll(ctx, b.template, 0); err != nil {
			return nil, fmt.Errorf("refinement %d: %w", rep+1, err)
		}
		b.template = b.average()
		Logf("[TEMPLATE] Refinement %d/%d: mean residual %.4f", rep+1, cfg.Repetitions, b.meanResidual())
	}

	if err := b.registerAll(ctx, b.template, 0); err != nil {
		return nil, fmt.Errorf("final registration: %w", err)
	}

	if err := b.canonicalize(ctx); err != nil {
		return nil, err
	}
	if cfg.Symmetrize {
		if err := b.symmetrize(ctx); err != nil {
			return nil, err
		}
	}

	res := &TemplateResult{
		Mask:     b.mask,
		Quality:  b.quality,
		Subjects: subjectNames(cfg.SubjectNames, len(subjects)),
	}
	if cfg.Landmarks.Enabled() {
		lm, err := b.alignLandmarks()
		if err != nil {
			return nil, err
		}
		res.Landmarks = &lm
	}

	res.Template = b.template
	res.Registered = b.registered
	res.Transforms = b.transforms
	res.Diagnostics = ComputeDiagnostics(b.template, b.registered, b.mask, res.Subjects, cfg.Quality)
	res.Warnings = res.Diagnostics.Warnings
	for _, w := range res.Warnings {
		Logf("[TEMPLATE] Warning: %s flagged (%v): average %.3f (%.2fx global), CV %.2f",
			w.Name, w.Reasons, w.Average, w.Ratio, w.CV)
	}
	Logf("[TEMPLATE] Done: global average distance %.4f", res.Diagnostics.GlobalAverage)
	return res, nil
}

func validateSubjects(subjects []PointSet) error {
	if len(subjects) == 0 {
		return fmt.Errorf("%w: no subjects", ErrInvalidInput)
	}
	n := subjects[0].Len()
	for s, ps := range subjects {
		if err := ps.Validate(); err != nil {
			return fmt.Errorf("subject %d: %w", s+1, err)
		}
		if ps.Len() != n {
			return fmt.Errorf("%w: subject %d has %d points, expected %d", ErrInvalidInput, s+1, ps.Len(), n)
		}
	}
	return nil
}

func subjectNames(names []string, n int) []string {
	out := make([]string, n)
	for s := range out {
		out[s] = subjectName(names, s)
	}
	return out
}

// registerAll registers subjects[from:] onto target concurrently
func (b *templateBuilder) registerAll(ctx context.Context, target PointSet, from int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(ParallelFactor)
	for s := from; s < len(b.subjects); s++ {
		g.Go(func() error {
			reg, err := NewRegistration(b.subjects[s], target, b.cfg.Registration)
			if err != nil {
				return fmt.Errorf("subject %d: %w", s+1, err)
			}
			res, err := reg.Fit(ctx)
			if err != nil {
				return fmt.Errorf("subject %d: %w", s+1, err)
			}
			b.registered[s] = reg.TransformSet(b.subjects[s], true)
			b.transforms[s] = res.Matrix
			b.quality[s] = res.Quality
			return nil
		})
	}
	return g.Wait()
}

// average computes the masked per-point mean of the registered subjects.
// A point masked out in every subject stays null.
func (b *templateBuilder) average() PointSet {
	n := b.subjects[0].Len()
	out := PointSet{Points: make([]r3.Vector, n)}
	if b.subjects[0].HasNames() {
		out.Names = append([]string(nil), b.subjects[0].Names...)
	}
	for e := 0; e < n; e++ {
		var sum r3.Vector
		count := 0
		for s, ps := range b.registered {
			if !b.mask[s][e] {
				continue
			}
			sum = sum.Add(ps.Points[e])
			count++
		}
		if count > 0 {
			out.Points[e] = sum.Mul(1 / float64(count))
		}
	}
	return out
}

// meanResidual is the masked mean distance of registered points to the template
func (b *templateBuilder) meanResidual() float64 {
	var sum float64
	n := 0
	for s, ps := range b.registered {
		for e, p := range ps.Points {
			if !b.mask[s][e] || IsNull(b.template.Points[e]) {
				continue
			}
			sum += p.Sub(b.template.Points[e]).Norm()
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// apply moves the template, every registered subject and every transform
// by m
func (b *templateBuilder) apply(m Matrix4) {
	b.template = m.ApplySet(b.template)
	for s := range b.registered {
		b.registered[s] = m.ApplySet(b.registered[s])
		b.transforms[s] = m.Mul(b.transforms[s])
	}
}

func (b *templateBuilder) canonicalize(ctx context.Context) error {
	o, err := b.cfg.Canonicalize.Orienter()
	if err != nil || o == nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := o.Orientation(ctx, b.template)
	if err != nil {
		return fmt.Errorf("canonicalize: %w", err)
	}
	b.apply(m)
	Logf("[TEMPLATE] Canonicalized template (%s)", b.cfg.Canonicalize.Method)
	return nil
}

// symmetrize moves everything into the sagittal frame, then replaces the
// template by its symmetrized version
func (b *templateBuilder) symmetrize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sym, plane, err := Symmetrize(ctx, b.template, b.cfg.Sagittal)
	if err != nil {
		return err
	}
	b.apply(plane)
	b.template = sym
	Logf("[TEMPLATE] Symmetrized template")
	return nil
}

// alignLandmarks levels the Fpz-Oz axis and returns the landmarks in the
// final frame
func (b *templateBuilder) alignLandmarks() (Landmarks, error) {
	lm, err := ResolveLandmarks(b.template, b.cfg.Landmarks)
	if err != nil {
		return Landmarks{}, fmt.Errorf("landmarks: %w", err)
	}
	m := LandmarkAlignment(lm, b.cfg.Landmarks.VertexAbove)
	b.apply(m)
	lm.Cz, lm.Fpz, lm.Oz = m.Apply(lm.Cz), m.Apply(lm.Fpz), m.Apply(lm.Oz)
	if !lm.HasCz {
		lm.Cz = r3.Vector{}
	}
	return lm, nil
}
