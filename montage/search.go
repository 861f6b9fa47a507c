package montage

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// SearchState is what an objective knows about the progress of the search.
type SearchState struct {
	// Precision is the largest current window half-width relative to its
	// initial half-width. Starts at 1 and shrinks monotonically.
	Precision float64

	// OutlierPrecision is the fixed precision below which outlier
	// rejection starts tightening from 4 SD toward 1 SD.
	OutlierPrecision float64
}

// Dimension is one scalar search dimension bound to a field of P.
type Dimension[P any] struct {
	Name    string
	Lower   float64
	Upper   float64
	Initial float64
	Field   func(*P) *Param
}

// ParameterGroup is a named ordered set of dimensions (e.g. "rotation").
type ParameterGroup[P any] struct {
	Name string
	Dims []Dimension[P]
}

// ParameterSpace collects the groups a fitter declares for one fit call.
// Base holds parameters that are fixed for the call; declared dimensions are
// written on top of it.
type ParameterSpace[P any] struct {
	Base   P
	Groups []ParameterGroup[P]
}

// Add appends a group. Groups without dimensions are ignored.
func (s *ParameterSpace[P]) Add(name string, dims ...Dimension[P]) {
	if len(dims) == 0 {
		return
	}
	s.Groups = append(s.Groups, ParameterGroup[P]{Name: name, Dims: dims})
}

// Dimensions returns all dimensions in declaration order
func (s ParameterSpace[P]) Dimensions() []Dimension[P] {
	var out []Dimension[P]
	for _, g := range s.Groups {
		out = append(out, g.Dims...)
	}
	return out
}

// Decode builds a parameter struct from one value per dimension
func (s ParameterSpace[P]) Decode(values []float64) P {
	p := s.Base
	for i, d := range s.Dimensions() {
		*d.Field(&p) = Param{Value: values[i], Set: true}
	}
	return p
}

// Initial returns the initial values clamped into their bounds
func (s ParameterSpace[P]) Initial() []float64 {
	dims := s.Dimensions()
	out := make([]float64, len(dims))
	for i, d := range dims {
		out[i] = clip(d.Initial, d.Lower, d.Upper)
	}
	return out
}

// Objective evaluates a candidate. Lower is better. q may be nil.
type Objective[P any] func(p P, state SearchState, q *FitQuality) float64

// SearchConfig controls the coarse-to-fine search.
type SearchConfig struct {
	// Precision is the target relative window half-width (default 1e-4).
	Precision float64 `yaml:"precision" json:"precision"`

	// OutlierPrecision is where outlier rejection starts tightening (default 0.05).
	OutlierPrecision float64 `yaml:"outlierPrecision" json:"outlierPrecision"`

	// Candidates is the number of evenly spaced values tried per dimension
	// and iteration (default 7, forced odd and >= 3).
	Candidates int `yaml:"candidates" json:"candidates"`

	// Shrink is the per-iteration window factor (default 0.6).
	Shrink float64 `yaml:"shrink" json:"shrink"`

	// MaxIterations caps the number of sweeps (default 200).
	MaxIterations int `yaml:"maxIterations" json:"maxIterations"`

	// Polish runs a bounded Nelder-Mead refinement after the sweeps.
	Polish bool `yaml:"polish" json:"polish"`

	// PolishEvaluations caps the Nelder-Mead function evaluations (default 2000).
	PolishEvaluations int `yaml:"polishEvaluations" json:"polishEvaluations"`

	// Verbose logs a summary line per search.
	Verbose bool `yaml:"verbose" json:"verbose"`
}

// DefaultSearchConfig returns a SearchConfig with sensible defaults
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Precision:         1e-4,
		OutlierPrecision:  0.05,
		Candidates:        7,
		Shrink:            0.6,
		MaxIterations:     200,
		Polish:            true,
		PolishEvaluations: 2000,
	}
}

// withDefaults fills zero fields from DefaultSearchConfig
func (c SearchConfig) withDefaults() SearchConfig {
	d := DefaultSearchConfig()
	if c.Precision <= 0 {
		c.Precision = d.Precision
	}
	if c.OutlierPrecision <= 0 {
		c.OutlierPrecision = d.OutlierPrecision
	}
	if c.Candidates < 3 {
		c.Candidates = d.Candidates
	}
	if c.Candidates%2 == 0 {
		c.Candidates++
	}
	if c.Shrink <= 0 || c.Shrink >= 1 {
		c.Shrink = d.Shrink
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.PolishEvaluations <= 0 {
		c.PolishEvaluations = d.PolishEvaluations
	}
	return c
}

// Validate checks the configured values are usable
func (c SearchConfig) Validate() error {
	if c.Precision < 0 || c.Precision >= 1 {
		return fmt.Errorf("%w: search precision %g must be in [0, 1)", ErrInvalidParams, c.Precision)
	}
	if c.Shrink < 0 || c.Shrink >= 1 {
		return fmt.Errorf("%w: search shrink %g must be in [0, 1)", ErrInvalidParams, c.Shrink)
	}
	return nil
}

// SearchResult is the outcome of Minimize.
type SearchResult[P any] struct {
	Params      P
	Values      []float64
	Cost        float64
	Quality     FitQuality
	State       SearchState
	Iterations  int
	Evaluations int
}

// Minimize runs the coarse-to-fine coordinate search over space. Each
// iteration re-evaluates the incumbent at the current state, sweeps every
// dimension across its window, tries one pattern move along the net
// displacement, then shrinks every window whose sweep found no better value.
// A window that keeps improving keeps its width, so the search can travel
// along narrow valleys. Declaring no dimensions yields space.Base evaluated
// once.
func Minimize[P any](ctx context.Context, space ParameterSpace[P], obj Objective[P], cfg SearchConfig) (SearchResult[P], error) {
	cfg = cfg.withDefaults()
	dims := space.Dimensions()
	state := SearchState{Precision: 1, OutlierPrecision: cfg.OutlierPrecision}
	res := SearchResult[P]{State: state}

	evaluate := func(v []float64, st SearchState, q *FitQuality) float64 {
		res.Evaluations++
		c := obj(space.Decode(v), st, q)
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return MaxEvaluation
		}
		return c
	}

	if len(dims) == 0 {
		res.Params = space.Base
		res.Cost = evaluate(nil, state, &res.Quality)
		return res, nil
	}

	x := space.Initial()
	h0 := make([]float64, len(dims))
	h := make([]float64, len(dims))
	for i, d := range dims {
		h0[i] = (d.Upper - d.Lower) / 2
		if h0[i] < 0 {
			h0[i] = 0
		}
		h[i] = h0[i]
	}

	cand := make([]float64, len(dims))
	for res.Iterations < cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("search cancelled: %w", err)
		}
		res.Iterations++

		best := evaluate(x, state, nil)
		start := append([]float64(nil), x...)
		improved := make([]bool, len(dims))

		for i, d := range dims {
			if h[i] == 0 {
				continue
			}
			copy(cand, x)
			bestV := x[i]
			for k := 0; k < cfg.Candidates; k++ {
				t := -1 + 2*float64(k)/float64(cfg.Candidates-1)
				v := clip(x[i]+t*h[i], d.Lower, d.Upper)
				if v == x[i] {
					continue
				}
				cand[i] = v
				if c := evaluate(cand, state, nil); c < best {
					best = c
					bestV = v
				}
			}
			improved[i] = bestV != x[i]
			x[i] = bestV
		}

		moved := false
		for i := range x {
			cand[i] = clip(2*x[i]-start[i], dims[i].Lower, dims[i].Upper)
			if cand[i] != x[i] {
				moved = true
			}
		}
		if moved {
			if c := evaluate(cand, state, nil); c < best {
				copy(x, cand)
			}
		}

		precision := 0.0
		for i := range h {
			if !improved[i] {
				h[i] *= cfg.Shrink
			}
			if h0[i] > 0 {
				precision = math.Max(precision, h[i]/h0[i])
			}
		}
		state.Precision = math.Min(state.Precision, precision)
		if state.Precision <= cfg.Precision {
			break
		}
	}

	if cfg.Polish {
		x = polish(x, dims, h0, state, evaluate, cfg)
	}

	res.Values = x
	res.Params = space.Decode(x)
	res.State = state
	res.Cost = evaluate(x, state, &res.Quality)
	if cfg.Verbose {
		Logf("[SEARCH] %d dims, %d iterations, %d evaluations, precision=%.2g, cost=%.6g",
			len(dims), res.Iterations, res.Evaluations, state.Precision, res.Cost)
	}
	return res, nil
}

// polish refines x with Nelder-Mead in coordinates scaled to 1% of each
// dimension's initial half-width. Candidates outside the bounds cost
// MaxEvaluation. The result is kept only if it improves the cost.
func polish[P any](x []float64, dims []Dimension[P], h0 []float64, state SearchState,
	evaluate func([]float64, SearchState, *FitQuality) float64, cfg SearchConfig) []float64 {
	free := make([]int, 0, len(dims))
	for i := range dims {
		if h0[i] > 0 {
			free = append(free, i)
		}
	}
	if len(free) == 0 {
		return x
	}

	scaleOf := func(i int) float64 { return h0[i] * 0.01 }
	trial := make([]float64, len(x))
	decode := func(u []float64) ([]float64, bool) {
		copy(trial, x)
		for k, i := range free {
			v := x[i] + u[k]*scaleOf(i)
			if v < dims[i].Lower || v > dims[i].Upper {
				return nil, false
			}
			trial[i] = v
		}
		return trial, true
	}

	base := evaluate(x, state, nil)
	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			v, ok := decode(u)
			if !ok {
				return MaxEvaluation
			}
			return evaluate(v, state, nil)
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: cfg.PolishEvaluations,
		Concurrent:      1,
	}
	result, err := optimize.Minimize(problem, make([]float64, len(free)), settings, &optimize.NelderMead{})
	if result == nil || (err != nil && len(result.X) != len(free)) {
		return x
	}
	if result.F >= base {
		return x
	}
	v, ok := decode(result.X)
	if !ok {
		return x
	}
	return append([]float64(nil), v...)
}
