package montage

import (
	"errors"
	"log"
)

var (
	// ErrInvalidInput is returned for empty point sets, point-count mismatches
	// between subjects, or names that do not match the point count.
	ErrInvalidInput = errors.New("invalid input")

	// ErrReferenceMismatch is returned when a reference set has fewer points
	// than the set it should be paired with.
	ErrReferenceMismatch = errors.New("reference mismatch")

	// ErrInvalidParams is returned when a fitter is constructed with an
	// illegal combination of parameters (e.g. Scale together with ScaleX).
	ErrInvalidParams = errors.New("invalid parameters")
)

// MaxEvaluation is the cost returned for degenerate candidates so the search
// steers away from them without producing NaN or Inf.
const MaxEvaluation = 1e10

// Logf is the package logger. It defaults to log.Printf and can be replaced
// (e.g. silenced in tests or redirected by the service).
var Logf = log.Printf

// Param is one optional scalar dimension of a fitter's parameter struct.
// An unset Param contributes nothing to the transform.
type Param struct {
	Value float64 `json:"value" yaml:"value"`
	Set   bool    `json:"set" yaml:"set"`
}

// Val returns a set Param holding v
func Val(v float64) Param {
	return Param{Value: v, Set: true}
}

// Or returns the value if set, otherwise def
func (p Param) Or(def float64) float64 {
	if p.Set {
		return p.Value
	}
	return def
}

// ScalingMode selects how many scale dimensions a fitter declares.
type ScalingMode string

const (
	// ScalingNone declares no scale dimension
	ScalingNone ScalingMode = "none"
	// ScalingUniform declares a single Scale dimension
	ScalingUniform ScalingMode = "uniform"
	// ScalingPerAxis declares ScaleX, ScaleY and ScaleZ
	ScalingPerAxis ScalingMode = "per-axis"
)
