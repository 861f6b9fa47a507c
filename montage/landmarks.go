package montage

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// LandmarkSpec identifies one reference landmark as the average of several
// montage points, given by index and/or by name.
type LandmarkSpec struct {
	Indices []int    `yaml:"indices,omitempty" json:"indices,omitempty"`
	Names   []string `yaml:"names,omitempty" json:"names,omitempty"`
}

// IsZero reports whether the spec selects nothing
func (l LandmarkSpec) IsZero() bool {
	return len(l.Indices) == 0 && len(l.Names) == 0
}

// Resolve averages the selected non-null points of ps
func (l LandmarkSpec) Resolve(ps PointSet) (r3.Vector, error) {
	var sum r3.Vector
	n := 0
	add := func(i int) error {
		if i < 0 || i >= ps.Len() {
			return fmt.Errorf("%w: landmark index %d out of range", ErrInvalidInput, i)
		}
		if !IsNull(ps.Points[i]) {
			sum = sum.Add(ps.Points[i])
			n++
		}
		return nil
	}
	for _, i := range l.Indices {
		if err := add(i); err != nil {
			return r3.Vector{}, err
		}
	}
	for _, name := range l.Names {
		if !ps.HasNames() {
			return r3.Vector{}, fmt.Errorf("%w: landmark %q needs named points", ErrInvalidInput, name)
		}
		i := ps.IndexOf(name)
		if i < 0 {
			return r3.Vector{}, fmt.Errorf("%w: landmark %q not found", ErrInvalidInput, name)
		}
		if err := add(i); err != nil {
			return r3.Vector{}, err
		}
	}
	if n == 0 {
		return r3.Vector{}, fmt.Errorf("%w: landmark selects no valid point", ErrInvalidInput)
	}
	return sum.Mul(1 / float64(n)), nil
}

// LandmarksConfig names the Cz, Fpz and Oz reference points.
type LandmarksConfig struct {
	Cz  LandmarkSpec `yaml:"cz" json:"cz"`
	Fpz LandmarkSpec `yaml:"fpz" json:"fpz"`
	Oz  LandmarkSpec `yaml:"oz" json:"oz"`

	// VertexAbove shifts Y so Cz sits directly above the origin.
	VertexAbove bool `yaml:"vertexAbove" json:"vertexAbove"`
}

// Enabled reports whether Fpz and Oz are both configured
func (c LandmarksConfig) Enabled() bool {
	return !c.Fpz.IsZero() && !c.Oz.IsZero()
}

// Landmarks are the resolved reference points.
type Landmarks struct {
	Cz    r3.Vector `json:"cz"`
	Fpz   r3.Vector `json:"fpz"`
	Oz    r3.Vector `json:"oz"`
	HasCz bool      `json:"hasCz"`
}

// ResolveLandmarks resolves the configured landmarks on ps
func ResolveLandmarks(ps PointSet, cfg LandmarksConfig) (Landmarks, error) {
	var lm Landmarks
	var err error
	if lm.Fpz, err = cfg.Fpz.Resolve(ps); err != nil {
		return lm, fmt.Errorf("fpz: %w", err)
	}
	if lm.Oz, err = cfg.Oz.Resolve(ps); err != nil {
		return lm, fmt.Errorf("oz: %w", err)
	}
	if !cfg.Cz.IsZero() {
		if lm.Cz, err = cfg.Cz.Resolve(ps); err != nil {
			return lm, fmt.Errorf("cz: %w", err)
		}
		lm.HasCz = true
	}
	return lm, nil
}

// LandmarkAlignment returns the rigid transform that levels the Fpz-Oz axis
// with a rotation about X of at most 90° and moves the origin to
// (0, midY, midZ) of that axis. When Fpz would face -Y the head is turned
// 180° about Z rather than rolled over. With vertexAbove and a Cz landmark
// the Y origin is taken at Cz instead.
func LandmarkAlignment(lm Landmarks, vertexAbove bool) Matrix4 {
	axis := lm.Fpz.Sub(lm.Oz)
	level := axis
	if level.Y < 0 {
		level = level.Mul(-1)
	}
	rot := RotationX(radToDeg(math.Atan2(-level.Z, level.Y)))
	if rot.ApplyDirection(axis).Y < 0 {
		rot = frontBackFlip.Mul(rot)
	}

	fpz, oz := rot.Apply(lm.Fpz), rot.Apply(lm.Oz)
	mid := fpz.Add(oz).Mul(0.5)
	origin := r3.Vector{X: 0, Y: mid.Y, Z: mid.Z}
	if vertexAbove && lm.HasCz {
		origin.Y = rot.Apply(lm.Cz).Y
	}
	return Translation(origin.Mul(-1)).Mul(rot)
}
