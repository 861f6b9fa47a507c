package montage

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Matrix4 is a 4x4 homogeneous transform, row-major.
// Applying a*b is equivalent to applying b first, then a.
type Matrix4 [4][4]float64

// Identity returns the identity transform
func Identity() Matrix4 {
	return Matrix4{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Translation creates a translation-only transform
func Translation(v r3.Vector) Matrix4 {
	m := Identity()
	m[0][3] = v.X
	m[1][3] = v.Y
	m[2][3] = v.Z
	return m
}

// Scaling creates an axis-aligned scaling transform
func Scaling(sx, sy, sz float64) Matrix4 {
	m := Identity()
	m[0][0] = sx
	m[1][1] = sy
	m[2][2] = sz
	return m
}

// RotationX creates a rotation about the X axis (degrees)
func RotationX(degrees float64) Matrix4 {
	s, c := math.Sincos(degrees * math.Pi / 180)
	m := Identity()
	m[1][1], m[1][2] = c, -s
	m[2][1], m[2][2] = s, c
	return m
}

// RotationY creates a rotation about the Y axis (degrees)
func RotationY(degrees float64) Matrix4 {
	s, c := math.Sincos(degrees * math.Pi / 180)
	m := Identity()
	m[0][0], m[0][2] = c, s
	m[2][0], m[2][2] = -s, c
	return m
}

// RotationZ creates a rotation about the Z axis (degrees)
func RotationZ(degrees float64) Matrix4 {
	s, c := math.Sincos(degrees * math.Pi / 180)
	m := Identity()
	m[0][0], m[0][1] = c, -s
	m[1][0], m[1][1] = s, c
	return m
}

// Mul composes two transforms: result = m * o
func (m Matrix4) Mul(o Matrix4) Matrix4 {
	var r Matrix4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += m[i][k] * o[k][j]
			}
			r[i][j] = sum
		}
	}
	return r
}

// Apply transforms a point
func (m Matrix4) Apply(p r3.Vector) r3.Vector {
	x := m[0][0]*p.X + m[0][1]*p.Y + m[0][2]*p.Z + m[0][3]
	y := m[1][0]*p.X + m[1][1]*p.Y + m[1][2]*p.Z + m[1][3]
	z := m[2][0]*p.X + m[2][1]*p.Y + m[2][2]*p.Z + m[2][3]
	w := m[3][0]*p.X + m[3][1]*p.Y + m[3][2]*p.Z + m[3][3]
	if w != 1 && w != 0 {
		return r3.Vector{X: x / w, Y: y / w, Z: z / w}
	}
	return r3.Vector{X: x, Y: y, Z: z}
}

// ApplyDirection transforms a direction (ignores translation)
func (m Matrix4) ApplyDirection(d r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*d.X + m[0][1]*d.Y + m[0][2]*d.Z,
		Y: m[1][0]*d.X + m[1][1]*d.Y + m[1][2]*d.Z,
		Z: m[2][0]*d.X + m[2][1]*d.Y + m[2][2]*d.Z,
	}
}

// ApplySet transforms every non-null point of a set into a new set.
// Null points stay null so that masks built from them remain valid.
func (m Matrix4) ApplySet(ps PointSet) PointSet {
	out := ps.Clone()
	for i, p := range ps.Points {
		if IsNull(p) {
			continue
		}
		out.Points[i] = m.Apply(p)
	}
	return out
}

// Transpose returns the transposed matrix
func (m Matrix4) Transpose() Matrix4 {
	var r Matrix4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			r[i][j] = m[j][i]
		}
	}
	return r
}

// Inverse computes the inverse transform.
// Returns an error if the matrix is singular.
func (m Matrix4) Inverse() (Matrix4, error) {
	d := mat.NewDense(4, 4, m.flat())
	var inv mat.Dense
	if err := inv.Inverse(d); err != nil {
		return Identity(), fmt.Errorf("inverting transform: %w", err)
	}
	var r Matrix4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			r[i][j] = inv.At(i, j)
		}
	}
	return r, nil
}

// Determinant of the upper 3x3 block (volume scale of the linear part)
func (m Matrix4) Determinant() float64 {
	return mat.Det(mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	}))
}

// ApproxEqual reports whether all entries differ by at most eps
func (m Matrix4) ApproxEqual(o Matrix4, eps float64) bool {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(m[i][j]-o[i][j]) > eps {
				return false
			}
		}
	}
	return true
}

func (m Matrix4) flat() []float64 {
	out := make([]float64, 0, 16)
	for i := 0; i < 4; i++ {
		out = append(out, m[i][:]...)
	}
	return out
}

// TranslationPart returns the translation column
func (m Matrix4) TranslationPart() r3.Vector {
	return r3.Vector{X: m[0][3], Y: m[1][3], Z: m[2][3]}
}

// mirrorX negates the X coordinate (reflection across the YZ plane)
func mirrorX(p r3.Vector) r3.Vector {
	return r3.Vector{X: -p.X, Y: p.Y, Z: p.Z}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clipVector clips each component to [lo, hi]
func clipVector(v r3.Vector, lo, hi float64) r3.Vector {
	return r3.Vector{X: clip(v.X, lo, hi), Y: clip(v.Y, lo, hi), Z: clip(v.Z, lo, hi)}
}

// nonNull guards a denominator against zero
func nonNull(v float64) float64 {
	if math.Abs(v) < 1e-12 {
		if v < 0 {
			return -1e-12
		}
		return 1e-12
	}
	return v
}

func radToDeg(r float64) float64 { return r * 180 / math.Pi }
