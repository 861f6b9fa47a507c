package montage

import (
	"context"
	"fmt"

	"github.com/golang/geo/r3"
)

// SymmetrizeXyz makes a montage mirror-symmetric about the YZ plane. Each
// point is replaced by the average of itself and the mirror of the nearest
// neighbour of its own mirror image; a point that is its own mirror match
// is put exactly on the plane (X = 0). Null points are left untouched.
func SymmetrizeXyz(ps PointSet) PointSet {
	out := ps.Clone()
	idx := NewPointSetIndex(ps)
	if idx.Len() == 0 {
		return out
	}
	for i, p := range ps.Points {
		if IsNull(p) {
			continue
		}
		j, _ := idx.Nearest(mirrorX(p))
		if j == i {
			out.Points[i] = r3.Vector{X: 0, Y: p.Y, Z: p.Z}
			continue
		}
		out.Points[i] = p.Add(mirrorX(ps.Points[j])).Mul(0.5)
	}
	return out
}

// Symmetrize estimates the sagittal plane of ps, moves ps into that frame
// and symmetrizes it. Returns the symmetrized set and the plane transform.
func Symmetrize(ctx context.Context, ps PointSet, cfg OrientationConfig) (PointSet, Matrix4, error) {
	cfg.Objective = Sagittal
	res, err := FitOrientation(ctx, ps, cfg)
	if err != nil {
		return PointSet{}, Identity(), fmt.Errorf("symmetrize: %w", err)
	}
	return SymmetrizeXyz(res.Matrix.ApplySet(ps)), res.Matrix, nil
}
