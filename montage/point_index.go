package montage

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// indexedPoint is a kd-tree entry that remembers its position in the
// original slice.
type indexedPoint struct {
	r3.Vector
	index int
}

// Compare implements kdtree.Comparable
func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims implements kdtree.Comparable
func (p indexedPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	return p.Sub(q.Vector).Norm2()
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p indexedPoints) Len() int                              { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(indexedPlane{indexedPoints: p, Dim: d}, kdtree.MedianOfRandoms(indexedPlane{indexedPoints: p, Dim: d}, 100))
}

// indexedPlane implements kdtree.SortSlicer
type indexedPlane struct {
	indexedPoints
	kdtree.Dim
}

func (p indexedPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.indexedPoints[i].X < p.indexedPoints[j].X
	case 1:
		return p.indexedPoints[i].Y < p.indexedPoints[j].Y
	case 2:
		return p.indexedPoints[i].Z < p.indexedPoints[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p indexedPlane) Slice(start, end int) kdtree.SortSlicer {
	return indexedPlane{indexedPoints: p.indexedPoints[start:end], Dim: p.Dim}
}

func (p indexedPlane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}

// PointIndex answers closest-point queries over a fixed set of points.
// It is read-only after construction and safe for concurrent queries.
type PointIndex struct {
	tree *kdtree.Tree
	n    int
}

// NewPointIndex builds an index over pts. Indices returned by queries refer
// to positions in pts.
func NewPointIndex(pts []r3.Vector) *PointIndex {
	entries := make(indexedPoints, len(pts))
	for i, p := range pts {
		entries[i] = indexedPoint{Vector: p, index: i}
	}
	idx := &PointIndex{n: len(pts)}
	if len(pts) > 0 {
		idx.tree = kdtree.New(entries, true)
	}
	return idx
}

// NewPointSetIndex builds an index over the non-null points of ps.
// Returned indices refer to positions in ps.Points.
func NewPointSetIndex(ps PointSet) *PointIndex {
	entries := make(indexedPoints, 0, len(ps.Points))
	for i, p := range ps.Points {
		if IsNull(p) {
			continue
		}
		entries = append(entries, indexedPoint{Vector: p, index: i})
	}
	idx := &PointIndex{n: len(entries)}
	if len(entries) > 0 {
		idx.tree = kdtree.New(entries, true)
	}
	return idx
}

// Len returns the number of indexed points
func (x *PointIndex) Len() int {
	return x.n
}

// Nearest returns the index of the closest point and its distance.
// Returns -1 and +Inf for an empty index.
func (x *PointIndex) Nearest(q r3.Vector) (int, float64) {
	if x.tree == nil {
		return -1, math.Inf(1)
	}
	c, d2 := x.tree.Nearest(indexedPoint{Vector: q})
	if c == nil {
		return -1, math.Inf(1)
	}
	return c.(indexedPoint).index, math.Sqrt(d2)
}

// NearestExcluding returns the closest point whose index differs from skip
func (x *PointIndex) NearestExcluding(q r3.Vector, skip int) (int, float64) {
	if x.tree == nil {
		return -1, math.Inf(1)
	}
	keeper := kdtree.NewNKeeper(2)
	x.tree.NearestSet(keeper, indexedPoint{Vector: q})
	best, bestD2 := -1, math.Inf(1)
	for _, cd := range keeper.Heap {
		if cd.Comparable == nil {
			continue
		}
		p := cd.Comparable.(indexedPoint)
		if p.index == skip {
			continue
		}
		if cd.Dist < bestD2 || (cd.Dist == bestD2 && p.index < best) {
			best, bestD2 = p.index, cd.Dist
		}
	}
	return best, math.Sqrt(bestD2)
}
