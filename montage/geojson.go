package montage

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// headOutlineSegments is the number of vertices of the head outline ring
const headOutlineSegments = 72

// MontageFeatureCollection exports a build result in the flat top view:
// one Point feature per template electrode, one MultiPoint feature per
// registered subject and the head outline as a Polygon. Coordinates are in
// the projection's world units.
func MontageFeatureCollection(res *TemplateResult, proj Projection) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	rim := proj.Radius * math.Pi / 2
	ring := make(orb.Ring, 0, headOutlineSegments+1)
	for i := 0; i <= headOutlineSegments; i++ {
		a := 2 * math.Pi * float64(i%headOutlineSegments) / headOutlineSegments
		ring = append(ring, orb.Point{rim * math.Cos(a), rim * math.Sin(a)})
	}
	outline := geojson.NewFeature(orb.Polygon{ring})
	outline.Properties["kind"] = "head"
	outline.Properties["area"] = math.Abs(planar.Area(orb.Polygon{ring}))
	fc.Append(outline)

	pts, ok := proj.ProjectSet(res.Template)
	for i, p := range pts {
		if !ok[i] {
			continue
		}
		f := geojson.NewFeature(p)
		f.ID = i
		f.Properties["kind"] = "electrode"
		f.Properties["index"] = i
		f.Properties["name"] = res.Template.Name(i)
		if i < len(res.Diagnostics.Electrodes) {
			st := res.Diagnostics.Electrodes[i]
			f.Properties["average"] = st.Average
			f.Properties["cv"] = st.CV
		}
		fc.Append(f)
	}

	flagged := make(map[int]bool, len(res.Warnings))
	for _, w := range res.Warnings {
		flagged[w.Subject] = true
	}
	for s, ps := range res.Registered {
		spts, sok := proj.ProjectSet(ps)
		var mp orb.MultiPoint
		for i, p := range spts {
			if sok[i] {
				mp = append(mp, p)
			}
		}
		if len(mp) == 0 {
			continue
		}
		f := geojson.NewFeature(mp)
		f.Properties["kind"] = "subject"
		f.Properties["subject"] = subjectName(res.Subjects, s)
		f.Properties["flagged"] = flagged[s]
		fc.Append(f)
	}
	return fc
}

// TemplateFeatureCollection exports a bare template
func TemplateFeatureCollection(ps PointSet) *geojson.FeatureCollection {
	return MontageFeatureCollection(&TemplateResult{Template: ps}, NewProjection(ps))
}
