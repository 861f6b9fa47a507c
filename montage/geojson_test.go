package montage

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMontageFeatureCollection(t *testing.T) {
	res := fakeResult()
	proj := NewProjection(res.Template)
	fc := MontageFeatureCollection(res, proj)

	require.Len(t, fc.Features, 1+res.Template.Len()+len(res.Registered))

	head := fc.Features[0]
	assert.Equal(t, "head", head.Properties["kind"])
	rim := proj.Radius * math.Pi / 2
	assert.InEpsilon(t, math.Pi*rim*rim, head.Properties["area"], 0.01)
	poly, ok := head.Geometry.(orb.Polygon)
	require.True(t, ok)
	assert.Len(t, poly[0], headOutlineSegments+1)
	assert.Equal(t, poly[0][0], poly[0][len(poly[0])-1], "ring must be closed")

	first := fc.Features[1]
	assert.Equal(t, "electrode", first.Properties["kind"])
	assert.Equal(t, "P1", first.Properties["name"])
	assert.Equal(t, 0, first.Properties["index"])

	last := fc.Features[len(fc.Features)-1]
	assert.Equal(t, "subject", last.Properties["kind"])
	assert.Equal(t, "s03", last.Properties["subject"])
	assert.Equal(t, true, last.Properties["flagged"])

	second := fc.Features[len(fc.Features)-2]
	mp, ok := second.Geometry.(orb.MultiPoint)
	require.True(t, ok)
	assert.Len(t, mp, res.Template.Len()-1, "the missing electrode is left out")
}

func TestMontageFeatureCollection_SkipsNullPoints(t *testing.T) {
	res := fakeResult()
	res.Template.Points[3] = res.Template.Points[3].Mul(0)
	fc := MontageFeatureCollection(res, NewProjection(res.Template))

	electrodes := 0
	for _, f := range fc.Features {
		if f.Properties["kind"] == "electrode" {
			electrodes++
		}
	}
	assert.Equal(t, res.Template.Len()-1, electrodes)
}

func TestMontageFeatureCollection_MarshalsAsGeoJSON(t *testing.T) {
	data, err := json.Marshal(MontageFeatureCollection(fakeResult(), Projection{Radius: 90}))
	require.NoError(t, err)

	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.NotEmpty(t, fc.Features)
}
