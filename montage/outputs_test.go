package montage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestWriteOutputs_WritesEveryEnabledFile(t *testing.T) {
	out := DefaultConfig().Output
	out.Dir = filepath.Join(t.TempDir(), "build")
	out.Resolution = 30

	require.NoError(t, WriteOutputs(fakeResult(), out))

	for _, name := range []string{out.Template, out.Track, out.Report, out.Transforms, out.SVG, out.PNG, out.Heatmap, out.GeoJSON} {
		info, err := os.Stat(filepath.Join(out.Dir, name))
		if assert.NoError(t, err, name) {
			assert.Positive(t, info.Size(), name)
		}
	}

	tpl, err := ReadPointSetFile(filepath.Join(out.Dir, out.Template))
	require.NoError(t, err)
	assert.Equal(t, 51, tpl.Len())

	data, err := os.ReadFile(filepath.Join(out.Dir, out.GeoJSON))
	require.NoError(t, err)
	var fc map[string]any
	require.NoError(t, json.Unmarshal(data, &fc))
	assert.Equal(t, "FeatureCollection", fc["type"])
}

func TestWriteOutputs_DisabledOutputsAreSkipped(t *testing.T) {
	dir := t.TempDir()
	out := OutputConfig{Dir: dir, Report: "report.txt"}
	require.NoError(t, WriteOutputs(fakeResult(), out))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report.txt", entries[0].Name())
}

func TestWriteOutputs_CollectsFailures(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	out := OutputConfig{
		Dir:      dir,
		Template: filepath.Join("file", "template.xyz"),
		Report:   filepath.Join("file", "report.txt"),
		Track:    "distances.tsv",
	}
	err := WriteOutputs(fakeResult(), out)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), "report.txt")

	_, statErr := os.Stat(filepath.Join(dir, "distances.tsv"))
	assert.NoError(t, statErr, "a failing output must not stop the others")
}

func TestWriteSurfaceFigure(t *testing.T) {
	ps := domePoints()
	model, err := NewSurfaceModel(SurfaceParams{Scale: Val(80)})
	require.NoError(t, err)
	fit := &SurfaceFitResult{Model: model}

	path := filepath.Join(t.TempDir(), "fig", "dome-surface.svg")
	require.NoError(t, WriteSurfaceFigure(path, ps, fit))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")
}
