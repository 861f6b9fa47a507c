package montage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransformCache(t *testing.T) {
	res := fakeResult()
	c := NewTransformCache(res)

	assert.Equal(t, res.Subjects, c.Subjects)
	assert.Equal(t, res.Transforms[1], c.GetTransform("s02"))
	assert.Equal(t, Identity(), c.GetTransform("unknown"))
	assert.Same(t, res.Landmarks, c.Landmarks)

	var nilCache *TransformCache
	assert.Equal(t, Identity(), nilCache.GetTransform("s01"))
}

func TestSaveLoadTransforms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", DefaultTransformsPath)
	c := NewTransformCache(fakeResult())
	require.NoError(t, SaveTransforms(path, c))
	assert.NotZero(t, c.LastUpdated)

	got, err := LoadTransforms(path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.Subjects, got.Subjects)
	for _, name := range c.Subjects {
		assert.True(t, c.GetTransform(name).ApproxEqual(got.GetTransform(name), 1e-12), name)
	}
	assert.Equal(t, c.LastUpdated, got.LastUpdated)
}

func TestLoadTransforms_MissingAndInvalid(t *testing.T) {
	got, err := LoadTransforms(filepath.Join(t.TempDir(), "none.json"))
	assert.NoError(t, err)
	assert.Nil(t, got)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0o644))
	_, err = LoadTransforms(bad)
	assert.ErrorContains(t, err, "parsing transforms file")
}
