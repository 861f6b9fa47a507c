package montage

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultStore_Lifecycle(t *testing.T) {
	st := NewResultStore()
	assert.False(t, st.HasResult())
	assert.Nil(t, st.Result())

	st.Begin([]string{"a.xyz", "b.xyz"})
	status := st.Status()
	assert.True(t, status.Running)
	assert.Equal(t, []string{"a.xyz", "b.xyz"}, status.Inputs)
	assert.False(t, status.Started.IsZero())

	res := fakeResult()
	st.Update(res)
	assert.True(t, st.HasResult())
	assert.Same(t, res, st.Result())
	assert.False(t, st.Status().Running)
	assert.Empty(t, st.Status().LastError)

	// a failed rebuild keeps the last good result
	st.Begin([]string{"c.xyz"})
	st.Fail(errors.New("subject 1: bad file"))
	status = st.Status()
	assert.False(t, status.Running)
	assert.Equal(t, "subject 1: bad file", status.LastError)
	assert.Same(t, res, st.Result())
}

func TestResultStore_StatusIsACopy(t *testing.T) {
	st := NewResultStore()
	st.Begin([]string{"a.xyz"})
	s := st.Status()
	s.Inputs[0] = "changed"
	assert.Equal(t, "a.xyz", st.Status().Inputs[0])
}

func TestResultStore_ConcurrentAccess(t *testing.T) {
	st := NewResultStore()
	res := fakeResult()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			st.Begin(nil)
			st.Update(res)
		}()
		go func() {
			defer wg.Done()
			_ = st.Status()
			_ = st.HasResult()
		}()
	}
	wg.Wait()
	assert.True(t, st.HasResult())
}

func TestSaveLoadResult_KeepsMaskedDistances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "result.json")
	res := fakeResult()
	require.NoError(t, SaveResult(res, path))

	got, err := LoadResult(path)
	require.NoError(t, err)

	assert.Equal(t, res.Subjects, got.Subjects)
	assert.Equal(t, res.Mask, got.Mask)
	assert.Equal(t, res.Template.Names, got.Template.Names)
	assert.Less(t, maxDistance(res.Template, got.Template), 1e-12)
	assert.Len(t, got.Warnings, len(res.Warnings))
	require.NotNil(t, got.Landmarks)

	require.Len(t, got.Diagnostics.Distances, 3)
	assert.True(t, math.IsNaN(got.Diagnostics.Distances[1][4]), "masked cell survives as NaN")
	assert.InDelta(t, res.Diagnostics.Distances[0][0], got.Diagnostics.Distances[0][0], 1e-12)
	for s := range res.Transforms {
		assert.True(t, res.Transforms[s].ApproxEqual(got.Transforms[s], 1e-12))
	}
}

func TestLoadResult_Errors(t *testing.T) {
	_, err := LoadResult(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = LoadResult(bad)
	assert.ErrorContains(t, err, "unmarshal")
}

func TestNewResultStoreWithCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")

	st := NewResultStoreWithCache(path)
	assert.False(t, st.HasResult(), "no cache yet")
	st.Update(fakeResult())

	reloaded := NewResultStoreWithCache(path)
	require.True(t, reloaded.HasResult())
	assert.Equal(t, []string{"s01", "s02", "s03"}, reloaded.Result().Subjects)
}
