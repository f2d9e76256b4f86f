// Package storetest holds behaviour checks shared by every store backend.
package storetest

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/ensemble-store/internal/adapter/store"
)

// Factory opens a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run exercises a backend against the store.Store contract.
func Run(t *testing.T, open Factory) {
	t.Run("declarations are idempotent", func(t *testing.T) { testIdempotent(t, open(t)) })
	t.Run("round trip with growth", func(t *testing.T) { testRoundTrip(t, open(t)) })
	t.Run("fixed dims are bounds checked", func(t *testing.T) { testBounds(t, open(t)) })
	t.Run("dims resolve through root", func(t *testing.T) { testDimResolution(t, open(t)) })
	t.Run("attributes and describe", func(t *testing.T) { testDescribe(t, open(t)) })
	t.Run("disjoint concurrent writes", func(t *testing.T) { testConcurrent(t, open(t)) })
	t.Run("closed store rejects calls", func(t *testing.T) { testClosed(t, open(t)) })
}

func layout(t *testing.T, s store.Store, members, cells int) {
	t.Helper()
	require.NoError(t, s.DefineDim(store.Root, "time", store.Unlimited))
	require.NoError(t, s.DefineDim(store.Root, "ensemble", members))
	require.NoError(t, s.CreateGroup("global"))
	require.NoError(t, s.DefineDim("global", "npoints", cells))
}

func testIdempotent(t *testing.T, s store.Store) {
	defer s.Close()
	layout(t, s, 2, 3)

	spec := store.VarSpec{Name: "t2m", Dims: []string{"time", "ensemble", "npoints"}, DType: store.Float32}
	created, err := s.DefineVar("global", spec)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.DefineVar("global", spec)
	require.NoError(t, err)
	assert.False(t, created)

	spec.DType = store.Float64
	_, err = s.DefineVar("global", spec)
	require.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, s.CreateGroup("global"))
	require.NoError(t, s.DefineDim("global", "npoints", 3))
	require.ErrorIs(t, s.DefineDim("global", "npoints", 4), store.ErrConflict)

	info, err := s.Describe("global")
	require.NoError(t, err)
	assert.Len(t, info.Vars, 1)
	assert.Equal(t, []string{"global"}, s.Groups())
}

func testRoundTrip(t *testing.T, s store.Store) {
	defer s.Close()
	layout(t, s, 2, 3)
	_, err := s.DefineVar("global", store.VarSpec{Name: "tcwv", Dims: []string{"time", "ensemble", "npoints"}, DType: store.Float32, Compress: true})
	require.NoError(t, err)

	// Write member 1 at time 1 first; time 0 stays unwritten.
	require.NoError(t, s.WriteSlab("global", "tcwv", []int{1, 1, 0}, []int{1, 1, 3}, []float64{1.5, 2.5, 3.5}))

	info, err := s.Describe("global")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 3}, info.Vars[0].Shape)

	got, err := s.ReadSlab("global", "tcwv", []int{1, 1, 0}, []int{1, 1, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 2.5, 3.5}, got)

	unwritten, err := s.ReadSlab("global", "tcwv", []int{0, 0, 0}, []int{1, 2, 3})
	require.NoError(t, err)
	for _, v := range unwritten {
		assert.True(t, math.IsNaN(v), "unwritten cell read %v", v)
	}

	// Overwrite a sub-slab and read the whole time step.
	require.NoError(t, s.WriteSlab("global", "tcwv", []int{1, 0, 1}, []int{1, 2, 1}, []float64{9, 8}))
	got, err = s.ReadSlab("global", "tcwv", []int{1, 0, 0}, []int{1, 2, 3})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got[0]))
	assert.Equal(t, 9.0, got[1])
	assert.True(t, math.IsNaN(got[2]))
	assert.Equal(t, []float64{1.5, 8, 3.5}, got[3:])

	// float32 storage rounds.
	require.NoError(t, s.WriteSlab("global", "tcwv", []int{0, 0, 0}, []int{1, 1, 1}, []float64{0.1}))
	got, err = s.ReadSlab("global", "tcwv", []int{0, 0, 0}, []int{1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, float64(float32(0.1)), got[0])
}

func testBounds(t *testing.T, s store.Store) {
	defer s.Close()
	layout(t, s, 2, 3)
	_, err := s.DefineVar("global", store.VarSpec{Name: "t2m", Dims: []string{"time", "ensemble", "npoints"}, DType: store.Float32})
	require.NoError(t, err)

	err = s.WriteSlab("global", "t2m", []int{0, 1, 0}, []int{1, 2, 3}, make([]float64, 6))
	require.ErrorIs(t, err, store.ErrOutOfBounds)

	_, err = s.ReadSlab("global", "t2m", []int{0, 0, 0}, []int{1, 1, 3})
	require.ErrorIs(t, err, store.ErrOutOfBounds, "time has no entries yet")

	err = s.WriteSlab("global", "missing", []int{0}, []int{1}, []float64{0})
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.DefineVar("global", store.VarSpec{Name: "bad", Dims: []string{"ensemble", "time"}, DType: store.Float32})
	require.Error(t, err, "unlimited dimension must lead")
}

func testDimResolution(t *testing.T, s store.Store) {
	defer s.Close()
	layout(t, s, 2, 3)

	_, err := s.DefineVar(store.Root, store.VarSpec{Name: "ensemble", Dims: []string{"ensemble"}, DType: store.Int32})
	require.NoError(t, err)
	require.NoError(t, s.WriteSlab(store.Root, "ensemble", []int{0}, []int{2}, []float64{0, 1}))
	got, err := s.ReadSlab(store.Root, "ensemble", []int{0}, []int{2})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, got)

	_, err = s.DefineVar(store.Root, store.VarSpec{Name: "x", Dims: []string{"npoints"}, DType: store.Float64})
	require.ErrorIs(t, err, store.ErrNotFound, "group dims are not visible from root")

	_, err = s.DefineVar("global", store.VarSpec{Name: "lat_point", Dims: []string{"npoints"}, DType: store.Float64})
	require.NoError(t, err)
	require.NoError(t, s.WriteSlab("global", "lat_point", []int{0}, []int{3}, []float64{-20, 0, 20.125}))
	got, err = s.ReadSlab("global", "lat_point", []int{0}, []int{3})
	require.NoError(t, err)
	assert.Equal(t, []float64{-20, 0, 20.125}, got)
}

func testDescribe(t *testing.T, s store.Store) {
	defer s.Close()
	layout(t, s, 2, 3)
	_, err := s.DefineVar("global", store.VarSpec{Name: "lat_point", Dims: []string{"npoints"}, DType: store.Float64})
	require.NoError(t, err)

	require.NoError(t, s.PutAttrs("global", "lat_point", store.Attrs{"units": "degrees_north"}))
	require.NoError(t, s.PutAttrs("global", "", store.Attrs{"kind": "MultiPoint"}))
	require.NoError(t, s.PutAttrs(store.Root, "", store.Attrs{"ensemble_total": 2}))
	require.ErrorIs(t, s.PutAttrs("global", "nope", store.Attrs{"a": "b"}), store.ErrNotFound)

	info, err := s.Describe("global")
	require.NoError(t, err)
	assert.Equal(t, "MultiPoint", info.Attrs["kind"])
	require.Len(t, info.Vars, 1)
	assert.Equal(t, "degrees_north", info.Vars[0].Attrs["units"])
	assert.Equal(t, []string{"npoints"}, info.Vars[0].Dims)
	assert.Equal(t, "float64", info.Vars[0].DType)

	root, err := s.Describe(store.Root)
	require.NoError(t, err)
	assert.EqualValues(t, 2, root.Attrs["ensemble_total"])
	names := make([]string, 0, len(root.Dims))
	for _, d := range root.Dims {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{"time", "ensemble"}, names)

	_, err = s.Describe("absent")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testConcurrent(t *testing.T, s store.Store) {
	defer s.Close()
	const members = 8
	layout(t, s, members, 4)
	_, err := s.DefineVar("global", store.VarSpec{Name: "u10m", Dims: []string{"time", "ensemble", "npoints"}, DType: store.Float32, Chunks: []int{1, 1, 4}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, members)
	for m := 0; m < members; m++ {
		wg.Add(1)
		go func(m int) {
			defer wg.Done()
			v := float64(m)
			errs[m] = s.WriteSlab("global", "u10m", []int{0, m, 0}, []int{1, 1, 4}, []float64{v, v, v, v})
		}(m)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := s.ReadSlab("global", "u10m", []int{0, 0, 0}, []int{1, members, 4})
	require.NoError(t, err)
	for m := 0; m < members; m++ {
		assert.Equal(t, []float64{float64(m), float64(m), float64(m), float64(m)}, got[m*4:(m+1)*4])
	}
}

func testClosed(t *testing.T, s store.Store) {
	layout(t, s, 1, 1)
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.CreateGroup("late"), store.ErrClosed)
	_, err := s.ReadSlab("global", "x", []int{0}, []int{1})
	require.ErrorIs(t, err, store.ErrClosed)
}
