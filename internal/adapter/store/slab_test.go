package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetSlab(t *testing.T) {
	shape := []int{2, 3, 4}
	arr := make([]float64, Size(shape))

	src := []float64{1, 2, 3, 4, 5, 6}
	PutSlab(arr, shape, src, []int{1, 1, 1}, []int{1, 2, 3})

	// (1,1,1..3) and (1,2,1..3)
	assert.Equal(t, []float64{0, 1, 2, 3}, arr[16:20])
	assert.Equal(t, []float64{0, 4, 5, 6}, arr[20:24])

	out := make([]float64, 6)
	GetSlab(out, arr, shape, []int{1, 1, 1}, []int{1, 2, 3})
	assert.Equal(t, src, out)
}

func TestCheckSlab(t *testing.T) {
	shape := []int{0, 4}
	require.NoError(t, CheckSlab(shape, []int{3, 0}, []int{1, 4}, true))
	require.ErrorIs(t, CheckSlab(shape, []int{3, 0}, []int{1, 4}, false), ErrOutOfBounds)
	require.ErrorIs(t, CheckSlab(shape, []int{0, 2}, []int{1, 3}, true), ErrOutOfBounds)
	require.ErrorIs(t, CheckSlab(shape, []int{0}, []int{1}, true), ErrOutOfBounds)
	require.ErrorIs(t, CheckSlab(shape, []int{-1, 0}, []int{1, 1}, true), ErrOutOfBounds)
}

func TestCatalogExtend(t *testing.T) {
	c := NewCatalog()
	_, err := c.DefineDim(Root, "time", Unlimited)
	require.NoError(t, err)
	_, err = c.DefineVar(Root, VarSpec{Name: "time", Dims: []string{"time"}, DType: Float64})
	require.NoError(t, err)

	v, prev, err := c.Extend(Root, "time", []int{2}, []int{1})
	require.NoError(t, err)
	assert.Equal(t, 0, prev)
	assert.Equal(t, []int{3}, v.Shape)

	// Writing inside the current extent does not shrink it.
	v, prev, err = c.Extend(Root, "time", []int{0}, []int{1})
	require.NoError(t, err)
	assert.Equal(t, 3, prev)
	assert.Equal(t, []int{3}, v.Shape)
}
