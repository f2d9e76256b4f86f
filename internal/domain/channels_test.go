package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelSets(t *testing.T) {
	c34, ok := ChannelSetVar34.Channels()
	require.True(t, ok)
	assert.Len(t, c34, 34)

	c73, ok := ChannelSetVar73.Channels()
	require.True(t, ok)
	assert.Len(t, c73, 73)
	assert.Equal(t, "u10m", c73[0])
	assert.Equal(t, "r1000", c73[72])
	assert.False(t, ChannelSetVar73.Contains("q500"))

	name, ok := GFSName("q500")
	require.True(t, ok)
	assert.Equal(t, "SPFH:500 mb", name)

	assert.True(t, ChannelSetVar34.Contains("tcwv"))
	assert.False(t, ChannelSetVar73.Contains("u900"))

	_, err := ParseChannelSet("var26")
	require.Error(t, err)
}

func TestGFSName(t *testing.T) {
	name, ok := GFSName("z500")
	require.True(t, ok)
	assert.Equal(t, "HGT:500 mb", name)

	name, ok = GFSName("t2m")
	require.True(t, ok)
	assert.Equal(t, "TMP:2 m above ground", name)

	_, ok = GFSName("z42")
	assert.False(t, ok)
}

func TestIsGeopotential(t *testing.T) {
	assert.True(t, IsGeopotential("z500"))
	assert.True(t, IsGeopotential("z900"))
	assert.False(t, IsGeopotential("t500"))
	assert.False(t, IsGeopotential("z"))
}

func TestBatchSlice(t *testing.T) {
	data := make([]float32, 2*3*4)
	for i := range data {
		data[i] = float32(i)
	}
	b, err := NewBatch([]string{"a", "b", "c"}, 2, []int{2, 2}, data)
	require.NoError(t, err)

	assert.Equal(t, []float32{20, 21, 22, 23}, b.Slice(1, 2))
	assert.Equal(t, 1, b.ChannelIndex("b"))
	assert.Equal(t, -1, b.ChannelIndex("z"))

	_, err = NewBatch([]string{"a"}, 2, []int{2}, data)
	require.Error(t, err)
}
