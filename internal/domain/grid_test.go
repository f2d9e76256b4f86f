package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGrid(t *testing.T) {
	tests := []struct {
		name    string
		lat     []float64
		lon     []float64
		wantErr bool
	}{
		{"ascending", []float64{-10, 0, 10}, []float64{0, 1}, false},
		{"descending", []float64{10, 0, -10}, []float64{0, 1}, false},
		{"single cell", []float64{5}, []float64{7}, false},
		{"empty lat", nil, []float64{0}, true},
		{"repeated lat", []float64{0, 0, 1}, []float64{0}, true},
		{"zigzag lat", []float64{0, 1, 0.5}, []float64{0}, true},
		{"descending lon", []float64{0}, []float64{2, 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGrid(tt.lat, tt.lon)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.lat), g.Rows())
			assert.Equal(t, len(tt.lon), g.Cols())
		})
	}
}

func TestGridCopiesAxes(t *testing.T) {
	lat := []float64{1, 2}
	g, err := NewGrid(lat, []float64{0})
	require.NoError(t, err)

	lat[0] = 99
	assert.Equal(t, 1.0, g.LatAt(0))

	got := g.Lat()
	got[1] = 99
	assert.Equal(t, 2.0, g.LatAt(1))
}

func TestEquiangularGrid(t *testing.T) {
	g, err := NewEquiangularGrid(721, 1440)
	require.NoError(t, err)

	assert.Equal(t, 90.0, g.LatAt(0))
	assert.Equal(t, -90.0, g.LatAt(720))
	assert.InDelta(t, 0.0, g.LatAt(360), 1e-12)
	assert.Equal(t, 359.75, g.LonAt(1439))
	assert.True(t, g.Descending())
	assert.True(t, g.Periodic())
	assert.Equal(t, 721*1440, g.Size())

	_, err = NewEquiangularGrid(1, 4)
	require.Error(t, err)
}

func TestGridPeriodic(t *testing.T) {
	partial, err := NewGrid([]float64{0}, []float64{100, 110, 120})
	require.NoError(t, err)
	assert.False(t, partial.Periodic())

	closedOnce, err := NewGrid([]float64{0}, []float64{0, 90, 180, 270})
	require.NoError(t, err)
	assert.True(t, closedOnce.Periodic())

	shifted, err := NewGrid([]float64{0}, []float64{-180, -90, 0, 90})
	require.NoError(t, err)
	assert.True(t, shifted.Periodic())
}
