package domain

import (
	"fmt"
	"math"
)

// Grid is an immutable global latitude/longitude grid.
type Grid struct {
	lat []float64
	lon []float64
}

// NewGrid validates and copies the coordinate axes.
// Latitudes must be strictly monotonic (either direction); longitudes strictly increasing.
func NewGrid(lat, lon []float64) (*Grid, error) {
	if len(lat) == 0 || len(lon) == 0 {
		return nil, fmt.Errorf("grid must have at least one latitude and one longitude")
	}
	if !strictlyMonotonic(lat) {
		return nil, fmt.Errorf("latitudes must be strictly monotonic")
	}
	for i := 1; i < len(lon); i++ {
		if lon[i] <= lon[i-1] {
			return nil, fmt.Errorf("longitudes must be strictly increasing")
		}
	}

	g := &Grid{
		lat: make([]float64, len(lat)),
		lon: make([]float64, len(lon)),
	}
	copy(g.lat, lat)
	copy(g.lon, lon)
	return g, nil
}

// NewEquiangularGrid builds the equiangular grid used by global forecast models:
// rows latitudes from 90 to -90 inclusive and cols longitudes from 0 to 360-dx.
func NewEquiangularGrid(rows, cols int) (*Grid, error) {
	if rows < 2 || cols < 1 {
		return nil, fmt.Errorf("equiangular grid needs rows >= 2 and cols >= 1, got %dx%d", rows, cols)
	}

	lat := make([]float64, rows)
	dlat := 180.0 / float64(rows-1)
	for i := range lat {
		lat[i] = 90.0 - float64(i)*dlat
	}
	// Pin the last row so the south pole is exact.
	lat[rows-1] = -90.0

	lon := make([]float64, cols)
	dlon := 360.0 / float64(cols)
	for j := range lon {
		lon[j] = float64(j) * dlon
	}

	return NewGrid(lat, lon)
}

// Rows returns the number of latitudes.
func (g *Grid) Rows() int { return len(g.lat) }

// Cols returns the number of longitudes.
func (g *Grid) Cols() int { return len(g.lon) }

// Size returns Rows()*Cols().
func (g *Grid) Size() int { return len(g.lat) * len(g.lon) }

// Lat returns a copy of the latitude axis.
func (g *Grid) Lat() []float64 {
	out := make([]float64, len(g.lat))
	copy(out, g.lat)
	return out
}

// Lon returns a copy of the longitude axis.
func (g *Grid) Lon() []float64 {
	out := make([]float64, len(g.lon))
	copy(out, g.lon)
	return out
}

// LatAt returns the latitude of row i.
func (g *Grid) LatAt(i int) float64 { return g.lat[i] }

// LonAt returns the longitude of column j.
func (g *Grid) LonAt(j int) float64 { return g.lon[j] }

// Descending reports whether latitude decreases with the row index.
func (g *Grid) Descending() bool {
	return len(g.lat) > 1 && g.lat[1] < g.lat[0]
}

// Periodic reports whether the longitude axis closes a full revolution,
// i.e. the column after the last one is the first one again.
func (g *Grid) Periodic() bool {
	n := len(g.lon)
	if n < 2 {
		return false
	}
	dx := g.lon[1] - g.lon[0]
	span := g.lon[n-1] - g.lon[0] + dx
	tol := 1e-6 * dx
	if span < 360.0-tol {
		return false
	}
	r := math.Mod(span, 360.0)
	return r < tol || 360.0-r < tol
}

func strictlyMonotonic(v []float64) bool {
	if len(v) < 2 {
		return true
	}
	asc := v[1] > v[0]
	for i := 1; i < len(v); i++ {
		if asc && v[i] <= v[i-1] {
			return false
		}
		if !asc && v[i] >= v[i-1] {
			return false
		}
	}
	return true
}
