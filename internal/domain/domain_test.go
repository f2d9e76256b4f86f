package domain

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGrid(t *testing.T) *Grid {
	t.Helper()
	g, err := NewGrid([]float64{-20, 0, 20}, []float64{0, 1, 2})
	require.NoError(t, err)
	return g
}

type fakeCoords struct {
	c   *Coordinates
	err error
}

func (f fakeCoords) Coordinates(_ context.Context, _ string) (*Coordinates, error) {
	return f.c, f.err
}

func TestResolveWindow(t *testing.T) {
	g := testGrid(t)

	t.Run("single row inside bounds", func(t *testing.T) {
		r, err := Resolve(context.Background(), Window{Common: Common{Name: "Test"}, LatMin: -15, LatMax: 15}, g, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, r.LatStart)
		assert.Equal(t, 2, r.LatStop)
		assert.Equal(t, []int{1, 3}, r.Shape)
		assert.Equal(t, []string{"lat", "lon"}, r.Dims)
		assert.Equal(t, []float64{0}, r.Coords[0].Values)
		assert.Equal(t, []float64{0, 1, 2}, r.Coords[1].Values)
	})

	t.Run("bounds are inclusive at both ends", func(t *testing.T) {
		r, err := Resolve(context.Background(), Window{Common: Common{Name: "edge"}, LatMin: -20, LatMax: 20}, g, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, r.LatStart)
		assert.Equal(t, 3, r.LatStop)

		r, err = Resolve(context.Background(), Window{Common: Common{Name: "tie"}, LatMin: 0, LatMax: 0}, g, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, r.LatStart)
		assert.Equal(t, 2, r.LatStop)
	})

	t.Run("descending latitudes", func(t *testing.T) {
		eq, err := NewEquiangularGrid(5, 4) // 90, 45, 0, -45, -90
		require.NoError(t, err)
		r, err := Resolve(context.Background(), Window{Common: Common{Name: "band"}, LatMin: -45, LatMax: 45}, eq, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, r.LatStart)
		assert.Equal(t, 4, r.LatStop)
		assert.Equal(t, []float64{45, 0, -45}, r.Coords[0].Values)
	})

	t.Run("empty window", func(t *testing.T) {
		_, err := Resolve(context.Background(), Window{Common: Common{Name: "gap"}, LatMin: 1, LatMax: 19}, g, nil)
		require.ErrorIs(t, err, ErrEmptyWindow)

		var de *DomainError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "gap", de.Domain)
	})

	t.Run("inverted bounds are empty", func(t *testing.T) {
		_, err := Resolve(context.Background(), Window{Common: Common{Name: "inv"}, LatMin: 15, LatMax: -15}, g, nil)
		require.ErrorIs(t, err, ErrEmptyWindow)
	})
}

func TestWindowCoordinatesAreOrderedSubset(t *testing.T) {
	g, err := NewEquiangularGrid(73, 8)
	require.NoError(t, err)
	lat := g.Lat()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		a := rng.Float64()*180 - 90
		b := rng.Float64()*180 - 90
		if a > b {
			a, b = b, a
		}
		r, err := Resolve(context.Background(), Window{Common: Common{Name: "w"}, LatMin: a, LatMax: b}, g, nil)
		if err != nil {
			require.ErrorIs(t, err, ErrEmptyWindow)
			continue
		}
		got := r.Coords[0].Values
		require.Equal(t, lat[r.LatStart:r.LatStop], got)
		for k, v := range got {
			assert.True(t, v >= a && v <= b, "latitude %v outside [%v, %v]", v, a, b)
			if k > 0 {
				assert.Less(t, v, got[k-1], "order or duplicate at %d", k)
			}
		}
		// Neighbours just outside the range must fall outside the bounds.
		if r.LatStart > 0 {
			assert.False(t, lat[r.LatStart-1] >= a && lat[r.LatStart-1] <= b)
		}
		if r.LatStop < len(lat) {
			assert.False(t, lat[r.LatStop] >= a && lat[r.LatStop] <= b)
		}
		assert.Equal(t, g.Lon(), r.Coords[1].Values)
	}
}

func TestResolveMultiPoint(t *testing.T) {
	g := testGrid(t)

	r, err := Resolve(context.Background(), MultiPoint{Common: Common{Name: "stations"}, Lat: []float64{1, 2}, Lon: []float64{3, 4}}, g, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"npoints"}, r.Dims)
	assert.Equal(t, []int{2}, r.Shape)
	assert.Equal(t, "lat_point", r.Coords[0].Name)
	assert.Equal(t, "lon_point", r.Coords[1].Name)

	_, err = Resolve(context.Background(), MultiPoint{Common: Common{Name: "bad"}, Lat: []float64{1, 2}, Lon: []float64{3}}, g, nil)
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestResolveExternalGrid(t *testing.T) {
	g := testGrid(t)
	ext := ExternalGrid{Common: Common{Name: "cwb"}, SourceURI: "zarr:///data/cwb.zarr"}

	t.Run("one dimensional axes", func(t *testing.T) {
		src := fakeCoords{c: &Coordinates{
			Lat: []float64{21, 22}, LatShape: []int{2},
			Lon: []float64{119, 120, 121}, LonShape: []int{3},
		}}
		r, err := Resolve(context.Background(), ext, g, src)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3}, r.Shape)
		assert.Len(t, r.PointLat, 6)
		assert.Equal(t, 22.0, r.PointLat[3])
		assert.Equal(t, 119.0, r.PointLon[3])
	})

	t.Run("separable two dimensional grid is flattened", func(t *testing.T) {
		src := fakeCoords{c: &Coordinates{
			Lat: []float64{21, 21, 22, 22}, LatShape: []int{2, 2},
			Lon: []float64{119, 120, 119, 120}, LonShape: []int{2, 2},
		}}
		r, err := Resolve(context.Background(), ext, g, src)
		require.NoError(t, err)
		assert.Equal(t, []string{"lat", "lon"}, r.Dims)
		assert.Equal(t, []float64{21, 22}, r.Coords[0].Values)
		assert.Equal(t, []float64{119, 120}, r.Coords[1].Values)
	})

	t.Run("curvilinear grid keeps y and x", func(t *testing.T) {
		src := fakeCoords{c: &Coordinates{
			Lat: []float64{21, 21.1, 22, 22.1}, LatShape: []int{2, 2},
			Lon: []float64{119, 120, 119.2, 120.2}, LonShape: []int{2, 2},
		}}
		r, err := Resolve(context.Background(), ext, g, src)
		require.NoError(t, err)
		assert.Equal(t, []string{"y", "x"}, r.Dims)
		assert.Equal(t, []string{"y", "x"}, r.Coords[0].Dims)
	})

	t.Run("three dimensional coordinates are unsupported", func(t *testing.T) {
		src := fakeCoords{c: &Coordinates{
			Lat: make([]float64, 8), LatShape: []int{2, 2, 2},
			Lon: make([]float64, 8), LonShape: []int{2, 2, 2},
		}}
		_, err := Resolve(context.Background(), ext, g, src)
		require.ErrorIs(t, err, ErrUnsupportedShape)
	})

	t.Run("unreachable source", func(t *testing.T) {
		_, err := Resolve(context.Background(), ext, g, fakeCoords{err: errors.New("no such file")})
		require.ErrorIs(t, err, ErrSourceUnavailable)
		assert.Contains(t, err.Error(), "no such file")
	})

	t.Run("source error keeps its kind and gains the domain", func(t *testing.T) {
		_, err := Resolve(context.Background(), ext, g, fakeCoords{err: ErrUnsupportedShape})
		var de *DomainError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, KindUnsupportedShape, de.Kind)
		assert.Equal(t, "cwb", de.Domain)
		assert.Empty(t, ErrUnsupportedShape.Domain)
	})
}

func TestParseDomainKind(t *testing.T) {
	k, err := ParseDomainKind("CWBDomain")
	require.NoError(t, err)
	assert.Equal(t, DomainExternalGrid, k)

	_, err = ParseDomainKind("Polygon")
	require.ErrorIs(t, err, ErrUnknownVariant)
	assert.True(t, KindUnknownVariant.Fatal())
}

func TestParseDiagnosticType(t *testing.T) {
	for _, dt := range DiagnosticTypes {
		got, err := ParseDiagnosticType(dt.String())
		require.NoError(t, err)
		assert.Equal(t, dt, got)
	}

	_, err := ParseDiagnosticType("histogram")
	require.ErrorIs(t, err, ErrUnknownType)
	assert.Contains(t, err.Error(), "histogram")

	assert.Equal(t, "t2m", DiagnosticRaw.VariableName("t2m"))
	assert.Equal(t, "t2m_skill", DiagnosticSkill.VariableName("t2m"))
	assert.Equal(t, "t2m_crps", DiagnosticCRPS.VariableName("t2m"))
}
