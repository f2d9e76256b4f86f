package coords

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fhs/go-netcdf/netcdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/ensemble-store/internal/adapter/store"
	"go.ngs.io/ensemble-store/internal/adapter/store/zarr"
	"go.ngs.io/ensemble-store/internal/domain"
)

// writeWRFCoords creates XLAT/XLONG(Time=1, south_north=2, west_east=3).
func writeWRFCoords(t *testing.T, path string) {
	t.Helper()
	f, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	require.NoError(t, err)
	defer f.Close()

	tDim, _ := f.AddDim("Time", 1)
	yDim, _ := f.AddDim("south_north", 2)
	xDim, _ := f.AddDim("west_east", 3)
	vlat, err := f.AddVar("XLAT", netcdf.FLOAT, []netcdf.Dim{tDim, yDim, xDim})
	require.NoError(t, err)
	vlon, err := f.AddVar("XLONG", netcdf.FLOAT, []netcdf.Dim{tDim, yDim, xDim})
	require.NoError(t, err)
	require.NoError(t, f.EndDef())

	require.NoError(t, vlat.WriteFloat32s([]float32{21, 21, 21, 22, 22, 22}))
	require.NoError(t, vlon.WriteFloat32s([]float32{119, 120, 121, 119, 120, 121}))
}

func TestCoordinatesFromNetCDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wrf.nc")
	writeWRFCoords(t, path)

	c, err := NewResolver().Coordinates(context.Background(), "netcdf://"+path+"?lat=XLAT&lon=XLONG")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, c.LatShape)
	assert.Equal(t, []int{2, 3}, c.LonShape)

	// The separable WRF grid resolves to 1-D lat/lon.
	g, err := domain.NewEquiangularGrid(5, 8)
	require.NoError(t, err)
	r, err := domain.Resolve(context.Background(), domain.ExternalGrid{
		Common:    domain.Common{Name: "cwb"},
		SourceURI: "netcdf://" + path + "?lat=XLAT&lon=XLONG",
	}, g, NewResolver())
	require.NoError(t, err)
	assert.Equal(t, []string{"lat", "lon"}, r.Dims)
	assert.Equal(t, []float64{21, 22}, r.Coords[0].Values)
	assert.Equal(t, []float64{119, 120, 121}, r.Coords[1].Values)
}

func TestCoordinatesByExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wrf.nc")
	writeWRFCoords(t, path)

	c, err := NewResolver().Coordinates(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, c.Lat, 6)
}

func TestCoordinatesFromZarr(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "coords.zarr")
	s, err := zarr.Create(dir, zarr.Options{Compression: true})
	require.NoError(t, err)
	require.NoError(t, s.DefineDim(store.Root, "y", 2))
	require.NoError(t, s.DefineDim(store.Root, "x", 2))
	for name, values := range map[string][]float64{
		"XLAT":  {21, 21.1, 22, 22.1},
		"XLONG": {119, 120, 119.2, 120.2},
	} {
		_, err := s.DefineVar(store.Root, store.VarSpec{Name: name, Dims: []string{"y", "x"}, DType: store.Float64, Compress: true})
		require.NoError(t, err)
		require.NoError(t, s.WriteSlab(store.Root, name, []int{0, 0}, []int{2, 2}, values))
	}
	require.NoError(t, s.Close())

	c, err := NewResolver().Coordinates(context.Background(), "zarr://"+dir+"?lat=XLAT&lon=XLONG")
	require.NoError(t, err)
	assert.Equal(t, []float64{21, 21.1, 22, 22.1}, c.Lat)
	assert.Equal(t, []int{2, 2}, c.LonShape)
}

func TestCoordinatesErrors(t *testing.T) {
	ctx := context.Background()
	_, err := NewResolver().Coordinates(ctx, "netcdf:///does/not/exist.nc")
	require.Error(t, err)

	_, err = NewResolver().Coordinates(ctx, "s3://bucket/coords.zarr")
	require.Error(t, err)

	_, err = NewResolver().Coordinates(ctx, "/data/coords.grib2")
	require.Error(t, err)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewResolver().Coordinates(canceled, "/data/coords.nc")
	require.ErrorIs(t, err, context.Canceled)

	// Through Resolve the failure becomes SourceUnavailable.
	g, err := domain.NewEquiangularGrid(5, 8)
	require.NoError(t, err)
	_, err = domain.Resolve(ctx, domain.ExternalGrid{Common: domain.Common{Name: "cwb"}, SourceURI: "zarr:///missing.zarr"}, g, NewResolver())
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
}
