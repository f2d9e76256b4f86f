package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fhs/go-netcdf/netcdf"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/ensemble-store/internal/domain"
)

// writeField creates a (lat=2, lon=3) file with t2m, tcwv and z500 in gpm.
func writeField(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	require.NoError(t, err)
	defer f.Close()

	lat, err := f.AddDim("lat", 2)
	require.NoError(t, err)
	lon, err := f.AddDim("lon", 3)
	require.NoError(t, err)
	vars := map[string]netcdf.Var{}
	for _, name := range []string{"t2m", "tcwv", "z500"} {
		v, err := f.AddVar(name, netcdf.FLOAT, []netcdf.Dim{lat, lon})
		require.NoError(t, err)
		vars[name] = v
	}
	require.NoError(t, vars["z500"].Attr("units").WriteBytes([]byte("gpm")))
	require.NoError(t, vars["t2m"].Attr("units").WriteBytes([]byte("K")))
	require.NoError(t, f.EndDef())

	require.NoError(t, vars["t2m"].WriteFloat32s([]float32{280, 281, 282, 283, 284, 285}))
	require.NoError(t, vars["tcwv"].WriteFloat32s([]float32{1, 2, 3, 4, 5, 6}))
	require.NoError(t, vars["z500"].WriteFloat32s([]float32{5000, 5000, 5000, 5100, 5100, 5100}))
}

func TestPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("/data", "member_003", "lead_012.nc"),
		ForecastPath("/data")(domain.FieldRequest{Member: 3, Lead: 12}))
	assert.Equal(t, filepath.Join("/ref", "2018-06-01", "lead_000.nc"),
		ReferencePath("/ref")(domain.FieldRequest{Event: "2018-06-01"}))
}

func TestNetCDFSourceRead(t *testing.T) {
	root := t.TempDir()
	writeField(t, ForecastPath(root)(domain.FieldRequest{Member: 1, Lead: 0}))

	src := NewNetCDFSource(ForecastPath(root))
	f, err := src.Read(context.Background(), domain.FieldRequest{Member: 1, Lead: 0}, []string{"tcwv", "t2m", "z500"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tcwv", "t2m", "z500"}, f.Channels)
	assert.Equal(t, []int{2, 3}, f.Spatial)

	tcwv, ok := f.Channel("tcwv")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, tcwv)

	t2m, _ := f.Channel("t2m")
	assert.Equal(t, []float32{280, 281, 282, 283, 284, 285}, t2m)

	z, _ := f.Channel("z500")
	assert.InDelta(t, 5000*domain.StandardGravity, z[0], 1e-2)
	assert.InDelta(t, 5100*domain.StandardGravity, z[5], 1e-2)
}

func TestNetCDFSourceErrors(t *testing.T) {
	root := t.TempDir()
	writeField(t, ReferencePath(root)(domain.FieldRequest{Event: "ev", Lead: 0}))
	src := NewNetCDFSource(ReferencePath(root))
	ctx := context.Background()

	_, err := src.Read(ctx, domain.FieldRequest{Event: "ev", Lead: 4}, []string{"t2m"})
	require.ErrorIs(t, err, domain.ErrFileMissing)
	var se *domain.SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ReferencePath(root)(domain.FieldRequest{Event: "ev", Lead: 4}), se.Path)

	_, err = src.Read(ctx, domain.FieldRequest{Event: "ev"}, []string{"t2m", "msl"})
	require.ErrorIs(t, err, domain.ErrChannelNotFound)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "msl", se.Channel)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = src.Read(canceled, domain.FieldRequest{Event: "ev"}, []string{"t2m"})
	require.ErrorIs(t, err, context.Canceled)
}

type flakySource struct {
	calls int
	err   error
}

func (f *flakySource) Read(context.Context, domain.FieldRequest, []string) (*domain.Field, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Field{Channels: []string{"t2m"}, Spatial: []int{1}, Data: []float32{1}}, nil
}

func testBreaker(inner domain.FieldSource) *Breaker {
	return NewBreakerWith(inner, gobreaker.NewCircuitBreaker[*domain.Field](gobreaker.Settings{
		Name:    "test",
		Timeout: time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
		IsSuccessful: healthy,
	}))
}

func TestBreakerOpensOnUnavailable(t *testing.T) {
	inner := &flakySource{err: &domain.SourceError{Kind: domain.KindUnavailable, Err: errors.New("io error")}}
	b := testBreaker(inner)
	ctx := context.Background()

	for range 2 {
		_, err := b.Read(ctx, domain.FieldRequest{}, []string{"t2m"})
		require.ErrorIs(t, err, domain.ErrUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Read(ctx, domain.FieldRequest{}, []string{"t2m"})
	require.ErrorIs(t, err, domain.ErrUnavailable)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, inner.calls, "open breaker must not call the source")
}

func TestBreakerPassesRequestErrors(t *testing.T) {
	missing := &domain.SourceError{Kind: domain.KindFileMissing, Path: "/data/x.nc"}
	inner := &flakySource{err: missing}
	b := testBreaker(inner)

	for range 5 {
		_, err := b.Read(context.Background(), domain.FieldRequest{}, []string{"t2m"})
		require.Same(t, missing, err)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, 5, inner.calls)

	inner.err = nil
	f, err := b.Read(context.Background(), domain.FieldRequest{}, []string{"t2m"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, f.Data)
}
