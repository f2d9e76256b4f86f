// Package coords loads latitude/longitude arrays for externally defined grids.
package coords

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/fhs/go-netcdf/netcdf"

	ncstore "go.ngs.io/ensemble-store/internal/adapter/store/netcdf"
	"go.ngs.io/ensemble-store/internal/adapter/store/zarr"
	"go.ngs.io/ensemble-store/internal/domain"
)

// Candidate variable names tried after the ones named in the URI.
var (
	latNames = []string{"lat", "latitude", "XLAT", "y"}
	lonNames = []string{"lon", "longitude", "XLONG", "x"}
)

// Resolver reads coordinates from netCDF files and Zarr stores.
//
//	netcdf:///data/cwb.nc?lat=XLAT&lon=XLONG
//	zarr:///data/cwb_coords.zarr?lat=XLAT&lon=XLONG
//
// A bare path is dispatched on its extension.
type Resolver struct{}

var _ domain.CoordinateSource = Resolver{}

// NewResolver returns a Resolver.
func NewResolver() Resolver { return Resolver{} }

// Coordinates implements domain.CoordinateSource.
func (Resolver) Coordinates(ctx context.Context, uri string) (*domain.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scheme, path, lat, lon, err := parseURI(uri)
	if err != nil {
		return nil, err
	}

	var c *domain.Coordinates
	switch scheme {
	case "netcdf":
		c, err = fromNetCDF(path, lat, lon)
	case "zarr":
		c, err = fromZarr(path, lat, lon)
	default:
		return nil, fmt.Errorf("unsupported coordinate source scheme %q", scheme)
	}
	if err != nil {
		return nil, err
	}
	c.LatShape = squeeze(c.LatShape)
	c.LonShape = squeeze(c.LonShape)
	return c, nil
}

func parseURI(uri string) (scheme, path, lat, lon string, err error) {
	if !strings.Contains(uri, "://") {
		switch strings.ToLower(filepath.Ext(uri)) {
		case ".nc", ".nc4", ".cdf":
			return "netcdf", uri, "", "", nil
		case ".zarr":
			return "zarr", uri, "", "", nil
		}
		return "", "", "", "", fmt.Errorf("cannot infer coordinate source type of %q", uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", "", "", fmt.Errorf("invalid coordinate source %q: %w", uri, err)
	}
	q := u.Query()
	return u.Scheme, u.Path, q.Get("lat"), q.Get("lon"), nil
}

func candidates(preferred string, defaults []string) []string {
	if preferred == "" {
		return defaults
	}
	return append([]string{preferred}, defaults...)
}

func fromNetCDF(path, latName, lonName string) (*domain.Coordinates, error) {
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file %s: %w", path, err)
	}
	defer func() { _ = nc.Close() }()

	read := func(names []string) ([]float64, []int, error) {
		for _, name := range names {
			v, err := nc.Var(name)
			if err != nil {
				continue
			}
			return ncstore.ReadVar(v)
		}
		return nil, nil, fmt.Errorf("variable not found in %s (tried: %v)", path, names)
	}

	lat, latShape, err := read(candidates(latName, latNames))
	if err != nil {
		return nil, fmt.Errorf("latitude: %w", err)
	}
	lon, lonShape, err := read(candidates(lonName, lonNames))
	if err != nil {
		return nil, fmt.Errorf("longitude: %w", err)
	}
	return &domain.Coordinates{Lat: lat, LatShape: latShape, Lon: lon, LonShape: lonShape}, nil
}

func fromZarr(path, latName, lonName string) (*domain.Coordinates, error) {
	read := func(names []string) ([]float64, []int, error) {
		var lastErr error
		for _, name := range names {
			values, shape, err := zarr.ReadArray(filepath.Join(path, name))
			if err == nil {
				return values, shape, nil
			}
			lastErr = err
		}
		return nil, nil, fmt.Errorf("array not found in %s (tried: %v): %w", path, names, lastErr)
	}

	lat, latShape, err := read(candidates(latName, latNames))
	if err != nil {
		return nil, fmt.Errorf("latitude: %w", err)
	}
	lon, lonShape, err := read(candidates(lonName, lonNames))
	if err != nil {
		return nil, fmt.Errorf("longitude: %w", err)
	}
	return &domain.Coordinates{Lat: lat, LatShape: latShape, Lon: lon, LonShape: lonShape}, nil
}

// squeeze drops leading length-1 dimensions above rank 2, as in WRF's
// XLAT(Time, south_north, west_east).
func squeeze(shape []int) []int {
	for len(shape) > 2 && shape[0] == 1 {
		shape = shape[1:]
	}
	return shape
}
