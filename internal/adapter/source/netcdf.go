// Package source reads raw forecast and reference fields for the writer.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fhs/go-netcdf/netcdf"

	ncstore "go.ngs.io/ensemble-store/internal/adapter/store/netcdf"
	"go.ngs.io/ensemble-store/internal/domain"
)

// PathFunc maps a request to a file path.
type PathFunc func(req domain.FieldRequest) string

// ForecastPath lays out member files as <root>/member_%03d/lead_%03d.nc.
func ForecastPath(root string) PathFunc {
	return func(req domain.FieldRequest) string {
		return filepath.Join(root, fmt.Sprintf("member_%03d", req.Member), fmt.Sprintf("lead_%03d.nc", req.Lead))
	}
}

// ReferencePath lays out reference files as <root>/<event>/lead_%03d.nc.
func ReferencePath(root string) PathFunc {
	return func(req domain.FieldRequest) string {
		return filepath.Join(root, req.Event, fmt.Sprintf("lead_%03d.nc", req.Lead))
	}
}

// NetCDFSource reads one (lat, lon) variable per channel from netCDF files.
// Geopotential channels stored in geopotential metres ("gpm") are converted
// to geopotential by StandardGravity.
type NetCDFSource struct {
	path PathFunc
}

var _ domain.FieldSource = (*NetCDFSource)(nil)

// NewNetCDFSource returns a source resolving files with path.
func NewNetCDFSource(path PathFunc) *NetCDFSource {
	return &NetCDFSource{path: path}
}

// Read implements domain.FieldSource.
func (s *NetCDFSource) Read(ctx context.Context, req domain.FieldRequest, channels []string) (*domain.Field, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.path(req)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &domain.SourceError{Kind: domain.KindFileMissing, Path: path, Err: err}
		}
		return nil, &domain.SourceError{Kind: domain.KindUnavailable, Path: path, Err: err}
	}

	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, &domain.SourceError{Kind: domain.KindUnavailable, Path: path, Err: err}
	}
	defer func() { _ = nc.Close() }()

	field := &domain.Field{Channels: append([]string(nil), channels...)}
	for _, ch := range channels {
		v, err := nc.Var(ch)
		if err != nil {
			return nil, &domain.SourceError{Kind: domain.KindChannelNotFound, Channel: ch, Path: path, Err: err}
		}
		values, shape, err := ncstore.ReadVar(v)
		if err != nil {
			return nil, &domain.SourceError{Kind: domain.KindUnavailable, Channel: ch, Path: path, Err: err}
		}
		// Drop a leading time axis of length 1.
		for len(shape) > 2 && shape[0] == 1 {
			shape = shape[1:]
		}
		if len(shape) != 2 {
			return nil, &domain.SourceError{
				Kind: domain.KindUnavailable, Channel: ch, Path: path,
				Err: fmt.Errorf("expected (lat, lon) variable, got shape %v", shape),
			}
		}
		if field.Spatial == nil {
			field.Spatial = shape
			field.Data = make([]float32, 0, len(channels)*len(values))
		} else if shape[0] != field.Spatial[0] || shape[1] != field.Spatial[1] {
			return nil, &domain.SourceError{
				Kind: domain.KindUnavailable, Channel: ch, Path: path,
				Err: fmt.Errorf("shape %v differs from %v", shape, field.Spatial),
			}
		}

		scale := 1.0
		if units, ok := ncstore.ReadStringAttr(v.Attr("units")); ok && units == "gpm" && domain.IsGeopotential(ch) {
			scale = domain.StandardGravity
		}
		for _, x := range values {
			field.Data = append(field.Data, float32(x*scale))
		}
	}
	return field, nil
}
