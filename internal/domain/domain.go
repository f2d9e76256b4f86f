package domain

import (
	"context"
	"errors"
	"fmt"
)

// DomainKind enumerates the supported spatial domain variants.
type DomainKind int

const (
	// DomainWindow is a latitude band of the global grid.
	DomainWindow DomainKind = iota
	// DomainMultiPoint is a sparse list of arbitrary points.
	DomainMultiPoint
	// DomainExternalGrid takes its coordinates from an external source.
	DomainExternalGrid
)

func (k DomainKind) String() string {
	switch k {
	case DomainWindow:
		return "Window"
	case DomainMultiPoint:
		return "MultiPoint"
	case DomainExternalGrid:
		return "ExternalGrid"
	}
	return fmt.Sprintf("DomainKind(%d)", int(k))
}

// ParseDomainKind maps a run descriptor type tag to a kind.
// "CWBDomain" is accepted as an alias for ExternalGrid.
func ParseDomainKind(s string) (DomainKind, error) {
	switch s {
	case "Window":
		return DomainWindow, nil
	case "MultiPoint":
		return DomainMultiPoint, nil
	case "ExternalGrid", "CWBDomain":
		return DomainExternalGrid, nil
	}
	return 0, &DomainError{
		Kind:    KindUnknownVariant,
		Message: fmt.Sprintf("domain type %q not supported", s),
	}
}

// Common holds the fields shared by every domain variant.
type Common struct {
	Name        string
	Diagnostics []Diagnostic
}

// Info returns the shared fields.
func (c Common) Info() Common { return c }

// Domain is a spatial subset or projection of the global grid.
// The set of implementations is closed.
type Domain interface {
	Kind() DomainKind
	Info() Common
	sealed()
}

// Window selects the rows with LatMin <= lat <= LatMax and every longitude.
type Window struct {
	Common
	LatMin float64
	LatMax float64
}

// MultiPoint is a list of points; Lat and Lon must have the same length.
type MultiPoint struct {
	Common
	Lat []float64
	Lon []float64
}

// ExternalGrid loads its coordinates verbatim from SourceURI.
type ExternalGrid struct {
	Common
	SourceURI string
}

func (Window) Kind() DomainKind       { return DomainWindow }
func (MultiPoint) Kind() DomainKind   { return DomainMultiPoint }
func (ExternalGrid) Kind() DomainKind { return DomainExternalGrid }

func (Window) sealed()       {}
func (MultiPoint) sealed()   {}
func (ExternalGrid) sealed() {}

// Coordinates is what an external coordinate source reports: flattened
// latitude and longitude arrays with their shapes.
type Coordinates struct {
	Lat      []float64
	LatShape []int
	Lon      []float64
	LonShape []int
}

// CoordinateSource supplies lat/lon arrays for an external grid.
type CoordinateSource interface {
	Coordinates(ctx context.Context, uri string) (*Coordinates, error)
}

// Axis identifies what a coordinate variable measures.
type Axis int

const (
	AxisLatitude Axis = iota
	AxisLongitude
)

// Coordinate is a coordinate variable to declare in a domain group.
type Coordinate struct {
	Name   string
	Dims   []string
	Axis   Axis
	Values []float64
}

// Resolved is a domain with its dimension sizes fixed against a grid.
// It is computed once at initialization and never mutated.
type Resolved struct {
	Name  string
	Kind  DomainKind
	Dims  []string
	Shape []int

	Coords []Coordinate

	// Window index ranges into the global grid, half open.
	LatStart, LatStop int
	LonStart, LonStop int

	// Cell positions for non-window domains, flattened in Shape order.
	PointLat []float64
	PointLon []float64
}

// Size is the number of spatial cells.
func (r *Resolved) Size() int {
	n := 1
	for _, s := range r.Shape {
		n *= s
	}
	return n
}

// Resolve fixes a domain's dimensions against the grid. coords is only
// consulted for ExternalGrid domains and may be nil otherwise.
func Resolve(ctx context.Context, d Domain, grid *Grid, coords CoordinateSource) (*Resolved, error) {
	switch v := d.(type) {
	case Window:
		return resolveWindow(v, grid)
	case *Window:
		return resolveWindow(*v, grid)
	case MultiPoint:
		return resolveMultiPoint(v)
	case *MultiPoint:
		return resolveMultiPoint(*v)
	case ExternalGrid:
		return resolveExternal(ctx, v, coords)
	case *ExternalGrid:
		return resolveExternal(ctx, *v, coords)
	}
	return nil, &DomainError{
		Kind:    KindUnknownVariant,
		Message: fmt.Sprintf("domain type %T not supported", d),
	}
}

// WindowRows returns the half-open row range of latitudes inside [latMin, latMax].
// Membership is inclusive at both ends and uses exact comparison, so the range is
// a pure function of the bounds and the grid.
func WindowRows(lat []float64, latMin, latMax float64) (start, stop int) {
	start, stop = -1, -1
	for i, v := range lat {
		if v >= latMin && v <= latMax {
			if start < 0 {
				start = i
			}
			stop = i + 1
		}
	}
	if start < 0 {
		return 0, 0
	}
	return start, stop
}

func resolveWindow(w Window, grid *Grid) (*Resolved, error) {
	if w.LatMin > w.LatMax {
		return nil, &DomainError{
			Kind:    KindEmptyWindow,
			Domain:  w.Name,
			Message: fmt.Sprintf("lat_min %g is greater than lat_max %g", w.LatMin, w.LatMax),
		}
	}
	start, stop := WindowRows(grid.lat, w.LatMin, w.LatMax)
	if stop-start == 0 {
		return nil, &DomainError{
			Kind:    KindEmptyWindow,
			Domain:  w.Name,
			Message: fmt.Sprintf("no grid latitude in [%g, %g]", w.LatMin, w.LatMax),
		}
	}

	lat := make([]float64, stop-start)
	copy(lat, grid.lat[start:stop])
	return &Resolved{
		Name:  w.Name,
		Kind:  DomainWindow,
		Dims:  []string{"lat", "lon"},
		Shape: []int{stop - start, grid.Cols()},
		Coords: []Coordinate{
			{Name: "lat", Dims: []string{"lat"}, Axis: AxisLatitude, Values: lat},
			{Name: "lon", Dims: []string{"lon"}, Axis: AxisLongitude, Values: grid.Lon()},
		},
		LatStart: start,
		LatStop:  stop,
		LonStart: 0,
		LonStop:  grid.Cols(),
	}, nil
}

func resolveMultiPoint(m MultiPoint) (*Resolved, error) {
	if len(m.Lat) != len(m.Lon) {
		return nil, &DomainError{
			Kind:    KindLengthMismatch,
			Domain:  m.Name,
			Message: fmt.Sprintf("lat has %d points, lon has %d", len(m.Lat), len(m.Lon)),
		}
	}
	if len(m.Lat) == 0 {
		return nil, &DomainError{
			Kind:    KindLengthMismatch,
			Domain:  m.Name,
			Message: "multipoint domain has no points",
		}
	}

	lat := append([]float64(nil), m.Lat...)
	lon := append([]float64(nil), m.Lon...)
	return &Resolved{
		Name:  m.Name,
		Kind:  DomainMultiPoint,
		Dims:  []string{"npoints"},
		Shape: []int{len(lat)},
		Coords: []Coordinate{
			{Name: "lat_point", Dims: []string{"npoints"}, Axis: AxisLatitude, Values: lat},
			{Name: "lon_point", Dims: []string{"npoints"}, Axis: AxisLongitude, Values: lon},
		},
		PointLat: lat,
		PointLon: lon,
	}, nil
}

func resolveExternal(ctx context.Context, e ExternalGrid, source CoordinateSource) (*Resolved, error) {
	if source == nil {
		return nil, &DomainError{
			Kind:    KindSourceUnavailable,
			Domain:  e.Name,
			Message: "no coordinate source configured",
		}
	}
	c, err := source.Coordinates(ctx, e.SourceURI)
	if err != nil {
		var de *DomainError
		if errors.As(err, &de) {
			cp := *de
			if cp.Domain == "" {
				cp.Domain = e.Name
			}
			return nil, &cp
		}
		return nil, &DomainError{
			Kind:    KindSourceUnavailable,
			Domain:  e.Name,
			Message: fmt.Sprintf("coordinates from %q", e.SourceURI),
			Err:     err,
		}
	}

	unsupported := func(format string, args ...any) error {
		return &DomainError{Kind: KindUnsupportedShape, Domain: e.Name, Message: fmt.Sprintf(format, args...)}
	}
	if product(c.LatShape) != len(c.Lat) || product(c.LonShape) != len(c.Lon) {
		return nil, unsupported("coordinate shapes %v/%v do not match %d/%d values", c.LatShape, c.LonShape, len(c.Lat), len(c.Lon))
	}
	if len(c.Lat) == 0 || len(c.Lon) == 0 {
		return nil, unsupported("empty coordinate arrays")
	}

	switch {
	case len(c.LatShape) == 1 && len(c.LonShape) == 1:
		return rectilinear(e.Name, c.Lat, c.Lon), nil

	case len(c.LatShape) == 2 && len(c.LonShape) == 2:
		if c.LatShape[0] != c.LonShape[0] || c.LatShape[1] != c.LonShape[1] {
			return nil, unsupported("lat shape %v differs from lon shape %v", c.LatShape, c.LonShape)
		}
		ny, nx := c.LatShape[0], c.LatShape[1]
		if lat, lon, ok := separable(c.Lat, c.Lon, ny, nx); ok {
			return rectilinear(e.Name, lat, lon), nil
		}
		return curvilinear(e.Name, c.Lat, c.Lon, ny, nx), nil
	}
	return nil, unsupported("cannot flatten %d-D lat and %d-D lon", len(c.LatShape), len(c.LonShape))
}

func rectilinear(name string, lat, lon []float64) *Resolved {
	lat = append([]float64(nil), lat...)
	lon = append([]float64(nil), lon...)
	pLat := make([]float64, 0, len(lat)*len(lon))
	pLon := make([]float64, 0, len(lat)*len(lon))
	for _, la := range lat {
		for _, lo := range lon {
			pLat = append(pLat, la)
			pLon = append(pLon, lo)
		}
	}
	return &Resolved{
		Name:  name,
		Kind:  DomainExternalGrid,
		Dims:  []string{"lat", "lon"},
		Shape: []int{len(lat), len(lon)},
		Coords: []Coordinate{
			{Name: "lat", Dims: []string{"lat"}, Axis: AxisLatitude, Values: lat},
			{Name: "lon", Dims: []string{"lon"}, Axis: AxisLongitude, Values: lon},
		},
		PointLat: pLat,
		PointLon: pLon,
	}
}

func curvilinear(name string, lat, lon []float64, ny, nx int) *Resolved {
	lat = append([]float64(nil), lat...)
	lon = append([]float64(nil), lon...)
	return &Resolved{
		Name:  name,
		Kind:  DomainExternalGrid,
		Dims:  []string{"y", "x"},
		Shape: []int{ny, nx},
		Coords: []Coordinate{
			{Name: "lat", Dims: []string{"y", "x"}, Axis: AxisLatitude, Values: lat},
			{Name: "lon", Dims: []string{"y", "x"}, Axis: AxisLongitude, Values: lon},
		},
		PointLat: lat,
		PointLon: lon,
	}
}

// separable reports whether 2-D lat(y,x)/lon(y,x) arrays are a tensor product of
// 1-D axes, returning lat[:,0] and lon[0,:] when they are.
func separable(lat, lon []float64, ny, nx int) ([]float64, []float64, bool) {
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			if lat[i*nx+j] != lat[i*nx] || lon[i*nx+j] != lon[j] {
				return nil, nil, false
			}
		}
	}
	la := make([]float64, ny)
	for i := range la {
		la[i] = lat[i*nx]
	}
	lo := make([]float64, nx)
	copy(lo, lon[:nx])
	return la, lo, true
}

func product(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
