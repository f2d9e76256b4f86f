// Package usecase declares the output store layout for a run and drives
// incremental writes and diagnostic finalization against it.
package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"go.ngs.io/ensemble-store/internal/adapter/regrid"
	"go.ngs.io/ensemble-store/internal/adapter/store"
	"go.ngs.io/ensemble-store/internal/diagnostic"
	"go.ngs.io/ensemble-store/internal/domain"
	"go.ngs.io/ensemble-store/internal/observability"
)

// Conventions is written to the root group.
const Conventions = "CF-1.8"

// RunDescriptor describes the output of one ensemble run.
type RunDescriptor struct {
	Domains       []domain.Domain
	EnsembleTotal int
	// Channels is the model's channel list. When set, every diagnostic
	// channel must be one of them.
	Channels []string

	// InitialTime and StepHours define the time coordinate:
	// time[i] = i * StepHours hours since InitialTime.
	InitialTime time.Time
	StepHours   float64

	Compress bool
}

// Layout holds the handles produced by Initialize.
type Layout struct {
	Domains   []*DomainLayout
	Variables []*diagnostic.Variable
}

// Domain returns the layout of a named domain.
func (l *Layout) Domain(name string) (*DomainLayout, bool) {
	for _, d := range l.Domains {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// DomainLayout is one resolved domain and its diagnostics.
type DomainLayout struct {
	*domain.Resolved
	Variants []diagnostic.Variant

	byChannel map[string][]diagnostic.Variant
	sampler   *regrid.Sampler
}

// Channels lists the channels with at least one diagnostic, in declaration order.
func (d *DomainLayout) Channels() []string {
	var out []string
	for _, v := range d.Variants {
		if !slices.Contains(out, v.Channel()) {
			out = append(out, v.Channel())
		}
	}
	return out
}

// Run is an initialized store open for writing.
type Run struct {
	store   store.Store
	grid    *domain.Grid
	desc    RunDescriptor
	coords  domain.CoordinateSource
	log     *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	id      uuid.UUID

	layout *Layout

	// mu guards closed; writers hold it shared.
	mu     sync.RWMutex
	closed bool

	timeMu    sync.Mutex
	timeCount int
}

// Option configures a Run.
type Option func(*Run)

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(r *Run) { r.log = l }
}

// WithMetrics sets the collectors. The default is an unregistered set.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Run) { r.metrics = m }
}

// WithClock sets the time source for date_created and finalize timing.
func WithClock(c clockwork.Clock) Option {
	return func(r *Run) { r.clock = c }
}

// WithCoordinateSource sets the provider used by external grid domains.
func WithCoordinateSource(c domain.CoordinateSource) Option {
	return func(r *Run) { r.coords = c }
}

// WithRunID fixes the run identifier.
func WithRunID(id uuid.UUID) Option {
	return func(r *Run) { r.id = id }
}

// Initialize declares the root dimensions, every domain group with its
// coordinates, and one variable per (domain, diagnostic, channel). Any
// error is fatal to the run.
func Initialize(ctx context.Context, s store.Store, grid *domain.Grid, desc RunDescriptor, opts ...Option) (*Run, error) {
	if grid == nil {
		return nil, fmt.Errorf("a global grid is required")
	}
	if desc.EnsembleTotal <= 0 {
		return nil, fmt.Errorf("ensemble_total must be positive, got %d", desc.EnsembleTotal)
	}
	if desc.StepHours == 0 {
		desc.StepHours = 6
	}
	r := &Run{
		store: s,
		grid:  grid,
		desc:  desc,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock: clockwork.NewRealClock(),
		id:    uuid.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = observability.NewMetricsForTesting()
	}

	if err := r.declareRoot(); err != nil {
		return nil, err
	}

	r.layout = &Layout{}
	seen := map[string]bool{}
	for _, d := range desc.Domains {
		name := d.Info().Name
		if name == "" || seen[name] {
			return nil, fmt.Errorf("domain names must be unique and non-empty, got %q", name)
		}
		seen[name] = true

		dl, err := r.declareDomain(ctx, d)
		if err != nil {
			return nil, err
		}
		r.layout.Domains = append(r.layout.Domains, dl)
	}

	info, err := s.Describe(store.Root)
	if err != nil {
		return nil, err
	}
	for _, dim := range info.Dims {
		if dim.Name == diagnostic.DimTime {
			r.timeCount = dim.Len
		}
	}
	r.metrics.TimeCount.Set(float64(r.timeCount))

	r.log.Info("store initialized",
		"run_id", r.id.String(),
		"domains", len(r.layout.Domains),
		"variables", len(r.layout.Variables),
		"ensemble_total", desc.EnsembleTotal,
	)
	return r, nil
}

func (r *Run) declareRoot() error {
	s := r.store
	if err := s.DefineDim(store.Root, diagnostic.DimTime, store.Unlimited); err != nil {
		return fmt.Errorf("declare time: %w", err)
	}
	if err := s.DefineDim(store.Root, diagnostic.DimEnsemble, r.desc.EnsembleTotal); err != nil {
		return fmt.Errorf("declare ensemble: %w", err)
	}

	if _, err := s.DefineVar(store.Root, store.VarSpec{Name: diagnostic.DimTime, Dims: []string{diagnostic.DimTime}, DType: store.Float64}); err != nil {
		return fmt.Errorf("declare time variable: %w", err)
	}
	if err := s.PutAttrs(store.Root, diagnostic.DimTime, store.Attrs{
		"units":         "hours since " + r.desc.InitialTime.UTC().Format("2006-01-02 15:04:05"),
		"calendar":      "standard",
		"standard_name": "time",
	}); err != nil {
		return err
	}

	created, err := s.DefineVar(store.Root, store.VarSpec{Name: diagnostic.DimEnsemble, Dims: []string{diagnostic.DimEnsemble}, DType: store.Int32})
	if err != nil {
		return fmt.Errorf("declare ensemble variable: %w", err)
	}
	if created {
		ids := make([]float64, r.desc.EnsembleTotal)
		for i := range ids {
			ids[i] = float64(i)
		}
		if err := s.WriteSlab(store.Root, diagnostic.DimEnsemble, []int{0}, []int{len(ids)}, ids); err != nil {
			return fmt.Errorf("write ensemble ids: %w", err)
		}
	}

	return s.PutAttrs(store.Root, "", store.Attrs{
		"run_id":         r.id.String(),
		"date_created":   r.clock.Now().UTC().Format(time.RFC3339),
		"ensemble_total": r.desc.EnsembleTotal,
		"conventions":    Conventions,
	})
}

func (r *Run) declareDomain(ctx context.Context, d domain.Domain) (*DomainLayout, error) {
	res, err := domain.Resolve(ctx, d, r.grid, r.coords)
	if err != nil {
		return nil, err
	}
	group := res.Name
	s := r.store
	if err := s.CreateGroup(group); err != nil {
		return nil, fmt.Errorf("create group %s: %w", group, err)
	}

	size := map[string]int{}
	for i, name := range res.Dims {
		size[name] = res.Shape[i]
		if err := s.DefineDim(group, name, res.Shape[i]); err != nil {
			return nil, fmt.Errorf("declare %s/%s: %w", group, name, err)
		}
	}
	for _, c := range res.Coords {
		if err := declareCoordinate(s, group, c, size); err != nil {
			return nil, err
		}
	}

	attrs := store.Attrs{"domain_type": res.Kind.String()}
	switch v := d.(type) {
	case domain.Window, *domain.Window:
		attrs["imin"] = res.LatStart
		attrs["imax"] = res.LatStop
		attrs["jmin"] = res.LonStart
		attrs["jmax"] = res.LonStop
	case domain.ExternalGrid:
		attrs["source_uri"] = v.SourceURI
	case *domain.ExternalGrid:
		attrs["source_uri"] = v.SourceURI
	}
	if err := s.PutAttrs(group, "", attrs); err != nil {
		return nil, err
	}

	dl := &DomainLayout{Resolved: res, byChannel: map[string][]diagnostic.Variant{}}
	if res.Kind != domain.DomainWindow {
		dl.sampler, err = regrid.NewSampler(r.grid, res.PointLat, res.PointLon)
		if err != nil {
			return nil, &domain.DomainError{Kind: domain.KindUnsupportedShape, Domain: group, Err: err}
		}
	}

	byName := map[string]diagnostic.Variant{}
	for _, diag := range d.Info().Diagnostics {
		for _, channel := range diag.Channels {
			if len(r.desc.Channels) > 0 && !slices.Contains(r.desc.Channels, channel) {
				return nil, &domain.DiagnosticError{
					Kind:       domain.KindChannelNotInSet,
					Domain:     group,
					Diagnostic: diag.Type.String(),
					Channel:    channel,
					Message:    "channel is not produced by the model",
				}
			}
			name := diag.Type.VariableName(channel)
			if _, ok := byName[name]; ok {
				continue
			}
			v, created, err := diagnostic.Declare(s, diagnostic.Spec{
				Group:         group,
				Type:          diag.Type,
				Channel:       channel,
				SpatialDims:   res.Dims,
				Spatial:       res.Shape,
				EnsembleTotal: r.desc.EnsembleTotal,
				Compress:      r.desc.Compress,
			})
			if err != nil {
				return nil, err
			}
			variant, err := diagnostic.New(diag.Type, channel, v)
			if err != nil {
				return nil, err
			}
			byName[name] = variant
			dl.Variants = append(dl.Variants, variant)
			dl.byChannel[channel] = append(dl.byChannel[channel], variant)
			r.layout.Variables = append(r.layout.Variables, v)
			r.log.Debug("variable declared", "domain", group, "variable", name, "created", created)
		}
	}
	return dl, nil
}

func declareCoordinate(s store.Store, group string, c domain.Coordinate, size map[string]int) error {
	if _, err := s.DefineVar(group, store.VarSpec{Name: c.Name, Dims: c.Dims, DType: store.Float32}); err != nil {
		return fmt.Errorf("declare %s/%s: %w", group, c.Name, err)
	}
	attrs := store.Attrs{"units": "degrees_north", "standard_name": "latitude", "long_name": "latitude"}
	if c.Axis == domain.AxisLongitude {
		attrs = store.Attrs{"units": "degrees_east", "standard_name": "longitude", "long_name": "longitude"}
	}
	if err := s.PutAttrs(group, c.Name, attrs); err != nil {
		return err
	}
	start := make([]int, len(c.Dims))
	count := make([]int, len(c.Dims))
	for i, dim := range c.Dims {
		count[i] = size[dim]
	}
	return s.WriteSlab(group, c.Name, start, count, c.Values)
}

// ID returns the run identifier written to the root group.
func (r *Run) ID() uuid.UUID { return r.id }

// Layout returns the declared handles.
func (r *Run) Layout() *Layout { return r.layout }

// TimeCount returns the current length of the time dimension.
func (r *Run) TimeCount() int {
	r.timeMu.Lock()
	defer r.timeMu.Unlock()
	return r.timeCount
}
