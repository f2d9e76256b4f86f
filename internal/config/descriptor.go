package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"go.ngs.io/ensemble-store/internal/domain"
	"go.ngs.io/ensemble-store/internal/usecase"
)

// Descriptor is the JSON run descriptor.
type Descriptor struct {
	EnsembleTotal int `json:"ensemble_total" validate:"required,min=1"`
	// BatchSize is the number of members per worker batch.
	BatchSize int `json:"batch_size" validate:"min=0"`
	// ChannelSet names the model channels; Channels overrides it.
	ChannelSet string   `json:"channel_set" validate:"omitempty,oneof=var34 var73"`
	Channels   []string `json:"channels" validate:"omitempty,dive,required"`

	InitialTime time.Time `json:"initial_time"`
	StepHours   float64   `json:"step_hours" validate:"min=0"`
	LeadTimes   int       `json:"lead_times" validate:"required,min=1"`
	// FinalizeLeadTimes lists the time indices at which non-raw
	// diagnostics are finalized.
	FinalizeLeadTimes []int `json:"finalize_lead_times" validate:"dive,min=0"`

	Grid         GridSpec         `json:"grid"`
	WeatherEvent WeatherEventSpec `json:"weather_event"`
	Domains      []DomainSpec     `json:"domains" validate:"required,min=1,dive"`
}

// GridSpec sizes the global equiangular grid.
type GridSpec struct {
	Rows int `json:"rows" validate:"omitempty,min=2"`
	Cols int `json:"cols" validate:"omitempty,min=2"`
}

// WeatherEventSpec selects the reference data for finalize.
type WeatherEventSpec struct {
	Name                string `json:"name"`
	ReferenceChannelSet string `json:"reference_channel_set" validate:"omitempty,oneof=var34 var73"`
}

// DomainSpec is one domain entry. Type is Window, MultiPoint or
// ExternalGrid (alias CWBDomain).
type DomainSpec struct {
	Name        string           `json:"name" validate:"required"`
	Type        string           `json:"type" validate:"required"`
	LatMin      *float64         `json:"lat_min"`
	LatMax      *float64         `json:"lat_max"`
	Lat         []float64        `json:"lat"`
	Lon         []float64        `json:"lon"`
	SourceURI   string           `json:"source_uri"`
	Diagnostics []DiagnosticSpec `json:"diagnostics" validate:"dive"`
}

// DiagnosticSpec attaches a diagnostic type to channels.
type DiagnosticSpec struct {
	Type     string   `json:"type" validate:"required"`
	Channels []string `json:"channels" validate:"required,min=1,dive,required"`
}

// LoadDescriptor reads and validates a descriptor file.
func LoadDescriptor(path string) (*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{Type: ErrDescriptor, Message: "failed to open run descriptor", Err: err}
	}
	defer f.Close()
	return ParseDescriptor(f)
}

// ParseDescriptor decodes and validates a descriptor. Unknown fields are rejected.
func ParseDescriptor(r io.Reader) (*Descriptor, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, &ConfigError{Type: ErrDescriptor, Message: "failed to read run descriptor", Err: err}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var d Descriptor
	if err := dec.Decode(&d); err != nil {
		return nil, &ConfigError{Type: ErrDescriptor, Message: "invalid run descriptor JSON", Err: err}
	}
	if err := validator.New().Struct(d); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "run descriptor validation failed", Err: err}
	}
	return &d, nil
}

// ModelChannels returns Channels, or the channels of ChannelSet.
func (d *Descriptor) ModelChannels() ([]string, error) {
	if len(d.Channels) > 0 {
		return append([]string(nil), d.Channels...), nil
	}
	if d.ChannelSet == "" {
		return nil, nil
	}
	c, ok := domain.ChannelSet(d.ChannelSet).Channels()
	if !ok {
		return nil, fmt.Errorf("unknown channel set %q", d.ChannelSet)
	}
	return c, nil
}

// GlobalGrid builds the global grid, 721x1440 when unset.
func (d *Descriptor) GlobalGrid() (*domain.Grid, error) {
	rows, cols := d.Grid.Rows, d.Grid.Cols
	if rows == 0 {
		rows = 721
	}
	if cols == 0 {
		cols = 1440
	}
	return domain.NewEquiangularGrid(rows, cols)
}

// ReferenceSet is the weather event's reference channel set, defaulting
// to the model's channel set.
func (d *Descriptor) ReferenceSet() domain.ChannelSet {
	if d.WeatherEvent.ReferenceChannelSet != "" {
		return domain.ChannelSet(d.WeatherEvent.ReferenceChannelSet)
	}
	return domain.ChannelSet(d.ChannelSet)
}

// RunDescriptor converts the file into the engine's descriptor. Unknown
// domain or diagnostic types fail here, before any store is touched.
func (d *Descriptor) RunDescriptor(compress bool) (usecase.RunDescriptor, error) {
	channels, err := d.ModelChannels()
	if err != nil {
		return usecase.RunDescriptor{}, err
	}
	out := usecase.RunDescriptor{
		EnsembleTotal: d.EnsembleTotal,
		Channels:      channels,
		InitialTime:   d.InitialTime,
		StepHours:     d.StepHours,
		Compress:      compress,
	}
	for _, ds := range d.Domains {
		dom, err := ds.toDomain()
		if err != nil {
			return usecase.RunDescriptor{}, err
		}
		out.Domains = append(out.Domains, dom)
	}
	return out, nil
}

func (ds DomainSpec) toDomain() (domain.Domain, error) {
	kind, err := domain.ParseDomainKind(ds.Type)
	if err != nil {
		var de *domain.DomainError
		if errors.As(err, &de) {
			de.Domain = ds.Name
		}
		return nil, err
	}
	common := domain.Common{Name: ds.Name}
	for _, spec := range ds.Diagnostics {
		t, err := domain.ParseDiagnosticType(spec.Type)
		if err != nil {
			var de *domain.DiagnosticError
			if errors.As(err, &de) {
				de.Domain = ds.Name
			}
			return nil, err
		}
		common.Diagnostics = append(common.Diagnostics, domain.Diagnostic{Type: t, Channels: spec.Channels})
	}

	switch kind {
	case domain.DomainWindow:
		if ds.LatMin == nil || ds.LatMax == nil {
			return nil, &ConfigError{Type: ErrValidation, Message: fmt.Sprintf("window %q needs lat_min and lat_max", ds.Name)}
		}
		return domain.Window{Common: common, LatMin: *ds.LatMin, LatMax: *ds.LatMax}, nil
	case domain.DomainMultiPoint:
		return domain.MultiPoint{Common: common, Lat: ds.Lat, Lon: ds.Lon}, nil
	case domain.DomainExternalGrid:
		if ds.SourceURI == "" {
			return nil, &ConfigError{Type: ErrValidation, Message: fmt.Sprintf("external grid %q needs source_uri", ds.Name)}
		}
		return domain.ExternalGrid{Common: common, SourceURI: ds.SourceURI}, nil
	}
	return nil, &domain.DomainError{Kind: domain.KindUnknownVariant, Domain: ds.Name}
}
