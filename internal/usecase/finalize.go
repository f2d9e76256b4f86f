package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.ngs.io/ensemble-store/internal/diagnostic"
	"go.ngs.io/ensemble-store/internal/domain"
)

// ReferenceContext names the verification data used by finalize.
type ReferenceContext struct {
	// Event selects the reference fields, e.g. the weather event name.
	Event string
	// ChannelSet is the set of channels the reference provides.
	ChannelSet domain.ChannelSet
	// Source reads reference fields; FieldRequest.Lead is the time index.
	Source domain.FieldSource
}

// Finalize publishes the accumulated state of every diagnostic of type
// diagType in a domain for the listed time indices. All writes for those
// indices must have completed. Channels are finalized independently; the
// returned error joins the failures.
func (r *Run) Finalize(ctx context.Context, domainID string, diagType domain.DiagnosticType, timeIndices []int, rc ReferenceContext) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return &domain.WriteError{Kind: domain.KindRunClosed, Domain: domainID}
	}
	dl, ok := r.layout.Domain(domainID)
	if !ok {
		return &domain.WriteError{Kind: domain.KindUnknownDomain, Domain: domainID}
	}

	ref := &reference{run: r, dl: dl, rc: rc}
	var errs []error
	for _, v := range dl.Variants {
		if v.Type() != diagType {
			continue
		}
		start := r.clock.Now()
		err := v.Finalize(ctx, timeIndices, ref)
		r.metrics.FinalizeDuration.WithLabelValues(diagType.String()).Observe(r.clock.Since(start).Seconds())

		outcome := "ok"
		if err != nil {
			outcome = "error"
			errs = append(errs, err)
			r.log.Error("finalize failed",
				"domain", domainID,
				"channel", v.Channel(),
				"diagnostic", diagType.String(),
				"error", err,
			)
		} else if diagType != domain.DiagnosticRaw {
			r.log.Info("diagnostic finalized",
				"domain", domainID,
				"channel", v.Channel(),
				"diagnostic", diagType.String(),
				"time_indices", timeIndices,
			)
		}
		r.metrics.Finalized.WithLabelValues(diagType.String(), outcome).Inc()
	}
	return errors.Join(errs...)
}

// Close flushes the store and drops all accumulator state. Unfinalized
// time indices are logged; they stay unknown in the store.
func (r *Run) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return &domain.WriteError{Kind: domain.KindRunClosed}
	}
	r.closed = true

	for _, dl := range r.layout.Domains {
		for _, v := range dl.Variants {
			if pending := v.Pending(); len(pending) > 0 {
				r.log.Warn("diagnostic not finalized",
					"domain", dl.Name,
					"channel", v.Channel(),
					"diagnostic", v.Type().String(),
					"time_indices", pending,
				)
			}
		}
	}
	r.layout = &Layout{}
	if err := r.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	r.log.Info("run closed", "run_id", r.id.String(), "time_count", r.TimeCount())
	return nil
}

// reference adapts a ReferenceContext to one domain.
type reference struct {
	run *Run
	dl  *DomainLayout
	rc  ReferenceContext
}

var _ diagnostic.Reference = (*reference)(nil)

func (f *reference) Set() domain.ChannelSet { return f.rc.ChannelSet }

func (f *reference) Values(ctx context.Context, channel string, timeIndex int) ([]float32, error) {
	if f.rc.Source == nil {
		return nil, &domain.SourceError{Kind: domain.KindUnavailable, Channel: channel, Err: errors.New("no reference source configured")}
	}
	field, err := f.rc.Source.Read(ctx, domain.FieldRequest{Event: f.rc.Event, Lead: timeIndex}, []string{channel})
	if err != nil {
		f.run.metrics.SourceReads.WithLabelValues("error").Inc()
		return nil, err
	}
	f.run.metrics.SourceReads.WithLabelValues("ok").Inc()

	values, ok := field.Channel(channel)
	if !ok {
		return nil, &domain.SourceError{Kind: domain.KindChannelNotFound, Channel: channel}
	}
	if slices.Equal(field.Spatial, f.dl.Shape) {
		return values, nil
	}
	grid := f.run.grid
	if !slices.Equal(field.Spatial, []int{grid.Rows(), grid.Cols()}) {
		return nil, &domain.SourceError{
			Kind:    domain.KindUnavailable,
			Channel: channel,
			Err:     fmt.Errorf("reference has shape %v, want %v or %v", field.Spatial, f.dl.Shape, []int{grid.Rows(), grid.Cols()}),
		}
	}
	out := make([]float32, f.dl.Size())
	if err := f.dl.extract(grid, values, out); err != nil {
		return nil, err
	}
	return out, nil
}
