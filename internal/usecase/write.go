package usecase

import (
	"context"
	"errors"
	"slices"

	"go.ngs.io/ensemble-store/internal/adapter/store"
	"go.ngs.io/ensemble-store/internal/diagnostic"
	"go.ngs.io/ensemble-store/internal/domain"
)

// Write stores one ensemble batch at one time index into a domain. The
// batch holds members [ensembleOffset, ensembleOffset+batch.Members) on
// either the global grid or the domain's own shape. Every check and every
// regridding step runs before any data is written; a *domain.WriteError
// means nothing was written.
//
// timeIndex may equal TimeCount, which appends a time step, or name an
// existing step, which is overwritten. Calls for disjoint ensemble ranges
// may run concurrently.
//
// A corrective write reaches raw variables only when the time index is
// already finalized for skill or crps; published scores are not recomputed.
// Skill also counts each member once per time index, so rewriting a member
// before finalize updates raw and crps but leaves the skill sums unchanged.
func (r *Run) Write(ctx context.Context, batch *domain.Batch, domainID string, timeIndex, ensembleOffset int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	err := r.write(batch, domainID, timeIndex, ensembleOffset)
	if err != nil {
		var we *domain.WriteError
		kind := "store"
		if errors.As(err, &we) {
			kind = string(we.Kind)
		}
		r.metrics.WriteErrors.WithLabelValues(kind).Inc()
		r.log.Warn("write rejected",
			"domain", domainID,
			"time_index", timeIndex,
			"ensemble_offset", ensembleOffset,
			"error", err,
		)
	}
	return err
}

// ReserveTime appends the time step timeIndex without writing any member,
// so a lead whose batches were all skipped still occupies its slot. Its
// cells keep the fill value. Reserving an existing step does nothing.
func (r *Run) ReserveTime(timeIndex int) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return &domain.WriteError{Kind: domain.KindRunClosed, TimeIndex: timeIndex}
	}
	if n := r.TimeCount(); timeIndex < 0 || timeIndex > n {
		return &domain.WriteError{
			Kind:      domain.KindTimeOutOfRange,
			TimeIndex: timeIndex,
			Message:   "time index must be in [0, time_count]",
		}
	}
	return r.growTime(timeIndex)
}

// target is one variant update prepared by write.
type target struct {
	variant diagnostic.Variant
	update  diagnostic.Update
}

func (r *Run) write(batch *domain.Batch, domainID string, timeIndex, ensembleOffset int) error {
	members := 0
	if batch != nil {
		members = batch.Members
	}
	werr := func(kind domain.ErrorKind, channel, msg string) error {
		return &domain.WriteError{
			Kind:           kind,
			Domain:         domainID,
			Channel:        channel,
			TimeIndex:      timeIndex,
			EnsembleOffset: ensembleOffset,
			BatchSize:      members,
			Message:        msg,
		}
	}

	if r.closed {
		return werr(domain.KindRunClosed, "", "")
	}
	dl, ok := r.layout.Domain(domainID)
	if !ok {
		return werr(domain.KindUnknownDomain, "", "")
	}
	if batch == nil || batch.Members <= 0 || len(batch.Channels) == 0 || batch.Cells() == 0 ||
		len(batch.Data) != batch.Members*len(batch.Channels)*batch.Cells() {
		return werr(domain.KindShapeMismatch, "", "batch data does not match its (member, channel, *spatial) shape")
	}
	if n := r.TimeCount(); timeIndex < 0 || timeIndex > n {
		return werr(domain.KindTimeOutOfRange, "", "time index must be in [0, time_count]")
	}
	if ensembleOffset < 0 || ensembleOffset+batch.Members > r.desc.EnsembleTotal {
		return werr(domain.KindEnsembleOverflow, "", "")
	}

	var channels []string
	for _, c := range batch.Channels {
		if _, ok := dl.byChannel[c]; ok {
			channels = append(channels, c)
		}
	}
	if len(channels) == 0 {
		return werr(domain.KindChannelNotDeclared, batch.Channels[0], "no channel of the batch is declared in this domain")
	}

	// A batch already on the domain shape wins when both shapes agree.
	global := !slices.Equal(batch.Spatial, dl.Shape)
	if global && !slices.Equal(batch.Spatial, []int{r.grid.Rows(), r.grid.Cols()}) {
		return werr(domain.KindShapeMismatch, "", "batch is neither on the global grid nor on the domain shape")
	}

	cells := dl.Size()
	var (
		targets []target
		skipped []string
	)
	for _, channel := range channels {
		ci := batch.ChannelIndex(channel)
		values := make([]float32, batch.Members*cells)
		for m := 0; m < batch.Members; m++ {
			dst := values[m*cells : (m+1)*cells]
			src := batch.Slice(m, ci)
			if !global {
				copy(dst, src)
				continue
			}
			if err := dl.extract(r.grid, src, dst); err != nil {
				return werr(domain.KindShapeMismatch, channel, err.Error())
			}
		}
		u := diagnostic.Update{
			TimeIndex:      timeIndex,
			EnsembleOffset: ensembleOffset,
			Members:        batch.Members,
			Values:         values,
		}
		for _, v := range dl.byChannel[channel] {
			if v.Type() != domain.DiagnosticRaw && v.Phase(timeIndex) == diagnostic.Finalized {
				skipped = append(skipped, v.Variable().Name)
				continue
			}
			targets = append(targets, target{variant: v, update: u})
		}
	}

	if err := r.growTime(timeIndex); err != nil {
		return err
	}
	for _, t := range targets {
		if err := t.variant.Update(t.update); err != nil {
			return err
		}
	}

	if len(skipped) > 0 {
		r.log.Info("finalized diagnostics not updated",
			"domain", domainID,
			"time_index", timeIndex,
			"ensemble_offset", ensembleOffset,
			"variables", skipped,
		)
	}
	r.metrics.Writes.WithLabelValues(domainID).Inc()
	r.metrics.MembersWritten.Add(float64(batch.Members))
	r.log.Debug("batch written",
		"domain", domainID,
		"time_index", timeIndex,
		"ensemble_offset", ensembleOffset,
		"members", batch.Members,
		"channels", len(channels),
	)
	return nil
}

// growTime appends the time step when timeIndex == TimeCount.
func (r *Run) growTime(timeIndex int) error {
	r.timeMu.Lock()
	defer r.timeMu.Unlock()
	if timeIndex < r.timeCount {
		return nil
	}
	hours := float64(timeIndex) * r.desc.StepHours
	if err := r.store.WriteSlab(store.Root, diagnostic.DimTime, []int{timeIndex}, []int{1}, []float64{hours}); err != nil {
		return err
	}
	r.timeCount = timeIndex + 1
	r.metrics.TimeCount.Set(float64(r.timeCount))
	return nil
}

// extract maps one global (lat, lon) field onto the domain's cells.
func (d *DomainLayout) extract(grid *domain.Grid, src, dst []float32) error {
	if d.sampler != nil {
		return d.sampler.Apply(src, dst)
	}
	// Windows span every longitude, so the rows are contiguous.
	cols := grid.Cols()
	copy(dst, src[d.LatStart*cols:d.LatStop*cols])
	return nil
}
