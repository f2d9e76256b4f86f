package diagnostic

import (
	"context"
	"fmt"
	"math"

	"go.ngs.io/ensemble-store/internal/domain"
)

// Skill scores the ensemble against a reference as the per-cell root mean
// squared error of the members. Members are reduced online to running sums.
type Skill struct {
	channel string
	v       *Variable
	l       *ledger[moments]
}

type moments struct {
	sum   []float64
	sumSq []float64
	n     []int32
	seen  members
}

func newSkill(channel string, v *Variable) *Skill {
	return &Skill{channel: channel, v: v, l: newLedger[moments](v.Group, domain.DiagnosticSkill, channel)}
}

func (s *Skill) Type() domain.DiagnosticType { return domain.DiagnosticSkill }
func (s *Skill) Channel() string             { return s.channel }
func (s *Skill) Variable() *Variable         { return s.v }
func (s *Skill) Pending() []int              { return s.l.indices() }
func (s *Skill) sealed()                     {}

func (s *Skill) Phase(timeIndex int) Phase {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	return s.l.phase(timeIndex)
}

// Update adds the batch to the running sums. A member already accumulated
// at this time index is not counted twice; NaN values are skipped.
func (s *Skill) Update(u Update) error {
	if err := checkUpdate(s.v, u); err != nil {
		return err
	}
	cells := s.v.Cells()

	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	m, err := s.l.open(u.TimeIndex, func() *moments {
		return &moments{
			sum:   make([]float64, cells),
			sumSq: make([]float64, cells),
			n:     make([]int32, cells),
		}
	})
	if err != nil {
		return err
	}
	for k := 0; k < u.Members; k++ {
		member := u.EnsembleOffset + k
		if member < len(m.seen) && m.seen[member] {
			continue
		}
		m.seen = grow(m.seen, member+1)
		m.seen[member] = true
		row := u.Values[k*cells : (k+1)*cells]
		for i, x := range row {
			if math.IsNaN(float64(x)) {
				continue
			}
			f := float64(x)
			m.sum[i] += f
			m.sumSq[i] += f * f
			m.n[i]++
		}
	}
	return nil
}

// Finalize writes sqrt((sum_sq - 2 r sum + n r^2) / n) per cell. Cells with
// no members or a missing reference are NaN.
func (s *Skill) Finalize(ctx context.Context, timeIndices []int, ref Reference) error {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	if err := s.l.ready(referenceSet(ref), timeIndices); err != nil {
		return err
	}
	for _, t := range timeIndices {
		r, err := ref.Values(ctx, s.channel, t)
		if err != nil {
			return err
		}
		if len(r) != s.v.Cells() {
			return fmt.Errorf("reference for %s at time %d has %d cells, want %d", s.channel, t, len(r), s.v.Cells())
		}
		out := rmse(s.l.pending[t], r)
		if err := s.v.WriteReduced(t, out); err != nil {
			return err
		}
		s.l.close(t)
	}
	return nil
}

func rmse(m *moments, ref []float32) []float64 {
	out := make([]float64, len(ref))
	for i, rv := range ref {
		n := float64(m.n[i])
		r := float64(rv)
		if n == 0 || math.IsNaN(r) {
			out[i] = math.NaN()
			continue
		}
		ss := m.sumSq[i] - 2*r*m.sum[i] + n*r*r
		// Cancellation can leave a tiny negative residual.
		out[i] = math.Sqrt(max(ss, 0) / n)
	}
	return out
}

func referenceSet(ref Reference) domain.ChannelSet {
	if ref == nil {
		return ""
	}
	return ref.Set()
}

func grow[T any](s []T, n int) []T {
	if len(s) >= n {
		return s
	}
	return append(s, make([]T, n-len(s))...)
}
