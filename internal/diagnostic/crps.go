package diagnostic

import (
	"context"
	"fmt"
	"math"
	"slices"

	"go.ngs.io/ensemble-store/internal/domain"
)

// CRPS computes the continuous ranked probability score of the ensemble.
// The estimator is rank based, so every member's sample is retained until
// finalize: memory is O(members x cells) per pending time index.
type CRPS struct {
	channel string
	v       *Variable
	l       *ledger[samples]
}

// samples is indexed by ensemble member.
type samples struct {
	rows [][]float32
	seen members
}

func newCRPS(channel string, v *Variable) *CRPS {
	return &CRPS{channel: channel, v: v, l: newLedger[samples](v.Group, domain.DiagnosticCRPS, channel)}
}

func (c *CRPS) Type() domain.DiagnosticType { return domain.DiagnosticCRPS }
func (c *CRPS) Channel() string             { return c.channel }
func (c *CRPS) Variable() *Variable         { return c.v }
func (c *CRPS) Pending() []int              { return c.l.indices() }
func (c *CRPS) sealed()                     {}

func (c *CRPS) Phase(timeIndex int) Phase {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	return c.l.phase(timeIndex)
}

// Update stores the batch's samples. Rewriting a member replaces its sample.
func (c *CRPS) Update(u Update) error {
	if err := checkUpdate(c.v, u); err != nil {
		return err
	}
	cells := c.v.Cells()

	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	s, err := c.l.open(u.TimeIndex, func() *samples { return &samples{} })
	if err != nil {
		return err
	}
	end := u.EnsembleOffset + u.Members
	s.rows = grow(s.rows, end)
	s.seen = grow(s.seen, end)
	for k := 0; k < u.Members; k++ {
		member := u.EnsembleOffset + k
		s.rows[member] = slices.Clone(u.Values[k*cells : (k+1)*cells])
		s.seen[member] = true
	}
	return nil
}

// Finalize writes the score of each cell against the reference.
func (c *CRPS) Finalize(ctx context.Context, timeIndices []int, ref Reference) error {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	if err := c.l.ready(referenceSet(ref), timeIndices); err != nil {
		return err
	}
	cells := c.v.Cells()
	for _, t := range timeIndices {
		r, err := ref.Values(ctx, c.channel, t)
		if err != nil {
			return err
		}
		if len(r) != cells {
			return fmt.Errorf("reference for %s at time %d has %d cells, want %d", c.channel, t, len(r), cells)
		}
		s := c.l.pending[t]
		buf := make([]float64, 0, s.seen.count())
		out := make([]float64, cells)
		for i := range cells {
			buf = buf[:0]
			for m, ok := range s.seen {
				if ok {
					buf = append(buf, float64(s.rows[m][i]))
				}
			}
			out[i] = Score(buf, float64(r[i]))
		}
		if err := c.v.WriteReduced(t, out); err != nil {
			return err
		}
		c.l.close(t)
	}
	return nil
}

// Score returns the CRPS of ensemble x against observation y:
//
//	mean|x_i - y| - (1/m^2) sum_i (2i - m - 1) x_(i)
//
// over the ascending order statistics x_(1..m). x is sorted in place.
// Any NaN input, or an empty ensemble, scores NaN.
func Score(x []float64, y float64) float64 {
	m := len(x)
	if m == 0 || math.IsNaN(y) {
		return math.NaN()
	}
	for _, v := range x {
		if math.IsNaN(v) {
			return math.NaN()
		}
	}
	slices.Sort(x)
	var abs, spread float64
	for i, v := range x {
		abs += math.Abs(v - y)
		spread += float64(2*(i+1)-m-1) * v
	}
	fm := float64(m)
	return abs/fm - spread/(fm*fm)
}
