package diagnostic

import (
	"context"
	"sync"

	"go.ngs.io/ensemble-store/internal/domain"
)

// Raw stores ensemble members verbatim. Every update is a complete write,
// so batches may arrive in any order and Finalize does nothing.
type Raw struct {
	channel string
	v       *Variable

	mu      sync.Mutex
	written map[int]struct{}
}

func (r *Raw) Type() domain.DiagnosticType { return domain.DiagnosticRaw }
func (r *Raw) Channel() string             { return r.channel }
func (r *Raw) Variable() *Variable         { return r.v }
func (r *Raw) Pending() []int              { return nil }
func (r *Raw) sealed()                     {}

func (r *Raw) Update(u Update) error {
	if err := checkUpdate(r.v, u); err != nil {
		return err
	}
	if err := r.v.WriteMembers(u.TimeIndex, u.EnsembleOffset, u.Members, u.Values); err != nil {
		return err
	}
	r.mu.Lock()
	if r.written == nil {
		r.written = make(map[int]struct{})
	}
	r.written[u.TimeIndex] = struct{}{}
	r.mu.Unlock()
	return nil
}

func (r *Raw) Finalize(context.Context, []int, Reference) error { return nil }

// Phase is Finalized once any batch has been written at the index.
func (r *Raw) Phase(timeIndex int) Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.written[timeIndex]; ok {
		return Finalized
	}
	return Declared
}
