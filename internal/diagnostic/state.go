package diagnostic

import (
	"slices"
	"sync"

	"go.ngs.io/ensemble-store/internal/domain"
)

// Phase is the lifecycle of one time index of an accumulating diagnostic.
type Phase int

const (
	Declared Phase = iota
	Accumulating
	Finalized
)

func (p Phase) String() string {
	switch p {
	case Declared:
		return "declared"
	case Accumulating:
		return "accumulating"
	case Finalized:
		return "finalized"
	}
	return "unknown"
}

// ledger holds per time index accumulator state. An accumulator exists only
// in the Accumulating phase; finalizing drops it and remembers the index.
type ledger[A any] struct {
	mu      sync.Mutex
	pending map[int]*A
	done    map[int]struct{}

	domain  string
	diag    domain.DiagnosticType
	channel string
}

func newLedger[A any](group string, t domain.DiagnosticType, channel string) *ledger[A] {
	return &ledger[A]{
		pending: make(map[int]*A),
		done:    make(map[int]struct{}),
		domain:  group,
		diag:    t,
		channel: channel,
	}
}

func (l *ledger[A]) phase(t int) Phase {
	if _, ok := l.done[t]; ok {
		return Finalized
	}
	if _, ok := l.pending[t]; ok {
		return Accumulating
	}
	return Declared
}

// open returns the accumulator for t, creating it with fresh on the first
// update. Callers hold l.mu.
func (l *ledger[A]) open(t int, fresh func() *A) (*A, error) {
	switch l.phase(t) {
	case Finalized:
		return nil, l.err(domain.KindAlreadyFinalized, t)
	case Declared:
		l.pending[t] = fresh()
	}
	return l.pending[t], nil
}

// ready checks every index can be finalized. Callers hold l.mu.
func (l *ledger[A]) ready(set domain.ChannelSet, indices []int) error {
	if !set.Contains(l.channel) {
		return &domain.DiagnosticError{
			Kind:       domain.KindChannelNotInSet,
			Domain:     l.domain,
			Diagnostic: l.diag.String(),
			Channel:    l.channel,
			Message:    "channel set " + string(set),
		}
	}
	for _, t := range indices {
		switch l.phase(t) {
		case Declared:
			return l.err(domain.KindNoData, t)
		case Finalized:
			return l.err(domain.KindAlreadyFinalized, t)
		}
	}
	return nil
}

// close moves t to Finalized. Callers hold l.mu.
func (l *ledger[A]) close(t int) {
	delete(l.pending, t)
	l.done[t] = struct{}{}
}

func (l *ledger[A]) indices() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, 0, len(l.pending))
	for t := range l.pending {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func (l *ledger[A]) err(kind domain.ErrorKind, t int) error {
	return &domain.DiagnosticError{
		Kind:       kind,
		Domain:     l.domain,
		Diagnostic: l.diag.String(),
		Channel:    l.channel,
		TimeIndex:  t,
	}
}

// members tracks which ensemble slots an accumulator has seen.
type members []bool

func (m members) count() int {
	n := 0
	for _, ok := range m {
		if ok {
			n++
		}
	}
	return n
}
