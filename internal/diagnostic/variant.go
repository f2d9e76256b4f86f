package diagnostic

import (
	"context"
	"fmt"

	"go.ngs.io/ensemble-store/internal/domain"
)

// Update is one ensemble batch of one channel at one time index, already
// on the domain's shape. Values is (Members, cells) row-major.
type Update struct {
	TimeIndex      int
	EnsembleOffset int
	Members        int
	Values         []float32
}

// Reference supplies verification fields for finalize.
type Reference interface {
	// Set is the channel set the reference provides.
	Set() domain.ChannelSet
	// Values returns the reference for a channel at a time index on the
	// domain's shape.
	Values(ctx context.Context, channel string, timeIndex int) ([]float32, error)
}

// Variant is a diagnostic bound to one channel of one domain. The set of
// implementations is closed: Raw, Skill and CRPS.
type Variant interface {
	Type() domain.DiagnosticType
	Channel() string
	Variable() *Variable

	// Update consumes one ensemble batch.
	Update(u Update) error
	// Finalize publishes the listed time indices. Every index is checked
	// before anything is written.
	Finalize(ctx context.Context, timeIndices []int, ref Reference) error
	// Phase reports the lifecycle phase of a time index.
	Phase(timeIndex int) Phase
	// Pending lists time indices with unpublished state.
	Pending() []int

	sealed()
}

// New binds a diagnostic type to its declared variable.
func New(t domain.DiagnosticType, channel string, v *Variable) (Variant, error) {
	switch t {
	case domain.DiagnosticRaw:
		return &Raw{channel: channel, v: v}, nil
	case domain.DiagnosticSkill:
		return newSkill(channel, v), nil
	case domain.DiagnosticCRPS:
		return newCRPS(channel, v), nil
	}
	return nil, &domain.DiagnosticError{
		Kind:       domain.KindUnknownType,
		Domain:     v.Group,
		Diagnostic: t.String(),
		Channel:    channel,
	}
}

func checkUpdate(v *Variable, u Update) error {
	if u.Members <= 0 || len(u.Values) != u.Members*v.Cells() {
		return fmt.Errorf("update for %s/%s has %d values, want %d members x %d cells",
			v.Group, v.Name, len(u.Values), u.Members, v.Cells())
	}
	return nil
}
