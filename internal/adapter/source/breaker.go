package source

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"go.ngs.io/ensemble-store/internal/domain"
)

// Breaker guards a FieldSource with a circuit breaker. It never retries:
// while open it fails fast with a SourceError of kind Unavailable.
// Errors from the inner source are returned unchanged.
type Breaker struct {
	inner   domain.FieldSource
	breaker *gobreaker.CircuitBreaker[*domain.Field]
}

var _ domain.FieldSource = (*Breaker)(nil)

// NewBreaker wraps inner with a breaker that trips after more than five
// consecutive unavailability failures.
func NewBreaker(name string, inner domain.FieldSource) *Breaker {
	cb := gobreaker.NewCircuitBreaker[*domain.Field](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: healthy,
	})
	return NewBreakerWith(inner, cb)
}

// NewBreakerWith uses a caller-provided breaker.
func NewBreakerWith(inner domain.FieldSource, cb *gobreaker.CircuitBreaker[*domain.Field]) *Breaker {
	return &Breaker{inner: inner, breaker: cb}
}

// Read implements domain.FieldSource.
func (b *Breaker) Read(ctx context.Context, req domain.FieldRequest, channels []string) (*domain.Field, error) {
	field, err := b.breaker.Execute(func() (*domain.Field, error) {
		return b.inner.Read(ctx, req, channels)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &domain.SourceError{Kind: domain.KindUnavailable, Err: err}
	}
	return field, err
}

// State reports the breaker state.
func (b *Breaker) State() gobreaker.State { return b.breaker.State() }

// healthy counts missing files and channels as successful calls: they
// describe the request, not the health of the source.
func healthy(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return errors.Is(err, domain.ErrFileMissing) || errors.Is(err, domain.ErrChannelNotFound)
}
