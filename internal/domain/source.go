package domain

import "context"

// FieldRequest selects one raw field. Forecast members set Member; reference
// (analysis) fields set Event instead.
type FieldRequest struct {
	Member int
	Lead   int
	Event  string
}

// FieldSource supplies global-grid fields shaped (channel, lat, lon).
// Failures are *SourceError values.
type FieldSource interface {
	Read(ctx context.Context, req FieldRequest, channels []string) (*Field, error)
}
