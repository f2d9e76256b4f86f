package domain

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorsMatchByKind(t *testing.T) {
	err := fmt.Errorf("writing batch: %w", &WriteError{
		Kind:           KindEnsembleOverflow,
		Domain:         "global",
		TimeIndex:      3,
		EnsembleOffset: 6,
		BatchSize:      4,
		Message:        "ensemble slots 6:10 exceed 8",
	})

	require.ErrorIs(t, err, ErrEnsembleOverflow)
	assert.NotErrorIs(t, err, ErrTimeOutOfRange)
	assert.NotErrorIs(t, err, ErrEmptyWindow)

	var we *WriteError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, "global", we.Domain)
	assert.Contains(t, err.Error(), "ensemble=6:10")
	assert.Contains(t, err.Error(), "time_index=3")
}

func TestSourceErrorUnwraps(t *testing.T) {
	err := &SourceError{Kind: KindFileMissing, Path: "/data/m001/lead_002.nc", Err: fs.ErrNotExist}

	require.ErrorIs(t, err, ErrFileMissing)
	require.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, "source_file_missing (path=/data/m001/lead_002.nc): file does not exist", err.Error())
}

func TestDiagnosticErrorFormat(t *testing.T) {
	err := &DiagnosticError{Kind: KindNoData, Domain: "global", Diagnostic: "skill", Channel: "t2m", TimeIndex: 0}
	assert.Equal(t, "diagnostic_no_data (domain=global, diagnostic=skill, channel=t2m, time_index=0)", err.Error())

	unknown := &DiagnosticError{Kind: KindUnknownType, Diagnostic: "bias"}
	assert.Equal(t, "diagnostic_unknown_type (diagnostic=bias)", unknown.Error())
}

func TestErrorKindFatal(t *testing.T) {
	fatal := []ErrorKind{KindEmptyWindow, KindLengthMismatch, KindSourceUnavailable, KindUnsupportedShape, KindUnknownVariant, KindUnknownType}
	for _, k := range fatal {
		assert.True(t, k.Fatal(), k)
	}
	recoverable := []ErrorKind{KindTimeOutOfRange, KindEnsembleOverflow, KindNoData, KindAlreadyFinalized, KindFileMissing, KindRunClosed}
	for _, k := range recoverable {
		assert.False(t, k.Fatal(), k)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
		ok   bool
	}{
		{"domain", &DomainError{Kind: KindEmptyWindow}, KindEmptyWindow, true},
		{"diagnostic", &DiagnosticError{Kind: KindNoData}, KindNoData, true},
		{"wrapped write", fmt.Errorf("lead 3: %w", &WriteError{Kind: KindShapeMismatch}), KindShapeMismatch, true},
		{"joined source", errors.Join(errors.New("other"), &SourceError{Kind: KindFileMissing}), KindFileMissing, true},
		{"plain", errors.New("disk full"), "", false},
		{"nil", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := KindOf(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}
}
