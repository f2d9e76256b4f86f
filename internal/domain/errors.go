package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes engine errors. Kinds are grouped by prefix:
// domain_, diagnostic_, write_ and source_.
type ErrorKind string

// Domain error kinds. Fatal to a run: raised while the store layout is declared.
const (
	KindEmptyWindow       ErrorKind = "domain_empty_window"
	KindLengthMismatch    ErrorKind = "domain_length_mismatch"
	KindSourceUnavailable ErrorKind = "domain_source_unavailable"
	KindUnsupportedShape  ErrorKind = "domain_unsupported_shape"
	KindUnknownVariant    ErrorKind = "domain_unknown_variant"
)

// Diagnostic error kinds.
const (
	KindUnknownType      ErrorKind = "diagnostic_unknown_type"
	KindNoData           ErrorKind = "diagnostic_no_data"
	KindAlreadyFinalized ErrorKind = "diagnostic_already_finalized"
	KindChannelNotInSet  ErrorKind = "diagnostic_channel_not_in_set"
)

// Write error kinds. Recoverable: the caller may skip the batch and continue.
const (
	KindTimeOutOfRange     ErrorKind = "write_time_out_of_range"
	KindEnsembleOverflow   ErrorKind = "write_ensemble_overflow"
	KindChannelNotDeclared ErrorKind = "write_channel_not_declared"
	KindUnknownDomain      ErrorKind = "write_unknown_domain"
	KindShapeMismatch      ErrorKind = "write_shape_mismatch"
	KindRunClosed          ErrorKind = "write_run_closed"
)

// Source error kinds, raised by field providers and surfaced unchanged.
const (
	KindChannelNotFound ErrorKind = "source_channel_not_found"
	KindFileMissing     ErrorKind = "source_file_missing"
	KindUnavailable     ErrorKind = "source_unavailable"
)

// Fatal reports whether an error of this kind should abort the run.
func (k ErrorKind) Fatal() bool {
	s := string(k)
	return strings.HasPrefix(s, "domain_") || k == KindUnknownType
}

// KindOf returns the kind of the first structured engine error in err's
// chain, or false when there is none.
func KindOf(err error) (ErrorKind, bool) {
	var (
		de  *DomainError
		dge *DiagnosticError
		we  *WriteError
		se  *SourceError
	)
	switch {
	case errors.As(err, &de):
		return de.Kind, true
	case errors.As(err, &dge):
		return dge.Kind, true
	case errors.As(err, &we):
		return we.Kind, true
	case errors.As(err, &se):
		return se.Kind, true
	}
	return "", false
}

// Sentinels for errors.Is matching by kind.
var (
	ErrEmptyWindow       = &DomainError{Kind: KindEmptyWindow}
	ErrLengthMismatch    = &DomainError{Kind: KindLengthMismatch}
	ErrSourceUnavailable = &DomainError{Kind: KindSourceUnavailable}
	ErrUnsupportedShape  = &DomainError{Kind: KindUnsupportedShape}
	ErrUnknownVariant    = &DomainError{Kind: KindUnknownVariant}

	ErrUnknownType      = &DiagnosticError{Kind: KindUnknownType}
	ErrNoData           = &DiagnosticError{Kind: KindNoData}
	ErrAlreadyFinalized = &DiagnosticError{Kind: KindAlreadyFinalized}
	ErrChannelNotInSet  = &DiagnosticError{Kind: KindChannelNotInSet}

	ErrTimeOutOfRange     = &WriteError{Kind: KindTimeOutOfRange}
	ErrEnsembleOverflow   = &WriteError{Kind: KindEnsembleOverflow}
	ErrChannelNotDeclared = &WriteError{Kind: KindChannelNotDeclared}
	ErrUnknownDomain      = &WriteError{Kind: KindUnknownDomain}
	ErrShapeMismatch      = &WriteError{Kind: KindShapeMismatch}
	ErrRunClosed          = &WriteError{Kind: KindRunClosed}

	ErrChannelNotFound = &SourceError{Kind: KindChannelNotFound}
	ErrFileMissing     = &SourceError{Kind: KindFileMissing}
	ErrUnavailable     = &SourceError{Kind: KindUnavailable}
)

// DomainError reports a malformed or unsupported spatial domain.
type DomainError struct {
	Kind    ErrorKind
	Domain  string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	return format(e.Kind, e.Message, e.Err, "domain", e.Domain)
}

// Unwrap returns the underlying error.
func (e *DomainError) Unwrap() error { return e.Err }

// Is matches another DomainError of the same kind.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Kind == e.Kind
}

// DiagnosticError reports an unknown diagnostic type or an invalid state transition.
type DiagnosticError struct {
	Kind       ErrorKind
	Domain     string
	Diagnostic string
	Channel    string
	TimeIndex  int
	Message    string
}

func (e *DiagnosticError) Error() string {
	return format(e.Kind, e.Message, nil,
		"domain", e.Domain,
		"diagnostic", e.Diagnostic,
		"channel", e.Channel,
		"time_index", timeIndexString(e.Kind, e.TimeIndex))
}

// Is matches another DiagnosticError of the same kind.
func (e *DiagnosticError) Is(target error) bool {
	t, ok := target.(*DiagnosticError)
	return ok && t.Kind == e.Kind
}

// WriteError reports a rejected write. No data was written when it is returned.
type WriteError struct {
	Kind           ErrorKind
	Domain         string
	Channel        string
	TimeIndex      int
	EnsembleOffset int
	BatchSize      int
	Message        string
}

func (e *WriteError) Error() string {
	return format(e.Kind, e.Message, nil,
		"domain", e.Domain,
		"channel", e.Channel,
		"time_index", fmt.Sprint(e.TimeIndex),
		"ensemble", fmt.Sprintf("%d:%d", e.EnsembleOffset, e.EnsembleOffset+e.BatchSize))
}

// Is matches another WriteError of the same kind.
func (e *WriteError) Is(target error) bool {
	t, ok := target.(*WriteError)
	return ok && t.Kind == e.Kind
}

// SourceError reports an upstream field provider failure.
type SourceError struct {
	Kind    ErrorKind
	Channel string
	Path    string
	Err     error
}

func (e *SourceError) Error() string {
	return format(e.Kind, "", e.Err, "channel", e.Channel, "path", e.Path)
}

// Unwrap returns the underlying error.
func (e *SourceError) Unwrap() error { return e.Err }

// Is matches another SourceError of the same kind.
func (e *SourceError) Is(target error) bool {
	t, ok := target.(*SourceError)
	return ok && t.Kind == e.Kind
}

// format renders "kind: message (k=v, ...): cause", skipping empty identifiers.
func format(kind ErrorKind, msg string, cause error, kv ...string) string {
	var b strings.Builder
	b.WriteString(string(kind))
	if msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	var ids []string
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			continue
		}
		ids = append(ids, kv[i]+"="+kv[i+1])
	}
	if len(ids) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ids, ", "))
		b.WriteString(")")
	}
	if cause != nil {
		b.WriteString(": ")
		b.WriteString(cause.Error())
	}
	return b.String()
}

func timeIndexString(kind ErrorKind, idx int) string {
	if kind == KindUnknownType {
		return ""
	}
	return fmt.Sprint(idx)
}
