package domain

import "fmt"

// DiagnosticType is the closed set of per-channel computations.
type DiagnosticType int

const (
	// DiagnosticRaw stores ensemble members verbatim.
	DiagnosticRaw DiagnosticType = iota
	// DiagnosticSkill scores ensemble members against a reference field.
	DiagnosticSkill
	// DiagnosticCRPS computes the continuous ranked probability score.
	DiagnosticCRPS
)

// DiagnosticTypes lists every supported type in declaration order.
var DiagnosticTypes = []DiagnosticType{DiagnosticRaw, DiagnosticSkill, DiagnosticCRPS}

// String returns the configuration name of the type.
func (t DiagnosticType) String() string {
	switch t {
	case DiagnosticRaw:
		return "raw"
	case DiagnosticSkill:
		return "skill"
	case DiagnosticCRPS:
		return "crps"
	}
	return fmt.Sprintf("DiagnosticType(%d)", int(t))
}

// ParseDiagnosticType maps a configuration name to a type.
func ParseDiagnosticType(s string) (DiagnosticType, error) {
	for _, t := range DiagnosticTypes {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, &DiagnosticError{
		Kind:       KindUnknownType,
		Diagnostic: s,
		Message:    fmt.Sprintf("unknown diagnostic type %q", s),
	}
}

// VariableName returns the output variable for a channel under this type:
// the bare channel for raw, "{channel}_{type}" otherwise.
func (t DiagnosticType) VariableName(channel string) string {
	if t == DiagnosticRaw {
		return channel
	}
	return channel + "_" + t.String()
}

// Diagnostic attaches a computation to a set of channels within one domain.
type Diagnostic struct {
	Type     DiagnosticType
	Channels []string
}
