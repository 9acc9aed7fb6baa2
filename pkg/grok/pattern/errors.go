package pattern

import (
	"errors"
	"fmt"
	"strings"
)

// Setup errors. A *PatternError wraps exactly one of these, so callers can
// classify failures with errors.Is.
var (
	ErrDuplicatePatternName    = errors.New("duplicate pattern name")
	ErrUnknownPatternReference = errors.New("unknown pattern reference")
	ErrCyclicPatternReference  = errors.New("cyclic pattern reference")
	ErrPatternExpansionTooDeep = errors.New("pattern expansion too deep")
	ErrInvalidPatternSyntax    = errors.New("invalid pattern syntax")
)

// ValidationError represents a schema-level validation error in a pattern file
// (e.g., missing patterns list, unsupported version number).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// PatternError describes a problem with a single pattern definition or grok
// expression. It carries enough context to locate the offending input.
type PatternError struct {
	Kind       error  // One of the Err* sentinels above
	Index      int    // 0-based entry index in a pattern file, -1 when not from a file
	Name       string // Pattern name (may be empty)
	Expression string // Grok expression being compiled (may be empty)
	Message    string
	Cause      error // Underlying error (e.g., regex compile error)
}

func (e *PatternError) Error() string {
	var sb strings.Builder
	switch {
	case e.Name != "":
		fmt.Fprintf(&sb, "pattern %q", e.Name)
	case e.Expression != "":
		fmt.Fprintf(&sb, "expression %q", e.Expression)
	default:
		fmt.Fprintf(&sb, "pattern[%d]", e.Index)
	}
	if e.Kind != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Kind.Error())
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap exposes both the classification sentinel and the underlying cause to
// errors.Is and errors.As.
func (e *PatternError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}
