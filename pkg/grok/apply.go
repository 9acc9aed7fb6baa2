package grok

import (
	"fmt"
	"slices"

	"github.com/grokfilter/grokfilter-go/pkg/grok/pattern"
)

// CoercionError reports a captured value that could not be converted to the
// type requested by its %{NAME:field:type} reference. The field is not
// written; sibling fields are unaffected.
type CoercionError struct {
	Field    string
	Raw      string
	Coercion pattern.Coercion
	Err      error
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("field %q: cannot coerce to %s: %v", e.Field, e.Coercion, e.Err)
}

func (e *CoercionError) Unwrap() error {
	return e.Err
}

// FieldSet is a set of field references.
type FieldSet map[string]struct{}

// NewFieldSet returns a set holding refs.
func NewFieldSet(refs ...string) FieldSet {
	s := make(FieldSet, len(refs))
	for _, r := range refs {
		s[r] = struct{}{}
	}
	return s
}

// Has reports whether ref is in the set. A nil set is empty.
func (s FieldSet) Has(ref string) bool {
	_, ok := s[ref]
	return ok
}

// Apply writes captures into ev.
//
// Every capture is coerced first. A capture that fails coercion yields a
// *CoercionError and is skipped; the remaining captures are still written.
// A field that is absent, or present and listed in overwrite, is set to the
// new value. A field that is present and not listed in overwrite accumulates:
// a scalar becomes [old, new] and an array gets new appended.
//
// When target is non-empty, fields are written beneath it: "x" becomes
// "[target][x]".
func Apply(ev *Event, captures []pattern.Capture, overwrite FieldSet, target string) []error {
	type write struct {
		field string
		value any
	}

	var errs []error
	writes := make([]write, 0, len(captures))
	for _, c := range captures {
		v, err := c.Coercion.Convert(c.Raw)
		if err != nil {
			errs = append(errs, &CoercionError{Field: c.Field, Raw: c.Raw, Coercion: c.Coercion, Err: err})
			continue
		}
		writes = append(writes, write{field: c.Field, value: v})
	}

	var base []string
	if target != "" {
		base = FieldPath(target)
	}
	for _, w := range writes {
		path := append(slices.Clone(base), FieldPath(w.field)...)
		var err error
		if overwrite.Has(w.field) {
			err = ev.setPath(path, w.value)
		} else {
			err = ev.appendPath(path, w.value)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("field %q: %w", w.field, err))
		}
	}
	return errs
}
