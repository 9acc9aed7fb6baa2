package grok

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

// TagsField is the field that Tag appends to.
const TagsField = "tags"

// Event is a mutable field map. Field references are either plain names
// ("message", "@timestamp", "a.b" as a literal key) or bracket paths
// ("[http][status]") addressing nested objects.
//
// An Event is not safe for concurrent mutation.
type Event struct {
	c *gabs.Container
}

// NewEvent returns an empty event.
func NewEvent() *Event {
	return &Event{c: gabs.New()}
}

// NewMessageEvent returns an event whose "message" field is msg.
func NewMessageEvent(msg string) *Event {
	ev := NewEvent()
	_ = ev.Set("message", msg)
	return ev
}

// EventFromMap returns an event holding m. Typed slices and maps are converted
// to []any and map[string]any so later appends see them as arrays and objects.
func EventFromMap(m map[string]any) *Event {
	return &Event{c: gabs.Wrap(normalize(m))}
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = normalize(x)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = x
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = normalize(x)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = x
		}
		return out
	case []int:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = x
		}
		return out
	case []int64:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = x
		}
		return out
	case []float64:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = x
		}
		return out
	default:
		return v
	}
}

// FieldPath splits a field reference into its path segments. "[a][b]" yields
// ["a", "b"]; anything else is a single literal segment.
func FieldPath(ref string) []string {
	if len(ref) < 3 || ref[0] != '[' || ref[len(ref)-1] != ']' {
		return []string{ref}
	}
	inner := ref[1 : len(ref)-1]
	parts := strings.Split(inner, "][")
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, "[]") {
			return []string{ref}
		}
	}
	return parts
}

// Get returns the value of ref. The boolean distinguishes an absent field
// from one holding nil or "".
func (e *Event) Get(ref string) (any, bool) {
	return e.getPath(FieldPath(ref))
}

func (e *Event) getPath(path []string) (any, bool) {
	if !e.c.Exists(path...) {
		return nil, false
	}
	return e.c.Search(path...).Data(), true
}

// Has reports whether ref is present.
func (e *Event) Has(ref string) bool {
	return e.c.Exists(FieldPath(ref)...)
}

// Set replaces the value of ref, creating intermediate objects.
func (e *Event) Set(ref string, v any) error {
	return e.setPath(FieldPath(ref), v)
}

func (e *Event) setPath(path []string, v any) error {
	if _, err := e.c.Set(normalize(v), path...); err != nil {
		return fmt.Errorf("set %s: %w", strings.Join(path, "."), err)
	}
	return nil
}

// Append adds v to ref. An absent field becomes v itself; a scalar becomes
// [old, v]; an array gets v appended.
func (e *Event) Append(ref string, v any) error {
	return e.appendPath(FieldPath(ref), v)
}

func (e *Event) appendPath(path []string, v any) error {
	if !e.c.Exists(path...) {
		return e.setPath(path, v)
	}
	if err := e.c.ArrayAppend(normalize(v), path...); err != nil {
		return fmt.Errorf("append %s: %w", strings.Join(path, "."), err)
	}
	return nil
}

// Delete removes ref. Deleting an absent field is not an error.
func (e *Event) Delete(ref string) error {
	path := FieldPath(ref)
	if !e.c.Exists(path...) {
		return nil
	}
	return e.c.Delete(path...)
}

// Tag adds tag to the tags field unless it is already present.
func (e *Event) Tag(tag string) {
	if tag == "" || slices.Contains(e.Tags(), tag) {
		return
	}
	if !e.c.Exists(TagsField) {
		_, _ = e.c.Set([]any{tag}, TagsField)
		return
	}
	_ = e.c.ArrayAppend(tag, TagsField)
}

// Tags returns the string values of the tags field.
func (e *Event) Tags() []string {
	v, ok := e.getPath([]string{TagsField})
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Map returns the underlying field map. Mutating it mutates the event.
func (e *Event) Map() map[string]any {
	if m, ok := e.c.Data().(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// MarshalJSON encodes the event as a JSON object.
func (e *Event) MarshalJSON() ([]byte, error) {
	return e.c.MarshalJSON()
}

// String returns the JSON encoding of the event.
func (e *Event) String() string {
	return e.c.String()
}
