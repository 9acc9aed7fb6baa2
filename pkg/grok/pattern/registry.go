package pattern

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
)

type entry struct {
	template string
	source   string
}

// Registry holds named pattern definitions. It is mutated only by Load during
// setup; after that it is read-only and safe for concurrent use.
type Registry struct {
	defs   map[string]entry
	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger that receives override notices.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		defs:   make(map[string]entry),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load adds every definition in src. Either all definitions are added or none.
//
// A name defined twice within src is an error. A name already defined by an
// earlier source is an error unless src.Override is set, in which case the
// new template replaces the old one and the replacement is logged.
func (r *Registry) Load(src Source) error {
	seen := make(map[string]int, len(src.Definitions))
	for i, def := range src.Definitions {
		if !nameRe.MatchString(def.Name) {
			return &PatternError{
				Kind:    ErrInvalidPatternSyntax,
				Index:   i,
				Name:    def.Name,
				Message: fmt.Sprintf("invalid name in %s (want [A-Za-z0-9_]+)", src.Name),
			}
		}
		if def.Template == "" {
			return &PatternError{
				Kind:    ErrInvalidPatternSyntax,
				Index:   i,
				Name:    def.Name,
				Message: fmt.Sprintf("empty template in %s", src.Name),
			}
		}
		if _, err := scanTokens(def.Template); err != nil {
			return &PatternError{
				Kind:    ErrInvalidPatternSyntax,
				Index:   i,
				Name:    def.Name,
				Message: err.Error(),
			}
		}
		if prev, dup := seen[def.Name]; dup {
			return &PatternError{
				Kind:    ErrDuplicatePatternName,
				Index:   i,
				Name:    def.Name,
				Message: fmt.Sprintf("defined twice in %s (previously at entry %d)", src.Name, prev),
			}
		}
		seen[def.Name] = i
		if old, exists := r.defs[def.Name]; exists && !src.Override {
			return &PatternError{
				Kind:    ErrDuplicatePatternName,
				Index:   i,
				Name:    def.Name,
				Message: fmt.Sprintf("%s redefines a pattern from %s without override", src.Name, old.source),
			}
		}
	}

	for _, def := range src.Definitions {
		if old, exists := r.defs[def.Name]; exists {
			r.logger.Info("pattern overridden",
				"name", def.Name,
				"previous_source", old.source,
				"source", src.Name)
		}
		r.defs[def.Name] = entry{template: def.Template, source: src.Name}
	}
	return nil
}

// Lookup returns the raw template of name.
func (r *Registry) Lookup(name string) (string, bool) {
	e, ok := r.defs[name]
	return e.template, ok
}

// SourceOf returns the name of the source that defined name, or "" if the
// name is unknown.
func (r *Registry) SourceOf(name string) string {
	return r.defs[name].source
}

// Names returns all defined pattern names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of definitions.
func (r *Registry) Len() int {
	return len(r.defs)
}

// Resolve returns the template of name after checking that every pattern it
// reaches, directly or transitively, exists and that the reference graph has
// no cycle.
func (r *Registry) Resolve(name string) (string, error) {
	e, ok := r.defs[name]
	if !ok {
		return "", &PatternError{
			Kind:  ErrUnknownPatternReference,
			Index: -1,
			Name:  name,
		}
	}

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int)
	var path []string

	var visit func(n string) error
	visit = func(n string) error {
		switch state[n] {
		case done:
			return nil
		case visiting:
			start := 0
			for i, p := range path {
				if p == n {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), n)
			return &PatternError{
				Kind:    ErrCyclicPatternReference,
				Index:   -1,
				Name:    name,
				Message: strings.Join(cycle, " -> "),
			}
		}

		def, ok := r.defs[n]
		if !ok {
			return &PatternError{
				Kind:    ErrUnknownPatternReference,
				Index:   -1,
				Name:    name,
				Message: fmt.Sprintf("%%{%s} referenced via %s", n, strings.Join(path, " -> ")),
			}
		}
		refs, err := references(def.template)
		if err != nil {
			return &PatternError{Kind: ErrInvalidPatternSyntax, Index: -1, Name: n, Message: err.Error()}
		}

		state[n] = visiting
		path = append(path, n)
		for _, ref := range refs {
			if err := visit(ref); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[n] = done
		return nil
	}

	if err := visit(name); err != nil {
		return "", err
	}
	return e.template, nil
}
