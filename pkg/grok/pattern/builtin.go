package pattern

import (
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"sort"
	"sync"
)

//go:embed patterns/*
var builtinFS embed.FS

// BuiltinSourceName is the Source.Name of the built-in pattern set.
const BuiltinSourceName = "builtin"

// Builtin returns the built-in pattern set: the base grok patterns (numbers,
// hosts, paths, timestamps), the syslog family including SYSLOGLINE, and the
// Apache httpd family including COMBINEDAPACHELOG.
func Builtin() Source {
	src, err := builtinOnce()
	if err != nil {
		// The embedded files are fixed at build time.
		panic(fmt.Sprintf("pattern: invalid built-in patterns: %v", err))
	}
	src.Definitions = slices.Clone(src.Definitions)
	return src
}

var builtinOnce = sync.OnceValues(loadBuiltin)

func loadBuiltin() (Source, error) {
	entries, err := fs.ReadDir(builtinFS, "patterns")
	if err != nil {
		return Source{}, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	all := Source{Name: BuiltinSourceName}
	for _, name := range names {
		data, err := builtinFS.ReadFile("patterns/" + name)
		if err != nil {
			return Source{}, err
		}
		src, err := ParseText(name, data)
		if err != nil {
			return Source{}, err
		}
		all.Definitions = append(all.Definitions, src.Definitions...)
	}
	return all, nil
}

// NewBuiltinRegistry returns a registry preloaded with Builtin.
func NewBuiltinRegistry(opts ...RegistryOption) *Registry {
	r := NewRegistry(opts...)
	if err := r.Load(Builtin()); err != nil {
		panic(fmt.Sprintf("pattern: invalid built-in patterns: %v", err))
	}
	return r
}
