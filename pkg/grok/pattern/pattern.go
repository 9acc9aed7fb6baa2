// Package pattern implements grok pattern definitions: the named pattern
// registry, pattern file loaders, the built-in pattern set, and the compiler
// that expands %{NAME:field:type} expressions into a single regular expression.
package pattern

// Definition is a single named pattern. Template is a regular expression that
// may reference other definitions with %{NAME}.
type Definition struct {
	Name     string
	Template string
}

// Source is an ordered group of definitions loaded together, such as one
// pattern file or the inline definitions of a filter.
type Source struct {
	// Name identifies the source in logs and errors (a file name, "builtin",
	// "inline").
	Name string

	Definitions []Definition

	// Override allows definitions in this source to replace names defined by
	// previously loaded sources.
	Override bool
}

// Format selects the parser used for pattern file contents.
type Format int

const (
	// FormatText is the classic "NAME TEMPLATE" line format with # comments.
	FormatText Format = iota

	// FormatYAML is the versioned YAML schema described by PatternFile.
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatYAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// PatternFile represents the structure of a YAML pattern file.
//
// Example YAML file:
//
//	version: 1
//	patterns:
//	  - name: POSTFIX_QUEUEID
//	    pattern: '[0-9A-F]{10,11}'
//	  - name: POSTFIX_CONNECT
//	    pattern: 'connect from %{HOSTNAME:client}\[%{IP:client_ip}\]'
type PatternFile struct {
	// Version is the pattern file format version. Currently only version 1 is supported.
	Version int `yaml:"version"`

	// Patterns is the list of pattern definitions.
	Patterns []PatternEntry `yaml:"patterns"`
}

// PatternEntry is one definition in a YAML pattern file.
type PatternEntry struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}
