package grok

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/grokfilter/grokfilter-go/pkg/grok/pattern"
)

const (
	// DefaultTimeout is the default match budget.
	DefaultTimeout = 30 * time.Second

	// DefaultTagOnTimeout is added to events whose evaluation timed out.
	DefaultTagOnTimeout = "_groktimeout"

	// DefaultTagOnFailure is added to events no pattern matched.
	DefaultTagOnFailure = "_grokparsefailure"

	// DefaultMessageField is the source field used when none is named.
	DefaultMessageField = "message"
)

// Option configures a Filter using the functional options pattern.
type Option func(*filterConfig)

type matchSpec struct {
	field       string
	expressions []string
}

// filterConfig holds internal configuration for the filter.
type filterConfig struct {
	match             []matchSpec
	overwrite         []string
	timeout           time.Duration
	scope             TimeoutScope
	breakOnMatch      bool
	definitions       []pattern.Definition
	patternFiles      []string
	patternsDirs      []string
	patternsGlob      string
	namedCapturesOnly bool
	keepEmptyCaptures bool
	tagOnFailure      []string
	tagOnTimeout      string
	tagOnCoercion     string
	target            string
	maxDepth          int
	logger            *slog.Logger
	metrics           *Metrics
}

// defaultFilterConfig returns a filterConfig with the documented defaults.
func defaultFilterConfig() *filterConfig {
	return &filterConfig{
		timeout:           DefaultTimeout,
		scope:             ScopePattern,
		breakOnMatch:      true,
		namedCapturesOnly: true,
		tagOnFailure:      []string{DefaultTagOnFailure},
		tagOnTimeout:      DefaultTagOnTimeout,
		maxDepth:          pattern.DefaultMaxExpansionDepth,
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func applyOptions(opts []Option) *filterConfig {
	cfg := defaultFilterConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// validate checks for invalid option combinations.
func (c *filterConfig) validate() error {
	if len(c.match) == 0 {
		return fmt.Errorf("at least one match field is required")
	}
	for _, m := range c.match {
		if m.field == "" {
			return fmt.Errorf("match field name must not be empty")
		}
	}
	if c.timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %v", c.timeout)
	}
	if c.scope < ScopeNone || c.scope > ScopeEvent {
		return fmt.Errorf("invalid timeout scope %v", c.scope)
	}
	return nil
}

// WithMatch adds expressions to try against field, in order. Calling it again
// for the same field appends to that field's list. Fields are tried in the
// order they were first added.
func WithMatch(field string, expressions ...string) Option {
	return func(c *filterConfig) {
		for i := range c.match {
			if c.match[i].field == field {
				c.match[i].expressions = append(c.match[i].expressions, expressions...)
				return
			}
		}
		c.match = append(c.match, matchSpec{field: field, expressions: append([]string(nil), expressions...)})
	}
}

// WithOverwrite lists fields whose existing value is replaced by a capture
// instead of accumulating into an array.
func WithOverwrite(fields ...string) Option {
	return func(c *filterConfig) {
		c.overwrite = append(c.overwrite, fields...)
	}
}

// WithTimeout sets the match budget. Zero disables timeouts.
// Default: 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *filterConfig) {
		c.timeout = d
	}
}

// WithTimeoutScope sets whether the budget applies per pattern or per event.
// Default: ScopePattern.
func WithTimeoutScope(s TimeoutScope) Option {
	return func(c *filterConfig) {
		c.scope = s
	}
}

// WithBreakOnMatch controls whether evaluation stops at the first match.
// Default: true.
func WithBreakOnMatch(b bool) Option {
	return func(c *filterConfig) {
		c.breakOnMatch = b
	}
}

// WithPatternDefinition defines an inline pattern. Inline definitions are
// loaded last and override built-in and file patterns of the same name.
func WithPatternDefinition(name, template string) Option {
	return func(c *filterConfig) {
		c.definitions = append(c.definitions, pattern.Definition{Name: name, Template: template})
	}
}

// WithPatternDefinitions defines inline patterns from a map, in name order.
func WithPatternDefinitions(defs map[string]string) Option {
	return func(c *filterConfig) {
		names := make([]string, 0, len(defs))
		for name := range defs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c.definitions = append(c.definitions, pattern.Definition{Name: name, Template: defs[name]})
		}
	}
}

// WithPatternFiles loads pattern files (text or YAML format).
func WithPatternFiles(paths ...string) Option {
	return func(c *filterConfig) {
		c.patternFiles = append(c.patternFiles, paths...)
	}
}

// WithPatternsDir loads every file matching the patterns glob in dirs.
// Directories listed in GROKFILTER_PATTERNS_DIR are added as well.
func WithPatternsDir(dirs ...string) Option {
	return func(c *filterConfig) {
		c.patternsDirs = append(c.patternsDirs, dirs...)
	}
}

// WithPatternsFilesGlob sets the glob selecting files in patterns
// directories. Default: "*".
func WithPatternsFilesGlob(glob string) Option {
	return func(c *filterConfig) {
		c.patternsGlob = glob
	}
}

// WithNamedCapturesOnly controls whether %{NAME} without a field name is
// captured. Default: true (not captured).
func WithNamedCapturesOnly(only bool) Option {
	return func(c *filterConfig) {
		c.namedCapturesOnly = only
	}
}

// WithKeepEmptyCaptures writes captures that matched the empty string.
// Default: false.
func WithKeepEmptyCaptures(keep bool) Option {
	return func(c *filterConfig) {
		c.keepEmptyCaptures = keep
	}
}

// WithTagOnFailure sets the tags added when no pattern matches. Calling it
// with no tags disables failure tagging.
// Default: ["_grokparsefailure"].
func WithTagOnFailure(tags ...string) Option {
	return func(c *filterConfig) {
		c.tagOnFailure = append([]string(nil), tags...)
	}
}

// WithTagOnTimeout sets the tag added when evaluation times out. Empty
// disables it. Default: "_groktimeout".
func WithTagOnTimeout(tag string) Option {
	return func(c *filterConfig) {
		c.tagOnTimeout = tag
	}
}

// WithTagOnCoercionFailure sets a tag added when a captured value could not
// be coerced. Default: none.
func WithTagOnCoercionFailure(tag string) Option {
	return func(c *filterConfig) {
		c.tagOnCoercion = tag
	}
}

// WithTarget writes captures beneath the given field instead of the event
// root.
func WithTarget(field string) Option {
	return func(c *filterConfig) {
		c.target = field
	}
}

// WithMaxExpansionDepth limits how deeply pattern references may nest.
// Default: 32.
func WithMaxExpansionDepth(depth int) Option {
	return func(c *filterConfig) {
		c.maxDepth = depth
	}
}

// WithLogger sets a custom logger.
// If logger is nil, logging is disabled (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(c *filterConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records filter activity in m.
func WithMetrics(m *Metrics) Option {
	return func(c *filterConfig) {
		c.metrics = m
	}
}
