package grok

import (
	"fmt"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Config is the declarative form of the filter options, using the option
// names of pipeline configuration files.
//
// Example YAML:
//
//	match:
//	  message:
//	    - '%{SYSLOGLINE}'
//	overwrite: [message]
//	timeout_millis: 500
//	timeout_scope: event
//	tag_on_failure: [_grokparsefailure, syslog_failed]
type Config struct {
	// Match maps source fields to the expressions tried against them.
	// Fields are tried in name order.
	Match map[string][]string `mapstructure:"match" yaml:"match"`

	Overwrite            []string          `mapstructure:"overwrite" yaml:"overwrite"`
	TimeoutMillis        int               `mapstructure:"timeout_millis" yaml:"timeout_millis"`
	TimeoutScope         string            `mapstructure:"timeout_scope" yaml:"timeout_scope"`
	BreakOnMatch         bool              `mapstructure:"break_on_match" yaml:"break_on_match"`
	PatternDefinitions   map[string]string `mapstructure:"pattern_definitions" yaml:"pattern_definitions"`
	PatternsDir          []string          `mapstructure:"patterns_dir" yaml:"patterns_dir"`
	PatternsFilesGlob    string            `mapstructure:"patterns_files_glob" yaml:"patterns_files_glob"`
	NamedCapturesOnly    bool              `mapstructure:"named_captures_only" yaml:"named_captures_only"`
	KeepEmptyCaptures    bool              `mapstructure:"keep_empty_captures" yaml:"keep_empty_captures"`
	TagOnFailure         []string          `mapstructure:"tag_on_failure" yaml:"tag_on_failure"`
	TagOnTimeout         string            `mapstructure:"tag_on_timeout" yaml:"tag_on_timeout"`
	TagOnCoercionFailure string            `mapstructure:"tag_on_coercion_failure" yaml:"tag_on_coercion_failure"`
	Target               string            `mapstructure:"target" yaml:"target"`
}

// DefaultConfig returns a Config holding the documented defaults.
func DefaultConfig() Config {
	return Config{
		TimeoutMillis:     int(DefaultTimeout / time.Millisecond),
		TimeoutScope:      ScopePattern.String(),
		BreakOnMatch:      true,
		PatternsFilesGlob: "*",
		NamedCapturesOnly: true,
		TagOnFailure:      []string{DefaultTagOnFailure},
		TagOnTimeout:      DefaultTagOnTimeout,
	}
}

// DecodeConfig decodes a generic configuration map, such as one read from
// YAML or JSON, on top of DefaultConfig. Scalars are converted where
// unambiguous ("500" for timeout_millis, a single string for a list) and
// unknown keys are rejected.
func DecodeConfig(raw map[string]any) (Config, error) {
	cfg := DefaultConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		ZeroFields:       true,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("failed to decode grok config: %w", err)
	}
	return cfg, nil
}

// Options converts the configuration into functional options.
func (c Config) Options() ([]Option, error) {
	if c.TimeoutMillis < 0 {
		return nil, fmt.Errorf("timeout_millis must be non-negative, got %d", c.TimeoutMillis)
	}
	scope, err := ParseTimeoutScope(c.TimeoutScope)
	if err != nil {
		return nil, err
	}

	fields := make([]string, 0, len(c.Match))
	for field := range c.Match {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	opts := make([]Option, 0, len(fields)+16)
	for _, field := range fields {
		opts = append(opts, WithMatch(field, c.Match[field]...))
	}
	opts = append(opts,
		WithOverwrite(c.Overwrite...),
		WithTimeout(time.Duration(c.TimeoutMillis)*time.Millisecond),
		WithTimeoutScope(scope),
		WithBreakOnMatch(c.BreakOnMatch),
		WithPatternDefinitions(c.PatternDefinitions),
		WithPatternsDir(c.PatternsDir...),
		WithPatternsFilesGlob(c.PatternsFilesGlob),
		WithNamedCapturesOnly(c.NamedCapturesOnly),
		WithKeepEmptyCaptures(c.KeepEmptyCaptures),
		WithTagOnFailure(c.TagOnFailure...),
		WithTagOnTimeout(c.TagOnTimeout),
		WithTagOnCoercionFailure(c.TagOnCoercionFailure),
		WithTarget(c.Target),
	)
	return opts, nil
}
