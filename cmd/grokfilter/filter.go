package main

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/grokfilter/grokfilter-go/internal/safefile"
	"github.com/grokfilter/grokfilter-go/pkg/grok"
)

// maxConfigFileSize bounds --config files.
const maxConfigFileSize = 1 << 20

// fieldRefRe matches a plain field name or a bracketed field path.
var fieldRefRe = regexp.MustCompile(`^(?:[A-Za-z0-9_@.\-]+|(?:\[[^\[\]]+\])+)$`)

// filterFlags are the flags shared by commands that build a filter.
type filterFlags struct {
	config         string
	match          []string
	patternFiles   []string
	patternsDirs   []string
	overwrite      []string
	timeout        time.Duration
	timeoutScope   string
	noBreakOnMatch bool
	tagOnFailure   []string

	changed func(name string) bool
}

func addFilterFlags(cmd *cobra.Command, ff *filterFlags) {
	fs := cmd.Flags()
	fs.StringVarP(&ff.config, "config", "c", "",
		"Filter configuration file (YAML)")
	fs.StringArrayVarP(&ff.match, "match", "m", nil,
		"Grok expression as FIELD=EXPR, or EXPR to match the message field (repeatable)")
	fs.StringArrayVarP(&ff.patternFiles, "pattern-file", "p", nil,
		"Pattern file to load, text or YAML (repeatable)")
	fs.StringArrayVar(&ff.patternsDirs, "patterns-dir", nil,
		"Directory of pattern files to load (repeatable)")
	fs.StringSliceVar(&ff.overwrite, "overwrite", nil,
		"Fields replaced instead of accumulated (comma-separated)")
	fs.DurationVar(&ff.timeout, "timeout", grok.DefaultTimeout,
		"Match budget, 0 disables timeouts")
	fs.StringVar(&ff.timeoutScope, "timeout-scope", "pattern",
		"Timeout scope: pattern, event, none")
	fs.BoolVar(&ff.noBreakOnMatch, "no-break-on-match", false,
		"Try every expression instead of stopping at the first match")
	fs.StringSliceVar(&ff.tagOnFailure, "tag-on-failure", []string{grok.DefaultTagOnFailure},
		"Tags added when nothing matches (comma-separated)")
	_ = cmd.RegisterFlagCompletionFunc("timeout-scope", completeTimeoutScopes)

	ff.changed = fs.Changed
}

// splitMatch splits a --match value into field and expression. A value
// whose prefix before the first '=' is not a field reference is an
// expression for the message field.
func splitMatch(v string) (field, expr string) {
	if i := strings.IndexByte(v, '='); i > 0 && fieldRefRe.MatchString(v[:i]) {
		return v[:i], v[i+1:]
	}
	return grok.DefaultMessageField, v
}

// options converts the flags into filter options. Configuration file
// settings come first; flags given explicitly override them.
func (ff *filterFlags) options(logger *slog.Logger) ([]grok.Option, error) {
	var opts []grok.Option

	if ff.config != "" {
		cfgOpts, err := loadConfigOptions(ff.config)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cfgOpts...)
	} else if len(ff.match) == 0 {
		return nil, fmt.Errorf("no match expressions: use --match or --config")
	}

	for _, m := range ff.match {
		field, expr := splitMatch(m)
		opts = append(opts, grok.WithMatch(field, expr))
	}
	opts = append(opts,
		grok.WithPatternFiles(ff.patternFiles...),
		grok.WithPatternsDir(ff.patternsDirs...),
		grok.WithOverwrite(ff.overwrite...),
		grok.WithLogger(logger),
	)

	explicit := func(name string) bool {
		return ff.config == "" || (ff.changed != nil && ff.changed(name))
	}
	if explicit("timeout") {
		opts = append(opts, grok.WithTimeout(ff.timeout))
	}
	if explicit("timeout-scope") {
		scope, err := grok.ParseTimeoutScope(ff.timeoutScope)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grok.WithTimeoutScope(scope))
	}
	if explicit("no-break-on-match") {
		opts = append(opts, grok.WithBreakOnMatch(!ff.noBreakOnMatch))
	}
	if explicit("tag-on-failure") {
		opts = append(opts, grok.WithTagOnFailure(ff.tagOnFailure...))
	}
	return opts, nil
}

// buildFilter builds a filter from the flags.
func (ff *filterFlags) buildFilter(logger *slog.Logger, extra ...grok.Option) (*grok.Filter, error) {
	opts, err := ff.options(logger)
	if err != nil {
		return nil, err
	}
	return grok.New(append(opts, extra...)...)
}

// loadConfigOptions reads a YAML filter configuration.
func loadConfigOptions(path string) ([]grok.Option, error) {
	data, err := safefile.ReadLimited(path, maxConfigFileSize)
	if err != nil {
		// Error from safefile is already sanitized (no path)
		return nil, fmt.Errorf("config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config file: failed to parse YAML: %w", err)
	}
	cfg, err := grok.DecodeConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	return opts, nil
}
