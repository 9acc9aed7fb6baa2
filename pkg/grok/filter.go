package grok

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/grokfilter/grokfilter-go/internal/governor"
	"github.com/grokfilter/grokfilter-go/internal/patternfinder"
	"github.com/grokfilter/grokfilter-go/pkg/grok/pattern"
)

// timeoutLogRate is the maximum number of timeout warnings logged per second.
const timeoutLogRate = 10

// InlineSourceName is the registry source name of inline pattern definitions.
const InlineSourceName = "pattern_definitions"

// Result describes what Filter did to one event.
type Result struct {
	Outcome Outcome

	// Field and Pattern identify the first successful match.
	Field   string
	Pattern string

	// Errors holds per-field *CoercionError values, field write errors, and
	// the context error if filtering was cancelled.
	Errors []error
}

type source struct {
	field string
	cfg   MatchConfig
}

// Filter extracts fields from events with grok expressions. It is immutable
// after New and safe for concurrent use; each event must be filtered by one
// goroutine at a time.
type Filter struct {
	sources       []source
	overwrite     FieldSet
	budget        time.Duration
	scope         TimeoutScope
	breakOnMatch  bool
	tagOnFailure  []string
	tagOnTimeout  string
	tagOnCoercion string
	target        string

	registry *pattern.Registry
	engine   *Engine
	logger   *slog.Logger
	limiter  *rate.Limiter
	metrics  *Metrics

	// abandonedReported is the abandoned-attempt count last added to metrics.
	abandonedReported atomic.Int64
}

// New builds a filter: it loads the built-in patterns, pattern files and
// inline definitions, then compiles every match expression. Any setup error
// is returned with the offending file, field, or expression attached.
func New(opts ...Option) (*Filter, error) {
	cfg := applyOptions(opts)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	compilerOpts := []pattern.CompilerOption{
		pattern.WithNamedCapturesOnly(cfg.namedCapturesOnly),
		pattern.WithKeepEmptyCaptures(cfg.keepEmptyCaptures),
		pattern.WithMaxExpansionDepth(cfg.maxDepth),
		pattern.WithCompilerLogger(cfg.logger),
	}
	if cfg.timeout > 0 && cfg.scope != ScopeNone {
		compilerOpts = append(compilerOpts, pattern.WithMatchBackstop(backstopFor(cfg.timeout)))
	}
	compiler := pattern.NewCompiler(reg, compilerOpts...)

	f := &Filter{
		overwrite:     NewFieldSet(cfg.overwrite...),
		budget:        cfg.timeout,
		scope:         cfg.scope,
		breakOnMatch:  cfg.breakOnMatch,
		tagOnFailure:  cfg.tagOnFailure,
		tagOnTimeout:  cfg.tagOnTimeout,
		tagOnCoercion: cfg.tagOnCoercion,
		target:        cfg.target,
		registry:      reg,
		engine:        NewEngine(governor.New()),
		logger:        cfg.logger,
		limiter:       rate.NewLimiter(timeoutLogRate, timeoutLogRate),
		metrics:       cfg.metrics,
	}

	for _, m := range cfg.match {
		src := source{
			field: m.field,
			cfg: MatchConfig{
				Patterns:     make([]Matcher, 0, len(m.expressions)),
				Scope:        cfg.scope,
				Budget:       cfg.timeout,
				BreakOnMatch: cfg.breakOnMatch,
			},
		}
		for i, expr := range m.expressions {
			p, err := compiler.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("match[%s][%d]: %w", m.field, i, err)
			}
			src.cfg.Patterns = append(src.cfg.Patterns, p)
		}
		f.sources = append(f.sources, src)
	}

	f.logger.Debug("grok filter ready",
		"fields", len(f.sources),
		"patterns", reg.Len(),
		"timeout", f.budget,
		"timeout_scope", f.scope.String(),
		"break_on_match", f.breakOnMatch)
	return f, nil
}

// NewFromConfig builds a filter from a declarative Config. opts are applied
// after the configuration and may add to or override it.
func NewFromConfig(cfg Config, opts ...Option) (*Filter, error) {
	cfgOpts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	return New(append(cfgOpts, opts...)...)
}

// backstopFor returns the regex engine timeout used alongside a governor
// budget. It only bounds attempts the governor has already abandoned.
func backstopFor(budget time.Duration) time.Duration {
	return 2*budget + 100*time.Millisecond
}

// LoadRegistry builds the pattern registry that a filter created with opts
// would compile against. Match expressions in opts are ignored.
func LoadRegistry(opts ...Option) (*pattern.Registry, error) {
	return buildRegistry(applyOptions(opts))
}

func buildRegistry(cfg *filterConfig) (*pattern.Registry, error) {
	reg := pattern.NewRegistry(pattern.WithRegistryLogger(cfg.logger))
	if err := reg.Load(pattern.Builtin()); err != nil {
		return nil, err
	}

	var files []string
	if dirs := patternfinder.Dirs(cfg.patternsDirs); len(dirs) > 0 {
		found, err := patternfinder.Find(dirs, cfg.patternsGlob)
		if err != nil {
			return nil, fmt.Errorf("patterns_dir: %w", err)
		}
		files = append(files, found...)
	}
	files = append(files, cfg.patternFiles...)

	for _, path := range files {
		src, err := pattern.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("pattern file %s: %w", filepath.Base(path), err)
		}
		src.Override = true
		if err := reg.Load(src); err != nil {
			return nil, fmt.Errorf("pattern file %s: %w", filepath.Base(path), err)
		}
		cfg.logger.Debug("loaded pattern file", "file", src.Name, "patterns", len(src.Definitions))
	}

	if len(cfg.definitions) > 0 {
		src := pattern.Source{Name: InlineSourceName, Definitions: cfg.definitions, Override: true}
		if err := reg.Load(src); err != nil {
			return nil, fmt.Errorf("pattern_definitions: %w", err)
		}
	}
	return reg, nil
}

// Registry returns the pattern registry the filter was compiled against.
func (f *Filter) Registry() *pattern.Registry {
	return f.registry
}

// AbandonedAttempts returns the number of timed-out match attempts still
// running in the background.
func (f *Filter) AbandonedAttempts() int64 {
	return f.engine.Governor().Abandoned()
}

// Filter matches the configured source fields of ev and writes the captured
// fields into ev.
//
// Source fields are tried in order and missing ones are skipped. An array
// field has each element tried in turn. With break-on-match, the first match
// anywhere ends filtering. Under the event timeout scope one budget covers
// every attempt for ev.
//
// On NotMatched the failure tags are added; on TimedOut only the timeout tag
// is added. Fields written by matches that preceded an event timeout are
// kept.
func (f *Filter) Filter(ctx context.Context, ev *Event) Result {
	start := time.Now()

	eventDeadline := governor.Unbounded()
	if f.budget > 0 && f.scope == ScopeEvent {
		eventDeadline = governor.NewDeadline(f.budget)
	}

	var (
		res             Result
		matched         bool
		anyTimedOut     bool
		eventTimedOut   bool
		cancelled       bool
		patternTimeouts int
	)

fields:
	for _, src := range f.sources {
		v, ok := ev.Get(src.field)
		if !ok {
			continue
		}
		for _, text := range textValues(v) {
			eval := f.engine.evaluate(ctx, src.cfg, text, eventDeadline)

			if len(eval.TimedOutPatterns) > 0 {
				anyTimedOut = true
				patternTimeouts += len(eval.TimedOutPatterns)
				f.warnTimeout(src.field, eval.TimedOutPatterns)
			}
			if eval.Err != nil {
				res.Errors = append(res.Errors, eval.Err)
			}

			for _, m := range eval.Matches {
				if !matched {
					matched = true
					res.Field = src.field
					res.Pattern = m.Pattern
				}
				res.Errors = append(res.Errors, Apply(ev, m.Captures, f.overwrite, f.target)...)
			}

			switch {
			case eval.Outcome == TimedOut && f.scope == ScopeEvent:
				eventTimedOut = true
				break fields
			case isCancellation(eval.Err):
				cancelled = true
				break fields
			case matched && f.breakOnMatch:
				break fields
			}
		}
	}

	switch {
	case eventTimedOut:
		res.Outcome = TimedOut
	case matched:
		res.Outcome = Matched
	case anyTimedOut:
		res.Outcome = TimedOut
	default:
		res.Outcome = NotMatched
	}

	if !cancelled {
		f.tag(ev, res)
	}

	for _, err := range res.Errors {
		f.logger.Debug("grok field error", "error", err)
	}
	if f.metrics != nil {
		abandoned := f.AbandonedAttempts()
		delta := abandoned - f.abandonedReported.Swap(abandoned)
		f.metrics.record(res, time.Since(start).Seconds(), patternTimeouts, delta)
	}
	return res
}

func (f *Filter) tag(ev *Event, res Result) {
	switch res.Outcome {
	case NotMatched:
		for _, t := range f.tagOnFailure {
			ev.Tag(t)
		}
	case TimedOut:
		ev.Tag(f.tagOnTimeout)
	case Matched:
		if f.tagOnCoercion == "" {
			return
		}
		for _, err := range res.Errors {
			var ce *CoercionError
			if errors.As(err, &ce) {
				ev.Tag(f.tagOnCoercion)
				return
			}
		}
	}
}

func (f *Filter) warnTimeout(field string, patterns []string) {
	if !f.limiter.Allow() {
		return
	}
	f.logger.Warn("grok pattern timed out",
		"field", field,
		"patterns", patterns,
		"timeout", f.budget,
		"timeout_scope", f.scope.String())
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// textValues returns the strings to match for a field value. Arrays yield
// one string per element; objects and nulls yield nothing.
func textValues(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := scalarText(x); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		if s, ok := scalarText(t); ok {
			return []string{s}
		}
		return nil
	}
}

func scalarText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return "", false
	}
}
