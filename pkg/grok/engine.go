package grok

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grokfilter/grokfilter-go/internal/governor"
	"github.com/grokfilter/grokfilter-go/internal/regex"
	"github.com/grokfilter/grokfilter-go/pkg/grok/pattern"
)

// Outcome is the result of matching one input.
type Outcome int

const (
	NotMatched Outcome = iota
	Matched
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case NotMatched:
		return "not_matched"
	case Matched:
		return "matched"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// TimeoutScope selects what a timeout budget applies to.
type TimeoutScope int

const (
	// ScopeNone disables timeouts.
	ScopeNone TimeoutScope = iota
	// ScopePattern gives every pattern attempt its own budget. A timed-out
	// pattern counts as not matching and the next pattern is tried.
	ScopePattern
	// ScopeEvent gives the whole event one budget. Exhausting it aborts the
	// evaluation.
	ScopeEvent
)

func (s TimeoutScope) String() string {
	switch s {
	case ScopeNone:
		return "none"
	case ScopePattern:
		return "pattern"
	case ScopeEvent:
		return "event"
	default:
		return fmt.Sprintf("TimeoutScope(%d)", int(s))
	}
}

// ParseTimeoutScope parses "pattern", "event" or "none". The empty string
// selects the default, ScopePattern.
func ParseTimeoutScope(s string) (TimeoutScope, error) {
	switch s {
	case "", "pattern":
		return ScopePattern, nil
	case "event":
		return ScopeEvent, nil
	case "none":
		return ScopeNone, nil
	default:
		return ScopeNone, fmt.Errorf("invalid timeout scope %q (want pattern, event or none)", s)
	}
}

// Matcher is a compiled pattern as seen by the engine.
// *pattern.CompiledPattern implements Matcher.
type Matcher interface {
	Expression() string
	Match(text string) ([]pattern.Capture, bool, error)
}

// MatchConfig is the ordered list of patterns for one source field and the
// rules for trying them.
type MatchConfig struct {
	Patterns     []Matcher
	Scope        TimeoutScope
	Budget       time.Duration // zero disables timeouts
	BreakOnMatch bool
}

func (c MatchConfig) timed() bool {
	return c.Budget > 0 && c.Scope != ScopeNone
}

// PatternMatch is one successful pattern attempt.
type PatternMatch struct {
	Index    int    // position in MatchConfig.Patterns
	Pattern  string // the pattern's expression
	Captures []pattern.Capture
}

// Evaluation is the result of Engine.Evaluate. Matches holds every successful
// attempt in pattern order; with BreakOnMatch it has at most one element.
type Evaluation struct {
	Outcome          Outcome
	Matches          []PatternMatch
	TimedOutPatterns []string

	// Err is set when the context was cancelled or an attempt panicked.
	Err error
}

// Engine tries patterns against text in order under the configured timeout
// budget. It holds no per-event state and is safe for concurrent use.
type Engine struct {
	gov *governor.Governor
}

// NewEngine creates an engine whose timed attempts run under gov.
// A nil gov gets a fresh governor.
func NewEngine(gov *governor.Governor) *Engine {
	if gov == nil {
		gov = governor.New()
	}
	return &Engine{gov: gov}
}

// Governor returns the engine's governor.
func (e *Engine) Governor() *governor.Governor { return e.gov }

// Evaluate tries cfg.Patterns against text.
func (e *Engine) Evaluate(ctx context.Context, cfg MatchConfig, text string) Evaluation {
	return e.evaluate(ctx, cfg, text, e.eventDeadline(cfg))
}

// eventDeadline returns the deadline shared by every attempt of one event,
// or Unbounded unless cfg uses the event scope.
func (e *Engine) eventDeadline(cfg MatchConfig) governor.Deadline {
	if cfg.timed() && cfg.Scope == ScopeEvent {
		return governor.NewDeadline(cfg.Budget)
	}
	return governor.Unbounded()
}

type attemptResult struct {
	captures []pattern.Capture
	matched  bool
}

func (e *Engine) evaluate(ctx context.Context, cfg MatchConfig, text string, eventDeadline governor.Deadline) Evaluation {
	var ev Evaluation

	for i, m := range cfg.Patterns {
		var (
			res attemptResult
			err error
		)
		if !cfg.timed() {
			if err = ctx.Err(); err == nil {
				res, err = matchInline(m, text)
			}
		} else {
			d := eventDeadline
			if cfg.Scope == ScopePattern {
				d = governor.NewDeadline(cfg.Budget)
			}
			res, err = governor.Run(ctx, e.gov, d, func() (attemptResult, error) {
				captures, matched, err := m.Match(text)
				return attemptResult{captures: captures, matched: matched}, err
			})
		}

		switch {
		case err == nil:
		case errors.Is(err, governor.ErrTimedOut), errors.Is(err, regex.ErrMatchTimeout):
			ev.TimedOutPatterns = append(ev.TimedOutPatterns, m.Expression())
			if cfg.Scope == ScopeEvent {
				ev.Outcome = TimedOut
				return ev
			}
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			ev.Err = err
			ev.Outcome = outcomeOf(ev)
			return ev
		default:
			// A panicking pattern counts as not matching.
			ev.Err = err
			continue
		}

		if !res.matched {
			continue
		}
		ev.Matches = append(ev.Matches, PatternMatch{Index: i, Pattern: m.Expression(), Captures: res.captures})
		if cfg.BreakOnMatch {
			break
		}
	}

	ev.Outcome = outcomeOf(ev)
	return ev
}

// matchInline runs an untimed attempt on the calling goroutine. A panic is
// reported the same way governor.Run reports it for timed attempts.
func matchInline(m Matcher, text string) (res attemptResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = attemptResult{}, fmt.Errorf("%w: %v", governor.ErrAttemptPanicked, r)
		}
	}()
	captures, matched, err := m.Match(text)
	return attemptResult{captures: captures, matched: matched}, err
}

func outcomeOf(ev Evaluation) Outcome {
	switch {
	case len(ev.Matches) > 0:
		return Matched
	case len(ev.TimedOutPatterns) > 0:
		return TimedOut
	default:
		return NotMatched
	}
}
