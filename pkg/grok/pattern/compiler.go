package pattern

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grokfilter/grokfilter-go/internal/regex"
)

// DefaultMaxExpansionDepth is the default limit on nested %{NAME} references.
const DefaultMaxExpansionDepth = 32

// groupPrefix labels the capture groups generated for %{NAME:field}. Target
// field names such as "[http][status]" or "@timestamp" are not valid group
// names, so groups are numbered and mapped back through FieldSpec.
const groupPrefix = "__gf"

// FieldSpec maps one capture group of a compiled pattern to an event field.
type FieldSpec struct {
	Group    string   // capture group label in the expanded regex
	Field    string   // target field reference
	Pattern  string   // referenced pattern name, "" for a named group written inline
	Coercion Coercion // type of the written value
}

// Capture is one extracted value.
type Capture struct {
	Field    string
	Raw      string
	Coercion Coercion
}

// CompiledPattern is a grok expression expanded and compiled into a single
// regular expression. It is immutable and safe for concurrent use.
type CompiledPattern struct {
	expr      string
	re        *regex.Regexp
	fields    []FieldSpec
	keepEmpty bool
}

// Expression returns the grok expression the pattern was compiled from.
func (p *CompiledPattern) Expression() string { return p.expr }

// Regex returns the fully expanded regular expression.
func (p *CompiledPattern) Regex() string { return p.re.String() }

// Fields returns the field specs in capture group order.
func (p *CompiledPattern) Fields() []FieldSpec { return slices.Clone(p.fields) }

// Match matches text and returns the captured fields. Groups that did not take
// part in the match are skipped, as are empty captures unless the compiler was
// configured to keep them. When several groups target the same field, the
// last participating one wins.
//
// The error is non-nil only when the regex engine aborted the match.
func (p *CompiledPattern) Match(text string) ([]Capture, bool, error) {
	m, err := p.re.FindGroups(text)
	if err != nil {
		return nil, false, err
	}
	if m == nil {
		return nil, false, nil
	}

	captures := make([]Capture, 0, len(p.fields))
	var index map[string]int
	for _, spec := range p.fields {
		raw, ok := m.Group(spec.Group)
		if !ok || (raw == "" && !p.keepEmpty) {
			continue
		}
		c := Capture{Field: spec.Field, Raw: raw, Coercion: spec.Coercion}
		if index == nil {
			index = make(map[string]int, len(p.fields))
		}
		if i, dup := index[spec.Field]; dup {
			captures[i] = c
			continue
		}
		index[spec.Field] = len(captures)
		captures = append(captures, c)
	}
	return captures, true, nil
}

// Compiler expands grok expressions against a Registry. Results are memoised,
// so compiling the same expression twice returns the same *CompiledPattern.
type Compiler struct {
	reg       *Registry
	namedOnly bool
	maxDepth  int
	backstop  time.Duration
	cache     *regex.Cache
	keepEmpty bool
	logger    *slog.Logger

	mu       sync.Mutex
	compiled map[string]*CompiledPattern
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithNamedCapturesOnly controls whether %{NAME} without a field name is
// captured. When false, it is captured into a field called NAME. Default true.
func WithNamedCapturesOnly(only bool) CompilerOption {
	return func(c *Compiler) { c.namedOnly = only }
}

// WithMaxExpansionDepth limits how deeply references may nest.
func WithMaxExpansionDepth(depth int) CompilerOption {
	return func(c *Compiler) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

// WithMatchBackstop sets the regex engine's own match timeout. It bounds how
// long an attempt abandoned by the timeout governor keeps running.
func WithMatchBackstop(d time.Duration) CompilerOption {
	return func(c *Compiler) { c.backstop = d }
}

// WithRegexCache sets the cache of compiled regular expressions.
func WithRegexCache(cache *regex.Cache) CompilerOption {
	return func(c *Compiler) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// WithKeepEmptyCaptures keeps captures that matched the empty string.
func WithKeepEmptyCaptures(keep bool) CompilerOption {
	return func(c *Compiler) { c.keepEmpty = keep }
}

// WithCompilerLogger sets the logger for compile diagnostics.
func WithCompilerLogger(logger *slog.Logger) CompilerOption {
	return func(c *Compiler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCompiler creates a compiler resolving references against reg.
func NewCompiler(reg *Registry, opts ...CompilerOption) *Compiler {
	c := &Compiler{
		reg:       reg,
		namedOnly: true,
		maxDepth:  DefaultMaxExpansionDepth,
		cache:     regex.DefaultCache,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		compiled:  make(map[string]*CompiledPattern),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the registry the compiler resolves against.
func (c *Compiler) Registry() *Registry { return c.reg }

type expansion struct {
	expr   string
	sb     strings.Builder
	fields map[string]FieldSpec
}

// Compile expands expression and compiles the result.
func (c *Compiler) Compile(expression string) (*CompiledPattern, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.compiled[expression]; ok {
		return p, nil
	}

	x := &expansion{expr: expression, fields: make(map[string]FieldSpec)}
	if err := c.expand(x, expression, nil); err != nil {
		return nil, err
	}
	flat := x.sb.String()

	re, err := c.cache.Get(flat, c.backstop)
	if err != nil {
		return nil, &PatternError{
			Kind:       ErrInvalidPatternSyntax,
			Index:      -1,
			Expression: expression,
			Cause:      err,
		}
	}

	// Named groups are numbered in order of appearance, so walking them in
	// group order yields the fields in expression order.
	var fields []FieldSpec
	for _, name := range re.GroupNames() {
		if spec, ok := x.fields[name]; ok {
			fields = append(fields, spec)
			continue
		}
		if strings.HasPrefix(name, groupPrefix) {
			continue
		}
		if _, err := strconv.Atoi(name); err == nil {
			continue
		}
		fields = append(fields, FieldSpec{Group: name, Field: name, Coercion: CoerceString})
	}

	p := &CompiledPattern{
		expr:      expression,
		re:        re,
		fields:    fields,
		keepEmpty: c.keepEmpty,
	}
	c.compiled[expression] = p
	c.logger.Debug("compiled grok expression",
		"expression", expression,
		"fields", len(fields),
		"regex_length", len(flat))
	return p, nil
}

func (c *Compiler) expand(x *expansion, text string, stack []string) error {
	tokens, err := scanTokens(text)
	if err != nil {
		return &PatternError{
			Kind:       ErrInvalidPatternSyntax,
			Index:      -1,
			Name:       last(stack),
			Expression: x.expr,
			Message:    err.Error(),
		}
	}

	prev := 0
	for _, t := range tokens {
		x.sb.WriteString(text[prev:t.start])
		prev = t.end
		if err := c.checkLength(x, t.name); err != nil {
			return err
		}

		if slices.Contains(stack, t.name) {
			cycle := append(slices.Clone(stack[slices.Index(stack, t.name):]), t.name)
			return &PatternError{
				Kind:       ErrCyclicPatternReference,
				Index:      -1,
				Name:       t.name,
				Expression: x.expr,
				Message:    strings.Join(cycle, " -> "),
			}
		}
		if len(stack) >= c.maxDepth {
			return &PatternError{
				Kind:       ErrPatternExpansionTooDeep,
				Index:      -1,
				Name:       t.name,
				Expression: x.expr,
				Message:    fmt.Sprintf("more than %d nested references", c.maxDepth),
			}
		}
		template, ok := c.reg.Lookup(t.name)
		if !ok {
			return &PatternError{
				Kind:       ErrUnknownPatternReference,
				Index:      -1,
				Name:       t.name,
				Expression: x.expr,
			}
		}

		field := t.field
		if field == "" && !c.namedOnly {
			field = t.name
		}
		if field == "" {
			x.sb.WriteString("(?:")
		} else {
			coercion, err := ParseCoercion(t.typ)
			if err != nil {
				return &PatternError{
					Kind:       ErrInvalidPatternSyntax,
					Index:      -1,
					Name:       t.name,
					Expression: x.expr,
					Message:    fmt.Sprintf("unknown type %q for field %q", t.typ, field),
				}
			}
			group := groupPrefix + strconv.Itoa(len(x.fields))
			x.fields[group] = FieldSpec{Group: group, Field: field, Pattern: t.name, Coercion: coercion}
			x.sb.WriteString("(?<")
			x.sb.WriteString(group)
			x.sb.WriteString(">")
		}

		if err := c.expand(x, template, append(stack, t.name)); err != nil {
			return err
		}
		x.sb.WriteString(")")
	}
	x.sb.WriteString(text[prev:])
	return c.checkLength(x, last(stack))
}

// checkLength stops an expansion as soon as it outgrows the regex size limit.
// Definitions that reference another pattern several times grow exponentially
// with depth.
func (c *Compiler) checkLength(x *expansion, name string) error {
	if x.sb.Len() <= regex.MaxExpressionLength {
		return nil
	}
	return &PatternError{
		Kind:       ErrInvalidPatternSyntax,
		Index:      -1,
		Name:       name,
		Expression: x.expr,
		Cause:      regex.ErrExpressionTooLong,
	}
}

func last(stack []string) string {
	if len(stack) == 0 {
		return ""
	}
	return stack[len(stack)-1]
}
