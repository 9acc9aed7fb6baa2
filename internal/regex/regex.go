// Package regex provides the regular expression capability used by the grok
// compiler: backtracking compilation with named groups and a match operation
// that returns the participating capture groups.
package regex

import (
	"errors"
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

// ErrMatchTimeout is returned when the regex engine aborts a match on its own
// backstop timeout.
var ErrMatchTimeout = errors.New("regex match timeout")

// Regexp is a compiled expression. It is immutable and safe for concurrent use.
type Regexp struct {
	expr     string
	backstop time.Duration
	re       *regexp2.Regexp
	names    []string // group names in group-number order, excluding group 0
}

// Compile compiles expr. A positive backstop makes the engine abort any single
// match that runs longer than backstop; zero leaves matches unbounded.
func Compile(expr string, backstop time.Duration) (*Regexp, error) {
	re, err := regexp2.Compile(expr, regexp2.None)
	if err != nil {
		return nil, err
	}
	if backstop > 0 {
		re.MatchTimeout = backstop
	}

	all := re.GetGroupNames()
	names := make([]string, 0, len(all))
	for _, name := range all {
		if re.GroupNumberFromName(name) == 0 {
			continue
		}
		names = append(names, name)
	}

	return &Regexp{
		expr:     expr,
		backstop: backstop,
		re:       re,
		names:    names,
	}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr string) *Regexp {
	re, err := Compile(expr, 0)
	if err != nil {
		panic(fmt.Sprintf("regex: Compile(%q): %v", expr, err))
	}
	return re
}

// String returns the source expression.
func (r *Regexp) String() string {
	return r.expr
}

// Backstop returns the engine-side match timeout (zero when unbounded).
func (r *Regexp) Backstop() time.Duration {
	return r.backstop
}

// GroupNames returns the names of all capture groups in group-number order.
// Unnamed groups are reported by their number.
func (r *Regexp) GroupNames() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// GroupNumber returns the number of the named group, or -1 if it does not exist.
func (r *Regexp) GroupNumber(name string) int {
	return r.re.GroupNumberFromName(name)
}

// FindGroups matches text and returns the match, or nil when text does not match.
func (r *Regexp) FindGroups(text string) (*Match, error) {
	m, err := r.re.FindStringMatch(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMatchTimeout, err)
	}
	if m == nil {
		return nil, nil
	}
	return &Match{m: m}, nil
}

// Match holds the capture groups of one successful match.
type Match struct {
	m *regexp2.Match
}

// Group returns the last value captured by the named group. The boolean is
// false when the group does not exist or did not take part in the match.
func (m *Match) Group(name string) (string, bool) {
	g := m.m.GroupByName(name)
	if g == nil || len(g.Captures) == 0 {
		return "", false
	}
	return g.String(), true
}

// String returns the text of the whole match.
func (m *Match) String() string {
	return m.m.String()
}
