package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// tokenRe matches one grok reference: %{NAME}, %{NAME:field} or
// %{NAME:field:type}.
var tokenRe = regexp.MustCompile(`%\{(\w+)(?::([\w@.\-\[\]]+))?(?::(\w+))?\}`)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// token is one parsed %{...} reference inside a template or expression.
type token struct {
	start, end int // byte offsets of the whole token
	name       string
	field      string
	typ        string
}

// scanTokens returns every well-formed reference in s in order. Any "%{" that
// does not begin a well-formed reference is an error; callers classify it as
// ErrInvalidPatternSyntax.
func scanTokens(s string) ([]token, error) {
	locs := tokenRe.FindAllStringSubmatchIndex(s, -1)
	tokens := make([]token, 0, len(locs))
	covered := 0
	for _, loc := range locs {
		if err := checkLoose(s[covered:loc[0]], covered); err != nil {
			return nil, err
		}
		t := token{start: loc[0], end: loc[1], name: s[loc[2]:loc[3]]}
		if loc[4] >= 0 {
			t.field = s[loc[4]:loc[5]]
		}
		if loc[6] >= 0 {
			t.typ = s[loc[6]:loc[7]]
		}
		tokens = append(tokens, t)
		covered = loc[1]
	}
	if err := checkLoose(s[covered:], covered); err != nil {
		return nil, err
	}
	return tokens, nil
}

func checkLoose(gap string, offset int) error {
	if i := strings.Index(gap, "%{"); i >= 0 {
		return fmt.Errorf("malformed reference at offset %d", offset+i)
	}
	return nil
}

// references returns the distinct pattern names referenced by template in
// order of first appearance.
func references(template string) ([]string, error) {
	tokens, err := scanTokens(template)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(tokens))
	names := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !seen[t.name] {
			seen[t.name] = true
			names = append(names, t.name)
		}
	}
	return names, nil
}
