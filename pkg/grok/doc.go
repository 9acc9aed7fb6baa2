// Package grok extracts structured fields from log lines with grok
// expressions.
//
// A grok expression is a regular expression that may reference named
// patterns as %{NAME}, %{NAME:field} or %{NAME:field:type}. References with a
// field name capture into that field; the optional type (int or float)
// converts the captured text before it is written.
//
// # Basic Usage
//
//	f, err := grok.New(
//	    grok.WithMatch("message", "%{SYSLOGLINE}"),
//	    grok.WithTimeout(500*time.Millisecond),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ev := grok.NewMessageEvent(line)
//	res := f.Filter(ctx, ev)
//	switch res.Outcome {
//	case grok.Matched:
//	    fmt.Println(ev)
//	case grok.NotMatched:
//	    // ev is tagged _grokparsefailure
//	case grok.TimedOut:
//	    // ev is tagged _groktimeout
//	}
//
// # Pattern Order
//
// Expressions for a field are tried in the order given. By default the first
// match wins and later expressions are never attempted; WithBreakOnMatch(false)
// tries every expression and applies every match.
//
// # Timeouts
//
// Every timed match attempt runs on its own goroutine and is abandoned when
// its budget runs out, so a pathological expression cannot stall the caller.
// With ScopePattern each attempt has its own budget and a timed-out pattern
// simply does not match. With ScopeEvent a single budget covers the whole
// event and running out of it ends filtering with TimedOut. A zero timeout
// runs every match inline with no timer at all.
//
// # Field Accumulation
//
// Writing a capture into a field that already exists turns the field into an
// array holding the old and the new value, unless the field is listed with
// WithOverwrite. A capture that cannot be converted to its declared type is
// reported as a *CoercionError in Result.Errors and leaves the field
// untouched; the event still counts as matched.
//
// # Configuration Files
//
// Config mirrors the options with pipeline-style names (match, overwrite,
// timeout_millis, timeout_scope, break_on_match, pattern_definitions,
// patterns_dir, ...). DecodeConfig accepts a generic map such as one read
// from YAML, and NewFromConfig builds the filter.
package grok
