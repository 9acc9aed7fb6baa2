package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const syslogInput = `Mar 16 00:01:25 evita postfix/smtpd[1713]: connect from camomile.cloud9.net[168.100.1.3]
not a syslog line

Mar 16 00:02:00 evita sshd[22]: Accepted publickey
`

func decodeLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		events = append(events, m)
	}
	return events
}

func TestMatch_Stdin(t *testing.T) {
	out, _, err := execute(t, syslogInput, "match", "-m", "%{SYSLOGLINE}", "--overwrite", "message")
	if err != nil {
		t.Fatalf("match: %v", err)
	}

	events := decodeLines(t, out)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3 (blank lines skipped)", len(events))
	}
	if events[0]["program"] != "postfix/smtpd" || events[0]["pid"] != "1713" {
		t.Errorf("first event = %v", events[0])
	}
	if events[0]["message"] != "connect from camomile.cloud9.net[168.100.1.3]" {
		t.Errorf("message not overwritten: %v", events[0]["message"])
	}
	if tags, _ := events[1]["tags"].([]any); len(tags) != 1 || tags[0] != "_grokparsefailure" {
		t.Errorf("second event tags = %v", events[1]["tags"])
	}
	if events[2]["program"] != "sshd" {
		t.Errorf("third event = %v", events[2])
	}
}

func TestMatch_OnlyMatchedPretty(t *testing.T) {
	out, _, err := execute(t, syslogInput, "match", "-m", "%{SYSLOGBASE}", "--only-matched", "--format", "pretty")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), out)
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "[matched] ") {
			t.Errorf("unexpected line %q", l)
		}
	}
	if !strings.Contains(lines[1], "program=sshd") {
		t.Errorf("line %q does not contain program=sshd", lines[1])
	}
}

func TestMatch_Files(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.log")
	b := filepath.Join(dir, "b.log")
	if err := os.WriteFile(a, []byte("1\n2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("3\r\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, _, err := execute(t, "", "match", "-m", "^%{INT:n:int}$", a, b)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	events := decodeLines(t, out)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, want := range []float64{1, 2, 3} {
		if events[i]["n"] != want {
			t.Errorf("event %d: n = %v, want %v", i, events[i]["n"], want)
		}
	}
}

func TestMatch_FieldAndPatternFile(t *testing.T) {
	dir := t.TempDir()
	patterns := filepath.Join(dir, "custom.grok")
	if err := os.WriteFile(patterns, []byte("GREETING (?:hello|hi)\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, _, err := execute(t, "hi there\n", "match", "-p", patterns, "-m", "message=^%{GREETING:greeting}")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	events := decodeLines(t, out)
	if len(events) != 1 || events[0]["greeting"] != "hi" {
		t.Errorf("events = %v", events)
	}
}

func TestMatch_Summary(t *testing.T) {
	_, stderr, err := execute(t, syslogInput, "match", "-m", "%{SYSLOGLINE}", "--log-level", "info")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	for _, want := range []string{"match summary", "matched=2", "not_matched=1", "timed_out=0"} {
		if !strings.Contains(stderr, want) {
			t.Errorf("stderr missing %q:\n%s", want, stderr)
		}
	}
}

func TestMatch_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no expressions", []string{"match"}, "no match expressions"},
		{"bad format", []string{"match", "-m", "%{WORD}", "--format", "xml"}, "unknown format"},
		{"unknown pattern", []string{"match", "-m", "%{NOPE}"}, "match[message][0]"},
		{"bad timeout scope", []string{"match", "-m", "%{WORD}", "--timeout-scope", "sometimes"}, "timeout scope"},
		{"missing file", []string{"match", "-m", "%{WORD}", filepath.Join(dir, "missing.log")}, "missing.log"},
		{"directory", []string{"match", "-m", "%{WORD}", dir}, "not a regular file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, "", tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want containing %q", err, tt.want)
			}
			if strings.Contains(err.Error(), dir) {
				t.Errorf("error message should not contain path: %s", err)
			}
		})
	}
}
