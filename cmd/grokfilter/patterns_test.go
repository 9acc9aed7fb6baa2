package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPatterns_List(t *testing.T) {
	out, _, err := execute(t, "", "patterns")
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	var found bool
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "SYSLOGBASE" && fields[1] == "builtin" {
			found = true
		}
	}
	if !found {
		t.Errorf("SYSLOGBASE builtin not listed:\n%s", out)
	}
}

func TestPatterns_ListWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.grok")
	if err := os.WriteFile(path, []byte("GREETING (?:hello|hi)\nWORD [a-z]+\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out, _, err := execute(t, "", "patterns", "-p", path)
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	for _, want := range [][2]string{{"GREETING", "custom.grok"}, {"WORD", "custom.grok"}, {"INT", "builtin"}} {
		var found bool
		for _, line := range strings.Split(out, "\n") {
			if f := strings.Fields(line); len(f) == 2 && f[0] == want[0] && f[1] == want[1] {
				found = true
			}
		}
		if !found {
			t.Errorf("%s from %s not listed", want[0], want[1])
		}
	}
}

func TestPatterns_Show(t *testing.T) {
	out, _, err := execute(t, "", "patterns", "SYSLOGPROG", "--fields")
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	for _, want := range []string{
		"name:     SYSLOGPROG",
		"source:   builtin",
		"pattern:  %{PROG:program}(?:\\[%{POSINT:pid}\\])?",
		"expanded: ",
		"program (string) via PROG",
		"pid (string) via POSINT",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if _, expanded, _ := strings.Cut(out, "expanded: "); strings.Contains(expanded, "%{") {
		t.Error("expanded regex still contains references")
	}
}

func TestPatterns_Unknown(t *testing.T) {
	_, _, err := execute(t, "", "patterns", "NOT_A_PATTERN")
	if err == nil || !strings.Contains(err.Error(), "NOT_A_PATTERN") {
		t.Fatalf("error = %v, want unknown pattern", err)
	}
}

func TestPatterns_BrokenReferences(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.grok")
	defs := "LOOP_A x%{LOOP_B}\nLOOP_B y%{LOOP_A}\nDANGLING %{INT} %{NOPE}\n"
	if err := os.WriteFile(path, []byte(defs), 0o600); err != nil {
		t.Fatal(err)
	}

	// Listing does not expand anything, so broken definitions still list.
	out, _, err := execute(t, "", "patterns", "-p", path)
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	if !strings.Contains(out, "DANGLING") {
		t.Errorf("DANGLING not listed:\n%s", out)
	}

	tests := []struct {
		name string
		want []string
	}{
		{"LOOP_A", []string{"cyclic pattern reference", "LOOP_A -> LOOP_B -> LOOP_A"}},
		{"DANGLING", []string{"unknown pattern reference", "%{NOPE}"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, "", "patterns", "-p", path, tt.name)
			if err == nil {
				t.Fatal("expected error")
			}
			for _, want := range tt.want {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q missing %q", err, want)
				}
			}
		})
	}
}
