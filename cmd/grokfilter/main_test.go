package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// cobraCompleteCmd is cobra's hidden command that shells call for completions.
const cobraCompleteCmd = cobra.ShellCompRequestCmd

// execute runs the CLI with args and stdin, returning stdout and stderr.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	return executeContext(t, context.Background(), stdin, args...)
}

func executeContext(t *testing.T, ctx context.Context, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"debug", false},
		{"INFO", false},
		{"warn", false},
		{"warning", false},
		{"", false},
		{"error", false},
		{"loud", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := parseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestRoot_InvalidLogLevel(t *testing.T) {
	_, _, err := execute(t, "x\n", "match", "--log-level", "loud", "-m", "%{WORD}")
	if err == nil || !strings.Contains(err.Error(), "log-level") {
		t.Fatalf("expected log-level error, got %v", err)
	}
}

func TestCompletion(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			out, _, err := execute(t, "", "completion", shell)
			if err != nil {
				t.Fatalf("completion %s: %v", shell, err)
			}
			if !strings.Contains(out, "grokfilter") {
				t.Errorf("completion %s output does not mention grokfilter", shell)
			}
		})
	}

	if _, _, err := execute(t, "", "completion", "tcsh"); err == nil {
		t.Error("expected error for unsupported shell")
	}
}

func TestCompletion_Values(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
		not  []string
	}{
		{"timeout scope", []string{"match", "--timeout-scope", ""}, []string{"pattern", "event", "none"}, nil},
		{"format", []string{"tail", "--format", ""}, []string{"jsonl", "pretty"}, nil},
		{"pattern names", []string{"patterns", "SYSLOG"}, []string{"SYSLOGBASE\tbuiltin", "SYSLOGLINE\tbuiltin"}, []string{"INT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, "", append([]string{cobraCompleteCmd}, tt.args...)...)
			if err != nil {
				t.Fatalf("complete: %v", err)
			}
			lines := strings.Split(out, "\n")
			has := func(want string) bool {
				for _, l := range lines {
					if l == want || strings.HasPrefix(l, want+"\t") {
						return true
					}
				}
				return false
			}
			for _, want := range tt.want {
				if !has(want) {
					t.Errorf("completion missing %q:\n%s", want, out)
				}
			}
			for _, n := range tt.not {
				if has(n) {
					t.Errorf("completion unexpectedly offers %q", n)
				}
			}
		})
	}
}

func TestCompletion_PatternNamesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.grok")
	if err := os.WriteFile(path, []byte("GREETING (?:hello|hi)\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out, _, err := execute(t, "", cobraCompleteCmd, "patterns", "-p", path, "GREE")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !strings.Contains(out, "GREETING\tcustom.grok") {
		t.Errorf("GREETING from custom.grok not offered:\n%s", out)
	}
}
