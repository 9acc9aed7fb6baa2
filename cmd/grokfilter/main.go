// Command grokfilter extracts structured fields from log lines with grok
// expressions.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	verbose  bool
	logLevel string
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "grokfilter",
		Short: "Extract structured fields from log lines with grok patterns",
		Long: `grokfilter matches log lines against grok expressions such as
%{SYSLOGBASE} %{GREEDYDATA:message} and prints the extracted fields.

Every match attempt runs under a timeout, so a pathological pattern cannot
stall processing.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&rf.verbose, "verbose", "v", false,
		"Verbose output (same as --log-level debug)")
	cmd.PersistentFlags().StringVar(&rf.logLevel, "log-level", "warn",
		"Log level: debug, info, warn, error")

	cmd.AddCommand(
		newMatchCmd(rf),
		newTailCmd(rf),
		newPatternsCmd(rf),
		newCompletionCmd(),
	)
	return cmd
}

// logger returns a text logger writing to w at the configured level.
func (rf *rootFlags) logger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(rf.logLevel)
	if err != nil {
		return nil, err
	}
	if rf.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning", "":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid --log-level %q (want debug, info, warn or error)", s)
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
