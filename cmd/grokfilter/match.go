package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/grokfilter/grokfilter-go/internal/safefile"
	"github.com/grokfilter/grokfilter-go/pkg/grok"
)

// maxLineSize is the longest input line accepted by match.
const maxLineSize = 1 << 20

type matchFlags struct {
	filterFlags
	format      string
	onlyMatched bool
}

func newMatchCmd(rf *rootFlags) *cobra.Command {
	mf := &matchFlags{}

	cmd := &cobra.Command{
		Use:   "match [files...]",
		Short: "Match log lines from files or stdin",
		Long: `Match every line of the given files (or stdin) against grok expressions
and print the resulting events.

Events are output as JSON Lines by default (one JSON object per line),
which makes it easy to process with tools like jq.

Examples:
  # Parse syslog lines
  grokfilter match -m '%{SYSLOGLINE}' /var/log/syslog

  # Try two expressions in order against a custom field
  grokfilter match -m 'request=%{COMBINEDAPACHELOG}' -m 'request=%{COMMONAPACHELOG}' access.log

  # Use custom patterns and a per-event budget
  grokfilter match -p postfix.grok --timeout 250ms --timeout-scope event \
    -m '%{SYSLOGBASE} %{POSTFIX_CONNECT}' mail.log

  # Read the filter from a configuration file
  grokfilter match --config filter.yaml < app.log

  # Keep only matched events, human-readable
  cat app.log | grokfilter match -m '%{SYSLOGLINE}' --only-matched --format pretty`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(cmd, rf, mf, args)
		},
	}
	addFilterFlags(cmd, &mf.filterFlags)
	cmd.Flags().StringVarP(&mf.format, "format", "f", "jsonl",
		"Output format: jsonl, pretty")
	_ = cmd.RegisterFlagCompletionFunc("format", completeFormats)
	cmd.Flags().BoolVar(&mf.onlyMatched, "only-matched", false,
		"Only output events that matched")
	return cmd
}

// matchCounts tallies outcomes for the run summary.
type matchCounts map[grok.Outcome]int

func runMatch(cmd *cobra.Command, rf *rootFlags, mf *matchFlags, args []string) error {
	if err := checkFormat(mf.format); err != nil {
		return err
	}
	logger, err := rf.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	f, err := mf.buildFilter(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := bufio.NewWriter(cmd.OutOrStdout())
	defer out.Flush()

	counts := matchCounts{}
	if len(args) == 0 {
		if err := matchReader(ctx, f, mf, cmd.InOrStdin(), out, counts); err != nil {
			return fmt.Errorf("stdin: %w", err)
		}
	}
	for _, path := range args {
		if err := matchFile(ctx, f, mf, path, out, counts); err != nil {
			return err
		}
	}

	logger.Info("match summary",
		"matched", counts[grok.Matched],
		"not_matched", counts[grok.NotMatched],
		"timed_out", counts[grok.TimedOut],
		"abandoned_attempts", f.AbandonedAttempts())
	return out.Flush()
}

func matchFile(ctx context.Context, f *grok.Filter, mf *matchFlags, path string, out io.Writer, counts matchCounts) error {
	file, _, err := safefile.OpenRegular(path)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), safefile.StripPath(err))
	}
	defer file.Close()

	if err := matchReader(ctx, f, mf, file, out, counts); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

func matchReader(ctx context.Context, f *grok.Filter, mf *matchFlags, r io.Reader, out io.Writer, counts matchCounts) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if line == "" {
			continue
		}

		ev := grok.NewMessageEvent(line)
		res := f.Filter(ctx, ev)
		counts[res.Outcome]++

		if mf.onlyMatched && res.Outcome != grok.Matched {
			continue
		}
		if err := OutputEvent(mf.format, ev, res, out); err != nil {
			return fmt.Errorf("output error: %w", err)
		}
	}
	return scanner.Err()
}
