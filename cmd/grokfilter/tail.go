package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/grokfilter/grokfilter-go/pkg/grok"
)

// metricsShutdownTimeout bounds the graceful shutdown of the metrics server.
const metricsShutdownTimeout = 5 * time.Second

type tailFlags struct {
	filterFlags
	format      string
	onlyMatched bool
	fromStart   bool
	replayLast  int
	poll        bool
	metricsAddr string
}

func newTailCmd(rf *rootFlags) *cobra.Command {
	tf := &tailFlags{}

	cmd := &cobra.Command{
		Use:   "tail FILE",
		Short: "Follow a log file and match new lines",
		Long: `Follow a log file like tail -F, matching every appended line against
grok expressions and printing the resulting events. Rotated or truncated
files are reopened.

Examples:
  # Follow syslog
  grokfilter tail -m '%{SYSLOGLINE}' /var/log/syslog

  # Process the whole file first, then follow it
  grokfilter tail --from-start -m '%{SYSLOGLINE}' /var/log/syslog

  # Replay the last 100 lines and expose Prometheus metrics
  grokfilter tail --replay-last 100 --metrics-addr :9090 --config filter.yaml app.log

  # Pipe to jq for filtering
  grokfilter tail -m '%{SYSLOGLINE}' /var/log/syslog | jq 'select(.program == "sshd")'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(cmd, rf, tf, args[0])
		},
	}
	addFilterFlags(cmd, &tf.filterFlags)
	cmd.Flags().StringVarP(&tf.format, "format", "f", "jsonl",
		"Output format: jsonl, pretty")
	_ = cmd.RegisterFlagCompletionFunc("format", completeFormats)
	cmd.Flags().BoolVar(&tf.onlyMatched, "only-matched", false,
		"Only output events that matched")
	cmd.Flags().BoolVar(&tf.fromStart, "from-start", false,
		"Process the existing file content before following")
	cmd.Flags().IntVar(&tf.replayLast, "replay-last", 0,
		"Process the last N existing lines before following")
	cmd.Flags().BoolVar(&tf.poll, "poll", false,
		"Poll for changes instead of using filesystem notifications")
	cmd.Flags().StringVar(&tf.metricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func (tf *tailFlags) watchOptions() ([]grok.WatchOption, error) {
	if tf.fromStart && tf.replayLast > 0 {
		return nil, errors.New("--from-start and --replay-last are mutually exclusive")
	}
	if tf.replayLast < 0 {
		return nil, fmt.Errorf("--replay-last must be non-negative, got %d", tf.replayLast)
	}
	opts := []grok.WatchOption{
		grok.WithPoll(tf.poll),
		grok.WithOnlyMatched(tf.onlyMatched),
	}
	switch {
	case tf.fromStart:
		opts = append(opts, grok.WithReplayFromStart())
	case tf.replayLast > 0:
		opts = append(opts, grok.WithReplayLastN(tf.replayLast))
	}
	return opts, nil
}

func runTail(cmd *cobra.Command, rf *rootFlags, tf *tailFlags, path string) error {
	if err := checkFormat(tf.format); err != nil {
		return err
	}
	watchOpts, err := tf.watchOptions()
	if err != nil {
		return err
	}
	logger, err := rf.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var extra []grok.Option
	if tf.metricsAddr != "" {
		metrics := grok.NewMetrics("grokfilter")
		extra = append(extra, grok.WithMetrics(metrics))
		if err := serveMetrics(ctx, tf.metricsAddr, metrics, logger); err != nil {
			return err
		}
	}

	f, err := tf.buildFilter(logger, extra...)
	if err != nil {
		return err
	}
	w, err := grok.NewWatcher(f, path, watchOpts...)
	if err != nil {
		return err
	}
	defer w.Close()

	events, errs, err := w.Watch(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for {
		select {
		case we, ok := <-events:
			if !ok {
				return nil
			}
			if err := OutputEvent(tf.format, we.Event, we.Result, out); err != nil {
				return fmt.Errorf("output error: %w", err)
			}
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			logger.Warn("tail error", "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}

// serveMetrics serves /metrics on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, m *grok.Metrics, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Surface an immediate bind failure to the caller.
	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-time.After(100 * time.Millisecond):
	}
	logger.Info("serving metrics", "addr", addr)

	go func() {
		select {
		case <-ctx.Done():
		case err := <-errCh:
			logger.Error("metrics server failed", "error", err)
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return nil
}
