package grok

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/grokfilter/grokfilter-go/internal/tailer"
)

// ReplayMode specifies how to handle lines already in the file.
type ReplayMode int

const (
	// ReplayNone only filters lines appended after Watch (tail -f behavior).
	ReplayNone ReplayMode = iota
	// ReplayFromStart filters the whole file, then follows it.
	ReplayFromStart
	// ReplayLastN filters the last N lines, then follows the file.
	ReplayLastN
)

// DefaultMaxReplayLastN is the default maximum lines for ReplayLastN mode.
const DefaultMaxReplayLastN = 10000

// watcherErrBuffer is the buffer size for the error channel.
const watcherErrBuffer = 16

var (
	// ErrWatcherClosed is returned by Watch after Close.
	ErrWatcherClosed = errors.New("watcher closed")

	// ErrAlreadyWatching is returned by a second call to Watch.
	ErrAlreadyWatching = errors.New("watcher already watching")

	// ErrReplayLimitExceeded is returned when replayed lines exceed the
	// configured byte limits.
	ErrReplayLimitExceeded = errors.New("replay limit exceeded")
)

// WatchOp identifies the watcher operation that failed.
type WatchOp string

const (
	WatchOpTail   WatchOp = "tail"
	WatchOpReplay WatchOp = "replay"
)

// WatchError is sent on the error channel of Watch.
type WatchError struct {
	Op   WatchOp
	Path string
	Err  error
}

func (e *WatchError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("watch %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("watch %s %s: %v", e.Op, filepath.Base(e.Path), e.Err)
}

func (e *WatchError) Unwrap() error {
	return e.Err
}

// WatchEvent is one filtered line.
type WatchEvent struct {
	Line   string
	Event  *Event
	Result Result
}

// WatchOption configures a Watcher using the functional options pattern.
type WatchOption func(*watchConfig)

type watchConfig struct {
	replay             ReplayMode
	lastN              int
	maxReplayBytes     int
	maxReplayLineBytes int
	poll               bool
	onlyMatched        bool
}

func defaultWatchConfig() *watchConfig {
	return &watchConfig{
		maxReplayBytes:     10 * 1024 * 1024,
		maxReplayLineBytes: 512 * 1024,
	}
}

func (c *watchConfig) validate() error {
	if c.replay == ReplayLastN {
		if c.lastN < 0 {
			return fmt.Errorf("replay LastN must be non-negative, got %d", c.lastN)
		}
		if c.lastN > DefaultMaxReplayLastN {
			return fmt.Errorf("replay LastN (%d) exceeds maximum of %d", c.lastN, DefaultMaxReplayLastN)
		}
	}
	if c.maxReplayBytes < 0 {
		return fmt.Errorf("maxReplayBytes must be non-negative, got %d", c.maxReplayBytes)
	}
	if c.maxReplayLineBytes < 0 {
		return fmt.Errorf("maxReplayLineBytes must be non-negative, got %d", c.maxReplayLineBytes)
	}
	return nil
}

// WithReplayFromStart filters the existing file content before following.
func WithReplayFromStart() WatchOption {
	return func(c *watchConfig) {
		c.replay = ReplayFromStart
	}
}

// WithReplayLastN filters the last n existing lines before following.
// n == 0 is equivalent to ReplayNone.
func WithReplayLastN(n int) WatchOption {
	return func(c *watchConfig) {
		c.replay = ReplayLastN
		c.lastN = n
	}
}

// WithMaxReplayBytes limits the bytes read by ReplayLastN (0 = unlimited).
// Default: 10 MiB.
func WithMaxReplayBytes(n int) WatchOption {
	return func(c *watchConfig) {
		c.maxReplayBytes = n
	}
}

// WithMaxReplayLineBytes limits the length of one replayed line
// (0 = unlimited). Default: 512 KiB.
func WithMaxReplayLineBytes(n int) WatchOption {
	return func(c *watchConfig) {
		c.maxReplayLineBytes = n
	}
}

// WithPoll follows the file by polling instead of filesystem notifications.
func WithPoll(poll bool) WatchOption {
	return func(c *watchConfig) {
		c.poll = poll
	}
}

// WithOnlyMatched drops lines whose outcome is not Matched.
func WithOnlyMatched(only bool) WatchOption {
	return func(c *watchConfig) {
		c.onlyMatched = only
	}
}

// Watcher follows a log file and filters every line through a Filter.
type Watcher struct {
	f    *Filter
	path string
	cfg  watchConfig

	mu       sync.Mutex
	closed   bool
	cancel   context.CancelFunc
	doneCh   chan struct{}
	watching bool
}

// NewWatcher creates a watcher for path. It validates the options and that
// path is a regular file, but does not start goroutines.
func NewWatcher(f *Filter, path string, opts ...WatchOption) (*Watcher, error) {
	if f == nil {
		return nil, errors.New("filter is required")
	}
	cfg := defaultWatchConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", filepath.Base(path), os.ErrNotExist)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("watch %s: not a regular file", filepath.Base(path))
	}

	return &Watcher{f: f, path: path, cfg: *cfg}, nil
}

// Watch starts following the file and returns channels of filtered lines
// and errors. Both channels close when ctx is done, Close is called, or the
// file can no longer be followed. Watch can only be called once.
func (w *Watcher) Watch(ctx context.Context) (<-chan WatchEvent, <-chan error, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, nil, ErrWatcherClosed
	}
	if w.watching {
		return nil, nil, ErrAlreadyWatching
	}
	w.watching = true

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.doneCh = make(chan struct{})

	eventCh := make(chan WatchEvent)
	errCh := make(chan error, watcherErrBuffer)

	go w.run(ctx, eventCh, errCh)

	return eventCh, errCh, nil
}

// Close stops the watcher and waits for its goroutine to exit.
// Safe to call multiple times.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.cancel != nil {
		w.cancel()
	}
	doneCh := w.doneCh
	w.mu.Unlock()

	if doneCh != nil {
		<-doneCh
	}
	return nil
}

func (w *Watcher) run(ctx context.Context, eventCh chan<- WatchEvent, errCh chan<- error) {
	defer close(w.doneCh)
	defer close(eventCh)
	defer close(errCh)

	log := w.f.logger

	cfg := tailer.DefaultConfig()
	cfg.Poll = w.cfg.poll
	cfg.FromStart = w.cfg.replay == ReplayFromStart

	if w.cfg.replay == ReplayLastN && w.cfg.lastN > 0 {
		log.Debug("replaying last N lines", "n", w.cfg.lastN, "file", filepath.Base(w.path))
		if err := w.replayLastN(ctx, eventCh); err != nil {
			sendError(ctx, errCh, &WatchError{Op: WatchOpReplay, Path: w.path, Err: err})
		}
	}

	t, err := tailer.New(ctx, w.path, cfg)
	if err != nil {
		sendError(ctx, errCh, &WatchError{Op: WatchOpTail, Path: w.path, Err: err})
		return
	}
	defer func() { _ = t.Stop() }()
	log.Debug("started tailing", "file", filepath.Base(w.path), "from_start", cfg.FromStart)

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-t.Lines():
			if !ok {
				return
			}
			if !w.processLine(ctx, line, eventCh) {
				return
			}
		case err, ok := <-t.Errors():
			if !ok {
				return
			}
			sendError(ctx, errCh, &WatchError{Op: WatchOpTail, Path: w.path, Err: err})
		}
	}
}

// processLine filters line and delivers it. It returns false once ctx is
// done.
func (w *Watcher) processLine(ctx context.Context, line string, eventCh chan<- WatchEvent) bool {
	if line == "" {
		return true
	}
	ev := NewMessageEvent(line)
	res := w.f.Filter(ctx, ev)
	if ctx.Err() != nil {
		return false
	}
	if w.cfg.onlyMatched && res.Outcome != Matched {
		return true
	}
	select {
	case eventCh <- WatchEvent{Line: line, Event: ev, Result: res}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Watcher) replayLastN(ctx context.Context, eventCh chan<- WatchEvent) error {
	lines, err := readLastNLines(w.path, w.cfg.lastN, w.cfg.maxReplayBytes, w.cfg.maxReplayLineBytes)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if !w.processLine(ctx, line, eventCh) {
			return ctx.Err()
		}
	}
	return nil
}

// readLastNLines reads the last n non-empty lines of a file by scanning
// backwards in chunks, oldest first. maxBytes bounds the total bytes read and
// maxLineBytes a single line (0 = unlimited); exceeding either returns
// ErrReplayLimitExceeded.
func readLastNLines(path string, n int, maxBytes int, maxLineBytes int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	fileSize := stat.Size()
	if fileSize == 0 {
		return nil, nil
	}

	const chunkSize = 4096
	lines := make([]string, 0, n)
	offset := fileSize
	var carry []byte
	totalBytes := 0

	for len(lines) < n && offset > 0 {
		readSize := int64(chunkSize)
		if offset < readSize {
			readSize = offset
		}
		offset -= readSize

		if maxBytes > 0 && totalBytes+int(readSize)+len(carry) > maxBytes {
			return nil, ErrReplayLimitExceeded
		}

		chunk := make([]byte, readSize)
		if _, err := file.ReadAt(chunk, offset); err != nil {
			return nil, err
		}
		totalBytes += int(readSize)
		chunk = append(chunk, carry...)

		newLines, newCarry := extractLinesBackward(chunk, n-len(lines), maxLineBytes)
		if newCarry == nil && maxLineBytes > 0 && len(chunk) > maxLineBytes {
			return nil, ErrReplayLimitExceeded
		}
		if len(newLines) > 0 {
			lines = append(newLines, lines...)
		}
		carry = newCarry
	}

	// The first line of the file has no newline before it.
	if offset == 0 && len(carry) > 0 && len(lines) < n {
		if maxLineBytes > 0 && len(carry) > maxLineBytes {
			return nil, ErrReplayLimitExceeded
		}
		if line := trimCR(string(carry)); line != "" {
			lines = append([]string{line}, lines...)
		}
	}
	return lines, nil
}

// extractLinesBackward returns the last maxLines complete lines of buffer,
// oldest first, and the incomplete line at its start. A nil carry signals a
// line longer than maxLineBytes.
func extractLinesBackward(buffer []byte, maxLines int, maxLineBytes int) ([]string, []byte) {
	var lines []string
	end := len(buffer)

	for i := len(buffer) - 1; i >= 0; i-- {
		if buffer[i] != '\n' {
			continue
		}
		lineBytes := buffer[i+1 : end]
		if maxLineBytes > 0 && len(lineBytes) > maxLineBytes {
			return lines, nil
		}
		if line := trimCR(string(lineBytes)); line != "" {
			lines = append([]string{line}, lines...)
		}
		end = i
	}

	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines, buffer[:end]
}

func trimCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}
	return s
}

// sendError sends err without blocking; it is dropped when the buffer is
// full or ctx is done.
func sendError(ctx context.Context, errCh chan<- error, err error) {
	if err == nil {
		return
	}
	select {
	case errCh <- err:
	case <-ctx.Done():
	default:
	}
}
