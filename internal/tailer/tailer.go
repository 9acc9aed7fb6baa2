// Package tailer follows a growing file line by line, surviving truncation
// and rotation of the path being followed.
package tailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nxadm/tail"

	"github.com/grokfilter/grokfilter-go/internal/safefile"
)

// errBuffer is the buffer size of the error channel.
const errBuffer = 16

// ErrStopped is returned by New when ctx is already done.
var ErrStopped = errors.New("tailer stopped")

// Config controls how a file is followed.
type Config struct {
	// FromStart reads existing content before following. Otherwise only
	// lines appended after New are delivered.
	FromStart bool

	// Poll uses stat polling instead of filesystem notifications.
	Poll bool

	// ReOpen reopens the path after rotation or deletion (tail -F).
	ReOpen bool

	// MaxLineSize splits lines longer than this many bytes (0 = unlimited).
	MaxLineSize int
}

// DefaultConfig returns the configuration used by tail -F.
func DefaultConfig() Config {
	return Config{ReOpen: true}
}

// Tailer delivers the lines of a followed file.
type Tailer struct {
	t     *tail.Tail
	lines chan string
	errs  chan error

	stopOnce sync.Once
	done     chan struct{}
	exited   chan struct{}
}

// New starts following path. The returned channels close when ctx is done,
// Stop is called, or the underlying follower dies. Stop must be called to
// release the file.
func New(ctx context.Context, path string, cfg Config) (*Tailer, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrStopped
	}

	whence := io.SeekEnd
	if cfg.FromStart {
		whence = io.SeekStart
	}
	t, err := tail.TailFile(path, tail.Config{
		Location:    &tail.SeekInfo{Offset: 0, Whence: whence},
		ReOpen:      cfg.ReOpen,
		MustExist:   true,
		Poll:        cfg.Poll,
		Follow:      true,
		MaxLineSize: cfg.MaxLineSize,
		Logger:      tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("tail %s: %w", filepath.Base(path), safefile.StripPath(err))
	}

	tr := &Tailer{
		t:      t,
		lines:  make(chan string),
		errs:   make(chan error, errBuffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go tr.run(ctx)
	return tr, nil
}

// Lines returns the channel of lines, without trailing newline or CR.
func (tr *Tailer) Lines() <-chan string {
	return tr.lines
}

// Errors returns the channel of read errors.
func (tr *Tailer) Errors() <-chan error {
	return tr.errs
}

// Stop stops following and waits for the delivery goroutine to exit.
// Safe to call multiple times.
func (tr *Tailer) Stop() error {
	var err error
	tr.stopOnce.Do(func() {
		close(tr.done)
		err = tr.t.Stop()
		tr.t.Cleanup()
	})
	<-tr.exited
	return err
}

func (tr *Tailer) run(ctx context.Context) {
	defer close(tr.exited)
	defer close(tr.lines)
	defer close(tr.errs)

	for {
		select {
		case <-ctx.Done():
			return
		case <-tr.done:
			return
		case line, ok := <-tr.t.Lines:
			if !ok {
				if err := tr.t.Wait(); err != nil {
					tr.sendError(err)
				}
				return
			}
			if line.Err != nil {
				tr.sendError(line.Err)
				continue
			}
			select {
			case tr.lines <- strings.TrimSuffix(line.Text, "\r"):
			case <-ctx.Done():
				return
			case <-tr.done:
				return
			}
		}
	}
}

func (tr *Tailer) sendError(err error) {
	select {
	case tr.errs <- err:
	default:
		// Dropped only when the buffer is full.
	}
}
