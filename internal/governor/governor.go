// Package governor bounds the wall-clock time of match attempts.
//
// An attempt runs on its own goroutine while the caller waits for either the
// result or the deadline. On expiry the caller returns immediately and the
// attempt is detached: its result is discarded when it eventually finishes.
// Attempts never share mutable state with the caller, so an abandoned attempt
// cannot affect later or concurrent ones.
package governor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

var (
	// ErrTimedOut indicates the attempt did not finish before its deadline.
	ErrTimedOut = errors.New("attempt timed out")

	// ErrAttemptPanicked indicates the attempt panicked.
	ErrAttemptPanicked = errors.New("attempt panicked")
)

// Deadline is the instant by which an attempt must finish.
// The zero Deadline is unbounded.
type Deadline struct {
	at time.Time
}

// NewDeadline returns a deadline budget from now. A non-positive budget
// returns the unbounded deadline.
func NewDeadline(budget time.Duration) Deadline {
	if budget <= 0 {
		return Deadline{}
	}
	return Deadline{at: time.Now().Add(budget)}
}

// Unbounded returns a deadline that never expires.
func Unbounded() Deadline {
	return Deadline{}
}

// IsZero reports whether the deadline is unbounded.
func (d Deadline) IsZero() bool {
	return d.at.IsZero()
}

// At returns the deadline instant (zero when unbounded).
func (d Deadline) At() time.Time {
	return d.at
}

// Remaining returns the time left before the deadline. Unbounded deadlines
// report the maximum duration; expired ones report zero.
func (d Deadline) Remaining() time.Duration {
	if d.at.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	left := time.Until(d.at)
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether the deadline has passed.
func (d Deadline) Expired() bool {
	return !d.at.IsZero() && !time.Now().Before(d.at)
}

// Governor runs attempts under deadlines and keeps counters about them.
// A Governor is safe for concurrent use; the zero value is ready to use.
type Governor struct {
	started   atomic.Int64
	timedOut  atomic.Int64
	abandoned atomic.Int64
}

// New returns a Governor.
func New() *Governor {
	return &Governor{}
}

// Started returns how many attempts have been run under a deadline.
func (g *Governor) Started() int64 {
	return g.started.Load()
}

// TimedOut returns how many attempts exceeded their deadline.
func (g *Governor) TimedOut() int64 {
	return g.timedOut.Load()
}

// Abandoned returns how many detached attempts are still running.
func (g *Governor) Abandoned() int64 {
	return g.abandoned.Load()
}

type outcome[T any] struct {
	val T
	err error
}

const (
	attemptRunning int32 = iota
	attemptDone
	attemptDetached
)

// Run executes attempt and waits until it returns, the deadline passes, or
// ctx is done. On deadline it returns ErrTimedOut; on cancellation ctx.Err().
//
// An unbounded deadline runs attempt on the calling goroutine.
func Run[T any](ctx context.Context, g *Governor, d Deadline, attempt func() (T, error)) (T, error) {
	var zero T

	if d.IsZero() {
		return attempt()
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	g.started.Add(1)
	if d.Expired() {
		g.timedOut.Add(1)
		return zero, ErrTimedOut
	}

	// Buffered so a detached attempt can always deliver and exit.
	resultCh := make(chan outcome[T], 1)
	var state atomic.Int32

	go func() {
		var res outcome[T]
		defer func() {
			if r := recover(); r != nil {
				res = outcome[T]{err: fmt.Errorf("%w: %v", ErrAttemptPanicked, r)}
			}
			resultCh <- res
			if !state.CompareAndSwap(attemptRunning, attemptDone) {
				g.abandoned.Add(-1)
			}
		}()
		v, err := attempt()
		res = outcome[T]{val: v, err: err}
	}()

	timer := time.NewTimer(d.Remaining())
	defer timer.Stop()

	var stopErr error
	select {
	case res := <-resultCh:
		return res.val, res.err
	case <-timer.C:
		stopErr = ErrTimedOut
	case <-ctx.Done():
		stopErr = ctx.Err()
	}

	g.abandoned.Add(1)
	if !state.CompareAndSwap(attemptRunning, attemptDetached) {
		// Finished while we were giving up on it.
		g.abandoned.Add(-1)
		res := <-resultCh
		return res.val, res.err
	}
	if stopErr == ErrTimedOut {
		g.timedOut.Add(1)
	}
	return zero, stopErr
}
