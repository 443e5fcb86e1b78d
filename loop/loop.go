// Package loop provides the single logical thread every tour component runs on.
//
// Engine state is never locked. Instead all callbacks (DOM events, mutation
// batches, timers, control requests) are serialised through one Scheduler and
// run to completion one at a time. Loop is the production implementation
// backed by a goroutine; Manual is a virtual clock for tests.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Cancel abandons a pending operation. Calling it more than once is a no-op.
type Cancel func()

// Noop is a Cancel that does nothing.
func Noop() {}

// Scheduler serialises callbacks onto one logical thread.
type Scheduler interface {
	// Now returns the scheduler's notion of current time.
	Now() time.Time
	// After runs fn on the scheduler thread once d has elapsed.
	After(d time.Duration, fn func()) Cancel
	// Post queues fn to run on the scheduler thread.
	Post(fn func())
}

// ErrClosed is returned by Do when the loop is no longer running.
var ErrClosed = errors.New("loop: closed")

// Loop runs posted callbacks on a dedicated goroutine. The queue is
// unbounded, so Post never blocks, even from a callback.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
	logger  *slog.Logger
}

// New creates a Loop. Call Run to start processing.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run processes callbacks in posting order until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer l.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
		for {
			batch := l.take()
			if len(batch) == 0 {
				break
			}
			for i, fn := range batch {
				if ctx.Err() != nil {
					return
				}
				batch[i] = nil
				l.invoke(fn)
			}
		}
	}
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.pending
	l.pending = nil
	return batch
}

func (l *Loop) shutdown() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.pending = nil
		l.mu.Unlock()
		close(l.done)
	})
}

// enqueue appends fn and reports false once the loop has stopped.
func (l *Loop) enqueue(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop: callback panicked", "panic", r)
		}
	}()
	fn()
}

// Now implements Scheduler.
func (l *Loop) Now() time.Time { return time.Now() }

// Post implements Scheduler. It is safe to call from any goroutine,
// including the loop's own. Posts after the loop stopped are dropped.
func (l *Loop) Post(fn func()) { l.enqueue(fn) }

// After implements Scheduler. A timer cancelled after it fired but before its
// callback was dequeued still does not run.
func (l *Loop) After(d time.Duration, fn func()) Cancel {
	var cancelled atomic.Bool
	t := time.AfterFunc(d, func() {
		l.Post(func() {
			if !cancelled.Load() {
				fn()
			}
		})
	})
	return func() {
		cancelled.Store(true)
		t.Stop()
	}
}

// Do runs fn on the loop and waits for it to complete.
// Calling Do from the loop goroutine itself deadlocks.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	finished := make(chan struct{})
	if !l.enqueue(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
