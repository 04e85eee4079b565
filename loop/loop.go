// Package loop implements a single-threaded cooperative task scheduler.
//
// A Loop owns two queues. Macrotasks are posted from any goroutine and run
// one at a time, in order, on the goroutine that drives the loop. After each
// macrotask the microtask queue is drained completely, so everything queued
// with QueueMicrotask during a task runs before the next macrotask starts.
//
// Code that touches state owned by the loop (a dom.Document, an
// elobs.Engine) must run inside a task, or while no goroutine drives the
// loop. Other goroutines hand work over with Post or Do.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// ErrClosed is returned by Do when the loop was closed before the task ran.
var ErrClosed = errors.New("loop: closed")

// Loop is a macrotask/microtask scheduler.
type Loop struct {
	mu     sync.Mutex
	tasks  []func()
	micro  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}

	logger *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used to report recovered task panics.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) { lp.logger = l }
}

// New creates an idle loop. Nothing runs until Run or RunPending is called.
func New(opts ...Option) *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Post queues fn as a macrotask. Safe for concurrent use. Tasks posted after
// Close are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// QueueMicrotask queues fn to run after the current task completes and
// before the next macrotask. Outside of a task, the microtask runs at the
// start of the next RunPending or Run turn.
func (l *Loop) QueueMicrotask(fn func()) {
	l.mu.Lock()
	l.micro = append(l.micro, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drives the loop on the calling goroutine until ctx is cancelled or
// Close is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunPending()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			l.RunPending()
			return nil
		case <-l.wake:
		}
	}
}

// RunPending runs queued tasks until both queues are empty and returns the
// number of macrotasks executed.
func (l *Loop) RunPending() int {
	n := 0
	l.drainMicrotasks()
	for {
		fn, ok := l.next()
		if !ok {
			return n
		}
		l.safely(fn)
		l.drainMicrotasks()
		n++
	}
}

// Do posts fn and blocks until it has run. It must not be called from a
// task running on the same loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	l.Post(func() {
		defer close(ran)
		fn()
	})

	select {
	case <-ran:
		return nil
	case <-l.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc posts fn as a macrotask once d has elapsed. The returned stop
// function cancels the timer and reports whether it was still pending.
func (l *Loop) AfterFunc(d time.Duration, fn func()) (stop func() bool) {
	t := time.AfterFunc(d, func() { l.Post(fn) })
	return t.Stop
}

// Close stops accepting tasks. A running Run returns after draining what is
// already queued.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.done)
}

// Pending reports the number of queued macrotasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tasks) == 0 {
		return nil, false
	}
	fn := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	return fn, true
}

func (l *Loop) drainMicrotasks() {
	for {
		l.mu.Lock()
		batch := l.micro
		l.micro = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			l.safely(fn)
		}
	}
}

func (l *Loop) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop: task panicked",
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	fn()
}
