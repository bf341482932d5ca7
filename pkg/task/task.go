// Package task provides the structured-concurrency primitives the rest of
// the runtime is built on: a cancellable unit of work, a one-shot future,
// and helpers for combining and tearing down groups of tasks with a bound.
package task

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task wraps a unit of work with its own cancellation token. Once Done() has
// fired, Result() returns the value and error the work produced.
type Task[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	result T
	err    error
}

// Go launches fn on its own goroutine, deriving its cancellation from ctx.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Task[T] {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task[T]{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		res, err := fn(taskCtx)
		t.mu.Lock()
		t.result = res
		t.err = err
		t.mu.Unlock()
	}()
	return t
}

// Done reports completion; suitable for select.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// IsDone returns whether the task has already finished.
func (t *Task[T]) IsDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Result blocks until the task finishes and returns its outcome.
func (t *Task[T]) Result() (T, error) {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// Cancel fires the task's cancellation token. Idempotent.
func (t *Task[T]) Cancel() {
	t.once.Do(t.cancel)
}

// CancelAndWait fires cancellation and waits up to timeout for completion.
// Returns true if the task finished within the timeout, false if it was
// abandoned (orphaned — its goroutine may still be running, but the caller
// stops waiting on it).
func (t *Task[T]) CancelAndWait(timeout time.Duration) bool {
	t.Cancel()
	select {
	case <-t.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Future is a one-shot resolvable value. Safe to Resolve/Reject at most
// once; subsequent calls are no-ops — there is no rejection after
// resolution.
type Future[T any] struct {
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	value  T
	err    error
}

// NewFuture returns an unresolved future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve fulfills the future with value. Idempotent.
func (f *Future[T]) Resolve(value T) {
	f.once.Do(func() {
		f.mu.Lock()
		f.value = value
		f.mu.Unlock()
		close(f.done)
	})
}

// Reject fulfills the future with an error. Idempotent; a prior Resolve
// wins if it already happened.
func (f *Future[T]) Reject(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}

// Done reports resolution; suitable for select.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// IsResolved reports whether Resolve or Reject has already run.
func (f *Future[T]) IsResolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Await blocks until resolution and returns the value/error.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// WaitGroup is a cancellation-aware wrapper around a live set of tasks,
// used by the scheduler to know when it may advance.
type WaitGroup struct {
	mu      sync.Mutex
	tasks   map[any]struct{}
	changed chan struct{}
}

// NewWaitGroup returns an empty tracked set.
func NewWaitGroup() *WaitGroup {
	return &WaitGroup{
		tasks:   make(map[any]struct{}),
		changed: make(chan struct{}),
	}
}

// Add registers a task key as in-flight and wakes any waiter.
func (w *WaitGroup) Add(key any) {
	w.mu.Lock()
	w.tasks[key] = struct{}{}
	w.notifyLocked()
	w.mu.Unlock()
}

// Remove deregisters a task key and wakes any waiter.
func (w *WaitGroup) Remove(key any) {
	w.mu.Lock()
	delete(w.tasks, key)
	w.notifyLocked()
	w.mu.Unlock()
}

// Empty reports whether no tasks are currently tracked.
func (w *WaitGroup) Empty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tasks) == 0
}

// Changed returns a channel that closes the next time Add/Remove is called.
// Callers must re-call Changed after each wakeup to keep waiting.
func (w *WaitGroup) Changed() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.changed
}

func (w *WaitGroup) notifyLocked() {
	close(w.changed)
	w.changed = make(chan struct{})
}

// CombineSignals returns a context that is cancelled as soon as any of the
// given contexts is cancelled.
func CombineSignals(parent context.Context, others ...context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := make(chan struct{})
	for _, o := range others {
		o := o
		go func() {
			select {
			case <-o.Done():
				cancel()
			case <-stop:
			}
		}()
	}
	return ctx, func() {
		close(stop)
		cancel()
	}
}

// CancelAndWaitAll calls cancel and waits, via an errgroup, for every
// function in waiters to return or for timeout to elapse — whichever is
// first. Waiters still running at the deadline are abandoned; this is the structured-join-with-
// timeout pattern used to bound reply cancellation.
func CancelAndWaitAll(cancel context.CancelFunc, timeout time.Duration, waiters ...func()) {
	cancel()
	eg, _ := errgroup.WithContext(context.Background())
	done := make(chan struct{})
	for _, w := range waiters {
		w := w
		eg.Go(func() error {
			w()
			return nil
		})
	}
	go func() {
		_ = eg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// WaitForAbort resolves when ctx is cancelled; used to race an abort signal
// against another channel/future.
func WaitForAbort(ctx context.Context) <-chan struct{} {
	return ctx.Done()
}
