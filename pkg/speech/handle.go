// Package speech implements the SpeechHandle lifecycle token: the
// per-utterance authorization gate, interruption flag, and completion
// future shared between the scheduler, the reply pipeline, and tool
// callbacks.
package speech

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/task"
)

// Priority levels for the scheduler's turn queue. Only Normal is defined
// in scope; the type stays open for system-injected announcements.
type Priority int

const (
	PriorityNormal Priority = 0
)

// Handle is the lifecycle token for one agent utterance.
//
// State machine:
//
//	CREATED ── schedule() ──▶ QUEUED ── pop() ──▶ AUTHORIZED ──▶ PLAYING ──▶ DONE
type Handle struct {
	ID                 string
	AllowInterruptions bool
	StepIndex          int
	Parent             *Handle
	BypassDraining     bool

	authorized       *task.Future[struct{}]
	playoutCompleted *task.Future[struct{}]

	interrupted   atomic.Bool
	interruptOnce sync.Once
	interruptCh   chan struct{}

	done atomic.Bool

	numSteps int
}

// New creates a top-level (non-child) handle.
func New(allowInterruptions bool) *Handle {
	return &Handle{
		ID:                 uuid.NewString(),
		AllowInterruptions: allowInterruptions,
		StepIndex:          0,
		authorized:         task.NewFuture[struct{}](),
		playoutCompleted:   task.NewFuture[struct{}](),
		interruptCh:        make(chan struct{}),
	}
}

// NewChild creates a handle for a tool-response recursion step. Its
// StepIndex is parent's + 1 and it inherits AllowInterruptions from the
// parent unconditionally — a tool result cannot override it. Child handles
// may only be scheduled with BypassDraining set.
func NewChild(parent *Handle) *Handle {
	return &Handle{
		ID:                 uuid.NewString(),
		AllowInterruptions: parent.AllowInterruptions,
		StepIndex:          parent.StepIndex + 1,
		Parent:             parent,
		BypassDraining:     true,
		authorized:         task.NewFuture[struct{}](),
		playoutCompleted:   task.NewFuture[struct{}](),
		interruptCh:        make(chan struct{}),
	}
}

// WaitForAuthorization resolves when the scheduler grants this handle
// exclusive playout rights.
func (h *Handle) WaitForAuthorization(ctx context.Context) error {
	_, err := h.authorized.Await(ctx)
	return err
}

// Authorize grants exclusive playout rights. Calling it twice is a protocol
// violation; the second call panics rather than silently no-op'ing
// so callers cannot authorize the same handle from two code paths unnoticed.
func (h *Handle) Authorize() {
	if h.authorized.IsResolved() {
		panic("speech: handle authorized twice: " + h.ID)
	}
	h.authorized.Resolve(struct{}{})
}

// WaitIfNotInterrupted races the supplied done-channels against the
// interruption signal. Returns ErrInterrupted immediately if the handle is
// already interrupted; otherwise blocks until either every waitable closes
// or the handle is interrupted, whichever comes first.
func (h *Handle) WaitIfNotInterrupted(ctx context.Context, waitables ...<-chan struct{}) error {
	if h.interrupted.Load() {
		return ErrInterrupted
	}

	merged := make(chan struct{})
	go func() {
		defer close(merged)
		for _, w := range waitables {
			select {
			case <-w:
			case <-h.interruptCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	select {
	case <-merged:
		if h.interrupted.Load() {
			return ErrInterrupted
		}
		return nil
	case <-h.interruptCh:
		return ErrInterrupted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interrupt idempotently sets the interruption flag and closes the internal
// signal channel so all current/future WaitIfNotInterrupted calls observe it
// and resolve immediately, once interrupted is set.
func (h *Handle) Interrupt() {
	if h.interrupted.CompareAndSwap(false, true) {
		h.interruptOnce.Do(func() { close(h.interruptCh) })
	}
}

// Interrupted reports the monotonic interruption flag.
func (h *Handle) Interrupted() bool { return h.interrupted.Load() }

// MarkPlayoutDone resolves the playout-completed future and marks the
// handle done. Must be called exactly once by the reply task, on every exit
// path.
func (h *Handle) MarkPlayoutDone() {
	h.playoutCompleted.Resolve(struct{}{})
	h.done.Store(true)
}

// Done reports whether MarkPlayoutDone has run.
func (h *Handle) Done() bool { return h.done.Load() }

// WaitForPlayoutCompleted blocks until MarkPlayoutDone has run.
func (h *Handle) WaitForPlayoutCompleted(ctx context.Context) error {
	_, err := h.playoutCompleted.Await(ctx)
	return err
}

// PlayoutCompletedChan exposes the completion signal for select statements
// (used by the scheduler's main loop).
func (h *Handle) PlayoutCompletedChan() <-chan struct{} {
	return h.playoutCompleted.Done()
}

// WaitForGeneration awaits completion of the reply step at stepIdx within
// this handle's parent chain, for tool callbacks that need to observe the
// specific spoken step that preceded their call before continuing.
func (h *Handle) WaitForGeneration(ctx context.Context, stepIdx int) error {
	target := h
	for target != nil && target.StepIndex != stepIdx {
		target = target.Parent
	}
	if target == nil {
		return ErrUnknownStep
	}
	return target.WaitForPlayoutCompleted(ctx)
}

// NumSteps reports how many reply steps have been recorded on this handle
// through IncrementSteps.
func (h *Handle) NumSteps() int { return h.numSteps }

// IncrementSteps records one more reply step against this handle.
func (h *Handle) IncrementSteps() { h.numSteps++ }
