// Package activity implements the turn scheduler: a single-consumer
// priority-queue loop that owns one agent's in-flight speech, decides
// interruption policy on end-of-turn, runs the user-turn-completion
// sub-protocol, and launches reply steps.
package activity

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/agent"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/chatctx"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/recognition"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/reply"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/speech"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/task"
)

// Events carries the activity-level slice of the session event bus; the
// reply pipeline's own Deps carries the thinking/speaking agent-state
// transitions directly, so they are not duplicated here. A nil
// field is simply not invoked.
type Events struct {
	OnUserStateChanged      func(state string)
	OnUserInputTranscribed  func(text string, isFinal bool)
	OnConversationItemAdded func(item chatctx.Item)
	OnSpeechCreated         func(handle *speech.Handle)
	OnFunctionToolsExecuted func(pairs []reply.Outcome)
	OnHandoff               func(next *agent.Agent)
}

// Config parameterizes one Activity instance.
type Config struct {
	Agent                 *agent.Agent
	Pipeline              *reply.Pipeline
	ChatCtx               *chatctx.ChatContext
	Settings              agent.Settings
	MaxToolSteps          int
	MinInterruptionWords  int
	AllowInterruptions    bool
	Logger                logging.Logger
	Events                Events
	// Session is opaque to Activity; it is forwarded verbatim into every
	// reply.Input so tool calls can reach back into the owning session.
	Session any
}

// Activity runs one agent's turn-scheduling loop for the lifetime of a
// session or until it is drained for a handoff.
type Activity struct {
	agent                *agent.Agent
	pipeline             *reply.Pipeline
	chatCtx              *chatctx.ChatContext
	settings             agent.Settings
	maxToolSteps         int
	minInterruptionWords int
	allowInterruptions   bool
	logger               logging.Logger
	events               Events
	session              any

	queueMu sync.Mutex
	queue   *speech.Queue
	pending map[*speech.Handle]*task.Task[reply.Outcome]
	notify  chan struct{}

	currentMu sync.Mutex
	current   *speech.Handle

	handoffMu   sync.Mutex
	handoffUsed bool
	handoffTo   *agent.Agent

	draining atomic.Bool
	done     chan struct{}

	tracked *task.WaitGroup

	turnMu   sync.Mutex
	lastTurn *task.Task[struct{}]
}

// New builds an Activity ready for Start.
func New(cfg Config) *Activity {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Activity{
		agent:                cfg.Agent,
		pipeline:             cfg.Pipeline,
		chatCtx:              cfg.ChatCtx,
		settings:             cfg.Settings,
		maxToolSteps:         cfg.MaxToolSteps,
		minInterruptionWords: cfg.MinInterruptionWords,
		allowInterruptions:   cfg.AllowInterruptions,
		logger:               logger,
		events:               cfg.Events,
		session:              cfg.Session,
		queue:                speech.NewQueue(),
		pending:              make(map[*speech.Handle]*task.Task[reply.Outcome]),
		notify:               make(chan struct{}, 1),
		done:                 make(chan struct{}),
		tracked:              task.NewWaitGroup(),
	}
}

// Start launches the scheduler loop and, if the agent defines OnEnter, runs
// it first — the session instantiates a new activity after drain, then
// adopts it.
func (a *Activity) Start(ctx context.Context) {
	if a.agent != nil && a.agent.OnEnter != nil {
		a.agent.OnEnter(ctx)
	}
	go a.loop(ctx)
}

// Done resolves once the loop exits (shutdown, or drained with no more work).
func (a *Activity) Done() <-chan struct{} { return a.done }

// Drain marks the activity as winding down: OnEndOfTurn discards new user
// turns (returning true without scheduling a reply), replies scheduled from
// now on run with the Draining flag set, and the loop exits once its queue
// and speech-task set are both empty after a handle finishes.
func (a *Activity) Drain() { a.draining.Store(true) }

// Draining reports the current drain flag.
func (a *Activity) Draining() bool { return a.draining.Load() }

// HandoffRequested reports the agent a tool asked to transfer to, if any.
func (a *Activity) HandoffRequested() *agent.Agent {
	a.handoffMu.Lock()
	defer a.handoffMu.Unlock()
	return a.handoffTo
}

// ScheduleReply enqueues a fresh speech handle and launches its reply task
// concurrently; the handle only begins producing audio/text once the
// scheduler loop authorizes it.
func (a *Activity) ScheduleReply(ctx context.Context, h *speech.Handle, priority speech.Priority) {
	in := reply.Input{
		Handle:       h,
		ChatCtx:      a.chatCtx,
		Agent:        a.agent,
		Settings:     a.settings,
		MaxToolSteps: a.maxToolSteps,
		Draining:     a.draining.Load(),
		Session:      a.session,
	}
	t := task.Go(ctx, func(ctx context.Context) (reply.Outcome, error) {
		return a.pipeline.Run(ctx, in), nil
	})

	a.queueMu.Lock()
	a.queue.Push(h, priority)
	a.pending[h] = t
	a.queueMu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}

	if a.events.OnSpeechCreated != nil {
		a.events.OnSpeechCreated(h)
	}
}

func (a *Activity) loop(ctx context.Context) {
	defer close(a.done)
	for {
		h, t, ok := a.popOrWait(ctx)
		if !ok {
			return
		}

		a.tracked.Add(h)
		a.currentMu.Lock()
		a.current = h
		a.currentMu.Unlock()

		h.Authorize()

		select {
		case <-h.PlayoutCompletedChan():
		case <-ctx.Done():
			a.tracked.Remove(h)
			return
		}

		a.currentMu.Lock()
		a.current = nil
		a.currentMu.Unlock()

		out, _ := t.Result()
		a.tracked.Remove(h)
		a.handleOutcome(ctx, h, out)

		if a.draining.Load() && a.queueEmpty() && a.tracked.Empty() {
			return
		}
	}
}

func (a *Activity) popOrWait(ctx context.Context) (*speech.Handle, *task.Task[reply.Outcome], bool) {
	for {
		a.queueMu.Lock()
		h, ok := a.queue.Pop()
		var t *task.Task[reply.Outcome]
		if ok {
			t = a.pending[h]
			delete(a.pending, h)
		}
		a.queueMu.Unlock()
		if ok {
			return h, t, true
		}
		select {
		case <-a.notify:
			continue
		case <-ctx.Done():
			return nil, nil, false
		}
	}
}

func (a *Activity) queueEmpty() bool {
	a.queueMu.Lock()
	defer a.queueMu.Unlock()
	return a.queue.Len() == 0
}

func (a *Activity) currentHandle() *speech.Handle {
	a.currentMu.Lock()
	defer a.currentMu.Unlock()
	return a.current
}

// handleOutcome records tool-produced conversation items, watches for an
// agent handoff request, and schedules a recursive reply step when the tool
// executor says one is needed.
func (a *Activity) handleOutcome(ctx context.Context, h *speech.Handle, out reply.Outcome) {
	if a.events.OnFunctionToolsExecuted != nil && len(out.ToolOutcomes) > 0 {
		a.events.OnFunctionToolsExecuted([]reply.Outcome{out})
	}

	fresh := false
	for _, o := range out.ToolOutcomes {
		if o.AgentTask == nil {
			continue
		}
		next, ok := o.AgentTask.(*agent.Agent)
		if !ok {
			continue
		}
		a.handoffMu.Lock()
		if !a.handoffUsed {
			a.handoffUsed = true
			a.handoffTo = next
			fresh = true
		}
		a.handoffMu.Unlock()
	}

	if next := a.HandoffRequested(); next != nil {
		a.Drain()
		if fresh {
			a.logger.Info("agent handoff requested", "nextAgent", next.Name)
			if a.events.OnHandoff != nil {
				a.events.OnHandoff(next)
			}
		}
		return
	}

	if !out.RecursionNeeded {
		return
	}

	child := speech.NewChild(h)
	a.ScheduleReply(ctx, child, speech.PriorityNormal)
}

// --- recognition.Hooks implementation ---

func (a *Activity) OnStartOfSpeech() {
	if a.events.OnUserStateChanged != nil {
		a.events.OnUserStateChanged("speaking")
	}
}

func (a *Activity) OnVADInferenceDone(probability float64, speechDuration time.Duration) {}

func (a *Activity) OnEndOfSpeech() {
	if a.events.OnUserStateChanged != nil {
		a.events.OnUserStateChanged("listening")
	}
}

func (a *Activity) OnInterimTranscript(text string) {
	if a.events.OnUserInputTranscribed != nil {
		a.events.OnUserInputTranscribed(text, false)
	}
}

func (a *Activity) OnFinalTranscript(text string) {
	if a.events.OnUserInputTranscribed != nil {
		a.events.OnUserInputTranscribed(text, true)
	}
}

// OnEndOfTurn implements the interruption policy: drained
// activities discard the turn, a short interruption of an interruptible
// in-flight speech is suppressed, and every other commit is sequenced behind
// whatever user-turn-completion sub-protocol is still running.
func (a *Activity) OnEndOfTurn(info recognition.EndOfTurnInfo) bool {
	if a.draining.Load() {
		return true
	}

	cur := a.currentHandle()
	if cur != nil && !cur.Interrupted() && a.minInterruptionWords > 0 && cur.AllowInterruptions {
		if countWords(info.NewTranscript) < a.minInterruptionWords {
			return false
		}
	}

	a.turnMu.Lock()
	prev := a.lastTurn
	t := task.Go(context.Background(), func(ctx context.Context) (struct{}, error) {
		if prev != nil {
			<-prev.Done()
		}
		return struct{}{}, a.completeUserTurn(ctx, info)
	})
	a.lastTurn = t
	a.turnMu.Unlock()

	return true
}

func (a *Activity) IsDraining() bool { return a.draining.Load() }

func (a *Activity) CurrentSpeechInterruptible() bool {
	cur := a.currentHandle()
	return cur != nil && cur.AllowInterruptions && !cur.Interrupted()
}

func (a *Activity) MinInterruptionWords() int { return a.minInterruptionWords }

// completeUserTurn runs the user-turn-completion sub-protocol: interrupt
// the current speech if it allows it, let the agent
// inspect/veto the turn against a private copy of the chat context, commit
// whatever the agent added, and schedule the reply step.
func (a *Activity) completeUserTurn(ctx context.Context, info recognition.EndOfTurnInfo) error {
	if cur := a.currentHandle(); cur != nil {
		if !cur.AllowInterruptions {
			a.logger.Warn("new user turn arrived during non-interruptible speech, skipping")
			return nil
		}
		cur.Interrupt()
	}

	tempCtx := a.chatCtx.Copy()
	userItem := tempCtx.AppendText(chatctx.RoleUser, info.NewTranscript, false)

	if a.agent != nil && a.agent.OnUserTurnCompleted != nil {
		if err := a.agent.OnUserTurnCompleted(ctx, tempCtx, userItem); err != nil {
			if _, stopped := err.(agent.StopResponse); stopped {
				return nil
			}
			return err
		}
	}

	a.commitTempCtx(tempCtx)

	h := speech.New(a.allowInterruptions)
	a.ScheduleReply(ctx, h, speech.PriorityNormal)
	return nil
}

// commitTempCtx appends every item present in tempCtx but absent from the
// live chat context, in order, firing OnConversationItemAdded for each. This
// is the copy-to-edit side of the turn-veto sub-protocol: OnUserTurnCompleted
// mutates the scratch copy, and only what it leaves behind gets committed.
func (a *Activity) commitTempCtx(tempCtx *chatctx.ChatContext) {
	existing := make(map[string]struct{}, a.chatCtx.Len())
	for _, it := range a.chatCtx.Items() {
		existing[it.ID] = struct{}{}
	}
	for _, it := range tempCtx.Items() {
		if _, ok := existing[it.ID]; ok {
			continue
		}
		if err := a.chatCtx.AppendRaw(it); err != nil {
			continue
		}
		if a.events.OnConversationItemAdded != nil {
			a.events.OnConversationItemAdded(it)
		}
	}
}

func countWords(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}
