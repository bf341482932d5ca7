// Package session implements the Session Coordinator: it owns the current
// agent's activity, drives the agentState machine, wires the audio
// bus/recognition pipeline/playback sink together, and republishes the
// component event bus.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/activity"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/agent"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/chatctx"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/playback"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/recognition"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/reply"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/speech"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/tools"
)

// AgentState is the coarse-grained session state.
type AgentState string

const (
	AgentStateInitializing AgentState = "initializing"
	AgentStateListening    AgentState = "listening"
	AgentStateThinking     AgentState = "thinking"
	AgentStateSpeaking     AgentState = "speaking"
)

// Metrics is one sample of the MetricsCollected event.
type Metrics struct {
	ReplyLatency     time.Duration
	TTSFirstByte     time.Duration
	PromptTokens     int
	CompletionTokens int
}

// Events is the full session-level event bus.
type Events struct {
	OnUserInputTranscribed  func(text string, isFinal bool)
	OnUserStateChanged      func(state string)
	OnAgentStateChanged     func(state AgentState)
	OnConversationItemAdded func(item chatctx.Item)
	OnFunctionToolsExecuted func(pairs []reply.Outcome)
	OnSpeechCreated         func(handle any)
	OnMetricsCollected      func(m Metrics)
	OnError                 func(err error)
}

// Config parameterizes a Session for its whole lifetime; the Agent field
// changes as UpdateAgent swaps activities.
type Config struct {
	Agent                 *agent.Agent
	ChatCtx               *chatctx.ChatContext
	Settings              agent.Settings
	MaxToolSteps          int
	MinInterruptionWords  int
	AllowInterruptions    bool
	ToolExecutor          *tools.Executor
	Sink                  *playback.Sink
	VAD                   recognition.VAD
	STT                   recognition.STTProvider
	EOUModel              recognition.EndOfTurnPredictor
	Echo                  *recognition.EchoCanceller
	EOUPolicy             *recognition.EndOfTurnPolicy
	PreemptiveSynthesis   bool
	Language              string
	Logger                logging.Logger
	Events                Events
}

// Session wires recognition, the reply pipeline, the tool executor, the
// playback sink, and the turn scheduler together behind one agentState
// machine and event bus.
type Session struct {
	cfg     Config
	chatCtx *chatctx.ChatContext

	stateMu sync.Mutex
	state   AgentState

	mu       sync.Mutex
	curAgent *agent.Agent
	curAct   *activity.Activity
	recoPipe *recognition.Pipeline

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Session in the "initializing" state. Call Start to begin
// processing.
func New(cfg Config) *Session {
	if cfg.ChatCtx == nil {
		cfg.ChatCtx = chatctx.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOp{}
	}
	return &Session{
		cfg:      cfg,
		chatCtx:  cfg.ChatCtx,
		state:    AgentStateInitializing,
		curAgent: cfg.Agent,
	}
}

// ChatContext exposes the live, mutable chat context.
func (s *Session) ChatContext() *chatctx.ChatContext { return s.chatCtx }

// State reports the current agentState.
func (s *Session) State() AgentState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(next AgentState) {
	s.stateMu.Lock()
	changed := s.state != next
	s.state = next
	s.stateMu.Unlock()
	if changed && s.cfg.Events.OnAgentStateChanged != nil {
		s.cfg.Events.OnAgentStateChanged(next)
	}
}

// Start begins the session: builds the first activity, attaches the
// recognition pipeline to audioIn, and transitions to listening.
func (s *Session) Start(ctx context.Context, audioIn *audio.Reader) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	act := s.newActivity(s.curAgent)
	s.mu.Lock()
	s.curAct = act
	s.mu.Unlock()
	act.Start(s.ctx)

	if s.cfg.VAD != nil || s.cfg.STT != nil {
		policy := s.cfg.EOUPolicy
		if policy == nil {
			policy = recognition.NewEndOfTurnPolicy(recognition.TurnDetectionVAD, 500*time.Millisecond, 6*time.Second)
		}
		policy.PreemptiveSynthesis = s.cfg.PreemptiveSynthesis
		pipe := recognition.New(s.cfg.VAD, s.cfg.STT, s.cfg.EOUModel, s.cfg.Echo, policy, act, s.cfg.Language)
		s.mu.Lock()
		s.recoPipe = pipe
		s.mu.Unlock()
		if audioIn != nil {
			go func() {
				if err := pipe.Run(s.ctx, audioIn); err != nil && s.cfg.Events.OnError != nil {
					s.cfg.Events.OnError(err)
				}
			}()
		}
	}

	s.setState(AgentStateListening)
	s.cfg.Logger.Info("session started", "agent", agentName(s.curAgent))
}

// Stop cancels the session's context, tearing down the active pipeline and
// scheduler loop.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Activity returns the currently active scheduler (for tests/diagnostics).
func (s *Session) Activity() *activity.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curAct
}

// newActivity builds the reply pipeline and scheduler for one agent,
// wiring every callback into the session's agentState machine and event
// bus.
func (s *Session) newActivity(a *agent.Agent) *activity.Activity {
	pipeline := reply.New(reply.Deps{
		Sink:         s.cfg.Sink,
		ToolExecutor: s.cfg.ToolExecutor,
		Logger:       s.cfg.Logger,
		OnConversationItemAdded: func(it chatctx.Item) {
			if s.cfg.Events.OnConversationItemAdded != nil {
				s.cfg.Events.OnConversationItemAdded(it)
			}
		},
		OnAgentStateChanged: func(state string) {
			s.setState(AgentState(state))
		},
		OnTranscript: func(text string, isFinal bool) {
			// Forwarded assistant transcript text has no dedicated session
			// event; conversation items already capture the committed text.
			// Hook retained for future wiring (e.g. partial transcript
			// streaming to a client).
		},
		OnFunctionToolsExecuted: func(pairs []tools.Outcome) {
			if s.cfg.Events.OnFunctionToolsExecuted != nil {
				s.cfg.Events.OnFunctionToolsExecuted([]reply.Outcome{{ToolOutcomes: pairs}})
			}
		},
		OnReplyCompleted: func(out reply.Outcome, latency time.Duration) {
			if s.cfg.Events.OnMetricsCollected == nil {
				return
			}
			m := Metrics{ReplyLatency: latency, TTSFirstByte: out.TTSFirstByte}
			if out.Usage != nil {
				m.PromptTokens = out.Usage.PromptTokens
				m.CompletionTokens = out.Usage.CompletionTokens
			}
			s.cfg.Events.OnMetricsCollected(m)
		},
	})

	settings := s.cfg.Settings
	settings.Language = s.cfg.Language

	act := activity.New(activity.Config{
		Agent:                a,
		Pipeline:             pipeline,
		ChatCtx:              s.chatCtx,
		Settings:             settings,
		MaxToolSteps:         s.cfg.MaxToolSteps,
		MinInterruptionWords: s.cfg.MinInterruptionWords,
		AllowInterruptions:   s.cfg.AllowInterruptions,
		Logger:               s.cfg.Logger,
		Session:              s,
		Events: activity.Events{
			OnUserStateChanged:      s.cfg.Events.OnUserStateChanged,
			OnUserInputTranscribed:  s.cfg.Events.OnUserInputTranscribed,
			OnConversationItemAdded: s.cfg.Events.OnConversationItemAdded,
			OnFunctionToolsExecuted: func(pairs []reply.Outcome) {
				if s.cfg.Events.OnFunctionToolsExecuted != nil {
					s.cfg.Events.OnFunctionToolsExecuted(pairs)
				}
			},
			OnSpeechCreated: func(h *speech.Handle) {
				if s.cfg.Events.OnSpeechCreated != nil {
					s.cfg.Events.OnSpeechCreated(h)
				}
			},
			OnHandoff: func(next *agent.Agent) {
				s.UpdateAgent(next)
			},
		},
	})
	return act
}

// UpdateAgent drains the current activity and, once it has fully wound
// down, starts a fresh one for the new agent.
func (s *Session) UpdateAgent(next *agent.Agent) {
	s.mu.Lock()
	prev := s.curAct
	prevAgent := s.curAgent
	s.mu.Unlock()

	if prev != nil {
		prev.Drain()
	}

	go func() {
		if prev != nil {
			select {
			case <-prev.Done():
			case <-s.ctx.Done():
				return
			}
		}
		if prevAgent != nil && prevAgent.OnExit != nil {
			prevAgent.OnExit(s.ctx)
		}

		newAct := s.newActivity(next)
		s.mu.Lock()
		s.curAgent = next
		s.curAct = newAct
		s.mu.Unlock()
		newAct.Start(s.ctx)
		s.cfg.Logger.Info("session agent handoff completed", "from", agentName(prevAgent), "to", agentName(next))
	}()
}

func agentName(a *agent.Agent) string {
	if a == nil {
		return ""
	}
	return a.Name
}
