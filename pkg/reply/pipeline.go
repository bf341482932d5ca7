// Package reply implements the Reply Pipeline:
// one invocation per agent turn, tee'ing a streaming LLM response into
// text, transcription, TTS, and tool-execution stages under a single
// per-reply abort controller.
package reply

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/agent"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/chatctx"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/playback"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/speech"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/tools"
)

// CancelTimeout bounds the structured join performed when a reply is
// interrupted.
const CancelTimeout = 5000 * time.Millisecond

// Deps are the reply pipeline's session-scoped collaborators.
type Deps struct {
	Sink         *playback.Sink // nil disables audio output for this session
	ToolExecutor *tools.Executor
	Logger       logging.Logger

	// OnConversationItemAdded is invoked (in commit order) whenever an item
	// is inserted into the chat context as a side effect of this reply.
	OnConversationItemAdded func(chatctx.Item)
	// OnAgentStateChanged reports thinking/speaking transitions.
	OnAgentStateChanged func(state string)
	// OnTranscript receives forwarded text for the outbound transcript sink.
	OnTranscript func(text string, isFinal bool)
	// OnFunctionToolsExecuted reports the (call, output) pairs of one batch
	// of tool executions.
	OnFunctionToolsExecuted func(pairs []tools.Outcome)
	// OnReplyCompleted reports wall-clock latency and token usage for one
	// finished reply step, interrupted or not.
	OnReplyCompleted func(out Outcome, latency time.Duration)
}

// Input is one reply invocation's parameters.
type Input struct {
	Handle       *speech.Handle
	ChatCtx      *chatctx.ChatContext
	Agent        *agent.Agent
	Settings     agent.Settings
	MaxToolSteps int
	Draining     bool
	// Session is opaque to the reply pipeline; it is forwarded verbatim into
	// every tool call's RunContext so tool bodies can reach back into the
	// session that invoked them.
	Session any
}

// Outcome summarizes what a reply produced, including whether the caller
// (the scheduler) must launch a recursive reply for tool follow-up.
type Outcome struct {
	Interrupted         bool
	AssistantItem       *chatctx.Item
	RecursionNeeded     bool
	RecursionToolChoice agent.ToolChoice
	ToolItems           []chatctx.Item
	// ToolOutcomes carries the raw per-call results, including any AgentTask
	// a tool returned, so the scheduler can act on handoff requests. At most
	// one handoff is honored per reply step.
	ToolOutcomes []tools.Outcome
	// Usage reports the LLM node's token accounting, when it supplied one,
	// for the session's MetricsCollected event.
	Usage *agent.Usage
	// TTSFirstByte is the latency from reply start to the first synthesized
	// audio frame reaching the sink, zero if audio output never produced one.
	TTSFirstByte time.Duration
}

// Pipeline runs reply invocations against a fixed set of Deps.
type Pipeline struct {
	deps Deps
}

func New(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = logging.NoOp{}
	}
	return &Pipeline{deps: deps}
}

// Run executes one reply step end-to-end: authorization gate, concurrent
// LLM/transcription/TTS/tool stages, interruption handling, and
// tool-response recursion decisions.
func (p *Pipeline) Run(ctx context.Context, in Input) Outcome {
	replyStartedAt := time.Now()
	out := p.run(ctx, in, replyStartedAt)
	if p.deps.OnReplyCompleted != nil {
		p.deps.OnReplyCompleted(out, time.Since(replyStartedAt))
	}
	return out
}

func (p *Pipeline) run(ctx context.Context, in Input, replyStartedAt time.Time) Outcome {
	replyCtx, abort := context.WithCancel(ctx)
	defer abort()

	if err := in.Handle.WaitForAuthorization(replyCtx); err != nil {
		in.Handle.MarkPlayoutDone()
		return Outcome{Interrupted: true}
	}
	if err := in.Handle.WaitIfNotInterrupted(replyCtx); err != nil {
		in.Handle.MarkPlayoutDone()
		return Outcome{Interrupted: true}
	}

	if p.deps.OnAgentStateChanged != nil {
		p.deps.OnAgentStateChanged("thinking")
	}

	st := p.newStepState(replyCtx, abort, in, replyStartedAt)
	st.launch()

	interrupted := false
	if err := in.Handle.WaitIfNotInterrupted(ctx, st.subtasksDone()); err != nil {
		interrupted = true
	}

	if interrupted {
		return p.handleInterruption(in, st, replyStartedAt)
	}

	if in.Settings.AudioOutput && p.deps.Sink != nil {
		if err := in.Handle.WaitIfNotInterrupted(ctx, playoutDone(ctx, p.deps.Sink)); err != nil {
			return p.handleInterruption(in, st, replyStartedAt)
		}
	}

	return p.handleCompletion(in, st, replyStartedAt)
}

// playoutDone adapts playback.Sink.WaitForPlayout into a <-chan struct{} so
// it composes with speech.Handle.WaitIfNotInterrupted's waitable contract.
func playoutDone(ctx context.Context, sink *playback.Sink) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = sink.WaitForPlayout(ctx)
	}()
	return done
}

func (p *Pipeline) handleInterruption(in Input, st *stepState, replyStartedAt time.Time) Outcome {
	st.abort()
	st.cancelAndWait(CancelTimeout)

	forwardedText := ""
	if p.deps.Sink != nil && in.Settings.AudioOutput {
		p.deps.Sink.ClearBuffer()
		ev, _ := p.deps.Sink.WaitForPlayout(context.Background())
		switch {
		case !st.firstFrameEmitted():
			forwardedText = ""
		case ev.SynchronizedTranscript != "":
			forwardedText = ev.SynchronizedTranscript
		default:
			forwardedText = st.text()
		}
	} else if st.text() != "" {
		forwardedText = st.text()
	}

	var assistantItem *chatctx.Item
	if forwardedText != "" {
		it := chatctx.Item{
			ID:          st.llmID(),
			Type:        chatctx.ItemMessage,
			CreatedAt:   replyStartedAt,
			Role:        chatctx.RoleAssistant,
			Content:     []chatctx.ContentPart{{Type: chatctx.ContentText, Text: forwardedText}},
			Interrupted: true,
		}
		if it.ID == "" {
			it.ID = chatctx.NewID()
		}
		_ = in.ChatCtx.AppendRaw(it)
		assistantItem = &it
		if p.deps.OnConversationItemAdded != nil {
			p.deps.OnConversationItemAdded(it)
		}
	}

	in.Handle.MarkPlayoutDone()
	return Outcome{Interrupted: true, AssistantItem: assistantItem, TTSFirstByte: st.ttsFirstByte()}
}

func (p *Pipeline) handleCompletion(in Input, st *stepState, replyStartedAt time.Time) Outcome {
	var assistantItem *chatctx.Item
	if text := st.text(); text != "" {
		it := in.ChatCtx.AppendText(chatctx.RoleAssistant, text, false)
		assistantItem = &it
		if p.deps.OnConversationItemAdded != nil {
			p.deps.OnConversationItemAdded(it)
		}
	}

	outcomes := st.toolOutcomes()
	if len(outcomes) > 0 && p.deps.OnFunctionToolsExecuted != nil {
		p.deps.OnFunctionToolsExecuted(outcomes)
	}

	in.Handle.MarkPlayoutDone()

	result := Outcome{AssistantItem: assistantItem, ToolOutcomes: outcomes, Usage: st.usageTotals(), TTSFirstByte: st.ttsFirstByte()}
	if len(outcomes) == 0 {
		return result
	}

	replyRequired := false
	for _, o := range outcomes {
		if o.ReplyRequired {
			replyRequired = true
		}
		if err := in.ChatCtx.AppendRaw(o.Call); err == nil {
			if p.deps.OnConversationItemAdded != nil {
				p.deps.OnConversationItemAdded(o.Call)
			}
		}
		outputItem := in.ChatCtx.AppendFunctionCallOutput(o.Call.CallID, o.Call.Name, o.Output, o.IsError)
		result.ToolItems = append(result.ToolItems, o.Call, outputItem)
		if p.deps.OnConversationItemAdded != nil {
			p.deps.OnConversationItemAdded(outputItem)
		}
	}

	if !replyRequired {
		return result
	}
	if in.Handle.StepIndex >= in.MaxToolSteps {
		return result
	}

	result.RecursionNeeded = true
	switch {
	case in.Draining || in.Settings.ToolChoice == agent.ToolChoiceNone:
		result.RecursionToolChoice = agent.ToolChoiceNone
	default:
		result.RecursionToolChoice = agent.ToolChoiceAuto
	}
	return result
}

// stepState holds the per-reply concurrent machinery: the LLM tee, the
// transcription/TTS forwarders, and the tool-call launcher.
type stepState struct {
	ctx       context.Context
	abort     context.CancelFunc
	p         *Pipeline
	in        Input
	startedAt time.Time

	mu            sync.Mutex
	generatedText strings.Builder
	llmChunkID    string
	usage         *agent.Usage

	firstFrame   sync.Once
	firstFrameOK bool
	firstFrameAt time.Time
	speakingOnce sync.Once

	outcomesMu sync.Mutex
	outcomes   []tools.Outcome

	wg   sync.WaitGroup
	done chan struct{}
}

func (p *Pipeline) newStepState(ctx context.Context, abort context.CancelFunc, in Input, startedAt time.Time) *stepState {
	return &stepState{ctx: ctx, abort: abort, p: p, in: in, startedAt: startedAt, done: make(chan struct{})}
}

func (s *stepState) text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generatedText.String()
}

func (s *stepState) llmID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.llmChunkID
}

func (s *stepState) firstFrameEmitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstFrameOK
}

// ttsFirstByte reports the latency from reply start to the first TTS audio
// frame, zero if none was ever emitted.
func (s *stepState) ttsFirstByte() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.firstFrameOK {
		return 0
	}
	return s.firstFrameAt.Sub(s.startedAt)
}

func (s *stepState) usageTotals() *agent.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

func (s *stepState) toolOutcomes() []tools.Outcome {
	s.outcomesMu.Lock()
	defer s.outcomesMu.Unlock()
	return append([]tools.Outcome(nil), s.outcomes...)
}

func (s *stepState) subtasksDone() <-chan struct{} {
	return s.done
}

func (s *stepState) cancelAndWait(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// launch starts the LLM tee and its three downstream consumers, closing
// s.done once every sub-task has finished (or been abandoned).
func (s *stepState) launch() {
	llmChunks, err := s.in.Agent.LLMNode(s.ctx, s.in.ChatCtx, toolList(s.in.Agent.Tools), s.in.Settings)
	if err != nil {
		s.p.deps.Logger.Error("llm node failed to start", "error", err)
		close(s.done)
		return
	}

	textForTranscription := make(chan string, 64)
	textForTTS := make(chan string, 64)
	toolDeltas := make(chan agent.ToolCallDelta, 64)

	s.wg.Add(1)
	go s.teeLLM(llmChunks, textForTranscription, textForTTS, toolDeltas)

	s.wg.Add(1)
	go s.runTranscription(textForTranscription)

	s.wg.Add(1)
	go s.runTTS(textForTTS)

	toolCalls := make(chan chatctx.Item, 16)
	go assembleToolCalls(s.ctx, toolDeltas, toolCalls)

	s.wg.Add(1)
	go s.runTools(toolCalls)

	go func() {
		s.wg.Wait()
		close(s.done)
	}()
}

func (s *stepState) teeLLM(in <-chan agent.ChatChunk, toTranscription, toTTS chan<- string, toTools chan<- agent.ToolCallDelta) {
	defer s.wg.Done()
	defer close(toTranscription)
	defer close(toTTS)
	defer close(toTools)

	for chunk := range in {
		if chunk.ID != "" {
			s.mu.Lock()
			if s.llmChunkID == "" {
				s.llmChunkID = chunk.ID
			}
			s.mu.Unlock()
		}
		if chunk.Usage != nil {
			s.mu.Lock()
			s.usage = chunk.Usage
			s.mu.Unlock()
		}
		if chunk.Delta.Content != "" {
			s.mu.Lock()
			s.generatedText.WriteString(chunk.Delta.Content)
			s.mu.Unlock()

			select {
			case toTranscription <- chunk.Delta.Content:
			case <-s.ctx.Done():
				return
			}
			select {
			case toTTS <- chunk.Delta.Content:
			case <-s.ctx.Done():
				return
			}
		}
		for _, tc := range chunk.Delta.ToolCalls {
			select {
			case toTools <- tc:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *stepState) runTranscription(text <-chan string) {
	defer s.wg.Done()
	node := s.in.Agent.TranscriptionNode
	if node == nil {
		for t := range text {
			s.forwardTranscript(t)
		}
		if s.p.deps.OnTranscript != nil {
			s.p.deps.OnTranscript("", true)
		}
		return
	}
	out, err := node(s.ctx, text, s.in.Settings)
	if err != nil {
		s.p.deps.Logger.Error("transcription node failed to start", "error", err)
		return
	}
	for t := range out {
		s.forwardTranscript(t)
	}
	if s.p.deps.OnTranscript != nil {
		s.p.deps.OnTranscript("", true)
	}
}

// forwardTranscript emits one transcript token and, when audio output is
// disabled for this step, signals the first-forwarded-token "speaking"
// transition in its place — the session moves to speaking on whichever of
// first audio frame or first forwarded text token happens first.
func (s *stepState) forwardTranscript(t string) {
	if s.p.deps.OnTranscript != nil {
		s.p.deps.OnTranscript(t, false)
	}
	if t == "" || s.in.Settings.AudioOutput {
		return
	}
	s.speakingOnce.Do(func() {
		if s.p.deps.OnAgentStateChanged != nil {
			s.p.deps.OnAgentStateChanged("speaking")
		}
	})
}

func (s *stepState) runTTS(text <-chan string) {
	defer s.wg.Done()
	if !s.in.Settings.AudioOutput || s.p.deps.Sink == nil || s.in.Agent.TTSNode == nil {
		for range text {
		}
		return
	}

	frames, err := s.in.Agent.TTSNode(s.ctx, text, s.in.Settings)
	if err != nil {
		s.p.deps.Logger.Error("tts node failed to start", "error", err)
		return
	}
	for frame := range frames {
		if err := s.p.deps.Sink.CaptureFrame(s.ctx, frame); err != nil {
			s.p.deps.Logger.Warn("tts frame dropped", "error", err)
			return
		}
		s.firstFrame.Do(func() {
			s.mu.Lock()
			s.firstFrameOK = true
			s.firstFrameAt = time.Now()
			s.mu.Unlock()
		})
		s.speakingOnce.Do(func() {
			if s.p.deps.OnAgentStateChanged != nil {
				s.p.deps.OnAgentStateChanged("speaking")
			}
		})
	}
	s.p.deps.Sink.Flush()
}

func (s *stepState) runTools(calls <-chan chatctx.Item) {
	defer s.wg.Done()
	if s.p.deps.ToolExecutor == nil {
		for range calls {
		}
		return
	}
	var toolWG sync.WaitGroup
	for call := range calls {
		toolWG.Add(1)
		go func(call chatctx.Item) {
			defer toolWG.Done()
			out := s.p.deps.ToolExecutor.RunOne(s.ctx, call, s.in.Session, s.in.Handle)
			s.outcomesMu.Lock()
			s.outcomes = append(s.outcomes, out)
			s.outcomesMu.Unlock()
		}(call)
	}
	toolWG.Wait()
}

// assembleToolCalls buffers tool-call deltas by CallID until Args parses as
// complete JSON, then emits a FunctionCall item.
func assembleToolCalls(ctx context.Context, in <-chan agent.ToolCallDelta, out chan<- chatctx.Item) {
	defer close(out)
	pendingArgs := map[string]*strings.Builder{}
	pendingName := map[string]string{}

	for tc := range in {
		b, ok := pendingArgs[tc.CallID]
		if !ok {
			b = &strings.Builder{}
			pendingArgs[tc.CallID] = b
		}
		if tc.Name != "" {
			pendingName[tc.CallID] = tc.Name
		}
		b.WriteString(tc.Args)

		if !json.Valid([]byte(b.String())) {
			continue
		}
		item := chatctx.Item{
			ID:     chatctx.NewID(),
			Type:   chatctx.ItemFunctionCall,
			CallID: tc.CallID,
			Name:   pendingName[tc.CallID],
			Args:   b.String(),
		}
		select {
		case out <- item:
		case <-ctx.Done():
			return
		}
		delete(pendingArgs, tc.CallID)
		delete(pendingName, tc.CallID)
	}
}

func toolList(reg *tools.Registry) []tools.Tool {
	if reg == nil {
		return nil
	}
	return reg.List()
}
