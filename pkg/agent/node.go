// Package agent defines the pluggable provider node contracts
// and the Agent type that wires user-overridable nodes, tool declarations,
// and turn-lifecycle hooks together.
package agent

import (
	"context"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/chatctx"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/tools"
)

// ToolChoice mirrors the LLM provider's tool-use directive.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

// Settings carries the provider-facing generation parameters for one reply
// step.
type Settings struct {
	Model          string
	Temperature    float64
	ToolChoice     ToolChoice
	Instructions   string
	Voice          string
	Language       string
	AudioOutput    bool
}

// ChatChunkDelta is the incremental payload of one streamed LLM token.
type ChatChunkDelta struct {
	Content   string
	ToolCalls []ToolCallDelta
}

// ToolCallDelta is one incremental fragment of a tool call under
// construction; Args accumulates across chunks sharing the same CallID
// until it parses as complete JSON.
type ToolCallDelta struct {
	CallID string
	Name   string
	Args   string
}

// ChatChunk is one element of the LLM node's output stream.
type ChatChunk struct {
	ID    string
	Delta ChatChunkDelta
	Usage *Usage
}

// Usage reports token accounting, when the provider supplies it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// LLMNode streams chat completions for the given context and tool
// declarations.
type LLMNode func(ctx context.Context, chat *chatctx.ChatContext, toolCtx []tools.Tool, settings Settings) (<-chan ChatChunk, error)

// TTSNode synthesizes audio frames from a text stream.
type TTSNode func(ctx context.Context, text <-chan string, settings Settings) (<-chan audio.Frame, error)

// TranscriptionNode mirrors generated text into a display transcript.
type TranscriptionNode func(ctx context.Context, text <-chan string, settings Settings) (<-chan string, error)

// StopResponse, when returned by OnUserTurnCompleted, suppresses reply
// generation for the current turn without being treated as a failure.
type StopResponse struct{}

func (StopResponse) Error() string { return "agent: stop response" }

// Agent is the user-facing behavior surface: default node implementations,
// declared tools, and turn-lifecycle hooks, expressed as plain function
// pointers rather than a class hierarchy so callers can override any one
// node independently.
type Agent struct {
	Name         string
	Instructions string

	LLMNode           LLMNode
	TTSNode           TTSNode
	TranscriptionNode TranscriptionNode

	Tools *tools.Registry

	// OnUserTurnCompleted lets the agent inspect/mutate the pending user
	// message before a reply is generated; returning StopResponse suppresses
	// generation for this turn.
	OnUserTurnCompleted func(ctx context.Context, tempCtx *chatctx.ChatContext, userMsg chatctx.Item) error

	// OnEnter/OnExit run when an activity adopts/drains this agent during a
	// handoff.
	OnEnter func(ctx context.Context)
	OnExit  func(ctx context.Context)
}
