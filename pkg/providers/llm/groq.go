package llm

import (
	openai "github.com/sashabaranov/go-openai"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/agent"
)

const (
	defaultGroqModel = "llama-3.3-70b-versatile"
	groqBaseURL      = "https://api.groq.com/openai/v1"
)

// GroqLLM is a streaming agent.LLMNode backed by Groq's OpenAI-compatible
// chat completions endpoint; it reuses OpenAILLM's request/response
// encoding since the wire format is identical.
type GroqLLM struct {
	*OpenAILLM
}

// NewGroqLLM builds a provider bound to apiKey, defaulting model to
// llama-3.3-70b-versatile when empty.
func NewGroqLLM(apiKey string, model string) *GroqLLM {
	if model == "" {
		model = defaultGroqModel
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = groqBaseURL
	return &GroqLLM{OpenAILLM: &OpenAILLM{client: openai.NewClientWithConfig(cfg), model: model}}
}

func (l *GroqLLM) Name() string { return "groq-llm" }

// Node returns the agent.LLMNode closure bound to this provider.
func (l *GroqLLM) Node() agent.LLMNode {
	return l.stream
}
