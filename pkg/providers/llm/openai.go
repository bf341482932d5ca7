package llm

import (
	"context"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/agent"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/chatctx"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/tools"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAILLM is a streaming agent.LLMNode backed by the Chat Completions API.
type OpenAILLM struct {
	client *openai.Client
	model  string
}

// NewOpenAILLM builds a provider bound to apiKey, defaulting model to
// gpt-4o-mini when empty.
func NewOpenAILLM(apiKey string, model string) *OpenAILLM {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAILLM{client: openai.NewClient(apiKey), model: model}
}

func (l *OpenAILLM) Name() string { return "openai-llm" }

// Node returns the agent.LLMNode closure bound to this provider.
func (l *OpenAILLM) Node() agent.LLMNode {
	return l.stream
}

func (l *OpenAILLM) stream(ctx context.Context, chat *chatctx.ChatContext, toolCtx []tools.Tool, settings agent.Settings) (<-chan agent.ChatChunk, error) {
	model := l.model
	if settings.Model != "" {
		model = settings.Model
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Stream:   true,
		Messages: toOpenAIMessages(chat.Items(), settings.Instructions),
	}
	if settings.Temperature > 0 {
		req.Temperature = float32(settings.Temperature)
	}
	if len(toolCtx) > 0 {
		req.Tools = toOpenAITools(toolCtx)
	}
	switch settings.ToolChoice {
	case agent.ToolChoiceRequired:
		req.ToolChoice = "required"
	case agent.ToolChoiceNone:
		req.ToolChoice = "none"
	}

	stream, err := l.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan agent.ChatChunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		toolNames := map[int]string{}
		toolIDs := map[int]string{}

		for {
			resp, err := stream.Recv()
			if err != nil {
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			chunk := agent.ChatChunk{ID: resp.ID}
			if delta.Content != "" {
				chunk.Delta.Content = delta.Content
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				if tc.ID != "" {
					toolIDs[idx] = tc.ID
				}
				if tc.Function.Name != "" {
					toolNames[idx] = tc.Function.Name
				}
				chunk.Delta.ToolCalls = append(chunk.Delta.ToolCalls, agent.ToolCallDelta{
					CallID: toolIDs[idx],
					Name:   toolNames[idx],
					Args:   tc.Function.Arguments,
				})
			}
			if chunk.Delta.Content == "" && len(chunk.Delta.ToolCalls) == 0 && resp.Usage == nil {
				continue
			}
			if resp.Usage != nil {
				chunk.Usage = &agent.Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func toOpenAIMessages(items []chatctx.Item, instructions string) []openai.ChatCompletionMessage {
	var msgs []openai.ChatCompletionMessage
	if instructions != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: instructions})
	}
	for _, it := range items {
		switch it.Type {
		case chatctx.ItemMessage:
			role := openai.ChatMessageRoleUser
			switch it.Role {
			case chatctx.RoleAssistant:
				role = openai.ChatMessageRoleAssistant
			case chatctx.RoleSystem:
				role = openai.ChatMessageRoleSystem
			case chatctx.RoleDeveloper:
				role = openai.ChatMessageRoleDeveloper
			}
			msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: it.Text()})
		case chatctx.ItemFunctionCall:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   it.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      it.Name,
						Arguments: it.Args,
					},
				}},
			})
		case chatctx.ItemFunctionCallOutput:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    it.Output,
				ToolCallID: it.CallID,
			})
		}
	}
	return msgs
}

func toOpenAITools(decls []tools.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(decls))
	for _, t := range decls {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.Parameters),
			},
		})
	}
	return out
}
