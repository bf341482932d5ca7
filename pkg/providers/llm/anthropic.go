// Package llm adapts third-party model providers to the streaming
// agent.LLMNode contract.
package llm

import (
	"context"
	"encoding/json"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/agent"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/chatctx"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/tools"
)

const defaultAnthropicModel = "claude-3-5-sonnet-20240620"
const defaultMaxTokens = 1024

// AnthropicLLM is a streaming agent.LLMNode backed by the Anthropic Messages
// API's server-sent-events stream.
type AnthropicLLM struct {
	client sdk.Client
	model  string
}

// NewAnthropicLLM builds a provider bound to apiKey, defaulting model to
// claude-3-5-sonnet when empty.
func NewAnthropicLLM(apiKey string, model string) *AnthropicLLM {
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicLLM{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (l *AnthropicLLM) Name() string { return "anthropic-llm" }

// Node returns the agent.LLMNode closure bound to this provider.
func (l *AnthropicLLM) Node() agent.LLMNode {
	return l.stream
}

func (l *AnthropicLLM) stream(ctx context.Context, chat *chatctx.ChatContext, toolCtx []tools.Tool, settings agent.Settings) (<-chan agent.ChatChunk, error) {
	model := l.model
	if settings.Model != "" {
		model = settings.Model
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(defaultMaxTokens),
		Messages:  toAnthropicMessages(chat.Items()),
	}
	if settings.Instructions != "" {
		params.System = []sdk.TextBlockParam{{Text: settings.Instructions}}
	}
	if settings.Temperature > 0 {
		params.Temperature = sdk.Float(settings.Temperature)
	}
	if len(toolCtx) > 0 {
		params.Tools = toAnthropicTools(toolCtx)
	}
	switch settings.ToolChoice {
	case agent.ToolChoiceRequired:
		params.ToolChoice = sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}
	case agent.ToolChoiceNone:
		none := sdk.NewToolChoiceNoneParam()
		params.ToolChoice = sdk.ToolChoiceUnionParam{OfNone: &none}
	}

	events := l.client.Messages.NewStreaming(ctx, params)

	out := make(chan agent.ChatChunk, 16)
	go func() {
		defer close(out)
		defer events.Close()

		toolNames := map[int64]string{}
		toolIDs := map[int64]string{}
		var msgID string

		for events.Next() {
			event := events.Current()
			switch ev := event.AsAny().(type) {
			case sdk.MessageStartEvent:
				msgID = ev.Message.ID
			case sdk.ContentBlockStartEvent:
				if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
					toolNames[ev.Index] = tu.Name
					toolIDs[ev.Index] = tu.ID
				}
			case sdk.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case sdk.TextDelta:
					if delta.Text == "" {
						continue
					}
					select {
					case out <- agent.ChatChunk{ID: msgID, Delta: agent.ChatChunkDelta{Content: delta.Text}}:
					case <-ctx.Done():
						return
					}
				case sdk.InputJSONDelta:
					id := toolIDs[ev.Index]
					if id == "" {
						continue
					}
					select {
					case out <- agent.ChatChunk{ID: msgID, Delta: agent.ChatChunkDelta{
						ToolCalls: []agent.ToolCallDelta{{CallID: id, Name: toolNames[ev.Index], Args: delta.PartialJSON}},
					}}:
					case <-ctx.Done():
						return
					}
				}
			case sdk.MessageDeltaEvent:
				if ev.Usage.OutputTokens > 0 {
					select {
					case out <- agent.ChatChunk{Usage: &agent.Usage{
						PromptTokens:     int(ev.Usage.InputTokens),
						CompletionTokens: int(ev.Usage.OutputTokens),
					}}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

// toAnthropicMessages renders the chat context as Anthropic message params,
// one per chat item (text, tool_use, or tool_result block).
func toAnthropicMessages(items []chatctx.Item) []sdk.MessageParam {
	var msgs []sdk.MessageParam
	for _, it := range items {
		switch it.Type {
		case chatctx.ItemMessage:
			if it.Role == chatctx.RoleSystem || it.Role == chatctx.RoleDeveloper {
				continue
			}
			block := sdk.NewTextBlock(it.Text())
			if it.Role == chatctx.RoleAssistant {
				msgs = append(msgs, sdk.NewAssistantMessage(block))
			} else {
				msgs = append(msgs, sdk.NewUserMessage(block))
			}
		case chatctx.ItemFunctionCall:
			var args map[string]any
			_ = json.Unmarshal([]byte(it.Args), &args)
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewToolUseBlock(it.CallID, args, it.Name)))
		case chatctx.ItemFunctionCallOutput:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewToolResultBlock(it.CallID, it.Output, it.IsError)))
		}
	}
	return msgs
}

func toAnthropicTools(decls []tools.Tool) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(decls))
	for _, t := range decls {
		var schema sdk.ToolInputSchemaParam
		if len(t.Parameters) > 0 {
			var doc map[string]any
			if err := json.Unmarshal(t.Parameters, &doc); err == nil {
				schema = sdk.ToolInputSchemaParam{ExtraFields: doc}
			}
		}
		u := sdk.ToolUnionParamOfTool(schema, t.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(t.Description)
		}
		out = append(out, u)
	}
	return out
}
