package llm

import (
	"context"
	"encoding/json"
	"strings"

	genai "google.golang.org/genai"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/agent"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/chatctx"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/tools"
)

const defaultGoogleModel = "gemini-1.5-flash"

// GoogleLLM is a streaming agent.LLMNode backed by the Gemini API.
type GoogleLLM struct {
	client  *genai.Client
	model   string
	initErr error
}

// NewGoogleLLM builds a provider bound to apiKey, defaulting model to
// gemini-1.5-flash when empty. Client construction only fails on malformed
// options, which NewClient validates eagerly; any such error surfaces on
// the first stream call instead of at construction time, matching the
// other providers' no-error constructors.
func NewGoogleLLM(apiKey string, model string) *GoogleLLM {
	if model == "" {
		model = defaultGoogleModel
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		client = nil
	}
	return &GoogleLLM{client: client, model: model, initErr: err}
}

func (l *GoogleLLM) Name() string { return "google-llm" }

// Node returns the agent.LLMNode closure bound to this provider.
func (l *GoogleLLM) Node() agent.LLMNode {
	return l.stream
}

func (l *GoogleLLM) stream(ctx context.Context, chat *chatctx.ChatContext, toolCtx []tools.Tool, settings agent.Settings) (<-chan agent.ChatChunk, error) {
	if l.initErr != nil {
		return nil, l.initErr
	}
	model := l.model
	if settings.Model != "" {
		model = settings.Model
	}

	contents, err := toGoogleContents(chat.Items())
	if err != nil {
		return nil, err
	}

	cfg := &genai.GenerateContentConfig{}
	if settings.Instructions != "" {
		cfg.SystemInstruction = genai.NewContentFromText(settings.Instructions, genai.RoleUser)
	}
	if settings.Temperature > 0 {
		t := float32(settings.Temperature)
		cfg.Temperature = &t
	}
	if len(toolCtx) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: toGoogleFunctionDecls(toolCtx)}}
	}

	stream := l.client.Models.GenerateContentStream(ctx, model, contents, cfg)

	out := make(chan agent.ChatChunk, 16)
	go func() {
		defer close(out)
		for resp, err := range stream {
			if err != nil {
				return
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				var chunk agent.ChatChunk
				switch {
				case part.Text != "":
					chunk.Delta.Content = part.Text
				case part.FunctionCall != nil:
					args, _ := json.Marshal(part.FunctionCall.Args)
					chunk.Delta.ToolCalls = []agent.ToolCallDelta{{
						CallID: part.FunctionCall.ID,
						Name:   part.FunctionCall.Name,
						Args:   string(args),
					}}
				default:
					continue
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if resp.UsageMetadata != nil {
				select {
				case out <- agent.ChatChunk{Usage: &agent.Usage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				}}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func toGoogleContents(items []chatctx.Item) ([]*genai.Content, error) {
	var contents []*genai.Content
	for _, it := range items {
		switch it.Type {
		case chatctx.ItemMessage:
			if it.Role == chatctx.RoleSystem || it.Role == chatctx.RoleDeveloper {
				continue
			}
			role := genai.RoleUser
			if it.Role == chatctx.RoleAssistant {
				role = genai.RoleModel
			}
			contents = append(contents, genai.NewContentFromText(it.Text(), role))
		case chatctx.ItemFunctionCall:
			var args map[string]any
			_ = json.Unmarshal([]byte(it.Args), &args)
			p := genai.NewPartFromFunctionCall(it.Name, args)
			p.FunctionCall.ID = it.CallID
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{p}, genai.RoleModel))
		case chatctx.ItemFunctionCallOutput:
			resp := map[string]any{"output": it.Output}
			if strings.TrimSpace(it.Output) != "" {
				var parsed map[string]any
				if err := json.Unmarshal([]byte(it.Output), &parsed); err == nil {
					resp = parsed
				}
			}
			p := genai.NewPartFromFunctionResponse(it.Name, resp)
			p.FunctionResponse.ID = it.CallID
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{p}, genai.RoleUser))
		}
	}
	return contents, nil
}

func toGoogleFunctionDecls(decls []tools.Tool) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, t := range decls {
		var schema *genai.Schema
		if len(t.Parameters) > 0 {
			schema = &genai.Schema{}
			_ = json.Unmarshal(t.Parameters, schema)
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schema,
		})
	}
	return out
}
