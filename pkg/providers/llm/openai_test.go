package llm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/chatctx"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/tools"
)

func TestToOpenAIMessagesIncludesSystemInstructions(t *testing.T) {
	chat := chatctx.New()
	chat.AppendText(chatctx.RoleUser, "hi", false)

	msgs := toOpenAIMessages(chat.Items(), "be terse")
	require.Len(t, msgs, 2)
	require.Equal(t, "system", msgs[0].Role)
}

func TestToOpenAIMessagesEncodesToolCallAndOutput(t *testing.T) {
	chat := chatctx.New()
	chat.AppendFunctionCall("c1", "get_weather", `{"city":"NYC"}`)
	chat.AppendFunctionCallOutput("c1", "get_weather", "sunny", false)

	msgs := toOpenAIMessages(chat.Items(), "")
	require.Len(t, msgs, 2)
	require.Equal(t, "c1", msgs[0].ToolCalls[0].ID)
	require.Equal(t, "c1", msgs[1].ToolCallID)
}

func TestToOpenAIToolsCarriesNameAndSchema(t *testing.T) {
	decls := []tools.Tool{{
		Name:        "get_weather",
		Description: "looks up the weather",
		Parameters:  []byte(`{"type":"object","properties":{"city":{"type":"string"}}}`),
	}}

	out := toOpenAITools(decls)
	require.Len(t, out, 1)
	require.Equal(t, "get_weather", out[0].Function.Name)
}

func TestNewOpenAILLMDefaultsModel(t *testing.T) {
	l := NewOpenAILLM("test-key", "")
	require.Equal(t, defaultOpenAIModel, l.model)
	require.Equal(t, "openai-llm", l.Name())
}
