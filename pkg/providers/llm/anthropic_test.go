package llm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/chatctx"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/tools"
)

func TestToAnthropicMessagesSkipsSystemAndDeveloperItems(t *testing.T) {
	chat := chatctx.New()
	chat.AppendText(chatctx.RoleSystem, "be terse", false)
	chat.AppendText(chatctx.RoleUser, "hi", false)
	chat.AppendText(chatctx.RoleAssistant, "hello", false)

	msgs := toAnthropicMessages(chat.Items())
	require.Len(t, msgs, 2)
}

func TestToAnthropicMessagesEncodesToolCallAndOutput(t *testing.T) {
	chat := chatctx.New()
	chat.AppendFunctionCall("c1", "get_weather", `{"city":"NYC"}`)
	chat.AppendFunctionCallOutput("c1", "get_weather", "sunny", false)

	msgs := toAnthropicMessages(chat.Items())
	require.Len(t, msgs, 2)
}

func TestToAnthropicToolsCarriesNameAndSchema(t *testing.T) {
	decls := []tools.Tool{{
		Name:        "get_weather",
		Description: "looks up the weather",
		Parameters:  []byte(`{"type":"object","properties":{"city":{"type":"string"}}}`),
	}}

	out := toAnthropicTools(decls)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].OfTool)
	require.Equal(t, "get_weather", out[0].OfTool.Name)
}

func TestNewAnthropicLLMDefaultsModel(t *testing.T) {
	l := NewAnthropicLLM("test-key", "")
	require.Equal(t, defaultAnthropicModel, l.model)
	require.Equal(t, "anthropic-llm", l.Name())
}
