package llm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/chatctx"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/tools"
)

func TestToGoogleContentsSkipsSystemAndDeveloperItems(t *testing.T) {
	chat := chatctx.New()
	chat.AppendText(chatctx.RoleSystem, "be terse", false)
	chat.AppendText(chatctx.RoleUser, "hi", false)
	chat.AppendText(chatctx.RoleAssistant, "hello", false)

	contents, err := toGoogleContents(chat.Items())
	require.NoError(t, err)
	require.Len(t, contents, 2)
}

func TestToGoogleContentsEncodesToolCallAndOutput(t *testing.T) {
	chat := chatctx.New()
	chat.AppendFunctionCall("c1", "get_weather", `{"city":"NYC"}`)
	chat.AppendFunctionCallOutput("c1", "get_weather", `{"temp":72}`, false)

	contents, err := toGoogleContents(chat.Items())
	require.NoError(t, err)
	require.Len(t, contents, 2)
}

func TestToGoogleFunctionDeclsCarriesNameAndSchema(t *testing.T) {
	decls := []tools.Tool{{
		Name:        "get_weather",
		Description: "looks up the weather",
		Parameters:  []byte(`{"type":"object","properties":{"city":{"type":"string"}}}`),
	}}

	out := toGoogleFunctionDecls(decls)
	require.Len(t, out, 1)
	require.Equal(t, "get_weather", out[0].Name)
}

func TestNewGoogleLLMDefaultsModel(t *testing.T) {
	l := NewGoogleLLM("test-key", "")
	require.Equal(t, defaultGoogleModel, l.model)
	require.Equal(t, "google-llm", l.Name())
}
