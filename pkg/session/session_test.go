package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/agent"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/chatctx"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/speech"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/tools"
)

func staticLLMNode(content string) agent.LLMNode {
	return func(ctx context.Context, chat *chatctx.ChatContext, toolCtx []tools.Tool, settings agent.Settings) (<-chan agent.ChatChunk, error) {
		ch := make(chan agent.ChatChunk, 1)
		ch <- agent.ChatChunk{
			ID:    "r",
			Delta: agent.ChatChunkDelta{Content: content},
			Usage: &agent.Usage{PromptTokens: 12, CompletionTokens: 3},
		}
		close(ch)
		return ch, nil
	}
}

func TestSessionStartTransitionsToListening(t *testing.T) {
	a := &agent.Agent{LLMNode: staticLLMNode("hi")}
	s := New(Config{Agent: a, MaxToolSteps: 4, AllowInterruptions: true})

	require.Equal(t, AgentStateInitializing, s.State())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, nil)
	defer s.Stop()

	require.Equal(t, AgentStateListening, s.State())
}

func TestSessionReplyDrivesThinkingThenListening(t *testing.T) {
	a := &agent.Agent{LLMNode: staticLLMNode("sunny today")}

	var states []AgentState
	var metrics []Metrics
	s := New(Config{
		Agent:              a,
		MaxToolSteps:       4,
		AllowInterruptions: true,
		Events: Events{
			OnAgentStateChanged: func(st AgentState) { states = append(states, st) },
			OnMetricsCollected:  func(m Metrics) { metrics = append(metrics, m) },
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, nil)
	defer s.Stop()

	h := speech.New(true)
	s.Activity().ScheduleReply(ctx, h, speech.PriorityNormal)

	select {
	case <-h.PlayoutCompletedChan():
	case <-time.After(time.Second):
		t.Fatal("reply handle never completed")
	}

	require.Contains(t, states, AgentStateThinking)
	require.Len(t, metrics, 1)
	require.Equal(t, 12, metrics[0].PromptTokens)
	require.Equal(t, 3, metrics[0].CompletionTokens)
}

func TestSessionUpdateAgentDrainsAndSwapsActivity(t *testing.T) {
	first := &agent.Agent{LLMNode: staticLLMNode("first")}
	second := &agent.Agent{LLMNode: staticLLMNode("second")}

	var exited bool
	first.OnExit = func(ctx context.Context) { exited = true }

	s := New(Config{Agent: first, MaxToolSteps: 4, AllowInterruptions: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, nil)
	defer s.Stop()

	firstAct := s.Activity()
	s.UpdateAgent(second)

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.curAgent == second && s.curAct != firstAct
	}, time.Second, 5*time.Millisecond)

	require.True(t, exited)
}
