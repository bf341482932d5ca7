package activity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/agent"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/chatctx"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/recognition"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/reply"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/speech"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/tools"
)

func staticLLMNode(content string) agent.LLMNode {
	return func(ctx context.Context, chat *chatctx.ChatContext, toolCtx []tools.Tool, settings agent.Settings) (<-chan agent.ChatChunk, error) {
		ch := make(chan agent.ChatChunk, 1)
		ch <- agent.ChatChunk{ID: "r", Delta: agent.ChatChunkDelta{Content: content}}
		close(ch)
		return ch, nil
	}
}

func newTestActivity(t *testing.T, a *agent.Agent, ev Events) (*Activity, *chatctx.ChatContext) {
	t.Helper()
	chat := chatctx.New()
	p := reply.New(reply.Deps{})
	act := New(Config{
		Agent:              a,
		Pipeline:           p,
		ChatCtx:            chat,
		MaxToolSteps:       4,
		AllowInterruptions: true,
		Events:             ev,
	})
	return act, chat
}

func TestActivityRunsScheduledReplyToCompletion(t *testing.T) {
	a := &agent.Agent{LLMNode: staticLLMNode("hi there")}
	var added []chatctx.Item
	act, chat := newTestActivity(t, a, Events{
		OnConversationItemAdded: func(it chatctx.Item) { added = append(added, it) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	act.Start(ctx)

	h := speech.New(true)
	act.ScheduleReply(ctx, h, speech.PriorityNormal)

	select {
	case <-h.PlayoutCompletedChan():
	case <-time.After(time.Second):
		t.Fatal("reply handle never completed")
	}

	require.True(t, h.Done())
	require.Len(t, chat.Items(), 1)
	require.Equal(t, "hi there", chat.Items()[0].Text())
}

func TestActivityDrainStopsLoopOnceQueueAndTasksEmpty(t *testing.T) {
	a := &agent.Agent{LLMNode: staticLLMNode("done")}
	act, _ := newTestActivity(t, a, Events{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	act.Start(ctx)

	h := speech.New(true)
	act.ScheduleReply(ctx, h, speech.PriorityNormal)
	<-h.PlayoutCompletedChan()

	act.Drain()
	// Nudge the loop: it only re-checks the drain exit condition after
	// popping and finishing a handle, so schedule one more no-op reply.
	h2 := speech.New(true)
	act.ScheduleReply(ctx, h2, speech.PriorityNormal)

	select {
	case <-act.Done():
	case <-time.After(time.Second):
		t.Fatal("activity loop did not exit after drain")
	}
}

func TestActivityOnEndOfTurnSuppressesShortInterruption(t *testing.T) {
	a := &agent.Agent{LLMNode: staticLLMNode("long answer in progress")}
	act, _ := newTestActivity(t, a, Events{})
	act.minInterruptionWords = 3

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	act.Start(ctx)

	// Schedule a handle and keep it "current" by never marking playout done
	// from outside — simulate an in-flight, interruptible speech by parking
	// the scheduler on a handle we authorize but that the pipeline is still
	// running (the short-lived LLM completes almost instantly, so instead we
	// exercise the policy directly against a handle we control).
	h := speech.New(true)
	act.currentMu.Lock()
	act.current = h
	act.currentMu.Unlock()

	committed := act.OnEndOfTurn(recognition.EndOfTurnInfo{NewTranscript: "yes"})
	require.False(t, committed)

	committed = act.OnEndOfTurn(recognition.EndOfTurnInfo{NewTranscript: "okay stop now"})
	require.True(t, committed)
}

func TestActivityCompleteUserTurnSkipsWhenCurrentSpeechNotInterruptible(t *testing.T) {
	a := &agent.Agent{LLMNode: staticLLMNode("should not run")}
	var added []chatctx.Item
	act, chat := newTestActivity(t, a, Events{
		OnConversationItemAdded: func(it chatctx.Item) { added = append(added, it) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	act.Start(ctx)

	h := speech.New(false)
	act.currentMu.Lock()
	act.current = h
	act.currentMu.Unlock()

	require.True(t, act.OnEndOfTurn(recognition.EndOfTurnInfo{NewTranscript: "hello there friend"}))

	act.turnMu.Lock()
	t2 := act.lastTurn
	act.turnMu.Unlock()
	select {
	case <-t2.Done():
	case <-time.After(time.Second):
		t.Fatal("completeUserTurn never finished")
	}

	require.False(t, h.Interrupted())
	require.Empty(t, chat.Items())
	require.Empty(t, added)
}

func TestActivityHandoffDrainsAndReportsOnce(t *testing.T) {
	next := &agent.Agent{}
	a := &agent.Agent{}
	var handoffs int
	act, _ := newTestActivity(t, a, Events{
		OnHandoff: func(n *agent.Agent) { handoffs++ },
	})

	out := reply.Outcome{ToolOutcomes: []tools.Outcome{{AgentTask: next}}}
	act.handleOutcome(context.Background(), speech.New(true), out)
	act.handleOutcome(context.Background(), speech.New(true), out)

	require.Equal(t, 1, handoffs)
	require.True(t, act.Draining())
	require.Same(t, next, act.HandoffRequested())
}
