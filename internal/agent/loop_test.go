package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/history"
	"github.com/loomworks/loom/internal/llm"
	llmmock "github.com/loomworks/loom/internal/llm/mock"
	"github.com/loomworks/loom/internal/schedule"
	"github.com/loomworks/loom/internal/tools"
	"github.com/loomworks/loom/internal/watchdog"
)

// echoTool is a minimal executable tool. It records the correlation id
// of every call that actually ran so tests can prove which calls were
// executed and which were skipped.
type echoTool struct {
	mu  sync.Mutex
	ran []string
}

func (e *echoTool) Name() string { return "echo" }

func (e *echoTool) Schema() tools.Schema {
	return tools.Schema{
		Name:        "echo",
		Description: "Echo text back",
		Parameters: []tools.SchemaField{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
	}
}

func (e *echoTool) Execute(_ context.Context, args map[string]any) (string, error) {
	text, _ := args["text"].(string)
	id, _ := args["tool_call_id"].(string)
	e.mu.Lock()
	e.ran = append(e.ran, id)
	e.mu.Unlock()
	return "echo: " + text, nil
}

func (e *echoTool) executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.ran))
	copy(out, e.ran)
	return out
}

type engineHarness struct {
	engine *Engine
	prov   *llmmock.Provider
	store  *history.Store
	echo   *echoTool
}

func newTestEngine(t *testing.T, chatFn func(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error), mutate ...func(*Options)) *engineHarness {
	t.Helper()

	prov := &llmmock.Provider{ChatFn: chatFn}
	gw := NewGateway(NewStrategyEngine(newTestRegistry(prov), config.StrategyConfig{}), GatewayOptions{
		Sleep: func(time.Duration) {},
	})

	echo := &echoTool{}
	reg := tools.NewRegistry()
	reg.Register(echo)
	reg.Register(&tools.PlannerTool{})
	exec := tools.NewExecutor(reg, schedule.NewScheduler(4), watchdog.NewWithClock(time.Now, 2*time.Millisecond), tools.ExecutorOptions{})

	store := history.NewStore()
	opts := Options{Gateway: gw, Executor: exec, Store: store}
	for _, fn := range mutate {
		fn(&opts)
	}
	return &engineHarness{engine: New(opts), prov: prov, store: store, echo: echo}
}

func textResponse(content string) llm.ChatResponse {
	return llm.ChatResponse{
		Message:      llm.ChatMessage{Role: llm.RoleAssistant, Content: content},
		FinishReason: "stop",
	}
}

func toolCallResponse(content string, calls ...llm.ToolCall) llm.ChatResponse {
	return llm.ChatResponse{
		Message:      llm.ChatMessage{Role: llm.RoleAssistant, Content: content, ToolCalls: calls},
		FinishReason: "tool_calls",
	}
}

func echoCall(id, text string) llm.ToolCall {
	raw, _ := json.Marshal(map[string]any{"text": text})
	return llm.ToolCall{
		ID:       id,
		Type:     "function",
		Function: llm.ToolFunctionCall{Name: "echo", Arguments: raw},
	}
}

// eventLog collects events behind a mutex; the executor invokes the
// sink from worker goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) sink() EventSink {
	return func(ev Event) {
		l.mu.Lock()
		l.events = append(l.events, ev)
		l.mu.Unlock()
	}
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) ofType(eventType string) []Event {
	var out []Event
	for _, ev := range l.all() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func TestRunExecutesToolCallsAndCorrelatesResults(t *testing.T) {
	h := newTestEngine(t, func(_ context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
		if len(req.Messages) > 0 && req.Messages[len(req.Messages)-1].Role == llm.RoleTool {
			return textResponse("<think>Analysis: all three echoes returned their inputs.\nPlan: report the outputs directly.</think>all echoed"), nil
		}
		return toolCallResponse("",
			echoCall("call-1", "alpha"),
			echoCall("call-2", "beta"),
			echoCall("call-3", "gamma"),
		), nil
	})

	resp, err := h.engine.Run(context.Background(), Request{SessionID: "s1", Prompt: "echo three things"}, nil)
	require.NoError(t, err)
	require.Equal(t, "all echoed", resp.Message.Content)
	require.Contains(t, resp.Message.Reasoning, "Analysis:")
	require.Equal(t, 1, resp.Iterations)
	require.Equal(t, "stop", resp.FinishReason)

	require.Len(t, resp.ToolResults, 3)
	for i, want := range []struct{ id, payload string }{
		{"call-1", "echo: alpha"},
		{"call-2", "echo: beta"},
		{"call-3", "echo: gamma"},
	} {
		require.Equal(t, want.id, resp.ToolResults[i].ToolCallID)
		require.Equal(t, tools.StatusSuccess, resp.ToolResults[i].Status)
		require.Equal(t, want.payload, resp.ToolResults[i].Payload)
	}
	require.ElementsMatch(t, []string{"call-1", "call-2", "call-3"}, h.echo.executed())

	msgs := h.store.Get("s1").Messages()
	require.Len(t, msgs, 6)
	require.Equal(t, llm.RoleUser, msgs[0].Role)
	require.Equal(t, "echo three things", msgs[0].Content)
	require.Len(t, msgs[1].ToolCalls, 3)
	for i, id := range []string{"call-1", "call-2", "call-3"} {
		require.Equal(t, llm.RoleTool, msgs[2+i].Role)
		require.Equal(t, id, msgs[2+i].ToolCallID)
		require.Equal(t, tools.StatusSuccess, msgs[2+i].ToolStatus)
	}
	require.Equal(t, llm.RoleAssistant, msgs[5].Role)
	require.Equal(t, "all echoed", msgs[5].Content)
}

func TestRunStopsAtAgentIterationCap(t *testing.T) {
	n := 0
	h := newTestEngine(t, func(_ context.Context, _ llm.ChatRequest) (llm.ChatResponse, error) {
		n++
		return toolCallResponse(
			"<think>Analysis: more work remains in the queue.\nPlan: run the next echo call.</think>still working",
			echoCall(fmt.Sprintf("call-%d", n), "next"),
		), nil
	}, func(o *Options) {
		o.Loop = config.LoopConfig{AgentMaxIterations: 3}
	})

	resp, err := h.engine.Run(context.Background(), Request{SessionID: "s1", Prompt: "keep going"}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, resp.Iterations)
	require.Equal(t, "max_iterations", resp.FinishReason)
	require.Len(t, resp.ToolResults, 3)
	require.EqualValues(t, 4, h.prov.Calls.Load())

	// The capped response still carried tool calls; it must land in the
	// transcript without them so the wire history stays valid.
	msgs := h.store.Get("s1").Messages()
	last := msgs[len(msgs)-1]
	require.Equal(t, llm.RoleAssistant, last.Role)
	require.Empty(t, last.ToolCalls)
	require.Equal(t, "still working", last.Content)
}

func TestRunChatModeUsesChatIterationCap(t *testing.T) {
	n := 0
	h := newTestEngine(t, func(_ context.Context, _ llm.ChatRequest) (llm.ChatResponse, error) {
		n++
		return toolCallResponse(
			"<think>Analysis: the answer needs another lookup.\nPlan: issue one more echo call.</think>looking",
			echoCall(fmt.Sprintf("chat-%d", n), "more"),
		), nil
	}, func(o *Options) {
		o.Loop = config.LoopConfig{AgentMaxIterations: 9, ChatMaxIterations: 2}
	})

	resp, err := h.engine.Run(context.Background(), Request{SessionID: "s1", Mode: ModeChat, Prompt: "what is in the config"}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, resp.Iterations)
	require.Equal(t, "max_iterations", resp.FinishReason)
	require.EqualValues(t, 3, h.prov.Calls.Load())
}

func TestRunCorrectsDeferralAnnouncement(t *testing.T) {
	var requests []llm.ChatRequest
	var mu sync.Mutex
	n := 0
	h := newTestEngine(t, func(_ context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
		mu.Lock()
		requests = append(requests, req)
		n++
		call := n
		mu.Unlock()
		switch call {
		case 1:
			return textResponse("I will now implement the requested change."), nil
		case 2:
			return toolCallResponse("", echoCall("call-1", "the fix")), nil
		default:
			return textResponse("<think>Analysis: the echo tool applied the change text.\nPlan: confirm completion.</think>change applied"), nil
		}
	})

	resp, err := h.engine.Run(context.Background(), Request{SessionID: "s1", Prompt: "apply the fix"}, nil)
	require.NoError(t, err)
	require.True(t, resp.Corrected)
	require.Equal(t, "change applied", resp.Message.Content)
	require.EqualValues(t, 3, h.prov.Calls.Load())

	// The corrective exchange is part of the durable transcript.
	msgs := h.store.Get("s1").Messages()
	require.Len(t, msgs, 6)
	require.Equal(t, "I will now implement the requested change.", msgs[1].Content)
	require.Equal(t, llm.RoleUser, msgs[2].Role)
	require.Equal(t, correctiveToolUsePrompt, msgs[2].Content)

	// The re-ask carried the corrective prompt as the latest message.
	second := requests[1]
	require.Equal(t, correctiveToolUsePrompt, second.Messages[len(second.Messages)-1].Content)
}

func TestRunCorrectsDeferralOnlyOnce(t *testing.T) {
	n := 0
	h := newTestEngine(t, func(_ context.Context, _ llm.ChatRequest) (llm.ChatResponse, error) {
		n++
		if n == 1 {
			return textResponse("I will now implement the parser change."), nil
		}
		return textResponse("I'll now make the changes to the remaining files."), nil
	})

	resp, err := h.engine.Run(context.Background(), Request{SessionID: "s1", Prompt: "change the parser"}, nil)
	require.NoError(t, err)
	require.True(t, resp.Corrected)
	require.Equal(t, "I'll now make the changes to the remaining files.", resp.Message.Content)
	require.EqualValues(t, 2, h.prov.Calls.Load())
}

func TestRunChatModeSkipsDeferralCorrection(t *testing.T) {
	h := newTestEngine(t, func(_ context.Context, _ llm.ChatRequest) (llm.ChatResponse, error) {
		return textResponse("I will now implement the fix."), nil
	})

	resp, err := h.engine.Run(context.Background(), Request{SessionID: "s1", Mode: ModeChat, Prompt: "how would you fix it"}, nil)
	require.NoError(t, err)
	require.False(t, resp.Corrected)
	require.Equal(t, "I will now implement the fix.", resp.Message.Content)
	require.EqualValues(t, 1, h.prov.Calls.Load())
}

func TestRunSkipsExternallyCancelledCalls(t *testing.T) {
	h := newTestEngine(t, func(_ context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
		if len(req.Messages) > 0 && req.Messages[len(req.Messages)-1].Role == llm.RoleTool {
			return textResponse("<think>Analysis: one call was cancelled before running.\nPlan: report the surviving result.</think>done"), nil
		}
		return toolCallResponse("",
			echoCall("call-doomed", "never runs"),
			echoCall("call-live", "runs"),
		), nil
	})

	h.engine.CancelCall(context.Background(), "s1", "call-doomed")

	resp, err := h.engine.Run(context.Background(), Request{SessionID: "s1", Prompt: "run both"}, nil)
	require.NoError(t, err)
	require.Len(t, resp.ToolResults, 2)

	doomed := resp.ToolResults[0]
	require.Equal(t, "call-doomed", doomed.ToolCallID)
	require.Equal(t, tools.StatusCancelled, doomed.Status)
	require.Equal(t, "failed: cancelled by user before execution", doomed.Message)

	live := resp.ToolResults[1]
	require.Equal(t, "call-live", live.ToolCallID)
	require.Equal(t, tools.StatusSuccess, live.Status)

	require.Equal(t, []string{"call-live"}, h.echo.executed())

	msgs := h.store.Get("s1").Messages()
	var foundDoomed bool
	for _, m := range msgs {
		if m.ToolCallID == "call-doomed" {
			foundDoomed = true
			require.Equal(t, history.ToolStatusCancelled, m.ToolStatus)
			require.Equal(t, "failed: cancelled by user before execution", m.Content)
		}
	}
	require.True(t, foundDoomed)
}

func TestRunRepairsUnstructuredReasoningOnce(t *testing.T) {
	var requests []llm.ChatRequest
	var mu sync.Mutex
	n := 0
	h := newTestEngine(t, func(_ context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
		mu.Lock()
		requests = append(requests, req)
		n++
		call := n
		mu.Unlock()
		if call == 1 {
			return textResponse("<think>thinking out loud with no structure at all</think>draft answer"), nil
		}
		return textResponse("<think>Analysis: the draft skipped the required sections.\nPlan: restate the answer with structure.</think>final answer"), nil
	})

	resp, err := h.engine.Run(context.Background(), Request{SessionID: "s1", Prompt: "explain the change"}, nil)
	require.NoError(t, err)
	require.Equal(t, "final answer", resp.Message.Content)
	require.Contains(t, resp.Message.Reasoning, "Plan:")
	require.EqualValues(t, 2, h.prov.Calls.Load())

	// The repair exchange is ephemeral: the flawed draft and the repair
	// instruction never land in the transcript.
	msgs := h.store.Get("s1").Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, llm.RoleUser, msgs[0].Role)
	require.Equal(t, "final answer", msgs[1].Content)

	repair := requests[1]
	last := repair.Messages[len(repair.Messages)-1]
	require.Equal(t, structureRepairPrompt, last.Content)
	flawed := repair.Messages[len(repair.Messages)-2]
	require.Equal(t, llm.RoleAssistant, flawed.Role)
	require.Contains(t, flawed.Content, "draft answer")
}

func TestRunQualityRepairNeverLoops(t *testing.T) {
	var requests []llm.ChatRequest
	var mu sync.Mutex
	n := 0
	h := newTestEngine(t, func(_ context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
		mu.Lock()
		requests = append(requests, req)
		n++
		call := n
		mu.Unlock()
		if call == 1 {
			return textResponse("<think>Analysis: TBD\nPlan: TBD</think>first try"), nil
		}
		// Still placeholder-grade; the pass must not run again.
		return textResponse("<think>Analysis: TBD\nPlan: TBD</think>second try"), nil
	})

	resp, err := h.engine.Run(context.Background(), Request{SessionID: "s1", Prompt: "explain"}, nil)
	require.NoError(t, err)
	require.Equal(t, "second try", resp.Message.Content)
	require.EqualValues(t, 2, h.prov.Calls.Load())

	last := requests[1].Messages[len(requests[1].Messages)-1]
	require.Equal(t, qualityRepairPrompt, last.Content)
}

func TestRunRepairPassesRunInSequence(t *testing.T) {
	n := 0
	h := newTestEngine(t, func(_ context.Context, _ llm.ChatRequest) (llm.ChatResponse, error) {
		n++
		switch n {
		case 1:
			return textResponse("<think>no structure here</think>v1"), nil
		case 2:
			return textResponse("<think>Analysis: x\nPlan: y</think>v2"), nil
		default:
			return textResponse("<think>Analysis: the fix is a one line change.\nPlan: describe the change directly.</think>v3"), nil
		}
	})

	resp, err := h.engine.Run(context.Background(), Request{SessionID: "s1", Prompt: "summarize"}, nil)
	require.NoError(t, err)
	require.Equal(t, "v3", resp.Message.Content)
	require.EqualValues(t, 3, h.prov.Calls.Load())
}

func TestRunRejectsEmptyPrompt(t *testing.T) {
	h := newTestEngine(t, nil)

	_, err := h.engine.Run(context.Background(), Request{SessionID: "s1", Prompt: "   "}, nil)
	require.EqualError(t, err, "prompt must not be empty")
	require.EqualValues(t, 0, h.prov.Calls.Load())
}

func TestRunFailedTurnLeavesNoTranscriptTrace(t *testing.T) {
	h := newTestEngine(t, func(_ context.Context, _ llm.ChatRequest) (llm.ChatResponse, error) {
		return llm.ChatResponse{}, errors.New("backend down")
	})

	_, err := h.engine.Run(context.Background(), Request{SessionID: "s1", Prompt: "hello"}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "run turn")
	require.EqualValues(t, 3, h.prov.Calls.Load())
	require.Equal(t, 0, h.store.Get("s1").Len())
}

func TestRunFoldsTranscriptBeforeTurn(t *testing.T) {
	h := newTestEngine(t, func(_ context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
		if len(req.Messages) > 0 && strings.Contains(req.Messages[0].Content, "You compress conversation history") {
			return textResponse("the user renamed the parser and asked for tests"), nil
		}
		return textResponse("done"), nil
	}, func(o *Options) {
		o.History = config.HistoryConfig{FoldThreshold: 4, FoldKeepRecent: 2}
	})

	tr := h.store.Get("s-fold")
	for i := 0; i < 5; i++ {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		tr.AppendChat(llm.ChatMessage{Role: role, Content: fmt.Sprintf("note %d", i)})
	}

	_, err := h.engine.Run(context.Background(), Request{SessionID: "s-fold", Prompt: "continue"}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, tr.Folds())
	require.EqualValues(t, 2, h.prov.Calls.Load())

	msgs := tr.Messages()
	require.Equal(t, llm.RoleSystem, msgs[0].Role)
	require.Contains(t, msgs[0].Content, "Summary of earlier conversation:")
	require.Contains(t, msgs[0].Content, "renamed the parser")
	// summary + 2 kept + new user/assistant pair
	require.Len(t, msgs, 5)
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	h := newTestEngine(t, func(_ context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
		if len(req.Messages) > 0 && req.Messages[len(req.Messages)-1].Role == llm.RoleTool {
			return textResponse("<think>Analysis: the echo call succeeded cleanly.\nPlan: hand the payload back.</think>finished"), nil
		}
		return toolCallResponse("", echoCall("call-1", "ping")), nil
	})

	log := &eventLog{}
	_, err := h.engine.Run(context.Background(), Request{SessionID: "s1", Prompt: "ping"}, log.sink())
	require.NoError(t, err)

	toolEvents := log.ofType(EventToolResult)
	require.NotEmpty(t, toolEvents)
	require.Equal(t, tools.StatusExecuting, toolEvents[0].Result.Status)
	require.Equal(t, tools.StatusSuccess, toolEvents[len(toolEvents)-1].Result.Status)
	require.Equal(t, "call-1", toolEvents[len(toolEvents)-1].Result.ToolCallID)

	assistants := log.ofType(EventAssistant)
	require.Len(t, assistants, 2)
	require.Equal(t, "finished", assistants[1].Message)

	turns := log.ofType(EventTurnComplete)
	require.Len(t, turns, 1)
	require.Equal(t, "finished", turns[0].Message)
}
