package agent

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loomworks/loom/internal/audit"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/history"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/internal/tools"
)

const (
	defaultAgentIterations = 12
	defaultChatIterations  = 5
	defaultWorkerCap       = 12
	defaultReviewerCap     = 3
	defaultVerifierCap     = 3
)

// Engine drives conversation turns end to end: backend exchanges
// through the gateway, tool execution through the coordinator, and
// transcript upkeep through the history store. One engine serves every
// session.
type Engine struct {
	gateway  *Gateway
	executor *tools.Executor
	store    *history.Store
	cancels  *CancelRegistry
	metrics  *observability.Metrics
	audit    *audit.Recorder
	logger   *zap.Logger
	loopCfg  config.LoopConfig
	phases   config.PhasesConfig
	histCfg  config.HistoryConfig
	now      func() time.Time
}

// Options wires engine collaborators. Gateway and Executor are
// required; everything else has a working default.
type Options struct {
	Gateway  *Gateway
	Executor *tools.Executor
	Store    *history.Store
	Metrics  *observability.Metrics
	Audit    *audit.Recorder
	Logger   *zap.Logger
	Loop     config.LoopConfig
	Phases   config.PhasesConfig
	History  config.HistoryConfig
}

// New builds an engine.
func New(opts Options) *Engine {
	e := &Engine{
		gateway:  opts.Gateway,
		executor: opts.Executor,
		store:    opts.Store,
		cancels:  NewCancelRegistry(),
		metrics:  opts.Metrics,
		audit:    opts.Audit,
		logger:   opts.Logger,
		loopCfg:  opts.Loop,
		phases:   opts.Phases,
		histCfg:  opts.History,
		now:      time.Now,
	}
	if e.store == nil {
		e.store = history.NewStore()
	}
	if e.audit == nil {
		e.audit = audit.NewRecorder(nil, nil)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Transcript returns the session transcript, creating it on first use.
func (e *Engine) Transcript(sessionID string) *history.Transcript {
	return e.store.Get(sessionID)
}

// CancelCall cancels one tool call wherever it currently is: flagged
// ahead of execution, flagged in the watchdog when in flight, and
// rewritten in place when its result message already landed.
func (e *Engine) CancelCall(ctx context.Context, sessionID, callID string) {
	if callID == "" {
		return
	}
	e.cancels.Add(callID)
	if e.executor != nil {
		e.executor.Cancel(callID)
	}
	if sessionID == "" {
		return
	}
	t := e.store.Get(sessionID)
	if t.UpdateToolStatus(callID, history.ToolStatusCancelled, "failed: cancelled by user") {
		e.audit.Cancellation(ctx, sessionID, callID, "")
	}
}

func (e *Engine) agentCap() int {
	if e.loopCfg.AgentMaxIterations > 0 {
		return e.loopCfg.AgentMaxIterations
	}
	return defaultAgentIterations
}

func (e *Engine) chatCap() int {
	if e.loopCfg.ChatMaxIterations > 0 {
		return e.loopCfg.ChatMaxIterations
	}
	return defaultChatIterations
}

func (e *Engine) workerCap() int {
	if e.phases.WorkerCap > 0 {
		return e.phases.WorkerCap
	}
	return defaultWorkerCap
}

func (e *Engine) reviewerCap() int {
	if e.phases.ReviewerCap > 0 {
		return e.phases.ReviewerCap
	}
	return defaultReviewerCap
}

func (e *Engine) verifierCap() int {
	if e.phases.VerifierCap > 0 {
		return e.phases.VerifierCap
	}
	return defaultVerifierCap
}

// fold compacts the transcript when it crossed the configured
// threshold. Failures are logged and retried on a later turn.
func (e *Engine) fold(ctx context.Context, t *history.Transcript) {
	if e.histCfg.FoldThreshold <= 0 {
		return
	}
	folded, err := t.FoldIfNeeded(ctx, e.gateway, e.histCfg.FoldThreshold, e.histCfg.FoldKeepRecent)
	if err != nil {
		e.logger.Warn("transcript fold failed", zap.String("session", t.ID()), zap.Error(err))
		return
	}
	if folded {
		e.metrics.RecordHistoryFold()
		e.audit.HistoryFold(ctx, t.ID(), t.Folds())
	}
}

// loopSpec configures one bounded tool loop.
type loopSpec struct {
	role    string
	model   string
	phase   Phase
	system  string
	prompt  string
	context []ContextFile
	// executor runs this loop's tool calls; phase loops carry a
	// registry-restricted copy.
	executor *tools.Executor
	cap      int
	// expensiveUsed feeds budget demotion on every send.
	expensiveUsed int
	// correctDeferral re-asks once when the initial response announces
	// work without calling tools.
	correctDeferral bool
	// repairReasoning enables the post-loop structure and quality
	// passes, one exchange each.
	repairReasoning bool
	// singleExchange executes the first batch of tool calls but never
	// re-sends (planner style).
	singleExchange bool
	// noTools advertises no tools and ignores hallucinated calls.
	noTools bool
	sink    EventSink
}

// loopOutcome is what one bounded tool loop produced.
type loopOutcome struct {
	message      llm.ChatMessage
	finishReason string
	modelID      string
	iterations   int
	results      []tools.Result
	corrected    bool
	complete     bool
}

// toolLoop runs the send/execute/append/re-send cycle against one
// transcript until the model stops calling tools or the iteration cap
// is reached. The user prompt lands in the transcript only after the
// first exchange succeeds, so a failed turn leaves no trace.
func (e *Engine) toolLoop(ctx context.Context, t *history.Transcript, spec loopSpec) (loopOutcome, error) {
	out := loopOutcome{complete: true}

	var toolSpecs []llm.ToolSpec
	if !spec.noTools && spec.executor != nil {
		toolSpecs = tools.ToolSpecs(spec.executor.Registry())
	}

	send := func(prompt string, ctxFiles []ContextFile) (llm.ChatResponse, error) {
		resp, route, err := e.gateway.Send(ctx, SendSpec{
			Role:          spec.role,
			Model:         spec.model,
			System:        spec.system,
			History:       t.ChatMessages(),
			Prompt:        prompt,
			Context:       ctxFiles,
			Tools:         toolSpecs,
			ExpensiveUsed: spec.expensiveUsed,
		})
		if err != nil {
			return llm.ChatResponse{}, err
		}
		out.modelID = route.Name
		return resp, nil
	}

	resp, err := send(spec.prompt, spec.context)
	if err != nil {
		return out, err
	}
	if strings.TrimSpace(spec.prompt) != "" {
		t.AppendChat(llm.ChatMessage{Role: llm.RoleUser, Content: spec.prompt})
	}

	if spec.correctDeferral && len(resp.Message.ToolCalls) == 0 {
		if visible, reasoning := splitReasoning(resp.Message.Content); announcesWithoutActing(visible) {
			t.Append(history.Message{Role: llm.RoleAssistant, Content: visible, Reasoning: reasoning})
			t.AppendChat(llm.ChatMessage{Role: llm.RoleUser, Content: correctiveToolUsePrompt})
			out.corrected = true
			resp, err = send("", nil)
			if err != nil {
				return out, err
			}
		}
	}

	terminalAppended := false
	for len(resp.Message.ToolCalls) > 0 {
		if spec.noTools {
			// The phase advertises no tools; drop the hallucinated calls.
			break
		}
		if out.iterations >= spec.cap {
			out.complete = false
			break
		}

		visible, reasoning := splitReasoning(resp.Message.Content)
		t.Append(history.Message{
			Role:      llm.RoleAssistant,
			Content:   visible,
			Reasoning: reasoning,
			ToolCalls: resp.Message.ToolCalls,
		})
		emit(spec.sink, Event{
			Type:      EventAssistant,
			SessionID: t.ID(),
			Phase:     spec.phase,
			Iteration: out.iterations,
			ModelID:   out.modelID,
			Message:   visible,
		})

		out.results = append(out.results, e.executeBatch(ctx, t, spec, resp.Message.ToolCalls)...)
		out.iterations++

		if spec.singleExchange {
			terminalAppended = true
			break
		}
		resp, err = send("", nil)
		if err != nil {
			return out, err
		}
	}

	if spec.repairReasoning && !terminalAppended {
		if _, reasoning := splitReasoning(resp.Message.Content); missingStructure(reasoning) {
			resp = e.repairPass(ctx, t, spec, resp, structureRepairPrompt)
		}
		if _, reasoning := splitReasoning(resp.Message.Content); poorQuality(reasoning) {
			resp = e.repairPass(ctx, t, spec, resp, qualityRepairPrompt)
		}
	}

	visible, reasoning := splitReasoning(resp.Message.Content)
	if !terminalAppended {
		t.Append(history.Message{Role: llm.RoleAssistant, Content: visible, Reasoning: reasoning})
		emit(spec.sink, Event{
			Type:      EventAssistant,
			SessionID: t.ID(),
			Phase:     spec.phase,
			Iteration: out.iterations,
			ModelID:   out.modelID,
			Message:   visible,
		})
	}

	out.message = llm.ChatMessage{Role: llm.RoleAssistant, Content: visible, Reasoning: reasoning}
	out.finishReason = resp.FinishReason
	if out.finishReason == "" {
		out.finishReason = "stop"
	}
	if !out.complete {
		out.finishReason = "max_iterations"
	}
	return out, nil
}

// executeBatch runs one batch of model-requested tool calls: ids
// cancelled ahead of execution are marked failed without running, the
// rest go through the coordinator, and every terminal result is
// appended to the transcript.
func (e *Engine) executeBatch(ctx context.Context, t *history.Transcript, spec loopSpec, calls []llm.ToolCall) []tools.Result {
	pending := make([]tools.Call, 0, len(calls))
	results := make([]tools.Result, 0, len(calls))

	for _, tc := range calls {
		if e.cancels.Consume(tc.ID) {
			e.metrics.RecordCancellation()
			e.audit.Cancellation(ctx, t.ID(), tc.ID, tc.Function.Name)
			results = append(results, tools.Result{
				ToolCallID: tc.ID,
				ToolName:   tc.Function.Name,
				Status:     tools.StatusCancelled,
				Message:    "failed: cancelled by user before execution",
			})
			continue
		}
		args, err := tc.Args()
		if err != nil {
			results = append(results, tools.Result{
				ToolCallID: tc.ID,
				ToolName:   tc.Function.Name,
				Status:     tools.StatusFailure,
				Message:    err.Error(),
			})
			continue
		}
		pending = append(pending, tools.Call{
			ID:        tc.ID,
			SessionID: t.ID(),
			Name:      tc.Function.Name,
			Args:      args,
		})
	}

	if len(pending) > 0 {
		results = append(results, spec.executor.ExecuteAll(ctx, pending, func(r tools.Result) {
			emit(spec.sink, Event{Type: EventToolResult, SessionID: t.ID(), Phase: spec.phase, Result: &r})
		})...)
	}

	for i := range results {
		t.AppendToolResult(results[i].ToolCallID, results[i].ToolName, results[i].Status, results[i].Content())
		emit(spec.sink, Event{Type: EventToolResult, SessionID: t.ID(), Phase: spec.phase, Result: &results[i]})
	}
	return results
}

// repairPass runs one ephemeral corrective exchange: the flawed answer
// and the repair instruction are sent without being recorded, and only
// the corrected answer is kept. Falls back to the original response
// when the exchange fails or comes back empty.
func (e *Engine) repairPass(ctx context.Context, t *history.Transcript, spec loopSpec, current llm.ChatResponse, prompt string) llm.ChatResponse {
	hist := t.ChatMessages()
	hist = append(hist,
		llm.ChatMessage{Role: llm.RoleAssistant, Content: current.Message.Content},
		llm.ChatMessage{Role: llm.RoleUser, Content: prompt},
	)
	resp, _, err := e.gateway.Send(ctx, SendSpec{
		Role:          spec.role,
		Model:         spec.model,
		System:        spec.system,
		History:       hist,
		ExpensiveUsed: spec.expensiveUsed,
	})
	if err != nil {
		e.logger.Warn("reasoning repair pass failed", zap.String("session", t.ID()), zap.Error(err))
		return current
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return current
	}
	if resp.FinishReason == "" {
		resp.FinishReason = current.FinishReason
	}
	return resp
}
