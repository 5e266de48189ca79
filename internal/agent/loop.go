package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Run executes one chat or agent turn: send, execute any requested
// tools, re-send, bounded by the mode's iteration cap, then the
// post-hoc reasoning correction passes.
func (e *Engine) Run(ctx context.Context, req Request, sink EventSink) (Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Response{}, errors.New("prompt must not be empty")
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeAgent
	}

	t := e.store.Get(req.SessionID)
	e.fold(ctx, t)

	spec := loopSpec{
		role:            string(mode),
		model:           req.Model,
		system:          systemPromptFor(mode),
		prompt:          req.Prompt,
		context:         req.Context,
		executor:        e.executor,
		cap:             e.agentCap(),
		correctDeferral: mode == ModeAgent,
		repairReasoning: true,
		sink:            sink,
	}
	if mode == ModeChat {
		spec.cap = e.chatCap()
	}

	started := e.now()
	out, err := e.toolLoop(ctx, t, spec)
	if err != nil {
		e.metrics.RecordTurn(string(mode), "error", e.now().Sub(started))
		e.audit.Turn(ctx, t.ID(), string(mode), "error", out.iterations)
		return Response{}, fmt.Errorf("run turn: %w", err)
	}

	e.metrics.RecordTurn(string(mode), out.finishReason, e.now().Sub(started))
	e.audit.Turn(ctx, t.ID(), string(mode), out.finishReason, out.iterations)
	emit(sink, Event{
		Type:      EventTurnComplete,
		SessionID: t.ID(),
		ModelID:   out.modelID,
		Message:   out.message.Content,
	})

	return Response{
		SessionID:    t.ID(),
		Message:      out.message,
		FinishReason: out.finishReason,
		ModelID:      out.modelID,
		Iterations:   out.iterations,
		ToolResults:  out.results,
		Corrected:    out.corrected,
	}, nil
}

func systemPromptFor(mode Mode) string {
	if mode == ModeChat {
		return buildChatSystemPrompt()
	}
	return buildAgentSystemPrompt()
}
