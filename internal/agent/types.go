package agent

import (
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/tools"
)

// Mode selects how a turn is driven: agent mode runs the full tool
// loop, chat mode keeps a tighter iteration cap and no corrective
// re-ask.
type Mode string

const (
	ModeAgent Mode = "agent"
	ModeChat  Mode = "chat"
)

// Phase identifies one stage of an orchestrated task run.
type Phase string

const (
	PhaseArchitect Phase = "architect"
	PhasePlanner   Phase = "planner"
	PhaseWorker    Phase = "worker"
	PhaseReviewer  Phase = "reviewer"
	PhaseVerifier  Phase = "verifier"
	PhaseFinalizer Phase = "finalizer"
)

// ContextFile is a user supplied file to include in the prompt.
type ContextFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Request describes a turn submitted by a client.
type Request struct {
	SessionID string        `json:"session_id"`
	Mode      Mode          `json:"mode,omitempty"`
	Model     string        `json:"model,omitempty"`
	Prompt    string        `json:"prompt"`
	Context   []ContextFile `json:"context,omitempty"`
}

// Response is the terminal result of one turn.
type Response struct {
	SessionID    string          `json:"session_id"`
	Message      llm.ChatMessage `json:"message"`
	FinishReason string          `json:"finish_reason,omitempty"`
	ModelID      string          `json:"model_id,omitempty"`
	Iterations   int             `json:"iterations"`
	ToolResults  []tools.Result  `json:"tool_results,omitempty"`
	Corrected    bool            `json:"corrected,omitempty"`
}

// PhaseOutcome records what one orchestrator phase produced.
type PhaseOutcome struct {
	Phase      Phase  `json:"phase"`
	ModelID    string `json:"model_id,omitempty"`
	Output     string `json:"output,omitempty"`
	Iterations int    `json:"iterations"`
	Complete   bool   `json:"complete"`
}

// TaskResult is the terminal result of a six-phase task run.
type TaskResult struct {
	SessionID string         `json:"session_id"`
	Phases    []PhaseOutcome `json:"phases"`
	Final     string         `json:"final"`
}

// Event types emitted while a turn or task is in flight.
const (
	EventAssistant       = "assistant"
	EventToolResult      = "tool_result"
	EventPhaseStart      = "phase_start"
	EventPhaseComplete   = "phase_complete"
	EventPhaseIncomplete = "phase_incomplete"
	EventTurnComplete    = "turn_complete"
)

// Event is a progress notification surfaced to transports. Tool
// envelopes ride along unchanged so clients can correlate by call id.
type Event struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id,omitempty"`
	Phase     Phase         `json:"phase,omitempty"`
	Iteration int           `json:"iteration,omitempty"`
	ModelID   string        `json:"model_id,omitempty"`
	Message   string        `json:"message,omitempty"`
	Result    *tools.Result `json:"result,omitempty"`
}

// EventSink receives events as they happen. A nil sink is valid.
type EventSink func(Event)

func emit(sink EventSink, ev Event) {
	if sink != nil {
		sink(ev)
	}
}
