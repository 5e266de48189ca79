package rpc

import "github.com/loomworks/loom/internal/tools"

// RunTaskRequest is the top-level request for starting a turn or an
// orchestrated task on the daemon.
type RunTaskRequest struct {
	SessionID     string `json:"session_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	// Mode selects chat or agent loop behaviour; empty means agent.
	Mode  string `json:"mode,omitempty"`
	Model string `json:"model,omitempty"`
	// Task runs the six-phase pipeline instead of a single turn.
	Task   bool   `json:"task,omitempty"`
	Prompt string `json:"prompt"`
	// Context carries inline file attachments.
	Context []ContextFile `json:"context,omitempty"`
	// ContextPaths are resolved against the daemon sandbox and attached
	// alongside Context.
	ContextPaths []string `json:"context_paths,omitempty"`
}

// ContextFile is one file attached to a request.
type ContextFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Event types carried by RunTaskEvent.
const (
	EventAssistant       = "assistant"
	EventToolResult      = "tool_result"
	EventPhaseStart      = "phase_start"
	EventPhaseComplete   = "phase_complete"
	EventPhaseIncomplete = "phase_incomplete"
	EventTurnComplete    = "turn_complete"
	EventError           = "error"
	EventDone            = "done"
)

// RunTaskEvent streams back progress from the daemon. Tool envelopes
// ride along unchanged so clients can correlate by call id.
type RunTaskEvent struct {
	Type          string        `json:"type"`
	SessionID     string        `json:"session_id,omitempty"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	Phase         string        `json:"phase,omitempty"`
	Iteration     int           `json:"iteration,omitempty"`
	ModelID       string        `json:"model_id,omitempty"`
	Message       string        `json:"message,omitempty"`
	Result        *tools.Result `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
	Done          bool          `json:"done,omitempty"`
	FinishReason  string        `json:"finish_reason,omitempty"`
}

// RunTaskStreamRequest is the bidirectional stream payload for Connect
// RPC. The first message must contain the Run task; later messages
// carry control signals. Cancel with a ToolCallID aborts that one call
// and leaves the run going; Cancel without one stops the whole run.
type RunTaskStreamRequest struct {
	Run           *RunTaskRequest `json:"run,omitempty"`
	Cancel        bool            `json:"cancel,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	ToolCallID    string          `json:"tool_call_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}
