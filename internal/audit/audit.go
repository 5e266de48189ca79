// Package audit persists an append-only trail of orchestration events.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event kinds recorded on the trail.
const (
	KindTurn            = "turn"
	KindToolExecution   = "tool_execution"
	KindPhaseTransition = "phase_transition"
	KindPhaseIncomplete = "phase_incomplete"
	KindCancellation    = "cancellation"
	KindTimeout         = "timeout"
	KindHistoryFold     = "history_fold"
)

// Event is one audit trail entry.
type Event struct {
	ID         string
	SessionID  string
	Kind       string
	ToolName   string
	ToolCallID string
	Phase      string
	Status     string
	DetailJSON string
	CreatedAt  int64
}

// Store persists events.
type Store interface {
	Record(ctx context.Context, ev Event) error
	ListBySession(ctx context.Context, sessionID string) ([]Event, error)
	Close() error
}

// Recorder writes events to a store and logs failures instead of
// propagating them. Auditing never aborts the work it observes.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

// NewRecorder wraps a store. A nil store records nothing.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	if store == nil {
		store = NopStore{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, logger: logger}
}

// Record persists one event, filling id and timestamp when absent.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().Unix()
	}
	if ev.DetailJSON == "" {
		ev.DetailJSON = "{}"
	}
	if err := r.store.Record(ctx, ev); err != nil {
		r.logger.Warn("audit record failed",
			zap.String("kind", ev.Kind),
			zap.String("session_id", ev.SessionID),
			zap.Error(err))
	}
}

// Turn records one finished conversation turn.
func (r *Recorder) Turn(ctx context.Context, sessionID, mode, finishReason string, iterations int) {
	r.Record(ctx, Event{
		SessionID:  sessionID,
		Kind:       KindTurn,
		Status:     finishReason,
		DetailJSON: marshalDetail(map[string]any{"mode": mode, "iterations": iterations}),
	})
}

// HistoryFold records one transcript compaction. folds is the
// transcript's total fold count after this one.
func (r *Recorder) HistoryFold(ctx context.Context, sessionID string, folds int) {
	r.Record(ctx, Event{
		SessionID:  sessionID,
		Kind:       KindHistoryFold,
		DetailJSON: marshalDetail(map[string]any{"folds": folds}),
	})
}

// ToolExecution records one tool call outcome.
func (r *Recorder) ToolExecution(ctx context.Context, sessionID, callID, tool, status string, detail any) {
	r.Record(ctx, Event{
		SessionID:  sessionID,
		Kind:       KindToolExecution,
		ToolName:   tool,
		ToolCallID: callID,
		Status:     status,
		DetailJSON: marshalDetail(detail),
	})
}

// PhaseTransition records entry into an orchestration phase.
func (r *Recorder) PhaseTransition(ctx context.Context, sessionID, phase string) {
	r.Record(ctx, Event{SessionID: sessionID, Kind: KindPhaseTransition, Phase: phase})
}

// PhaseIncomplete records a phase that hit its iteration cap with tool
// calls still pending.
func (r *Recorder) PhaseIncomplete(ctx context.Context, sessionID, phase string, detail any) {
	r.Record(ctx, Event{
		SessionID:  sessionID,
		Kind:       KindPhaseIncomplete,
		Phase:      phase,
		DetailJSON: marshalDetail(detail),
	})
}

// Cancellation records a user-initiated cancellation.
func (r *Recorder) Cancellation(ctx context.Context, sessionID, callID, tool string) {
	r.Record(ctx, Event{
		SessionID:  sessionID,
		Kind:       KindCancellation,
		ToolName:   tool,
		ToolCallID: callID,
	})
}

// Timeout records a watchdog-initiated abort.
func (r *Recorder) Timeout(ctx context.Context, sessionID, callID, tool string, timeoutSeconds int) {
	r.Record(ctx, Event{
		SessionID:  sessionID,
		Kind:       KindTimeout,
		ToolName:   tool,
		ToolCallID: callID,
		DetailJSON: marshalDetail(map[string]any{"timeout_seconds": timeoutSeconds}),
	})
}

func marshalDetail(detail any) string {
	if detail == nil {
		return "{}"
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return "{}"
	}
	return string(b)
}
