package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/internal/rpc"
)

// Runner executes a task and yields streamed events.
type Runner interface {
	Run(r *http.Request, req rpc.RunTaskRequest) (<-chan rpc.RunTaskEvent, error)
}

// CallCanceller is implemented by runners that can abort one in-flight
// tool call while the run keeps going.
type CallCanceller interface {
	CancelCall(ctx context.Context, sessionID, callID string)
}

// Handler processes RunTask requests and streams NDJSON events.
type Handler struct {
	runner  Runner
	metrics *observability.Metrics
}

// NewHandler constructs a handler instance.
func NewHandler(runner Runner, metrics *observability.Metrics) *Handler {
	return &Handler{runner: runner, metrics: metrics}
}

// ServeHTTP handles POST /agent/run with an NDJSON stream of RunTaskEvent.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.fail(w, "method_not_allowed", "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.metrics != nil {
		h.metrics.IncActiveSessions("ndjson")
		defer h.metrics.DecActiveSessions("ndjson")
	}

	req, err := decodeRunRequest(r)
	if err != nil {
		h.fail(w, "decode", fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, err := h.start(r, req)
	if err != nil {
		h.fail(w, "runner_error", fmt.Sprintf("runner error: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	streamNDJSON(w, flusher, events)
}

func (h *Handler) fail(w http.ResponseWriter, reason, msg string, code int) {
	if h.metrics != nil {
		h.metrics.RecordTransportError("ndjson", reason)
	}
	http.Error(w, msg, code)
}

// decodeRunRequest parses the body and fills in session/correlation
// ids so every event can be attributed.
func decodeRunRequest(r *http.Request) (rpc.RunTaskRequest, error) {
	var req rpc.RunTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	if req.SessionID == "" {
		req.SessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	if req.CorrelationID == "" {
		req.CorrelationID = fmt.Sprintf("%s-corr", req.SessionID)
	}
	return req, nil
}

func (h *Handler) start(r *http.Request, req rpc.RunTaskRequest) (<-chan rpc.RunTaskEvent, error) {
	if h.runner == nil {
		return runTaskEcho(req), nil
	}
	return h.runner.Run(r, req)
}

// streamNDJSON writes one JSON line per event, flushing after each so
// clients observe progress as it happens. An encode failure abandons
// the stream; request cancellation unblocks the producer.
func streamNDJSON(w io.Writer, flusher http.Flusher, events <-chan rpc.RunTaskEvent) {
	writer := bufio.NewWriter(w)
	enc := json.NewEncoder(writer)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return
		}
		writer.Flush()
		flusher.Flush()
	}
}

// EchoRunner echoes the prompt back without an engine. Handlers built
// with a nil runner fall back to the same behaviour.
type EchoRunner struct{}

// Run implements Runner.
func (EchoRunner) Run(_ *http.Request, req rpc.RunTaskRequest) (<-chan rpc.RunTaskEvent, error) {
	return runTaskEcho(req), nil
}

// runTaskEcho simulates a run by echoing the prompt back. It keeps the
// transport exercisable before an engine is wired in.
func runTaskEcho(req rpc.RunTaskRequest) <-chan rpc.RunTaskEvent {
	out := make(chan rpc.RunTaskEvent, 16)
	go func() {
		defer close(out)
		out <- rpc.RunTaskEvent{
			Type:          rpc.EventAssistant,
			SessionID:     req.SessionID,
			CorrelationID: req.CorrelationID,
			Message:       "echo: " + strings.TrimSpace(req.Prompt),
		}
		out <- rpc.RunTaskEvent{
			Type:          rpc.EventDone,
			SessionID:     req.SessionID,
			CorrelationID: req.CorrelationID,
			Done:          true,
			FinishReason:  "stop",
		}
	}()
	return out
}
