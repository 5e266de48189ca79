package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the orchestration engine and daemon.
type Metrics struct {
	registry         *prometheus.Registry
	Turns            *prometheus.CounterVec
	TurnDuration     *prometheus.HistogramVec
	ToolExecutions   *prometheus.CounterVec
	ToolDuration     *prometheus.HistogramVec
	BackendRetries   prometheus.Counter
	WatchdogTimeouts *prometheus.CounterVec
	Cancellations    prometheus.Counter
	PhaseTransitions *prometheus.CounterVec
	IncompletePhases *prometheus.CounterVec
	HistoryFolds     prometheus.Counter
	ActiveSession    *prometheus.GaugeVec
	TransportErrs    *prometheus.CounterVec
	ModelUsage       *prometheus.CounterVec
	TokenUsage       *prometheus.CounterVec
}

// NewMetrics constructs a metrics registry with engine collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	turns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_turns_total",
		Help: "Conversation turns by mode and finish reason",
	}, []string{"mode", "finish_reason"})

	turnDurs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loom_turn_duration_seconds",
		Help:    "Conversation turn duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	toolExecs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_tool_executions_total",
		Help: "Tool executions by tool name and terminal status",
	}, []string{"tool", "status"})

	toolDurs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loom_tool_duration_seconds",
		Help:    "Tool execution duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loom_backend_retries_total",
		Help: "Backend call retries after a failed attempt",
	})

	timeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_watchdog_timeouts_total",
		Help: "Tool invocations cut off by the liveness watchdog",
	}, []string{"tool"})

	cancels := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loom_cancellations_total",
		Help: "Externally cancelled tool invocations",
	})

	phases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_phase_transitions_total",
		Help: "Orchestrator phase entries",
	}, []string{"phase"})

	incomplete := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_incomplete_phases_total",
		Help: "Phases that hit their iteration cap with tool calls still pending",
	}, []string{"phase"})

	folds := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loom_history_folds_total",
		Help: "Transcript folds performed by the history coordinator",
	})

	active := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loom_transport_active_sessions",
		Help: "Active streaming sessions by transport",
	}, []string{"transport"})

	trErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_transport_errors_total",
		Help: "Transport-level errors (handler/streaming) by transport and reason",
	}, []string{"transport", "reason"})

	modelUsage := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_model_usage_total",
		Help: "Model selections by phase or mode",
	}, []string{"role", "model"})

	tokenUsage := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_token_usage_total",
		Help: "Tokens consumed by model and direction (prompt/completion)",
	}, []string{"model", "kind"})

	reg.MustRegister(turns, turnDurs, toolExecs, toolDurs, retries, timeouts, cancels,
		phases, incomplete, folds, active, trErrors, modelUsage, tokenUsage)

	return &Metrics{
		registry:         reg,
		Turns:            turns,
		TurnDuration:     turnDurs,
		ToolExecutions:   toolExecs,
		ToolDuration:     toolDurs,
		BackendRetries:   retries,
		WatchdogTimeouts: timeouts,
		Cancellations:    cancels,
		PhaseTransitions: phases,
		IncompletePhases: incomplete,
		HistoryFolds:     folds,
		ActiveSession:    active,
		TransportErrs:    trErrors,
		ModelUsage:       modelUsage,
		TokenUsage:       tokenUsage,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTurn records one finished conversation turn.
func (m *Metrics) RecordTurn(mode, finishReason string, duration time.Duration) {
	if m == nil {
		return
	}
	if mode == "" {
		mode = "unknown"
	}
	if finishReason == "" {
		finishReason = "unknown"
	}
	m.Turns.WithLabelValues(mode, finishReason).Inc()
	m.TurnDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordToolExecution records a terminal tool result.
func (m *Metrics) RecordToolExecution(tool, status string, duration time.Duration) {
	if m == nil {
		return
	}
	if tool == "" {
		tool = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordBackendRetry counts one backend retry.
func (m *Metrics) RecordBackendRetry() {
	if m == nil {
		return
	}
	m.BackendRetries.Inc()
}

// RecordWatchdogTimeout counts a liveness timeout for a tool.
func (m *Metrics) RecordWatchdogTimeout(tool string) {
	if m == nil {
		return
	}
	if tool == "" {
		tool = "unknown"
	}
	m.WatchdogTimeouts.WithLabelValues(tool).Inc()
}

// RecordCancellation counts an externally cancelled invocation.
func (m *Metrics) RecordCancellation() {
	if m == nil {
		return
	}
	m.Cancellations.Inc()
}

// RecordPhaseTransition counts entry into an orchestrator phase.
func (m *Metrics) RecordPhaseTransition(phase string) {
	if m == nil {
		return
	}
	if phase == "" {
		phase = "unknown"
	}
	m.PhaseTransitions.WithLabelValues(phase).Inc()
}

// RecordIncompletePhase counts a phase that exhausted its iteration cap.
func (m *Metrics) RecordIncompletePhase(phase string) {
	if m == nil {
		return
	}
	if phase == "" {
		phase = "unknown"
	}
	m.IncompletePhases.WithLabelValues(phase).Inc()
}

// RecordHistoryFold counts one transcript fold.
func (m *Metrics) RecordHistoryFold() {
	if m == nil {
		return
	}
	m.HistoryFolds.Inc()
}

// IncActiveSessions increments the active session gauge.
func (m *Metrics) IncActiveSessions(transport string) {
	if m == nil {
		return
	}
	m.ActiveSession.WithLabelValues(transport).Inc()
}

// DecActiveSessions decrements the active session gauge.
func (m *Metrics) DecActiveSessions(transport string) {
	if m == nil {
		return
	}
	m.ActiveSession.WithLabelValues(transport).Dec()
}

// RecordTransportError records a transport-level error.
func (m *Metrics) RecordTransportError(transport, reason string) {
	if m == nil {
		return
	}
	if transport == "" {
		transport = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	m.TransportErrs.WithLabelValues(transport, reason).Inc()
}

// RecordModelUsage increments usage counter for a role/model selection.
func (m *Metrics) RecordModelUsage(role, model string) {
	if m == nil {
		return
	}
	if role == "" {
		role = "unknown"
	}
	if model == "" {
		model = "unknown"
	}
	m.ModelUsage.WithLabelValues(role, model).Inc()
}

// RecordTokenUsage adds prompt and completion token counts for a model.
// Providers that do not report usage contribute zeros, which are skipped.
func (m *Metrics) RecordTokenUsage(model string, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	if model == "" {
		model = "unknown"
	}
	if promptTokens > 0 {
		m.TokenUsage.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.TokenUsage.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}
