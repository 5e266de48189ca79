package tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/loomworks/loom/internal/audit"
	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/internal/schedule"
	"github.com/loomworks/loom/internal/watchdog"
)

// Call is one model-requested tool invocation.
type Call struct {
	ID        string
	SessionID string
	Name      string
	Args      map[string]any
}

// Executor coordinates tool calls end to end: name resolution, argument
// merging, scheduling, liveness supervision and result envelopes. One
// executor serves every session.
type Executor struct {
	registry       *Registry
	sched          *schedule.Scheduler
	dog            *watchdog.Watchdog
	metrics        *observability.Metrics
	audit          *audit.Recorder
	logger         *zap.Logger
	contextArgs    map[string]any
	defaultTimeout int
	progressPerSec float64
	progressBurst  int
}

// ExecutorOptions carries optional executor collaborators.
type ExecutorOptions struct {
	Metrics *observability.Metrics
	Audit   *audit.Recorder
	Logger  *zap.Logger
	// ContextArgs are resolver-level values merged into every call's
	// arguments, below model args.
	ContextArgs map[string]any
	// DefaultTimeoutSeconds applies when a call does not carry its own
	// timeoutSeconds argument. Clamped to the watchdog's bounds.
	DefaultTimeoutSeconds int
	// ProgressEventsPerSec throttles executing envelopes per call.
	ProgressEventsPerSec float64
}

// NewExecutor builds an executor over a registry, scheduler and watchdog.
func NewExecutor(reg *Registry, sched *schedule.Scheduler, dog *watchdog.Watchdog, opts ExecutorOptions) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rec := opts.Audit
	if rec == nil {
		rec = audit.NewRecorder(nil, nil)
	}
	perSec := opts.ProgressEventsPerSec
	if perSec <= 0 {
		perSec = 5
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return &Executor{
		registry:       reg,
		sched:          sched,
		dog:            dog,
		metrics:        opts.Metrics,
		audit:          rec,
		logger:         logger,
		contextArgs:    opts.ContextArgs,
		defaultTimeout: watchdog.ClampTimeout(opts.DefaultTimeoutSeconds),
		progressPerSec: perSec,
		progressBurst:  burst,
	}
}

// Registry exposes the executor's tool registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// WithRegistry returns a shallow copy of the executor bound to a
// different registry. Used for phase-restricted toolsets.
func (e *Executor) WithRegistry(reg *Registry) *Executor {
	clone := *e
	clone.registry = reg
	return &clone
}

// Cancel flags an in-flight call for cancellation.
func (e *Executor) Cancel(callID string) {
	e.dog.Cancel(callID)
}

// ExecuteAll runs every call and returns one terminal result per call,
// in input order, each correlated by ToolCallID. Calls run concurrently
// under the scheduler's read and write constraints; onProgress may be
// invoked from multiple goroutines.
func (e *Executor) ExecuteAll(ctx context.Context, calls []Call, onProgress func(Result)) []Result {
	results := make([]Result, len(calls))
	var wg sync.WaitGroup
	for i := range calls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.Execute(ctx, calls[i], onProgress)
		}(i)
	}
	wg.Wait()
	return results
}

// Execute runs one call to a terminal result. The result is never an
// error: every failure mode is folded into the envelope so the loop can
// always hand something back to the model.
func (e *Executor) Execute(ctx context.Context, call Call, onProgress func(Result)) Result {
	started := time.Now()

	tool, resolvedName, err := Resolve(e.registry, call.Name)
	if err != nil {
		return e.record(ctx, call, call.Name, started, Result{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Status:     StatusFailure,
			Message:    err.Error(),
		})
	}

	args := e.mergeArgs(call)
	if err := ValidateCall(tool, args); err != nil {
		return e.record(ctx, call, resolvedName, started, Result{
			ToolCallID: call.ID,
			ToolName:   resolvedName,
			Status:     StatusFailure,
			Message:    "invalid arguments for " + resolvedName + ": " + err.Error(),
		})
	}

	preview := BuildPreview(resolvedName, args)
	targetFile := targetFileOf(args)
	var lockKeys []string
	if wt, ok := tool.(WriteTool); ok {
		lockKeys = wt.Targets(args)
		if targetFile == "" && len(lockKeys) > 0 {
			targetFile = lockKeys[0]
		}
	}

	emit := func(r Result) {
		if onProgress != nil {
			onProgress(r)
		}
	}
	emit(Result{
		ToolCallID: call.ID,
		ToolName:   resolvedName,
		Status:     StatusExecuting,
		Preview:    preview,
		TargetFile: targetFile,
	})

	timeout := callTimeoutSeconds(args, e.defaultTimeout)
	e.dog.Begin(call.ID, resolvedName, targetFile, timeout)
	defer e.dog.Finish(call.ID)

	execCtx, cancelExec := context.WithCancel(ctx)
	defer cancelExec()
	superviseCtx, stopSupervise := context.WithCancel(ctx)
	defer stopSupervise()

	superviseCh := make(chan error, 1)
	go func() {
		superviseCh <- e.dog.Supervise(superviseCtx, call.ID)
	}()

	limiter := rate.NewLimiter(rate.Limit(e.progressPerSec), e.progressBurst)
	onChunk := func(chunk string) {
		e.dog.MarkProgress(call.ID)
		if limiter.Allow() {
			emit(Result{
				ToolCallID: call.ID,
				ToolName:   resolvedName,
				Status:     StatusExecuting,
				Preview:    preview,
				Payload:    truncatePreview(chunk),
				TargetFile: targetFile,
			})
		}
	}

	type outcome struct {
		payload string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		payload, err := e.runScheduled(execCtx, tool, lockKeys, args, onChunk)
		done <- outcome{payload: payload, err: err}
	}()

	res := Result{
		ToolCallID: call.ID,
		ToolName:   resolvedName,
		Preview:    preview,
		TargetFile: targetFile,
	}

	select {
	case out := <-done:
		res = e.finalize(res, out.payload, out.err)
	case serr := <-superviseCh:
		if serr == nil {
			out := <-done
			res = e.finalize(res, out.payload, out.err)
			break
		}
		cancelExec()
		var timedOut *watchdog.TimedOutError
		var cancelled *watchdog.CancelledError
		switch {
		case errors.As(serr, &timedOut):
			res.Status = StatusTimedOut
			res.Message = serr.Error()
			if e.metrics != nil {
				e.metrics.RecordWatchdogTimeout(resolvedName)
			}
			e.audit.Timeout(ctx, call.SessionID, call.ID, resolvedName, timedOut.TimeoutSeconds)
		case errors.As(serr, &cancelled):
			res.Status = StatusCancelled
			res.Message = serr.Error()
			if e.metrics != nil {
				e.metrics.RecordCancellation()
			}
			e.audit.Cancellation(ctx, call.SessionID, call.ID, resolvedName)
		default:
			res.Status = StatusFailure
			res.Message = serr.Error()
		}
	}

	return e.record(ctx, call, resolvedName, started, res)
}

func (e *Executor) runScheduled(ctx context.Context, tool Tool, lockKeys []string, args map[string]any, onChunk func(string)) (string, error) {
	var payload string
	op := func(ctx context.Context) error {
		var err error
		if st, ok := tool.(StreamingTool); ok {
			payload, err = st.ExecuteStream(ctx, args, onChunk)
		} else {
			payload, err = tool.Execute(ctx, args)
		}
		return err
	}

	var err error
	if len(lockKeys) > 0 {
		err = e.sched.RunWriteMulti(ctx, lockKeys, op)
	} else {
		err = e.sched.RunRead(ctx, op)
	}
	return payload, err
}

func (e *Executor) finalize(res Result, payload string, err error) Result {
	if err != nil {
		res.Status = StatusFailure
		res.Message = enrichHint(err.Error())
		return res
	}
	if strings.TrimSpace(payload) == "" {
		res.Status = StatusFailure
		res.Message = "tool returned an empty response; treat the call as failed and try a different approach"
		return res
	}
	res.Status = StatusSuccess
	res.Payload = payload
	return res
}

// mergeArgs layers resolver context under model args and correlation
// fields on top. Correlation fields always win so results stay traceable
// to the originating call and conversation.
func (e *Executor) mergeArgs(call Call) map[string]any {
	merged := make(map[string]any, len(e.contextArgs)+len(call.Args)+2)
	for k, v := range e.contextArgs {
		merged[k] = v
	}
	for k, v := range call.Args {
		merged[k] = v
	}
	merged["tool_call_id"] = call.ID
	if call.SessionID != "" {
		merged["session_id"] = call.SessionID
	}
	return merged
}

func (e *Executor) record(ctx context.Context, call Call, resolvedName string, started time.Time, res Result) Result {
	duration := time.Since(started)
	if e.metrics != nil {
		e.metrics.RecordToolExecution(resolvedName, res.Status, duration)
	}
	e.audit.ToolExecution(ctx, call.SessionID, call.ID, resolvedName, res.Status, map[string]any{
		"preview":     res.Preview,
		"duration_ms": duration.Milliseconds(),
	})
	e.logger.Debug("tool call finished",
		zap.String("tool", resolvedName),
		zap.String("tool_call_id", call.ID),
		zap.String("status", res.Status),
		zap.Duration("duration", duration))
	return res
}

// callTimeoutSeconds reads the model-supplied liveness window from the
// call arguments, falling back to the configured default.
func callTimeoutSeconds(args map[string]any, fallback int) int {
	for _, key := range []string{"timeoutSeconds", "timeout_seconds"} {
		switch v := args[key].(type) {
		case int:
			return watchdog.ClampTimeout(v)
		case int64:
			return watchdog.ClampTimeout(int(v))
		case float64:
			return watchdog.ClampTimeout(int(v))
		}
	}
	return fallback
}

func targetFileOf(args map[string]any) string {
	if p, ok := args["path"].(string); ok {
		return p
	}
	if files, ok := args["files"].([]any); ok && len(files) > 0 {
		if m, ok := files[0].(map[string]any); ok {
			if p, ok := m["path"].(string); ok {
				return p
			}
		}
	}
	return ""
}

// enrichHint appends a recovery suggestion to known failure shapes so
// the model can self-correct instead of repeating the same call.
func enrichHint(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "no such file") || strings.Contains(lower, "file does not exist") || strings.Contains(lower, "cannot find the file"):
		return msg + "; the file may not exist yet, locate it with search_text or list_dir before reading"
	case strings.Contains(lower, "is a directory"):
		return msg + "; use list_dir for directories"
	case strings.Contains(lower, "path escapes base directory") || strings.Contains(lower, "absolute paths are not allowed"):
		return msg + "; use a path relative to the workspace root"
	case strings.Contains(lower, "executable file not found"):
		return msg + "; the binary is not installed in the workspace environment"
	}
	return msg
}
