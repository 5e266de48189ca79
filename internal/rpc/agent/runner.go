package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/loomworks/loom/internal/agent"
	"github.com/loomworks/loom/internal/rpc"
	"github.com/loomworks/loom/internal/tools"
)

// contextFileLimit caps how much of one attached file reaches the
// prompt. Oversized files are truncated, not rejected.
const contextFileLimit = 32 * 1024

// Engine is the slice of the agent engine the transport layer drives.
type Engine interface {
	Run(ctx context.Context, req agent.Request, sink agent.EventSink) (agent.Response, error)
	RunTask(ctx context.Context, req agent.Request, sink agent.EventSink) (agent.TaskResult, error)
	CancelCall(ctx context.Context, sessionID, callID string)
}

// EngineRunner adapts the agent engine to the streaming Runner
// contract shared by the NDJSON and Connect transports.
type EngineRunner struct {
	Engine Engine
	// Files resolves context_paths against the sandbox; nil disables
	// path resolution.
	Files  *tools.Filesystem
	Logger *zap.Logger
}

// Run starts the requested turn (or task pipeline) and streams its
// events. The channel closes after a terminal done or error event.
func (r *EngineRunner) Run(req *http.Request, task rpc.RunTaskRequest) (<-chan rpc.RunTaskEvent, error) {
	if r.Engine == nil {
		return nil, fmt.Errorf("engine runner is not configured")
	}
	ctx := req.Context()
	corr := task.CorrelationID
	if corr == "" {
		corr = task.SessionID
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	out := make(chan rpc.RunTaskEvent, 64)
	send := func(ev rpc.RunTaskEvent) {
		ev.CorrelationID = corr
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}
	sink := func(ev agent.Event) {
		send(rpc.RunTaskEvent{
			Type:      ev.Type,
			SessionID: ev.SessionID,
			Phase:     string(ev.Phase),
			Iteration: ev.Iteration,
			ModelID:   ev.ModelID,
			Message:   ev.Message,
			Result:    ev.Result,
		})
	}

	go func() {
		defer close(out)
		started := time.Now()

		files, err := r.contextFiles(task)
		if err != nil {
			send(rpc.RunTaskEvent{Type: rpc.EventError, SessionID: task.SessionID, Error: err.Error()})
			return
		}
		areq := agent.Request{
			SessionID: task.SessionID,
			Mode:      agent.Mode(task.Mode),
			Model:     task.Model,
			Prompt:    task.Prompt,
			Context:   files,
		}

		if task.Task {
			res, err := r.Engine.RunTask(ctx, areq, sink)
			if err != nil {
				logger.Warn("task run failed", zap.String("session", task.SessionID), zap.Error(err))
				send(rpc.RunTaskEvent{Type: rpc.EventError, SessionID: task.SessionID, Error: err.Error()})
				return
			}
			logger.Info("task run complete",
				zap.String("session", res.SessionID),
				zap.Int("phases", len(res.Phases)),
				zap.Duration("elapsed", time.Since(started)))
			send(rpc.RunTaskEvent{
				Type:         rpc.EventDone,
				SessionID:    res.SessionID,
				Message:      res.Final,
				Done:         true,
				FinishReason: "stop",
			})
			return
		}

		resp, err := r.Engine.Run(ctx, areq, sink)
		if err != nil {
			logger.Warn("turn failed", zap.String("session", task.SessionID), zap.Error(err))
			send(rpc.RunTaskEvent{Type: rpc.EventError, SessionID: task.SessionID, Error: err.Error()})
			return
		}
		logger.Info("turn complete",
			zap.String("session", resp.SessionID),
			zap.Int("iterations", resp.Iterations),
			zap.Duration("elapsed", time.Since(started)))
		send(rpc.RunTaskEvent{
			Type:         rpc.EventDone,
			SessionID:    resp.SessionID,
			ModelID:      resp.ModelID,
			Iteration:    resp.Iterations,
			Done:         true,
			FinishReason: resp.FinishReason,
		})
	}()
	return out, nil
}

// CancelCall aborts one in-flight tool call without stopping the run.
func (r *EngineRunner) CancelCall(ctx context.Context, sessionID, callID string) {
	if r.Engine == nil {
		return
	}
	r.Engine.CancelCall(ctx, sessionID, callID)
}

// contextFiles merges inline attachments with files resolved from
// context paths. Directories attach their layout rather than contents.
func (r *EngineRunner) contextFiles(task rpc.RunTaskRequest) ([]agent.ContextFile, error) {
	out := make([]agent.ContextFile, 0, len(task.Context)+len(task.ContextPaths))
	seen := make(map[string]bool, len(task.Context))
	for _, cf := range task.Context {
		out = append(out, agent.ContextFile{Path: cf.Path, Content: cf.Content})
		seen[cf.Path] = true
	}
	if len(task.ContextPaths) == 0 {
		return out, nil
	}
	if r.Files == nil {
		return nil, fmt.Errorf("context paths require a sandbox filesystem")
	}
	for _, p := range task.ContextPaths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		info, err := r.Files.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("context path %s: %w", p, err)
		}
		if info.IsDir() {
			layout, err := r.Files.DescribeStructure(p, 3, 200)
			if err != nil {
				return nil, fmt.Errorf("context path %s: %w", p, err)
			}
			out = append(out, agent.ContextFile{Path: p + "/", Content: layout})
			continue
		}
		content, err := r.Files.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("context path %s: %w", p, err)
		}
		if len(content) > contextFileLimit {
			content = content[:contextFileLimit] + "\n[truncated]"
		}
		out = append(out, agent.ContextFile{Path: p, Content: content})
	}
	return out, nil
}
