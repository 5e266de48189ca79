package tools

import (
	"context"
	"sort"
	"sync"
)

// Result statuses reported by the executor.
const (
	StatusExecuting = "executing"
	StatusSuccess   = "success"
	StatusFailure   = "failure"
	StatusCancelled = "cancelled"
	StatusTimedOut  = "timed_out"
)

// Result is the envelope produced for every tool call. Progress
// envelopes use StatusExecuting; exactly one terminal envelope follows
// per call, correlated by ToolCallID.
type Result struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	Payload    string `json:"payload,omitempty"`
	Preview    string `json:"preview,omitempty"`
	TargetFile string `json:"target_file,omitempty"`
}

// OK reports whether the call completed successfully.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Content returns what the model should see for this result: the
// payload on success, the failure message otherwise.
func (r Result) Content() string {
	if r.OK() {
		return r.Payload
	}
	return r.Message
}

// Tool is a callable operation exposed to the model. Execute returns
// the raw output; the executor wraps it into result envelopes.
type Tool interface {
	Name() string
	Schema() Schema
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// WriteTool marks tools that mutate workspace state. Targets returns
// the lock keys the scheduler must hold exclusively during execution.
type WriteTool interface {
	Tool
	Targets(args map[string]any) []string
}

// StreamingTool emits incremental output while running. Each chunk
// counts as liveness progress.
type StreamingTool interface {
	Tool
	ExecuteStream(ctx context.Context, args map[string]any, onChunk func(chunk string)) (string, error)
}

// Registry maps tool names to implementations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool under its own name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Subset returns a registry restricted to the named tools. Names with
// no registered tool are skipped.
func (r *Registry) Subset(names ...string) *Registry {
	sub := NewRegistry()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			sub.tools[name] = t
		}
	}
	return sub
}

// Schemas returns descriptors for every registered tool, sorted by name.
func (r *Registry) Schemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Schema())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Schema returns the descriptor for a single tool.
func (r *Registry) Schema(name string) (Schema, bool) {
	t, ok := r.Get(name)
	if !ok {
		return Schema{}, false
	}
	return t.Schema(), true
}
