package tools

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/schedule"
	"github.com/loomworks/loom/internal/watchdog"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type progressSink struct {
	mu      sync.Mutex
	results []Result
}

func (s *progressSink) add(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *progressSink) all() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}

type capturingTool struct {
	name string
	mu   sync.Mutex
	args map[string]any
}

func (t *capturingTool) Name() string   { return t.name }
func (t *capturingTool) Schema() Schema { return Schema{Name: t.name} }
func (t *capturingTool) Execute(_ context.Context, args map[string]any) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.args = args
	return "captured", nil
}

type staticTool struct {
	name    string
	payload string
	err     error
}

func (t *staticTool) Name() string   { return t.name }
func (t *staticTool) Schema() Schema { return Schema{Name: t.name} }
func (t *staticTool) Execute(context.Context, map[string]any) (string, error) {
	return t.payload, t.err
}

type blockingTool struct {
	name string
}

func (t *blockingTool) Name() string   { return t.name }
func (t *blockingTool) Schema() Schema { return Schema{Name: t.name} }
func (t *blockingTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type chunkingTool struct {
	name   string
	chunks []string
}

func (t *chunkingTool) Name() string   { return t.name }
func (t *chunkingTool) Schema() Schema { return Schema{Name: t.name} }
func (t *chunkingTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return t.ExecuteStream(ctx, args, nil)
}

func (t *chunkingTool) ExecuteStream(_ context.Context, _ map[string]any, onChunk func(string)) (string, error) {
	for _, c := range t.chunks {
		if onChunk != nil {
			onChunk(c)
		}
	}
	return "streamed " + t.name, nil
}

func newTestExecutor(reg *Registry, dog *watchdog.Watchdog, opts ExecutorOptions) *Executor {
	if dog == nil {
		dog = watchdog.NewWithClock(time.Now, 2*time.Millisecond)
	}
	if opts.ProgressEventsPerSec == 0 {
		opts.ProgressEventsPerSec = 1000
	}
	return NewExecutor(reg, schedule.NewScheduler(4), dog, opts)
}

func TestExecuteAllCorrelatesResults(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(&staticTool{name: "alpha", payload: "alpha done"})
	reg.Register(&staticTool{name: "beta", payload: "beta done"})
	reg.Register(&staticTool{name: "gamma", payload: "gamma done"})
	exec := newTestExecutor(reg, nil, ExecutorOptions{})

	calls := []Call{
		{ID: "call-1", SessionID: "s", Name: "alpha"},
		{ID: "call-2", SessionID: "s", Name: "beta"},
		{ID: "call-3", SessionID: "s", Name: "gamma"},
	}
	results := exec.ExecuteAll(context.Background(), calls, nil)

	require.Len(t, results, 3)
	for i, res := range results {
		require.Equal(t, calls[i].ID, res.ToolCallID)
		require.Equal(t, calls[i].Name, res.ToolName)
		require.Equal(t, StatusSuccess, res.Status)
		require.Equal(t, calls[i].Name+" done", res.Payload)
	}
}

func TestExecuteEmptyOutputBecomesFailure(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(&staticTool{name: "noisy", payload: "   \n\t "})
	exec := newTestExecutor(reg, nil, ExecutorOptions{})

	res := exec.Execute(context.Background(), Call{ID: "call-1", Name: "noisy"}, nil)
	require.Equal(t, StatusFailure, res.Status)
	require.Contains(t, res.Message, "empty response")
}

func TestExecuteResolvesAliases(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(&staticTool{name: "read_file", payload: "file content"})
	exec := newTestExecutor(reg, nil, ExecutorOptions{})

	res := exec.Execute(context.Background(), Call{ID: "call-1", Name: "read"}, nil)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, "read_file", res.ToolName)
}

func TestExecuteUnknownToolIsTerminalFailure(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	exec := newTestExecutor(reg, nil, ExecutorOptions{})

	res := exec.Execute(context.Background(), Call{ID: "call-1", Name: "teleport"}, nil)
	require.Equal(t, StatusFailure, res.Status)
	require.Contains(t, res.Message, "not a registered tool")
	require.Equal(t, "call-1", res.ToolCallID)
}

func TestExecuteMergesArgsWithCorrelationOnTop(t *testing.T) {
	t.Parallel()

	tool := &capturingTool{name: "probe"}
	reg := NewRegistry()
	reg.Register(tool)
	exec := newTestExecutor(reg, nil, ExecutorOptions{
		ContextArgs: map[string]any{"workspace_root": "/workspace", "mode": "agent"},
	})

	res := exec.Execute(context.Background(), Call{
		ID:        "call-7",
		SessionID: "sess-1",
		Name:      "probe",
		Args:      map[string]any{"path": "x.go", "mode": "override"},
	}, nil)
	require.Equal(t, StatusSuccess, res.Status)

	tool.mu.Lock()
	defer tool.mu.Unlock()
	require.Equal(t, "call-7", tool.args["tool_call_id"])
	require.Equal(t, "sess-1", tool.args["session_id"])
	require.Equal(t, "/workspace", tool.args["workspace_root"])
	require.Equal(t, "override", tool.args["mode"])
	require.Equal(t, "x.go", tool.args["path"])
}

func TestExecuteStreamingEmitsProgressEnvelopes(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(&chunkingTool{name: "builder", chunks: []string{"compiling", "linking", "done"}})
	exec := newTestExecutor(reg, nil, ExecutorOptions{})

	sink := &progressSink{}
	res := exec.Execute(context.Background(), Call{ID: "call-1", Name: "builder"}, sink.add)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, "streamed builder", res.Payload)

	var chunked []string
	for _, ev := range sink.all() {
		require.Equal(t, StatusExecuting, ev.Status)
		require.Equal(t, "call-1", ev.ToolCallID)
		if ev.Payload != "" {
			chunked = append(chunked, ev.Payload)
		}
	}
	require.Equal(t, []string{"compiling", "linking", "done"}, chunked)
}

func TestExecuteProgressThrottled(t *testing.T) {
	t.Parallel()

	chunks := make([]string, 50)
	for i := range chunks {
		chunks[i] = "chunk"
	}
	reg := NewRegistry()
	reg.Register(&chunkingTool{name: "firehose", chunks: chunks})
	exec := newTestExecutor(reg, nil, ExecutorOptions{ProgressEventsPerSec: 1})

	sink := &progressSink{}
	res := exec.Execute(context.Background(), Call{ID: "call-1", Name: "firehose"}, sink.add)
	require.Equal(t, StatusSuccess, res.Status)

	withPayload := 0
	for _, ev := range sink.all() {
		if ev.Payload != "" {
			withPayload++
		}
	}
	require.Less(t, withPayload, 50)
}

func TestExecuteTimesOutWithoutProgress(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	dog := watchdog.NewWithClock(clock.Now, 2*time.Millisecond)
	reg := NewRegistry()
	reg.Register(&blockingTool{name: "stuck"})
	exec := newTestExecutor(reg, dog, ExecutorOptions{})

	go func() {
		time.Sleep(30 * time.Millisecond)
		clock.Advance(5 * time.Second)
	}()

	res := exec.Execute(context.Background(), Call{
		ID:   "call-1",
		Name: "stuck",
		Args: map[string]any{"timeoutSeconds": float64(2)},
	}, nil)

	require.Equal(t, StatusTimedOut, res.Status)
	require.Contains(t, res.Message, "timeoutSeconds=2")
	require.Zero(t, dog.Active())
}

func TestExecuteExternalCancelBeatsCompletion(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(&blockingTool{name: "slow"})
	exec := newTestExecutor(reg, nil, ExecutorOptions{})

	go func() {
		time.Sleep(30 * time.Millisecond)
		exec.Cancel("call-1")
	}()

	res := exec.Execute(context.Background(), Call{ID: "call-1", Name: "slow"}, nil)
	require.Equal(t, StatusCancelled, res.Status)
	require.Contains(t, res.Message, "cancelled")
}

func TestExecuteValidationFailure(t *testing.T) {
	t.Parallel()

	fsTool, err := NewFilesystem(t.TempDir(), true)
	require.NoError(t, err)
	reg := NewRegistry()
	reg.Register(&ReadFileTool{FS: fsTool})
	exec := newTestExecutor(reg, nil, ExecutorOptions{})

	res := exec.Execute(context.Background(), Call{ID: "call-1", Name: "read_file", Args: map[string]any{}}, nil)
	require.Equal(t, StatusFailure, res.Status)
	require.Contains(t, res.Message, "invalid arguments")
}

func TestExecuteEnrichesFileNotFoundHint(t *testing.T) {
	t.Parallel()

	fsTool, err := NewFilesystem(t.TempDir(), true)
	require.NoError(t, err)
	reg := NewRegistry()
	reg.Register(&ReadFileTool{FS: fsTool})
	exec := newTestExecutor(reg, nil, ExecutorOptions{})

	res := exec.Execute(context.Background(), Call{
		ID:   "call-1",
		Name: "read_file",
		Args: map[string]any{"path": "missing.go"},
	}, nil)
	require.Equal(t, StatusFailure, res.Status)
	require.Contains(t, res.Message, "search_text")
}
