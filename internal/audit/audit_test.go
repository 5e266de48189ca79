package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordAndListBySession(t *testing.T) {
	t.Parallel()

	store, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	events := []Event{
		{ID: "ev-1", SessionID: "sess-1", Kind: KindPhaseTransition, Phase: "worker", CreatedAt: 10},
		{ID: "ev-2", SessionID: "sess-1", Kind: KindToolExecution, ToolName: "read_file", ToolCallID: "call-1", Status: "success", DetailJSON: "{}", CreatedAt: 11},
		{ID: "ev-3", SessionID: "sess-2", Kind: KindCancellation, ToolCallID: "call-9", CreatedAt: 12},
	}
	for _, ev := range events {
		require.NoError(t, store.Record(ctx, ev))
	}

	got, err := store.ListBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "ev-1", got[0].ID)
	require.Equal(t, "read_file", got[1].ToolName)

	empty, err := store.ListBySession(ctx, "nonexistent")
	require.NoError(t, err)
	require.Nil(t, empty)
}

func TestRecordDuplicateIDFails(t *testing.T) {
	t.Parallel()

	store, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer store.Close()

	ev := Event{ID: "ev-dup", SessionID: "sess-1", Kind: KindTurn, CreatedAt: 1}
	require.NoError(t, store.Record(context.Background(), ev))
	require.Error(t, store.Record(context.Background(), ev))
}

type failingStore struct{}

func (failingStore) Record(context.Context, Event) error { return errors.New("disk full") }

func (failingStore) ListBySession(context.Context, string) ([]Event, error) { return nil, nil }

func (failingStore) Close() error { return nil }

func TestRecorderSwallowsStoreErrors(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(failingStore{}, nil)

	// Must not panic or propagate.
	rec.ToolExecution(context.Background(), "sess-1", "call-1", "read_file", "failure", nil)
	rec.PhaseIncomplete(context.Background(), "sess-1", "worker", map[string]any{"pending": 2})
}

func TestRecorderFillsDefaults(t *testing.T) {
	t.Parallel()

	store, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer store.Close()

	rec := NewRecorder(store, nil)
	rec.PhaseTransition(context.Background(), "sess-1", "planner")

	got, err := store.ListBySession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotEmpty(t, got[0].ID)
	require.NotZero(t, got[0].CreatedAt)
	require.Equal(t, "{}", got[0].DetailJSON)
	require.Equal(t, "planner", got[0].Phase)
}

func TestNopStoreRecorder(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(nil, nil)
	rec.Cancellation(context.Background(), "sess-1", "call-1", "run_command")

	var s NopStore
	got, err := s.ListBySession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Nil(t, got)
}
