package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestClampTimeout(t *testing.T) {
	require.Equal(t, DefaultTimeoutSeconds, ClampTimeout(0))
	require.Equal(t, MinTimeoutSeconds, ClampTimeout(-5))
	require.Equal(t, MaxTimeoutSeconds, ClampTimeout(7200))
	require.Equal(t, 300, ClampTimeout(300))
}

func TestProgressKeepsInvocationAlive(t *testing.T) {
	clock := newFakeClock()
	w := NewWithClock(clock.Now, 2*time.Millisecond)
	w.Begin("call-1", "run_command", "", 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- w.Supervise(ctx, "call-1") }()

	// Ten simulated seconds with a progress mark every second: the two
	// second window must never expire.
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		w.MarkProgress("call-1")
		time.Sleep(10 * time.Millisecond)
		select {
		case err := <-result:
			t.Fatalf("supervision ended early: %v", err)
		default:
		}
	}

	require.False(t, w.IsCancelled("call-1"))
	cancel()
	require.NoError(t, <-result)
}

func TestTimesOutWithoutProgress(t *testing.T) {
	clock := newFakeClock()
	w := NewWithClock(clock.Now, 2*time.Millisecond)
	w.Begin("call-2", "run_command", "", 2)

	result := make(chan error, 1)
	go func() { result <- w.Supervise(context.Background(), "call-2") }()

	clock.Advance(5 * time.Second)

	select {
	case err := <-result:
		var timedOut *TimedOutError
		require.ErrorAs(t, err, &timedOut)
		require.Equal(t, 2, timedOut.TimeoutSeconds)
		require.Contains(t, err.Error(), "timeoutSeconds=2")
	case <-time.After(time.Second):
		t.Fatal("supervision did not observe the timeout")
	}
}

func TestExternalCancelBeatsTimeout(t *testing.T) {
	clock := newFakeClock()
	w := NewWithClock(clock.Now, 2*time.Millisecond)
	w.Begin("call-3", "write_file", "main.go", 600)

	result := make(chan error, 1)
	go func() { result <- w.Supervise(context.Background(), "call-3") }()

	w.Cancel("call-3")
	require.True(t, w.IsCancelled("call-3"))

	select {
	case err := <-result:
		var cancelled *CancelledError
		require.ErrorAs(t, err, &cancelled)
		require.Equal(t, "call-3", cancelled.CallID)
	case <-time.After(time.Second):
		t.Fatal("supervision did not observe the cancel")
	}
}

func TestFinishStopsSupervision(t *testing.T) {
	clock := newFakeClock()
	w := NewWithClock(clock.Now, 2*time.Millisecond)
	w.Begin("call-4", "read_file", "", 2)
	require.Equal(t, 1, w.Active())

	result := make(chan error, 1)
	go func() { result <- w.Supervise(context.Background(), "call-4") }()

	w.Finish("call-4")
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervision did not stop after Finish")
	}
	require.Equal(t, 0, w.Active())
}

func TestRemainingTracksProgress(t *testing.T) {
	clock := newFakeClock()
	w := NewWithClock(clock.Now, time.Millisecond)
	w.Begin("call-5", "search_text", "", 10)

	clock.Advance(4 * time.Second)
	left, ok := w.Remaining("call-5")
	require.True(t, ok)
	require.Equal(t, 6*time.Second, left)

	w.MarkProgress("call-5")
	left, ok = w.Remaining("call-5")
	require.True(t, ok)
	require.Equal(t, 10*time.Second, left)

	_, ok = w.Remaining("missing")
	require.False(t, ok)
}
