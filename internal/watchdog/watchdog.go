package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Timeout bounds applied to configured values.
const (
	MinTimeoutSeconds     = 1
	MaxTimeoutSeconds     = 600
	DefaultTimeoutSeconds = 120

	// PollInterval is how often a supervising loop re-checks liveness.
	PollInterval = 200 * time.Millisecond
)

// TimedOutError reports that an invocation made no progress within its window.
type TimedOutError struct {
	CallID         string
	Tool           string
	TimeoutSeconds int
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("tool %q (call %s) made no progress within timeoutSeconds=%d", e.Tool, e.CallID, e.TimeoutSeconds)
}

// CancelledError reports an externally requested cancellation.
type CancelledError struct {
	CallID string
	Tool   string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("tool %q (call %s) cancelled by user", e.Tool, e.CallID)
}

// ClampTimeout normalizes a configured timeout to [MinTimeoutSeconds, MaxTimeoutSeconds],
// substituting the default when unset.
func ClampTimeout(seconds int) int {
	if seconds == 0 {
		return DefaultTimeoutSeconds
	}
	if seconds < MinTimeoutSeconds {
		return MinTimeoutSeconds
	}
	if seconds > MaxTimeoutSeconds {
		return MaxTimeoutSeconds
	}
	return seconds
}

// invocation is the transient per-execution state. The deadline is liveness
// based: every progress mark resets the window to the full timeout.
type invocation struct {
	callID       string
	tool         string
	targetFile   string
	timeout      time.Duration
	lastProgress time.Time
	cancelled    bool
}

// Watchdog tracks in-flight tool invocations and enforces their liveness
// deadlines. All state is guarded by a single mutex; the watchdog is the
// sole owner of invocation records.
type Watchdog struct {
	mu          sync.Mutex
	invocations map[string]*invocation

	now  func() time.Time
	poll time.Duration
}

// New constructs a watchdog using the wall clock and the default poll interval.
func New() *Watchdog {
	return NewWithClock(time.Now, PollInterval)
}

// NewWithClock constructs a watchdog with an injectable clock and poll
// interval, for tests that steer time directly.
func NewWithClock(now func() time.Time, poll time.Duration) *Watchdog {
	if now == nil {
		now = time.Now
	}
	if poll <= 0 {
		poll = PollInterval
	}
	return &Watchdog{
		invocations: make(map[string]*invocation),
		now:         now,
		poll:        poll,
	}
}

// Begin registers an invocation. The configured timeout is clamped; a
// repeated Begin for the same call id replaces the previous record.
func (w *Watchdog) Begin(callID, tool, targetFile string, timeoutSeconds int) {
	clamped := ClampTimeout(timeoutSeconds)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.invocations[callID] = &invocation{
		callID:       callID,
		tool:         tool,
		targetFile:   targetFile,
		timeout:      time.Duration(clamped) * time.Second,
		lastProgress: w.now(),
	}
}

// MarkProgress resets the liveness window for callID. Unknown ids are ignored.
func (w *Watchdog) MarkProgress(callID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if inv, ok := w.invocations[callID]; ok {
		inv.lastProgress = w.now()
	}
}

// IsCancelled reports whether an external cancel was requested for callID.
func (w *Watchdog) IsCancelled(callID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	inv, ok := w.invocations[callID]
	return ok && inv.cancelled
}

// Remaining returns the time left before callID times out. Unknown ids
// report zero with ok=false.
func (w *Watchdog) Remaining(callID string) (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	inv, ok := w.invocations[callID]
	if !ok {
		return 0, false
	}
	return inv.timeout - w.now().Sub(inv.lastProgress), true
}

// Cancel flags callID for cancellation. The supervising loop observes the
// flag on its next poll. Unknown ids are ignored so late cancels are safe.
func (w *Watchdog) Cancel(callID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if inv, ok := w.invocations[callID]; ok {
		inv.cancelled = true
	}
}

// Finish removes callID's record. Must be called on every outcome.
func (w *Watchdog) Finish(callID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.invocations, callID)
}

// Active returns the number of in-flight invocations.
func (w *Watchdog) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.invocations)
}

// check classifies callID's current state under the lock.
func (w *Watchdog) check(callID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	inv, ok := w.invocations[callID]
	if !ok {
		return nil
	}
	if inv.cancelled {
		return &CancelledError{CallID: inv.callID, Tool: inv.tool}
	}
	if w.now().Sub(inv.lastProgress) >= inv.timeout {
		return &TimedOutError{
			CallID:         inv.callID,
			Tool:           inv.tool,
			TimeoutSeconds: int(inv.timeout / time.Second),
		}
	}
	return nil
}

// Supervise polls callID until it is cancelled or times out, returning the
// corresponding error. It returns nil when ctx is done (the invocation
// finished first) or when the record no longer exists.
func (w *Watchdog) Supervise(ctx context.Context, callID string) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.check(callID); err != nil {
				return err
			}
			w.mu.Lock()
			_, alive := w.invocations[callID]
			w.mu.Unlock()
			if !alive {
				return nil
			}
		}
	}
}
