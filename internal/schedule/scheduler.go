package schedule

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultReadSlots is the read concurrency used when no override is configured.
const DefaultReadSlots = 4

// Scheduler bounds tool execution: reads share a fixed pool of slots,
// writes are serialized per resource key.
type Scheduler struct {
	reads      *semaphore.Weighted
	writeLocks sync.Map // key -> *semaphore.Weighted(1)
}

// NewScheduler constructs a scheduler with the given read slot count.
func NewScheduler(readSlots int) *Scheduler {
	if readSlots <= 0 {
		readSlots = DefaultReadSlots
	}
	return &Scheduler{reads: semaphore.NewWeighted(int64(readSlots))}
}

// RunRead executes op while holding one read slot. Waiters wake in FIFO
// order; the slot is released on every exit path. A waiter whose context
// is cancelled returns the context error without holding a slot.
func (s *Scheduler) RunRead(ctx context.Context, op func(context.Context) error) error {
	if err := s.reads.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.reads.Release(1)
	return op(ctx)
}

// RunWrite executes op while holding the exclusive lock for key. Locks are
// created on first use and persist for the scheduler's lifetime; the key
// space is bounded by the project's resource set. Two writes to the same
// key never overlap, writes to different keys may.
func (s *Scheduler) RunWrite(ctx context.Context, key string, op func(context.Context) error) error {
	lock := s.lockFor(key)
	if err := lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer lock.Release(1)
	return op(ctx)
}

// RunWriteMulti executes op while holding the locks for every key. Keys
// are deduplicated and acquired in sorted order so two multi-key writers
// can never deadlock each other. An empty key set falls back to a read
// slot.
func (s *Scheduler) RunWriteMulti(ctx context.Context, keys []string, op func(context.Context) error) error {
	if len(keys) == 0 {
		return s.RunRead(ctx, op)
	}
	if len(keys) == 1 {
		return s.RunWrite(ctx, keys[0], op)
	}

	sorted := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	held := make([]*semaphore.Weighted, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release(1)
		}
	}
	for _, k := range sorted {
		lock := s.lockFor(k)
		if err := lock.Acquire(ctx, 1); err != nil {
			release()
			return err
		}
		held = append(held, lock)
	}
	defer release()
	return op(ctx)
}

func (s *Scheduler) lockFor(key string) *semaphore.Weighted {
	if existing, ok := s.writeLocks.Load(key); ok {
		return existing.(*semaphore.Weighted)
	}
	created := semaphore.NewWeighted(1)
	actual, _ := s.writeLocks.LoadOrStore(key, created)
	return actual.(*semaphore.Weighted)
}
