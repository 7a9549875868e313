package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/keepsake/internal/types"
)

// ErrQueueFull is returned when a thread lane cannot accept another run.
var ErrQueueFull = errors.New("queue full")

// ErrStopped is returned for runs enqueued after Stop.
var ErrStopped = errors.New("gateway stopped")

const laneSize = 100

// ProcessFunc executes one run and returns its persisted result.
type ProcessFunc func(ctx context.Context, run *Run) (*types.TurnResult, error)

// Locker grants store-wide leases, extending a lane's exclusivity to other
// processes sharing the store.
type Locker interface {
	AcquireLease(ctx context.Context, name string) (types.Lease, error)
}

// Queue manages per-thread lanes with a global concurrency semaphore.
// Each thread gets its own FIFO channel (lane) so that turns on a thread
// are processed one at a time, while the semaphore limits the total number
// of concurrent processors across all threads.
type Queue struct {
	lanes     map[types.ThreadID]chan *Run
	semaphore *semaphore.Weighted
	processor ProcessFunc
	locker    Locker
	active    atomic.Int64
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent runs to execute
// simultaneously across all thread lanes.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[types.ThreadID]chan *Run),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop closes all lanes and waits for in-flight and already queued runs to
// finish. Runs still queued when the context is cancelled fail with
// ErrStopped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for _, lane := range q.lanes {
		close(lane)
	}
	q.mu.Unlock()
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Enqueue adds a Run to its thread's lane, creating the lane (and its
// goroutine) on first use.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || q.ctx == nil {
		return ErrStopped
	}
	lane, exists := q.lanes[run.Thread]
	if !exists {
		lane = make(chan *Run, laneSize)
		q.lanes[run.Thread] = lane
		q.wg.Add(1)
		go q.processLane(run.Thread, lane)
	}

	select {
	case lane <- run:
		return nil
	default:
		return fmt.Errorf("%w for thread %s", ErrQueueFull, run.Thread)
	}
}

// processLane drains a single thread lane, acquiring a semaphore slot
// before running the processor synchronously. Turns on one thread never
// interleave; the semaphore limits cross-thread parallelism.
func (q *Queue) processLane(thread types.ThreadID, lane chan *Run) {
	defer q.wg.Done()
	for run := range lane {
		if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
			run.finish(nil, ErrStopped)
			continue
		}
		q.active.Add(1)
		res, err := q.execute(run)
		q.active.Add(-1)
		q.semaphore.Release(1)

		if err != nil {
			slog.Error("run failed", "run_id", string(run.ID), "thread_id", string(thread), "error", err)
		}
		run.finish(res, err)
		if run.OnComplete != nil {
			switch {
			case err != nil:
				run.OnComplete("Sorry, something went wrong processing your message.")
			case res != nil:
				run.OnComplete(res.Response)
			}
		}
	}
}

// execute runs the processor under the submitter's context, not the
// queue's, so shutdown never cuts a started turn short. A run whose
// submitter has already given up is finished without processing.
func (q *Queue) execute(run *Run) (*types.TurnResult, error) {
	run.start()
	ctx := run.ctx
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run %s abandoned before start: %w", run.ID, err)
	}
	if q.processor == nil {
		return nil, fmt.Errorf("%w: no turn processor configured", types.ErrConfiguration)
	}
	if q.locker != nil {
		lease, err := q.locker.AcquireLease(ctx, "thread:"+string(run.Thread))
		if err != nil {
			return nil, fmt.Errorf("lock thread %s: %w", run.Thread, err)
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("failed to release thread lease", "thread_id", string(run.Thread), "error", err)
			}
		}()
	}
	return q.processor(ctx, run)
}

// WaitIdle blocks until no runs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn ProcessFunc) {
	q.processor = fn
}

// SetLocker makes every run hold a store-wide lease on its thread while it
// is processed.
func (q *Queue) SetLocker(l Locker) {
	q.locker = l
}
