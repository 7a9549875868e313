package episodic

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Retainer stores one exchange.
type Retainer interface {
	Retain(ctx context.Context, ex Exchange) error
}

// Queue dispatches retains to a single background worker so the turn that
// produced them never waits. Failures are logged and dropped; nothing is
// retried. When the buffer is full new exchanges are dropped.
type Queue struct {
	retainer Retainer
	timeout  time.Duration
	ch       chan Exchange

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue creates a queue holding at most size pending exchanges. Each
// retain call is bounded by timeout.
func NewQueue(retainer Retainer, size int, timeout time.Duration) *Queue {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Queue{
		retainer: retainer,
		timeout:  timeout,
		ch:       make(chan Exchange, size),
	}
}

// Start launches the worker. It exits once Close has drained the buffer.
func (q *Queue) Start() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for ex := range q.ch {
			q.retain(ex)
		}
	}()
}

func (q *Queue) retain(ex Exchange) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	start := time.Now()
	err := q.retainer.Retain(ctx, ex)
	switch {
	case errors.Is(err, ErrDisabled):
	case err != nil:
		slog.Warn("episodic retain failed", "thread_id", ex.ThreadID, "channel", ex.Channel,
			"duration", time.Since(start), "error", err)
	default:
		slog.Debug("episodic retain stored", "thread_id", ex.ThreadID, "duration", time.Since(start))
	}
}

// Enqueue hands ex to the worker without blocking. It reports whether the
// exchange was accepted.
func (q *Queue) Enqueue(ex Exchange) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- ex:
		return true
	default:
		slog.Warn("episodic retain queue full, dropping exchange", "thread_id", ex.ThreadID)
		return false
	}
}

// Close stops accepting exchanges and waits for pending ones to finish or
// for ctx to expire.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
