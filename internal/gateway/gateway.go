package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/user/keepsake/internal/types"
)

// Processor executes one turn end to end.
type Processor interface {
	ProcessRun(ctx context.Context, run *Run) (*types.TurnResult, error)
}

// Gateway is the front of the turn orchestrator. Every producer (channel
// listeners, the HTTP API, the scheduler) submits turns here; turns on the
// same thread are serialised through that thread's lane.
type Gateway struct {
	Queue *Queue
}

// New creates a Gateway that hands turns to processor with the given
// concurrency limit across threads.
func New(processor Processor, maxConcurrent ...int64) *Gateway {
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	q := NewQueue(concurrency)
	if processor != nil {
		q.SetProcessor(processor.ProcessRun)
	}
	return &Gateway{Queue: q}
}

// Start starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.Queue.Start(ctx)
}

// Stop stops the queue and waits for outstanding turns to finish.
func (g *Gateway) Stop() {
	g.Queue.Stop()
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnComplete sets a callback invoked when the run produces a final response.
func WithOnComplete(fn func(string)) RunOption {
	return func(r *Run) { r.OnComplete = fn }
}

// Submit validates turn, defaults its thread and arrival time, and enqueues
// it without waiting for the result. The run is processed under ctx: if
// ctx ends first the run is skipped or aborted.
func (g *Gateway) Submit(ctx context.Context, turn *types.Turn, opts ...RunOption) (*Run, error) {
	if strings.TrimSpace(turn.Text) == "" {
		return nil, fmt.Errorf("%w: turn text is empty", types.ErrValidation)
	}
	if turn.Thread == "" {
		turn.Thread = types.PrimaryThread
	}
	if turn.ReceivedAt.IsZero() {
		turn.ReceivedAt = time.Now()
	}
	run := NewRun(turn)
	if ctx != nil {
		run.ctx = ctx
	}
	for _, opt := range opts {
		opt(run)
	}
	if err := g.Queue.Enqueue(run); err != nil {
		return nil, err
	}
	return run, nil
}

// Handle submits turn and blocks until it has been processed. When ctx ends
// while the run is still queued, Handle returns at once and the lane drops
// the run. When the run has already started, Handle waits for the processor
// to stop so the caller never outlives its own turn.
func (g *Gateway) Handle(ctx context.Context, turn *types.Turn) (*types.TurnResult, error) {
	run, err := g.Submit(ctx, turn)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.Done():
		return run.Result, run.Error
	case <-ctx.Done():
	}
	if !run.Started() {
		return nil, ctx.Err()
	}
	<-run.Done()
	return run.Result, run.Error
}
