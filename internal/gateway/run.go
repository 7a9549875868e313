package gateway

import (
	"context"
	"time"

	"github.com/user/keepsake/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks one turn waiting in, or passing through, a thread lane.
type Run struct {
	ID         types.RunID
	Thread     types.ThreadID
	Turn       *types.Turn
	Status     RunStatus
	CreatedAt  time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
	Result     *types.TurnResult
	Error      error
	OnComplete func(response string)

	ctx     context.Context
	started chan struct{}
	done    chan struct{}
}

// NewRun creates a Run in the Queued state for turn.
func NewRun(turn *types.Turn) *Run {
	return &Run{
		ID:        types.NewRunID(),
		Thread:    turn.Thread,
		Turn:      turn,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
		ctx:       context.Background(),
		started:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Context is the submitter's context. The processor runs under it, so a
// caller that gives up on a run also aborts it.
func (r *Run) Context() context.Context {
	return r.ctx
}

// start marks the run as picked up by its lane.
func (r *Run) start() {
	now := time.Now()
	r.StartedAt = &now
	r.Status = RunStatusRunning
	close(r.started)
}

// Started reports whether the lane has picked the run up.
func (r *Run) Started() bool {
	select {
	case <-r.started:
		return true
	default:
		return false
	}
}

// finish records the outcome and releases waiters. It is called exactly
// once by the lane that processed the run.
func (r *Run) finish(res *types.TurnResult, err error) {
	now := time.Now()
	r.EndedAt = &now
	r.Result, r.Error = res, err
	if err != nil {
		r.Status = RunStatusFailed
	} else {
		r.Status = RunStatusComplete
	}
	close(r.done)
}

// Done is closed once the run has finished.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) (*types.TurnResult, error) {
	select {
	case <-r.done:
		return r.Result, r.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
