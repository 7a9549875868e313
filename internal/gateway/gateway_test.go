package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/keepsake/internal/types"
)

type echoProcessor struct {
	turns chan *types.Turn
}

func (p *echoProcessor) ProcessRun(ctx context.Context, run *Run) (*types.TurnResult, error) {
	if p.turns != nil {
		p.turns <- run.Turn
	}
	return &types.TurnResult{RunID: run.ID, Thread: run.Thread, Response: "echo: " + run.Turn.Text}, nil
}

func TestGatewayHandleDefaultsThread(t *testing.T) {
	proc := &echoProcessor{turns: make(chan *types.Turn, 1)}
	gw := New(proc)
	gw.Start(context.Background())
	defer gw.Stop()

	res, err := gw.Handle(context.Background(), &types.Turn{Text: "hello", Channel: types.ChannelLocal})
	if err != nil {
		t.Fatal(err)
	}
	if res.Response != "echo: hello" {
		t.Errorf("unexpected response %q", res.Response)
	}
	if res.Thread != types.PrimaryThread {
		t.Errorf("expected primary thread, got %q", res.Thread)
	}
	turn := <-proc.turns
	if turn.ReceivedAt.IsZero() {
		t.Error("arrival time not stamped")
	}
}

func TestGatewayRejectsEmptyText(t *testing.T) {
	gw := New(&echoProcessor{})
	gw.Start(context.Background())
	defer gw.Stop()

	if _, err := gw.Handle(context.Background(), &types.Turn{Text: "   "}); !errors.Is(err, types.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestGatewaySubmitCallsOnComplete(t *testing.T) {
	gw := New(&echoProcessor{})
	gw.Start(context.Background())
	defer gw.Stop()

	replies := make(chan string, 1)
	run, err := gw.Submit(context.Background(), &types.Turn{Text: "ping"}, WithOnComplete(func(s string) { replies <- s }))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-replies:
		if got != "echo: ping" {
			t.Errorf("unexpected reply %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
	<-run.Done()
	if run.Status != RunStatusComplete {
		t.Errorf("expected complete, got %s", run.Status)
	}
}

func TestGatewayHandleAbortsStartedRun(t *testing.T) {
	aborted := make(chan error, 1)
	gw := New(nil)
	gw.Queue.SetProcessor(func(ctx context.Context, run *Run) (*types.TurnResult, error) {
		select {
		case <-time.After(2 * time.Second):
			aborted <- nil
			return &types.TurnResult{Response: "late"}, nil
		case <-ctx.Done():
			aborted <- ctx.Err()
			return nil, ctx.Err()
		}
	})
	gw.Start(context.Background())
	defer gw.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := gw.Handle(ctx, &types.Turn{Text: "slow"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	// Handle only returns once the processor has stopped.
	select {
	case err := <-aborted:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("processor should see the caller's deadline, got %v", err)
		}
	default:
		t.Fatal("Handle returned while the processor was still running")
	}
}

func TestGatewaySkipsRunAbandonedInLane(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var processed []string
	gw := New(nil)
	gw.Queue.SetProcessor(func(ctx context.Context, run *Run) (*types.TurnResult, error) {
		processed = append(processed, run.Turn.Text)
		if run.Turn.Text == "busy" {
			started <- struct{}{}
			<-release
		}
		return &types.TurnResult{Response: run.Turn.Text}, nil
	})
	gw.Start(context.Background())
	defer gw.Stop()

	busy, err := gw.Submit(context.Background(), &types.Turn{Text: "busy"})
	if err != nil {
		t.Fatal(err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := gw.Handle(ctx, &types.Turn{Text: "abandoned"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	close(release)
	<-busy.Done()
	if _, err := gw.Handle(context.Background(), &types.Turn{Text: "after"}); err != nil {
		t.Fatal(err)
	}
	if len(processed) != 2 || processed[0] != "busy" || processed[1] != "after" {
		t.Errorf("abandoned run must never reach the processor, got %v", processed)
	}
}

func TestGatewayStopDoesNotCancelStartedRun(t *testing.T) {
	started := make(chan struct{})
	gw := New(nil)
	gw.Queue.SetProcessor(func(ctx context.Context, run *Run) (*types.TurnResult, error) {
		close(started)
		select {
		case <-time.After(100 * time.Millisecond):
			return &types.TurnResult{Response: "done"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	gw.Start(context.Background())

	run, err := gw.Submit(context.Background(), &types.Turn{Text: "work"})
	if err != nil {
		t.Fatal(err)
	}
	<-started
	gw.Stop()

	res, err := run.Wait(context.Background())
	if err != nil || res.Response != "done" {
		t.Errorf("shutdown must let a started run finish, got %v %v", res, err)
	}
}
