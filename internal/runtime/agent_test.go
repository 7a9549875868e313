package runtime

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	ctxengine "github.com/user/keepsake/internal/context"
	"github.com/user/keepsake/internal/retry"
	"github.com/user/keepsake/pkg/llm"
)

// flakyProvider fails with errs in order before answering.
type flakyProvider struct {
	errs  []error
	calls int
}

func (p *flakyProvider) Complete(context.Context, []llm.Message, []llm.Tool) (*llm.Response, error) {
	p.calls++
	if p.calls <= len(p.errs) {
		return nil, p.errs[p.calls-1]
	}
	return &llm.Response{Content: "recovered", Usage: llm.Usage{InputTokens: 4, OutputTokens: 2}}, nil
}

func quickRetry() *retry.Policy {
	p := CompletionRetryPolicy()
	p.InitialDelay, p.MaxDelay = time.Millisecond, 5*time.Millisecond
	return p
}

func TestAgentRetriesRateLimitedCompletion(t *testing.T) {
	provider := &flakyProvider{errs: []error{
		&llm.APIError{StatusCode: http.StatusTooManyRequests, Body: "slow down", RetryAfter: time.Second},
		&llm.APIError{StatusCode: http.StatusBadGateway, Body: "upstream"},
	}}
	agent := NewAgent(provider, NewRegistry(), 3)
	agent.SetRetryPolicy(quickRetry())

	reply, err := agent.Invoke(context.Background(), &ctxengine.Context{Preamble: "p"}, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Response != "recovered" || provider.calls != 3 {
		t.Errorf("expected recovery on the third call, got %q after %d", reply.Response, provider.calls)
	}
	if reply.Usage.TotalTokens != 6 {
		t.Errorf("expected derived total of 6, got %d", reply.Usage.TotalTokens)
	}
}

func TestAgentDoesNotRetryRejectedCompletion(t *testing.T) {
	provider := &flakyProvider{errs: []error{&llm.APIError{StatusCode: http.StatusUnauthorized, Body: "bad key"}}}
	agent := NewAgent(provider, NewRegistry(), 3)
	agent.SetRetryPolicy(quickRetry())

	_, err := agent.Invoke(context.Background(), &ctxengine.Context{Preamble: "p"}, "hi")
	if !errors.Is(err, llm.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("permanent failures must not be retried, got %d calls", provider.calls)
	}
}

func TestAgentGivesUpOnPersistentRateLimit(t *testing.T) {
	limited := &llm.APIError{StatusCode: http.StatusTooManyRequests, Body: "slow down"}
	provider := &flakyProvider{errs: []error{limited, limited, limited, limited}}
	agent := NewAgent(provider, NewRegistry(), 3)
	agent.SetRetryPolicy(quickRetry())

	_, err := agent.Invoke(context.Background(), &ctxengine.Context{Preamble: "p"}, "hi")
	if !errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if provider.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", provider.calls)
	}
}
