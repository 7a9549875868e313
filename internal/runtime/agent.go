package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ctxengine "github.com/user/keepsake/internal/context"
	"github.com/user/keepsake/internal/retry"
	"github.com/user/keepsake/pkg/llm"
)

// ToolTrace records one tool call made while producing a reply.
type ToolTrace struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result"`
	Failed    bool            `json:"failed,omitempty"`
}

// Reply is the outcome of one reasoning invocation.
type Reply struct {
	Response string
	Trace    []ToolTrace
	Usage    llm.Usage
}

// Reasoner turns an assembled context plus new input into a reply. It may
// call any of the tools it declares.
type Reasoner interface {
	Tools() []llm.Tool
	Invoke(ctx context.Context, assembled *ctxengine.Context, input string) (*Reply, error)
}

// Agent is the default Reasoner: a tool-calling loop over an llm.Provider.
type Agent struct {
	provider    llm.Provider
	registry    *Registry
	maxRounds   int
	toolTimeout time.Duration
	retry       *retry.Policy
}

// NewAgent creates an Agent. maxRounds bounds the number of model calls in
// one invocation.
func NewAgent(provider llm.Provider, registry *Registry, maxRounds int) *Agent {
	if maxRounds <= 0 {
		maxRounds = 10
	}
	return &Agent{
		provider:    provider,
		registry:    registry,
		maxRounds:   maxRounds,
		toolTimeout: 2 * time.Minute,
		retry:       CompletionRetryPolicy(),
	}
}

// CompletionRetryPolicy retries rate limited and server-side failures of a
// single model call, honouring the provider's Retry-After.
func CompletionRetryPolicy() *retry.Policy {
	return &retry.Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     30 * time.Second,
		Retryable:    llm.Retryable,
		Hint:         llm.RetryAfter,
	}
}

// SetRetryPolicy replaces the per-call retry policy.
func (a *Agent) SetRetryPolicy(p *retry.Policy) {
	a.retry = p
}

func (a *Agent) Tools() []llm.Tool {
	return a.registry.AsLLMTools()
}

func (a *Agent) Invoke(ctx context.Context, assembled *ctxengine.Context, input string) (*Reply, error) {
	messages := append(assembled.Messages(), llm.Message{Role: "user", Content: input})
	tools := a.registry.AsLLMTools()
	reply := &Reply{}

	for round := 0; round < a.maxRounds; round++ {
		resp, err := a.complete(ctx, messages, tools)
		if err != nil {
			return nil, fmt.Errorf("LLM call: %w", err)
		}
		reply.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			reply.Response = resp.Content
			return reply, nil
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content, Tools: resp.ToolCalls})
		for _, tc := range resp.ToolCalls {
			trace := a.execute(ctx, tc)
			reply.Trace = append(reply.Trace, trace)
			messages = append(messages, llm.Message{Role: "tool", Content: trace.Result, Tools: []llm.ToolCall{tc}})
		}
	}
	return nil, fmt.Errorf("max tool rounds (%d) exceeded", a.maxRounds)
}

func (a *Agent) complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	var resp *llm.Response
	attempt := 0
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		var err error
		resp, err = a.provider.Complete(ctx, messages, tools)
		if err != nil && llm.Retryable(err) {
			slog.Warn("model call failed", "attempt", attempt, "error", err, "rate_limited", errors.Is(err, llm.ErrRateLimited))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// execute runs one tool call. Failures become the tool result so the model
// can decide how to proceed without them.
func (a *Agent) execute(ctx context.Context, tc llm.ToolCall) ToolTrace {
	args := decodeArguments(tc.Function.Arguments)
	trace := ToolTrace{CallID: tc.ID, Name: tc.Function.Name, Arguments: args}

	tool, ok := a.registry.Get(tc.Function.Name)
	if !ok {
		trace.Result, trace.Failed = fmt.Sprintf("error: unknown tool %q", tc.Function.Name), true
		return trace
	}

	toolCtx, cancel := context.WithTimeout(ctx, a.toolTimeout)
	defer cancel()
	start := time.Now()
	result, err := tool.Execute(toolCtx, args)
	if err != nil {
		slog.Warn("tool failed", "tool", tc.Function.Name, "error", err, "duration", time.Since(start))
		trace.Result, trace.Failed = fmt.Sprintf("error: %v", err), true
		return trace
	}
	slog.Debug("tool executed", "tool", tc.Function.Name, "duration", time.Since(start))
	trace.Result = result
	return trace
}

// decodeArguments unwraps arguments sent as a JSON-encoded string, which is
// how OpenAI-compatible APIs return them. Empty arguments become {}.
func decodeArguments(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("{}")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return json.RawMessage("{}")
		}
		return json.RawMessage(s)
	}
	return raw
}
