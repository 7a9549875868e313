// Package llm is the model-facing boundary of the agent: the message and
// tool shapes sent to a chat model and the provider interface the tool loop
// calls. Concrete providers live in subpackages.
package llm

import "context"

// Provider completes one chat exchange. The agent's tool loop calls Complete
// once per round and feeds tool results back as messages.
type Provider interface {
	Complete(ctx context.Context, messages []Message, tools []Tool) (*Response, error)
}

// Config selects and authenticates a model endpoint.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}
