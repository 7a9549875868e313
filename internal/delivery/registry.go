// internal/delivery/registry.go
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Handler delivers a message to a target such as "telegram:12345".
type Handler func(ctx context.Context, target, message string) error

// Registry routes outbound messages to the handler registered for the
// target's prefix (e.g. "telegram:"). The longest matching prefix wins.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for targets starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Deliver finds the handler matching the target prefix and calls it.
// Returns an error if no handler is registered for the prefix.
func (r *Registry) Deliver(ctx context.Context, target, message string) error {
	r.mu.RLock()
	var (
		best    string
		handler Handler
	)
	for prefix, h := range r.handlers {
		if strings.HasPrefix(target, prefix) && len(prefix) >= len(best) {
			best, handler = prefix, h
		}
	}
	r.mu.RUnlock()
	if handler == nil {
		return fmt.Errorf("no delivery handler for target: %s", target)
	}
	return handler(ctx, target, message)
}

// Notifier binds a registry to one target. It satisfies the scheduler's
// notifier contract for autonomous responses.
type Notifier struct {
	registry *Registry
	target   string
}

// For returns a Notifier delivering to target. An empty target yields a
// notifier that logs and drops every message.
func (r *Registry) For(target string) *Notifier {
	return &Notifier{registry: r, target: strings.TrimSpace(target)}
}

// Notify delivers text to the bound target.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	if n.target == "" {
		slog.Info("no delivery target configured, dropping message", "length", len(text))
		return nil
	}
	return n.registry.Deliver(ctx, n.target, text)
}
