// internal/delivery/registry_test.go
package delivery

import (
	"context"
	"testing"
)

func TestRegistryDeliver(t *testing.T) {
	reg := NewRegistry()

	var gotTarget, gotMsg string
	reg.Register("test:", func(_ context.Context, target, message string) error {
		gotTarget = target
		gotMsg = message
		return nil
	})

	err := reg.Deliver(context.Background(), "test:123", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTarget != "test:123" {
		t.Errorf("expected target %q, got %q", "test:123", gotTarget)
	}
	if gotMsg != "hello" {
		t.Errorf("expected message %q, got %q", "hello", gotMsg)
	}
}

func TestRegistryNoHandler(t *testing.T) {
	reg := NewRegistry()

	err := reg.Deliver(context.Background(), "unknown:123", "hello")
	if err == nil {
		t.Fatal("expected error for unregistered prefix, got nil")
	}
}

func TestRegistryLongestPrefixWins(t *testing.T) {
	reg := NewRegistry()

	var general, specific int
	reg.Register("telegram:", func(context.Context, string, string) error {
		general++
		return nil
	})
	reg.Register("telegram:42", func(context.Context, string, string) error {
		specific++
		return nil
	})

	if err := reg.Deliver(context.Background(), "telegram:42", "msg1"); err != nil {
		t.Fatalf("deliver error: %v", err)
	}
	if err := reg.Deliver(context.Background(), "telegram:7", "msg2"); err != nil {
		t.Fatalf("deliver error: %v", err)
	}

	if specific != 1 || general != 1 {
		t.Errorf("expected one call each, got specific=%d general=%d", specific, general)
	}
}

func TestNotifier(t *testing.T) {
	reg := NewRegistry()
	var got []string
	reg.Register("telegram:", func(_ context.Context, target, message string) error {
		got = append(got, target+"|"+message)
		return nil
	})

	if err := reg.For("telegram:99").Notify(context.Background(), "wake up"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "telegram:99|wake up" {
		t.Errorf("unexpected deliveries %v", got)
	}

	if err := reg.For("").Notify(context.Background(), "dropped"); err != nil {
		t.Errorf("empty target must drop silently, got %v", err)
	}
	if len(got) != 1 {
		t.Errorf("empty target must not deliver")
	}
}
