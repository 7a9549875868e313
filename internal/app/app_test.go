package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/keepsake/internal/config"
	"github.com/user/keepsake/internal/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.Database.DSN = filepath.Join(cfg.DataDir, "keepsake.db")
	cfg.LLM.BaseURL = "http://127.0.0.1:1"
	cfg.Hindsight.BaseURL = ""
	cfg.Kafka.Brokers = nil
	return cfg
}

func TestNewWiresServices(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Start(ctx)
	defer a.Close(ctx)

	var names []string
	for _, tool := range a.Tools.All() {
		names = append(names, tool.Name())
	}
	want := []string{
		"core_memory_append", "core_memory_update", "core_memory_rollback",
		"archival_store", "archival_query", "daily_summary_write", "conversation_search",
		"cron_list_jobs", "cron_create_job", "cron_update_job", "cron_pause_job", "cron_resume_job", "cron_delete_job",
	}
	if len(names) != len(want) {
		t.Fatalf("tools = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("tool %d = %q, want %q", i, names[i], want[i])
		}
	}

	blocks, err := a.Memory.List(ctx)
	if err != nil {
		t.Fatalf("list blocks: %v", err)
	}
	if len(blocks) == 0 {
		t.Error("expected bootstrapped core memory blocks")
	}

	rec := httptest.NewRecorder()
	a.API.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health = %d", rec.Code)
	}
}

func TestNewOffersHindsightToolsWhenConfigured(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Hindsight.BaseURL = "http://127.0.0.1:1"
	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close(ctx)

	if _, ok := a.Tools.Get("hindsight_recall"); !ok {
		t.Error("expected hindsight_recall to be registered")
	}
	if _, ok := a.Tools.Get("hindsight_reflect"); !ok {
		t.Error("expected hindsight_reflect to be registered")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.Timezone = "Nowhere/Special"
	if _, err := New(context.Background(), cfg); !errors.Is(err, types.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestTelegramDisabledWithoutToken(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close(ctx)

	adapter, err := a.Telegram()
	if err != nil || adapter != nil {
		t.Fatalf("expected no adapter, got %v, %v", adapter, err)
	}
}

func TestScheduleHeartbeat(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Heartbeat.Schedule = "not a schedule"
	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close(ctx)

	if err := a.ScheduleHeartbeat(ctx); !errors.Is(err, types.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for bad schedule, got %v", err)
	}

	a.Config.Heartbeat.Enabled = false
	if err := a.ScheduleHeartbeat(ctx); err != nil {
		t.Fatalf("disabled heartbeat should not error: %v", err)
	}
}

func TestCloseIsSafeWithoutStart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, err := New(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
