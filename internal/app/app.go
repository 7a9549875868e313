// Package app wires keepsake's services together using go.uber.org/dig.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.uber.org/dig"

	"github.com/user/keepsake/internal/activity"
	"github.com/user/keepsake/internal/api"
	"github.com/user/keepsake/internal/config"
	ctxengine "github.com/user/keepsake/internal/context"
	"github.com/user/keepsake/internal/delivery"
	"github.com/user/keepsake/internal/episodic"
	"github.com/user/keepsake/internal/eventstream"
	"github.com/user/keepsake/internal/gateway"
	"github.com/user/keepsake/internal/memory"
	"github.com/user/keepsake/internal/runtime"
	"github.com/user/keepsake/internal/runtime/tools"
	"github.com/user/keepsake/internal/scheduler"
	"github.com/user/keepsake/internal/state"
	"github.com/user/keepsake/internal/telegram"
	"github.com/user/keepsake/pkg/llm"
	"github.com/user/keepsake/pkg/llm/openai"
)

// App holds the resolved service singletons.
type App struct {
	Config      *config.Config
	Location    *time.Location
	DB          *state.DB
	Memory      *memory.Manager
	Archival    *memory.Archival
	Summaries   *memory.Summaries
	Episodic    episodic.Service
	Gateway     *gateway.Gateway
	Runtime     *runtime.Runtime
	Tools       *runtime.Registry
	Coordinator *scheduler.Coordinator
	Heartbeat   *scheduler.Heartbeat
	Delivery    *delivery.Registry
	API         *api.Server

	retain *episodic.Queue
	events eventstream.Publisher
}

// New builds and wires every service from cfg. The store is opened and
// migrated; nothing is started.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := state.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	d := dig.New()
	providers := []any{
		func() *config.Config { return cfg },
		func() *time.Location { return cfg.Location() },
		func() *state.DB { return db },
		func(db *state.DB) *memory.Manager { return memory.NewManager(db) },
		func(db *state.DB) *memory.Archival { return memory.NewArchival(db) },
		func(db *state.DB, loc *time.Location) *memory.Summaries { return memory.NewSummaries(db, loc) },
		func(db *state.DB) *activity.Signal { return activity.New(db) },
		newEpisodic,
		newRetainQueue,
		newPublisher,
		newProvider,
		newAssembler,
		newGateway,
		delivery.NewRegistry,
		newCoordinator,
		newToolRegistry,
		newAgent,
		newRuntime,
		newHeartbeat,
		newAPI,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("wire services: %w", err)
		}
	}

	var a *App
	err = d.Invoke(func(
		loc *time.Location,
		mgr *memory.Manager,
		archival *memory.Archival,
		summaries *memory.Summaries,
		svc episodic.Service,
		retain *episodic.Queue,
		events eventstream.Publisher,
		gw *gateway.Gateway,
		rt *runtime.Runtime,
		toolset *runtime.Registry,
		coord *scheduler.Coordinator,
		hb *scheduler.Heartbeat,
		registry *delivery.Registry,
		server *api.Server,
	) {
		gw.Queue.SetProcessor(rt.ProcessRun)
		a = &App{
			Config:      cfg,
			Location:    loc,
			DB:          db,
			Memory:      mgr,
			Archival:    archival,
			Summaries:   summaries,
			Episodic:    svc,
			Gateway:     gw,
			Runtime:     rt,
			Tools:       toolset,
			Coordinator: coord,
			Heartbeat:   hb,
			Delivery:    registry,
			API:         server,
			retain:      retain,
			events:      events,
		}
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build services: %w", dig.RootCause(err))
	}
	return a, nil
}

func newEpisodic(cfg *config.Config) episodic.Service {
	if strings.TrimSpace(cfg.Hindsight.BaseURL) == "" {
		slog.Info("episodic memory disabled (no hindsight base url)")
		return episodic.Disabled{}
	}
	return episodic.New(episodic.Config{
		BaseURL: cfg.Hindsight.BaseURL,
		Bank:    cfg.Hindsight.Bank,
		Timeout: time.Duration(cfg.Hindsight.TimeoutSeconds) * time.Second,
	})
}

func newRetainQueue(cfg *config.Config, svc episodic.Service) *episodic.Queue {
	return episodic.NewQueue(svc, cfg.Hindsight.QueueSize, 0)
}

func newPublisher(cfg *config.Config) (eventstream.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return eventstream.Nop{}, nil
	}
	return eventstream.NewKafka(strings.Join(cfg.Kafka.Brokers, ","), cfg.Kafka.Topic)
}

func newProvider(cfg *config.Config) llm.Provider {
	return openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
}

func newAssembler(cfg *config.Config, db *state.DB, loc *time.Location) *ctxengine.Assembler {
	return ctxengine.New(db, db, db, ctxengine.NewCounter(cfg.LLM.Model), ctxengine.Options{
		RecentMessages: cfg.Context.RecentMessages,
		TokenBudget:    cfg.Context.TokenBudget,
		SummaryDays:    cfg.Context.SummaryDays,
		Location:       loc,
	})
}

// newGateway builds the gateway without a processor; New attaches the
// runtime once the graph is resolved. Thread lanes also take a store lease
// so the daemon and one-shot commands never interleave turns on a thread.
func newGateway(cfg *config.Config, db *state.DB) *gateway.Gateway {
	gw := gateway.New(nil, int64(cfg.MaxConcurrent))
	gw.Queue.SetLocker(db)
	return gw
}

func newCoordinator(cfg *config.Config, db *state.DB, gw *gateway.Gateway, registry *delivery.Registry) *scheduler.Coordinator {
	return scheduler.New(db, gw,
		scheduler.WithNotifier(registry.For(cfg.Heartbeat.DeliverTo)),
		scheduler.WithJobTimeout(time.Duration(cfg.Cron.JobTimeoutMinutes)*time.Minute),
		scheduler.WithDefaultTimezone(cfg.Agent.Timezone),
		scheduler.WithSyncInterval(time.Duration(cfg.Cron.SyncIntervalSeconds)*time.Second),
		scheduler.WithLeases(db),
	)
}

func newToolRegistry(
	db *state.DB,
	loc *time.Location,
	mgr *memory.Manager,
	archival *memory.Archival,
	summaries *memory.Summaries,
	svc episodic.Service,
	coord *scheduler.Coordinator,
) *runtime.Registry {
	deps := tools.Deps{
		Blocks:    mgr,
		Facts:     archival,
		Summaries: summaries,
		Messages:  db,
		Jobs:      coord,
		Location:  loc,
	}
	if _, disabled := svc.(episodic.Disabled); !disabled {
		deps.Episodic = svc
	}
	registry := runtime.NewRegistry()
	for _, t := range tools.All(deps) {
		registry.Register(t)
	}
	return registry
}

func newAgent(cfg *config.Config, provider llm.Provider, registry *runtime.Registry) *runtime.Agent {
	return runtime.NewAgent(provider, registry, cfg.MaxToolRounds)
}

func newRuntime(
	assembler *ctxengine.Assembler,
	agent *runtime.Agent,
	db *state.DB,
	signal *activity.Signal,
	retain *episodic.Queue,
	events eventstream.Publisher,
	loc *time.Location,
) *runtime.Runtime {
	return runtime.New(assembler, agent, db,
		runtime.WithActivity(signal),
		runtime.WithRetainQueue(retain),
		runtime.WithPublisher(events),
		runtime.WithLocation(loc),
	)
}

func newHeartbeat(cfg *config.Config, gw *gateway.Gateway, signal *activity.Signal, db *state.DB, registry *delivery.Registry, loc *time.Location) *scheduler.Heartbeat {
	return scheduler.NewHeartbeat(gw, signal, db, scheduler.HeartbeatConfig{
		SkipWindow: time.Duration(cfg.Heartbeat.SkipWindowMinutes) * time.Minute,
		PromptPath: cfg.Heartbeat.PromptPath,
		Location:   loc,
		Notifier:   registry.For(cfg.Heartbeat.DeliverTo),
	})
}

func newAPI(gw *gateway.Gateway, db *state.DB, mgr *memory.Manager, coord *scheduler.Coordinator, summaries *memory.Summaries, archival *memory.Archival, loc *time.Location) *api.Server {
	return api.NewServer(api.Deps{
		Turns:     gw,
		Messages:  db,
		Memory:    mgr,
		Jobs:      coord,
		Summaries: summaries,
		Facts:     archival,
		Location:  loc,
	})
}

// Start starts the gateway and the retain worker.
func (a *App) Start(ctx context.Context) {
	a.retain.Start()
	a.Gateway.Start(ctx)
}

// Telegram creates the Telegram adapter and registers it for outbound
// delivery. It returns nil when no bot token is configured.
func (a *App) Telegram() (*telegram.Adapter, error) {
	if a.Config.Telegram.Token == "" {
		return nil, nil
	}
	adapter, err := telegram.New(a.Config.Telegram.Token, a.Gateway, a.DB, a.Config.Telegram.AllowedUsers)
	if err != nil {
		return nil, err
	}
	a.Delivery.Register(telegram.TargetPrefix, adapter.Deliver)
	return adapter, nil
}

// ScheduleHeartbeat registers the heartbeat on the coordinator's ticker.
func (a *App) ScheduleHeartbeat(ctx context.Context) error {
	if !a.Config.Heartbeat.Enabled {
		slog.Info("heartbeat disabled")
		return nil
	}
	err := a.Coordinator.AddFunc(a.Config.Heartbeat.Schedule, func() {
		if _, err := a.Heartbeat.Run(ctx); err != nil {
			slog.Error("heartbeat failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	slog.Info("heartbeat scheduled", "schedule", a.Config.Heartbeat.Schedule)
	return nil
}

// Close stops the gateway, drains the retain queue and releases the store.
func (a *App) Close(ctx context.Context) error {
	a.Gateway.Stop()
	var errs []error
	if err := a.retain.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain retain queue: %w", err))
	}
	if err := a.events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close event publisher: %w", err))
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
