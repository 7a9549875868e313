package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/keepsake/internal/app"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the keepsake daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := withApp(cmd, runServe)
		if errors.Is(err, errRestart) {
			return reexec()
		}
		return err
	},
}

// errRestart asks for a re-exec once services are released.
var errRestart = errors.New("restart requested")

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "keepsake.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func runServe(ctx context.Context, a *app.App) error {
	cfg := a.Config
	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Start(ctx)

	adapter, err := a.Telegram()
	if err != nil {
		return fmt.Errorf("create telegram adapter: %w", err)
	}
	if adapter == nil {
		slog.Warn("telegram adapter disabled (no token)")
	}

	if err := a.ScheduleHeartbeat(ctx); err != nil {
		return err
	}
	if err := a.Coordinator.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.API,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("keepsake started",
		"data_dir", cfg.DataDir,
		"database", cfg.Database.Driver,
		"timezone", cfg.Agent.Timezone,
		"max_concurrent", cfg.MaxConcurrent,
		"llm_model", cfg.LLM.Model,
		"http_addr", cfg.HTTP.Addr,
		"pid_file", pidFile,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http api listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if adapter != nil {
		g.Go(func() error { return adapter.Start(gctx) })
	}
	g.Go(func() error {
		restart := waitForSignal(gctx)
		slog.Info("shutting down", "restart", restart)

		shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(gctx), 30*time.Second)
		defer stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		if err := a.Coordinator.Stop(shutdownCtx); err != nil {
			slog.Warn("scheduler shutdown", "error", err)
		}
		cancel()
		if restart {
			return errRestart
		}
		return nil
	})
	return g.Wait()
}

// waitForSignal blocks until ctx ends or SIGHUP arrives. It reports whether
// a restart was requested.
func waitForSignal(ctx context.Context) bool {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	select {
	case <-hup:
		return true
	case <-ctx.Done():
		return false
	}
}

func reexec() error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}
	slog.Info("re-executing", "path", execPath)
	return syscall.Exec(execPath, os.Args, os.Environ())
}
