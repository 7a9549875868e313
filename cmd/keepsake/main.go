package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/keepsake/internal/app"
	"github.com/user/keepsake/internal/config"
	"github.com/user/keepsake/internal/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "keepsake",
	Short:         "A personal agent with durable memory",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config",
		filepath.Join(os.Getenv("HOME"), ".keepsake", "config.json"), "config file path")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	slog.SetDefault(logger.New(
		logger.WithLevel(cfg.LogLevel),
		logger.WithJSON(cfg.LogFormat == "json"),
	))
}

// withApp builds the services for one command and releases them afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			slog.Warn("shutdown incomplete", "error", err)
		}
	}()
	return fn(ctx, a)
}

// enableDelivery registers outbound channels so autonomous responses run
// from the CLI reach the user too.
func enableDelivery(a *app.App) {
	if _, err := a.Telegram(); err != nil {
		slog.Warn("telegram delivery unavailable", "error", err)
	}
}
