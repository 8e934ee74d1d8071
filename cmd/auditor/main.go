// Package main provides the auditor CLI: the HTTP server plus one-shot audit,
// training and catalog commands.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"auditai/internal/config"
)

const appName = "auditai"

// logOutput receives structured logs. Stdout is left to command output so
// that audit and predict reports stay machine-readable.
var logOutput io.Writer = os.Stderr

var (
	version    = "1.0.0"
	configPath string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	rootCmd := &cobra.Command{
		Use:           "auditor",
		Short:         "Compliance auditing over recent financial transactions",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")

	rootCmd.AddCommand(
		newServeCmd(),
		newAuditCmd(),
		newTrainCmd(),
		newPredictCmd(),
		newRulesCmd(),
	)

	return rootCmd.ExecuteContext(ctx)
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := setupLogger(logOutput, cfg.Log.Level)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func setupLogger(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	handler := slog.NewJSONHandler(w, opts)
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
