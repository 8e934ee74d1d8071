package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"auditai/internal/api"
	"auditai/internal/config"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *deps) error {
				return runServe(cmd.Context(), d)
			})
		},
	}
}

func runServe(ctx context.Context, d *deps) error {
	d.logger.Info("Starting application",
		slog.String("name", appName),
		slog.String("version", version),
		slog.String("store", d.cfg.Store.Driver))

	apiHandler := api.NewAPIHandler(d.auditor, d.classifier, d.cfg.Location(), d.logger)
	metricsServer := d.metrics.StartMetricsServer(d.cfg.Server.MetricsAddr)
	httpServer, serverErr := startHTTPServer(apiHandler, d.cfg.Server, d.logger)

	err := waitForShutdown(ctx, d, httpServer, metricsServer, serverErr)
	d.logger.Info("Application shutdown complete")
	return err
}

func startHTTPServer(apiHandler *api.APIHandler, cfg config.ServerConfig, logger *slog.Logger) (*http.Server, <-chan error) {
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      apiHandler.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", slog.String("error", err.Error()))
			errCh <- err
		}
	}()

	return server, errCh
}

// waitForShutdown blocks until ctx is cancelled by a signal or the HTTP server
// dies, then drains both servers.
func waitForShutdown(
	ctx context.Context,
	d *deps,
	httpServer *http.Server,
	metricsServer *http.Server,
	serverErr <-chan error,
) error {
	var runErr error
	select {
	case <-ctx.Done():
		d.logger.Info("Shutdown signal received")
	case runErr = <-serverErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
	}

	if err := d.metrics.Shutdown(shutdownCtx, metricsServer); err != nil {
		d.logger.Error("Metrics server shutdown failed", slog.String("error", err.Error()))
	}

	return runErr
}
