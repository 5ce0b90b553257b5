package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/config"
	httpserver "github.com/fyrsmithlabs/learnd/internal/http"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the learnd HTTP API",
		Long: `Start the learnd HTTP API with the outcome recorder running.

The server shuts down gracefully on SIGINT or SIGTERM: in-flight requests
finish and queued outcomes are applied before exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

// runServe starts the server and blocks until ctx is cancelled.
func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return a.Close(shutdownCtx)
	}

	if err := a.recorder.Start(); err != nil {
		_ = shutdown()
		return fmt.Errorf("failed to start outcome recorder: %w", err)
	}

	srv, err := httpserver.NewServer(a.svc, a.logger, &httpserver.Config{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		Version:    version,
		ReportDays: cfg.Evaluation.DefaultDays,
	})
	if err != nil {
		_ = shutdown()
		return err
	}

	a.logger.Info("starting learnd",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("version", version),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	serveErr := srv.Start(ctx)
	if serveErr != nil {
		a.logger.Error("http server failed", zap.Error(serveErr))
	} else {
		a.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http server shutdown", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return serveErr
}
