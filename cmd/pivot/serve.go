package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/owid-pivot/internal/adapter/csvfile"
	httpadapter "github.com/couchcryptid/owid-pivot/internal/adapter/http"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Convert the configured source, then serve health, metrics and on-demand pivots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&a.flags.httpAddr, "http-addr", "", "listen address (HTTP_ADDR)")
	return cmd
}

func (a *app) serve(parent context.Context) error {
	// Service logs go to stdout and become the slog default.
	a.logger = sharedobs.NewLogger(a.cfg.LogLevel, a.cfg.LogFormat)
	cfg, logger := a.cfg, a.logger

	metrics := a.newMetrics()
	p, closeFn := a.buildPipeline(metrics)
	defer closeFn()

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, httpadapter.PivotOptions{
		Keys:    a.keys(),
		Source:  csvfile.Options{HasHeader: cfg.HasHeader, Strict: cfg.Strict},
		Pivoter: a.pivoter(),
	}, logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Produce the configured outputs; /readyz reports ready once this succeeds.
	go func() {
		jobs, err := cfg.Jobs()
		if err != nil {
			logger.Error("resolve jobs", "error", err)
			return
		}
		if _, err := p.Run(ctx, a.keys(), jobs); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
