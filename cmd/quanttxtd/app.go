package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wbrown/quanttxt"
	"github.com/wbrown/quanttxt/internal/api"
	"github.com/wbrown/quanttxt/internal/artifact"
	"github.com/wbrown/quanttxt/internal/config"
	"github.com/wbrown/quanttxt/internal/domain"
	"github.com/wbrown/quanttxt/internal/jobs"
	"github.com/wbrown/quanttxt/internal/progress"
	"github.com/wbrown/quanttxt/internal/store"
)

const shutdownTimeout = 10 * time.Second

// application holds the service dependencies.
type application struct {
	config *config.Config
	logger *slog.Logger
	store  store.JobStore
	runner *jobs.Runner
	server *http.Server
}

func newApplication(ctx context.Context, cfg *config.Config, lg *slog.Logger) (*application, error) {
	st, err := openStore(ctx, cfg.Database, lg)
	if err != nil {
		return nil, err
	}

	artifacts, err := artifact.NewStore(cfg.Storage.ResultsDir)
	if err != nil {
		st.Close()
		return nil, err
	}
	broker := progress.NewBroker(progress.DefaultBuffer)

	runner, err := jobs.NewRunner(st, artifacts, broker, jobs.Config{
		Workers:         cfg.Jobs.Workers,
		QueueSize:       cfg.Jobs.QueueSize,
		SoftTimeLimit:   cfg.Jobs.SoftTimeLimit,
		ResultTTL:       cfg.Jobs.ResultTTL,
		CleanupInterval: cfg.Jobs.CleanupInterval,
		UploadsDir:      cfg.Storage.UploadsDir,
	}, lg.With("component", "runner"))
	if err != nil {
		st.Close()
		return nil, err
	}

	font, err := quanttxt.LoadFontBitmaps("")
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load preview font: %w", err)
	}

	handler := api.NewHandler(runner, artifacts, broker, font, api.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Defaults: domain.JobParams{
			Width:    cfg.Quantize.DefaultWidth,
			Height:   cfg.Quantize.DefaultHeight,
			Quality:  cfg.Quantize.DefaultQuality,
			Advanced: cfg.Quantize.Advanced,
		},
	}, lg.With("component", "api"))

	return &application{
		config: cfg,
		logger: lg,
		store:  st,
		runner: runner,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.NewRouter(handler),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.Server.HardTimeLimit,
		},
	}, nil
}

// openStore returns a PostgreSQL store when a database URL is configured
// and an in-memory store otherwise.
func openStore(ctx context.Context, cfg config.DatabaseConfig, lg *slog.Logger) (store.JobStore, error) {
	if cfg.URL == "" {
		lg.Info("No database configured, keeping jobs in memory")
		return store.NewMemoryStore(), nil
	}
	st, err := store.OpenPostgres(ctx, cfg.URL, lg.With("component", "store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	return st, nil
}

// serve runs the workers and the HTTP server until ctx is cancelled, then
// shuts both down.
func (app *application) serve(ctx context.Context) error {
	if err := app.runner.Start(); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("Starting server", "addr", app.server.Addr)
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		app.logger.Info("Shutting down server...")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	app.logger.Info("Server shutdown completed")
	return nil
}

// cleanup stops the workers and closes the store.
func (app *application) cleanup() {
	app.runner.Stop()
	if err := app.store.Close(); err != nil {
		app.logger.Error("Failed to close job store", "error", err)
	}
}
