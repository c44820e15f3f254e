package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ashureev/intent-sensor/internal/api"
	"github.com/ashureev/intent-sensor/internal/store"
	"github.com/ashureev/intent-sensor/web"
	"github.com/spf13/cobra"
)

func newStubCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stub",
		Short: "Serve the development intent backend and demo storefront",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStub(cmd.Context())
		},
	}
}

func (a *app) runStub(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger.With("component", "stub")

	if cfg.API.Key == "" {
		return errors.New("INTENT_API_KEY must be set to run the stub backend")
	}

	repo, err := store.NewSQLite(cfg.Stub.DBPath)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		logger.Error("Database health check failed", "error", err)
		return fmt.Errorf("database health check: %w", err)
	}
	logger.Info("Database connected", "path", cfg.Stub.DBPath)

	router := api.NewRouter(repo, api.RouterConfig{
		APIKey:         cfg.API.Key,
		AllowedOrigins: cfg.Stub.AllowedOrigins,
		DevRoutes:      cfg.Stub.DevRoutes,
		Site:           web.SiteHandler(),
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Stub.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	ttlDone := store.StartTTLWorker(workerCtx, repo, store.TTLConfig{
		TabTTL:     cfg.Session.TabTTL,
		SessionTTL: cfg.Stub.SessionTTL,
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", srv.Addr, "dev_routes", cfg.Stub.DevRoutes)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("Server failed", "error", err)
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}
	stopWorker()
	<-ttlDone

	logger.Info("Server stopped successfully")
	return nil
}
