package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/intent-sensor/internal/bridge"
	"github.com/ashureev/intent-sensor/internal/browser"
	"github.com/ashureev/intent-sensor/internal/client"
	"github.com/ashureev/intent-sensor/internal/domain"
	"github.com/ashureev/intent-sensor/internal/identity"
	"github.com/ashureev/intent-sensor/internal/metrics"
	"github.com/ashureev/intent-sensor/internal/widget"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <url>",
		Short: "Open url in a browser tab and run the intent sensor on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd.Context(), args[0])
		},
	}
}

func (a *app) runWatch(ctx context.Context, url string) error {
	cfg := a.cfg
	logger := a.logger

	tp, shutdownTracing, err := setupTracing(cfg.TracingEnabled)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	m := metrics.New()

	b, err := browser.Launch(ctx, cfg.Browser, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("Failed to close browser", "error", err)
		}
	}()

	rp, err := b.Open(ctx, url)
	if err != nil {
		return err
	}
	page, err := browser.Attach(ctx, rp, logger)
	if err != nil {
		return err
	}
	defer func() { _ = page.Close() }()

	storage, closeStorage, err := openTabStorage(ctx, cfg.Session, browser.NewSessionStorage(rp))
	if err != nil {
		return err
	}
	defer closeStorage()

	sessionID := identity.GetOrCreateSessionID(ctx, storage, logger)
	pageType := domain.DetectPageType(page.URL())

	backend, err := client.NewFromConfig(cfg,
		client.WithLogger(logger),
		client.WithMetrics(m),
		client.WithTracerProvider(tp))
	if err != nil {
		return fmt.Errorf("create api client: %w", err)
	}

	orch := widget.New(sessionID, pageType, page, backend, widget.NewConfig(cfg),
		widget.WithLogger(logger),
		widget.WithMetrics(m))
	defer orch.Close()

	logger.Info("Sensor starting", "session_id", sessionID, "page_type", pageType, "url", url)
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start sensor: %w", err)
	}

	views, unsubscribe := orch.Subscribe()
	defer unsubscribe()
	go logViews(logger, views)

	conns := bridge.NewConnManager()
	defer conns.CloseSession(sessionID)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.BridgeAddr != "" {
		r := chi.NewRouter()
		r.Use(chiMiddleware.RequestID)
		r.Use(chiMiddleware.RealIP)
		r.Use(chiMiddleware.Recoverer)
		r.Get("/ws/widget", bridge.NewHandler(orch, conns, cfg.BridgeOrigin, false).ServeHTTP)
		g.Go(func() error { return serve(gctx, logger, "bridge", cfg.BridgeAddr, r) })
	}
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serve(gctx, logger, "metrics", cfg.MetricsAddr, m.Handler()) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	logger.Info("Sensor stopping", "session_id", sessionID, "state", orch.State().String())
	return err
}

// serve runs an HTTP server until ctx is done.
func serve(ctx context.Context, logger *slog.Logger, name, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "server", name, "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown: %w", name, err)
	}
	return nil
}

func logViews(logger *slog.Logger, views <-chan widget.View) {
	var last widget.State = -1
	lastMessages := 0
	for v := range views {
		if v.State == last && len(v.Messages) == lastMessages {
			continue
		}
		last, lastMessages = v.State, len(v.Messages)
		logger.Info("Widget updated",
			"state", v.State.String(),
			"intent_type", v.IntentType,
			"confidence", v.Confidence,
			"messages", lastMessages,
			"escalated", v.Escalated)
	}
}
