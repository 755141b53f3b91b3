package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/okian/shrinkrank/internal/adapters/http/api"
	"github.com/okian/shrinkrank/internal/adapters/http/swagger"
	app "github.com/okian/shrinkrank/internal/app"
	"github.com/okian/shrinkrank/internal/app/updater"
	"github.com/okian/shrinkrank/internal/config"
	"github.com/okian/shrinkrank/pkg/logger"
	"github.com/okian/shrinkrank/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 10 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

type serveCmd struct {
	addr        string
	leaderboard string
}

func (c *serveCmd) bind(fs *pflag.FlagSet) {
	fs.StringVar(&c.addr, "addr", "", "listen address (default from config)")
	fs.StringVar(&c.leaderboard, "leaderboard", "", "leaderboard document (default from config)")
}

func (c *serveCmd) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("addr") {
		cfg.Addr = c.addr
	}
	if fs.Changed("leaderboard") {
		cfg.LeaderboardPath = c.leaderboard
	}
}

func (c *serveCmd) exec(ctx context.Context, cfg *config.Config, _ io.Writer) error {
	loggerInstance := logger.Get().Named("serve")

	registerRuntimeCollectors()

	normalizer, err := newNormalizer(cfg)
	if err != nil {
		return err
	}
	store := newStore(cfg)
	svc := app.New(store, updater.New(store, normalizer),
		app.WithLogger(loggerInstance),
		app.WithQueueSize(cfg.QueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	go startServiceMetricsUpdater(ctx, svc)

	// HTTP mux and routes.
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, cfg.MaxLeaderboardLimit).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		loggerInstance.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal or a listener failure.
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}
	loggerInstance.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		loggerInstance.Error(ctx, "server shutdown failed", logger.Error(serr))
	}
	if serr := svc.Stop(shutdownCtx); serr != nil {
		loggerInstance.Error(ctx, "service shutdown failed", logger.Error(serr))
	}

	loggerInstance.Info(ctx, "server stopped")
	if err != nil {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// registerRuntimeCollectors adds Go runtime and process metrics to the
// custom registry. Repeated registration is ignored.
func registerRuntimeCollectors() {
	reg := metrics.GetRegistry()
	_ = reg.Register(collectors.NewGoCollector())
	_ = reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// startServiceMetricsUpdater refreshes document gauges that change outside
// this process, e.g. when the update command runs next to serve mode.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(ctx, svc)
		}
	}
}

func updateServiceMetrics(ctx context.Context, svc *app.Service) {
	stats, err := svc.GetStats(ctx)
	if err != nil {
		return
	}
	metrics.UpdateLeaderboardSize(stats.Rows, stats.Archive)
	metrics.UpdateQueueSize(stats.QueueLength)
}
