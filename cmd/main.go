// Command maap serves the MAAP snapshot and bulk-finalization HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/maap/internal/adapters/http/api"
	"github.com/okian/maap/internal/adapters/http/swagger"
	app "github.com/okian/maap/internal/app"
	"github.com/okian/maap/internal/config"
	"github.com/okian/maap/pkg/logger"
	"github.com/okian/maap/pkg/metrics"
)

const (
	readTimeout       = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	// Synchronous batches answer on the request, so writes get more room.
	writeTimeout    = 60 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 30 * time.Second

	systemMetricsInterval  = 10 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.InitWithOptions(cfg.LogFormat, os.Stdout); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level, using info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc, err := app.Open(ctx, cfg, app.WithLogger(log.Named("service")))
	if err != nil {
		return fmt.Errorf("open service: %w", err)
	}
	defer svc.Stop()
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	go runMetricsUpdaters(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, svc),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		defer close(serveErr)
		log.Info(ctx, "http server listening",
			logger.String("addr", cfg.Addr),
			logger.String("store", cfg.StoreDriver),
			logger.String("archive", cfg.ArchiveDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "http shutdown failed", logger.Error(err))
	}
	return nil
}

// newMux registers the API and docs routes.
func newMux(ctx context.Context, svc *app.Service) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc).Register(ctx, mux)
	return mux
}

// runMetricsUpdaters refreshes runtime and service gauges until ctx is done.
func runMetricsUpdaters(ctx context.Context, svc *app.Service) {
	system := time.NewTicker(systemMetricsInterval)
	defer system.Stop()
	service := time.NewTicker(serviceMetricsInterval)
	defer service.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-system.C:
			updateSystemMetrics()
		case <-service.C:
			updateServiceMetrics(svc)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if m.NumGC > 0 {
		metrics.RecordSystemGCPauseTime(float64(m.PauseTotalNs) / float64(m.NumGC) / float64(time.Millisecond))
	}
}

// updateServiceMetrics relies on GetStats refreshing the queue and job gauges.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()
	if capacity, ok := stats["queueCapacity"].(int); ok {
		metrics.UpdateJobQueueCapacity(capacity)
	}
}
