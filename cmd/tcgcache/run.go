package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	tcgcache "github.com/eugener/tcgcache/internal"
	"github.com/eugener/tcgcache/internal/app"
	"github.com/eugener/tcgcache/internal/cache"
	"github.com/eugener/tcgcache/internal/circuitbreaker"
	"github.com/eugener/tcgcache/internal/config"
	"github.com/eugener/tcgcache/internal/freshness"
	"github.com/eugener/tcgcache/internal/interceptor"
	"github.com/eugener/tcgcache/internal/server"
	"github.com/eugener/tcgcache/internal/storage/sqlite"
	"github.com/eugener/tcgcache/internal/telemetry"
	"github.com/eugener/tcgcache/internal/upstream"
	"github.com/eugener/tcgcache/internal/worker"
)

// namedSchemaVersion tags named-cache rows; bump it when Set or Card change
// shape so older rows read as misses.
const namedSchemaVersion = 1

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	slog.Info("starting tcgcache", "version", version, "addr", cfg.Server.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Telemetry
	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Warn("tracing shutdown", "error", err)
			}
		}()
	}

	// Open database
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Cache tiers
	mem, err := cache.NewMemory()
	if err != nil {
		return err
	}
	policy := freshness.New(cfg.Freshness.Rules())

	// Upstream transport chain: API key -> interceptor -> breaker -> pooled dialer.
	var resolver *dnscache.Resolver
	if cfg.Upstream.DNSCache {
		resolver = &dnscache.Resolver{}
	}
	var (
		transport    http.RoundTripper = upstream.NewTransport(resolver)
		ic           *interceptor.Interceptor
		openCircuits func() []string
	)
	if cb := cfg.Upstream.CircuitBreaker; cb.Enabled {
		breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
			ErrorThreshold: cb.ErrorThreshold,
			MinSamples:     cb.MinSamples,
			WindowSeconds:  cb.WindowSeconds,
			OpenTimeout:    cb.OpenTimeout,
		})
		transport = &circuitbreaker.Transport{Base: transport, Breakers: breakers}
		openCircuits = breakers.OpenHosts
	}
	if cfg.Interceptor.Enabled {
		ic = interceptor.New(transport, store, interceptor.Options{
			Version:         cfg.Interceptor.Version,
			Manifest:        cfg.Interceptor.ManifestURLs(),
			OfflineDocument: cfg.Interceptor.OfflineDocumentURL(),
			CacheStatic:     cfg.Interceptor.CacheStatic,
			RefreshTimeout:  cfg.Upstream.Timeout,
			Metrics:         metrics,
		})
		transport = ic
	}
	client := upstream.New(upstream.Options{
		BaseURL:   cfg.Upstream.BaseURL,
		Timeout:   cfg.Upstream.Timeout,
		Transport: &upstream.APIKeyTransport{Key: cfg.Upstream.APIKey, Base: transport},
		RPS:       cfg.Upstream.RPS,
	})

	// Wire services
	catalog := app.NewCatalog(app.Options{
		Memory:             mem,
		Persistent:         cache.NewPersistent(store, store, namedSchemaVersion),
		Upstream:           client,
		Policy:             policy,
		Interceptor:        ic,
		Metrics:            metrics,
		SearchPageSize:     cfg.Upstream.PageSize,
		HydratePageSize:    cfg.Hydrate.PageSize,
		HydrateConcurrency: cfg.Hydrate.Concurrency,
		AllowedImageHosts:  cfg.Images.AllowedHosts,
	})
	if err := catalog.Init(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := catalog.Close(closeCtx); err != nil {
			slog.Warn("catalog close", "error", err)
		}
	}()

	// Background workers
	workers := []worker.Worker{
		worker.NewSweepWorker(catalog, cfg.Workers.SweepInterval, cfg.Workers.SweepAge, metrics),
		worker.NewSetWarmer(catalog, policy.TTL(tcgcache.CategorySetList)),
	}
	if resolver != nil {
		workers = append(workers, worker.NewDNSRefreshWorker(resolver, cfg.Upstream.DNSRefresh))
	}
	runner := worker.NewRunner(workers...)
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	workerErr := make(chan error, 1)
	go func() { workerErr <- runner.Run(workerCtx) }()

	// Create HTTP server
	handler := server.New(server.Deps{
		Catalog:        catalog,
		ReadyCheck:     store.Ping,
		OpenCircuits:   openCircuits,
		AdminToken:     cfg.Server.AdminToken,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("tcgcache ready", "addr", cfg.Server.Addr)

	select {
	case <-ctx.Done():
		slog.Info("shutting down", "cause", context.Cause(ctx))
	case err := <-errCh:
		return err
	case err := <-workerErr:
		if err != nil {
			slog.Error("worker failed", "error", err)
		}
	}

	// Shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	cancelWorkers()

	slog.Info("tcgcache stopped")
	return nil
}

// setupLogging installs the default slog handler described by cfg.
func setupLogging(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}
