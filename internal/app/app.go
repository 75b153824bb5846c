// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the toolgate server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"toolgate/config"
	"toolgate/internal/cache"
	"toolgate/internal/httpclient"
	"toolgate/internal/observability"
	"toolgate/internal/orchestrator"
	"toolgate/internal/providers"
	"toolgate/internal/server"
	"toolgate/internal/tools"
	"toolgate/internal/usage"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config  *config.Config
	router  *providers.Router
	tools   *tools.Manager
	usage   *usage.Result
	cache   *cache.Responses
	metrics *observability.Metrics
	server  *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig is the result of config.Load.
	AppConfig *config.LoadResult

	// Factory provides the ProviderFactory used to construct provider instances.
	Factory *providers.ProviderFactory

	// Registerer receives the metric collectors. Nil means the prometheus
	// default registry, which the metrics endpoint serves.
	Registerer prometheus.Registerer

	// Tools overrides tool manager options; tests use it to inject
	// transports.
	Tools tools.Options
}

// New creates a new App with all dependencies initialized. Tool servers
// that fail to initialize are skipped. The caller must call Shutdown to
// release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if cfg.AppConfig.Config == nil {
		return nil, fmt.Errorf("app config contains nil Config")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("factory is required")
	}

	appCfg := cfg.AppConfig.Config
	app := &App{config: appCfg}

	// Metrics hooks must be set before providers are built.
	if appCfg.Metrics.Enabled {
		reg := cfg.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		app.metrics = observability.NewMetrics(reg)
		cfg.Factory.SetHooks(app.metrics.Hooks())
	}
	httpCfg := httpclient.DefaultConfig().WithTimeouts(
		time.Duration(appCfg.HTTP.Timeout)*time.Second,
		time.Duration(appCfg.HTTP.ResponseHeaderTimeout)*time.Second,
	)
	cfg.Factory.SetHTTPConfig(&httpCfg)

	router, err := providers.NewRouter(cfg.Factory, appCfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}
	app.router = router

	usageResult, err := usage.New(ctx, appCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize usage tracking: %w", err)
	}
	app.usage = usageResult

	backend, err := cache.New(appCfg.Cache)
	if err != nil {
		closeErr := app.usage.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w (also: usage close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	app.cache = cache.NewResponses(backend)

	toolOpts := cfg.Tools
	if app.metrics != nil {
		toolOpts.OnStateChange = app.metrics.ObserveToolServerState
		toolOpts.OnCall = app.metrics.ObserveToolCall
	}
	app.tools = tools.NewManager(toolOpts)
	if err := app.tools.Initialize(ctx, appCfg.ToolServers); err != nil {
		closeErr := errors.Join(app.tools.Shutdown(), app.cache.Close(), app.usage.Close())
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize tool servers: %w (also: close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize tool servers: %w", err)
	}

	app.logStartupInfo()

	pricing := usage.NewPricing(appCfg.Pricing)
	orchOpts := orchestrator.Options{Cost: pricing.Cost}
	serverCfg := &server.Config{
		MasterKey:       appCfg.Server.MasterKey,
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		BodySizeLimit:   appCfg.Server.BodySizeLimit,
		Providers:       router,
		Tools:           app.tools,
		Cost:            pricing.Cost,
		Cache:           app.cache,
		UsageLogger:     usageResult.Recorder,
	}
	if app.metrics != nil {
		orchOpts.OnIteration = app.metrics.ObserveIteration
		serverCfg.OnStreamEvent = app.metrics.ObserveStreamEvent
	}
	serverCfg.Orchestrator = orchestrator.New(app.tools, orchOpts)

	app.server = server.New(serverCfg)
	return app, nil
}

// Router returns the provider router.
func (a *App) Router() *providers.Router {
	return a.router
}

// Tools returns the tool manager.
func (a *App) Tools() *tools.Manager {
	return a.tools
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order.
// Order:
// 1. HTTP server shutdown via server.Shutdown(ctx), honoring the passed context timeout/cancellation.
// 2. Tool servers disconnect (kills child processes, closes push channels).
// 3. Response cache close.
// 4. Usage logger close (flushes pending usage records, then storage).
//
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
// It attempts every close step, aggregates failures, and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.tools != nil {
		if err := a.tools.Shutdown(); err != nil {
			slog.Error("tool servers shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("tools shutdown: %w", err))
		}
	}

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Error("cache close error", "error", err)
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}

	if a.usage != nil {
		if err := a.usage.Close(); err != nil {
			slog.Error("usage logger close error", "error", err)
			errs = append(errs, fmt.Errorf("usage close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: TOOLGATE_MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set TOOLGATE_MASTER_KEY environment variable to secure this gateway")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	slog.Info("providers configured", "names", a.router.Names())

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	if a.cache != nil {
		slog.Info("response cache enabled", "type", cfg.Cache.Type, "ttl_seconds", cfg.Cache.TTL)
	} else {
		slog.Info("response cache disabled")
	}

	if cfg.Usage.Enabled {
		slog.Info("usage tracking enabled",
			"storage_type", cfg.Storage.Type,
			"buffer_size", cfg.Usage.BufferSize,
			"flush_interval", cfg.Usage.FlushInterval,
			"retention_days", cfg.Usage.RetentionDays,
		)
	} else {
		slog.Info("usage tracking disabled")
	}

	for _, s := range a.tools.Status() {
		slog.Info("tool server", "name", s.Name, "transport", s.Transport, "state", s.State, "tools", s.Tools)
	}
}
