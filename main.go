package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"edge-router/internal/circuitbreaker"
	"edge-router/internal/common/logging"
	"edge-router/internal/config"
	"edge-router/internal/discovery"
	"edge-router/internal/health"
	"edge-router/internal/middleware"
	"edge-router/internal/proxy"
	"edge-router/internal/routing"
	"edge-router/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	// .env is optional; environment variables win either way.
	_ = godotenv.Load()

	logging.InitGlobalLogger()
	logger := logging.GetGlobalLogger()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", err)
		return 1
	}

	table := routing.NewTable(logger)
	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig(), logger)

	provider, err := newProvider(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize discovery provider", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := discovery.NewWatcher(provider, table, logger)
	go watcher.Run(ctx)

	checker := health.NewChecker(table, health.Config{
		Interval:         cfg.HealthInterval,
		Timeout:          cfg.HealthTimeout,
		Path:             cfg.HealthPath,
		FailureThreshold: cfg.HealthFailureThreshold,
	}, logger)
	go checker.Run(ctx)

	dispatcher := proxy.NewDispatcher(table, breakers, proxy.Config{
		Strategy:         cfg.BalancerStrategy,
		IdleTimeout:      cfg.IdleTimeout,
		RetryBufferLimit: cfg.RetryBufferLimit,
	}, logger)
	handler := middleware.LoggingMiddleware(dispatcher)

	errCh := make(chan error, 4)

	entrypoints := []*proxy.EntryPoint{
		proxy.NewEntryPoint("web", cfg.WebAddr, handler, cfg.IdleTimeout, "", ""),
	}
	if cfg.WebSecureAddr != "" {
		entrypoints = append(entrypoints,
			proxy.NewEntryPoint("websecure", cfg.WebSecureAddr, handler, cfg.IdleTimeout, cfg.TLSCertFile, cfg.TLSKeyFile))
	}
	for _, ep := range entrypoints {
		ep.Start(errCh)
		logger.Info("Entrypoint listening",
			logging.Field{Key: "entrypoint", Value: ep.Name()},
			logging.Field{Key: "addr", Value: ep.Addr()},
		)
	}

	admin := server.New(cfg.AdminAddr, table, breakers)
	admin.Start(errCh)
	logger.Info("Admin API listening", logging.Field{Key: "addr", Value: cfg.AdminAddr})

	// Wait for a shutdown signal or a listener failure.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("Listener failed", err)
		return 1
	case sig := <-quit:
		logger.Info("Shutting down", logging.Field{Key: "signal", Value: sig.String()})
	}

	// Stop background tasks, then drain in-flight connections within the
	// grace period.
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.DrainGracePeriod)
	defer drainCancel()

	clean := true
	for _, ep := range entrypoints {
		if err := ep.Shutdown(drainCtx); err != nil {
			logger.Warn("Drain deadline exceeded",
				logging.Field{Key: "entrypoint", Value: ep.Name()},
				logging.Field{Key: "error", Value: err.Error()},
			)
			clean = false
		}
	}
	if err := admin.Shutdown(drainCtx); err != nil && err != http.ErrServerClosed {
		clean = false
	}

	if closer, ok := provider.(interface{ Close() error }); ok {
		_ = closer.Close()
	}

	if !clean {
		return 1
	}
	logger.Info("Shutdown complete")
	return 0
}

func newProvider(cfg *config.Config, logger logging.Logger) (discovery.Provider, error) {
	switch cfg.Provider {
	case config.ProviderRedis:
		return discovery.NewRedisProvider(discovery.RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger), nil
	case config.ProviderStatic:
		defs, err := discovery.LoadDefinitionsFile(cfg.RoutesFile)
		if err != nil {
			return nil, err
		}
		return discovery.NewStaticProvider(defs), nil
	default:
		return discovery.NewFileProvider(cfg.RoutesFile, logger), nil
	}
}
