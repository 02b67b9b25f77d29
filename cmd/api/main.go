// Command api serves the outfit studio HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/KyawIT/what-to-wear-sub000/internal/di"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/config"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/jobs"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/metrics"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/observability"
	"github.com/KyawIT/what-to-wear-sub000/internal/services"
)

func main() {
	logger, err := observability.NewLogger(observability.LoggerOptions{
		Service: "outfit-studio",
		Level:   os.Getenv("STUDIO_LOG_LEVEL"),
		Console: strings.EqualFold(os.Getenv("STUDIO_LOG_FORMAT"), "console"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, logger.Named("api"))
	stop()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run serves until ctx is cancelled, then drains in-flight requests and
// background work. Startup failures are logged before they are returned.
func run(ctx context.Context, logger *zap.Logger) error {
	startedAt := time.Now().UTC()
	ctx = observability.WithLogger(ctx, logger)

	env, err := config.EnvironmentValues()
	if err != nil {
		logger.Error("read environment", zap.Error(err))
		return err
	}

	fetcher, err := newSecretFetcher(ctx, logger, env)
	if err != nil {
		logger.Error("initialise secret fetcher", zap.Error(err))
		return err
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(env)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		} else {
			logger.Error("load configuration", zap.Error(err))
		}
		return err
	}

	build := buildInfo(env, cfg, startedAt)
	appMetrics := metrics.New()
	container, err := di.NewContainer(ctx, cfg, di.Options{
		Logger:  logger,
		Metrics: appMetrics,
		Secrets: fetcher,
		Build:   build,
	})
	if err != nil {
		logger.Error("build dependencies", zap.Error(err))
		return err
	}
	logger.Info("dependencies ready",
		zap.String("idempotency_store", cfg.Idempotency.Store),
		zap.String("index_sync", cfg.IndexSync.Mode),
	)

	scheduler := jobs.NewScheduler(ctx, logger.Named("jobs"))
	scheduleMaintenance(scheduler, cfg, container, appMetrics, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(cfg, container, appMetrics, build, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("outfit studio api listening",
			zap.String("addr", server.Addr),
			zap.String("environment", build.Environment),
			zap.String("version", build.Version),
		)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err = <-serveErr:
		logger.Error("http server stopped", zap.Error(err))
	case <-ctx.Done():
		logger.Info("shutdown signal received; draining requests")
	}

	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("dependency shutdown incomplete", zap.Error(err))
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func scheduleMaintenance(s *jobs.Scheduler, cfg config.Config, c *di.Container, m *metrics.Metrics, logger *zap.Logger) {
	s.Every("idempotency-sweep", cfg.Idempotency.CleanupInterval, func(ctx context.Context, now time.Time) error {
		removed, err := c.Idempotency.Sweep(ctx, now, cfg.Idempotency.CleanupBatchSize)
		if removed > 0 {
			logger.Debug("idempotency sweep completed", zap.Int("removed", removed))
		}
		return err
	})

	compositions := c.Services.Compositions
	s.Every("session-eviction", cfg.Sessions.SweepInterval, func(_ context.Context, now time.Time) error {
		if evicted := compositions.EvictIdle(now); evicted > 0 {
			logger.Info("evicted idle composition sessions", zap.Int("count", evicted))
		}
		m.SetActiveCompositions(compositions.ActiveSessions())
		return nil
	})
}

func buildInfo(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	value := func(key, fallback string) string {
		if v := strings.TrimSpace(env[key]); v != "" {
			return v
		}
		return fallback
	}
	environment := cfg.Environment
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     value("STUDIO_BUILD_VERSION", "dev"),
		CommitSHA:   value("STUDIO_BUILD_COMMIT_SHA", "unknown"),
		Environment: environment,
		StartedAt:   started,
	}
}
