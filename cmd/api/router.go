package main

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/KyawIT/what-to-wear-sub000/internal/di"
	"github.com/KyawIT/what-to-wear-sub000/internal/handlers"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/config"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/idempotency"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/metrics"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/observability"
	"github.com/KyawIT/what-to-wear-sub000/internal/services"
)

// newRouter mounts every route group behind the shared middleware chain.
func newRouter(cfg config.Config, c *di.Container, m *metrics.Metrics, build services.BuildInfo, logger *zap.Logger) http.Handler {
	httpLogger := logger.Named("http")

	// Saves replay their first response. Keys stay optional because the
	// mobile client only sends them on retries.
	replay := idempotency.Middleware(c.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
		idempotency.WithOptionalKey(),
		idempotency.WithMethods(http.MethodPost, http.MethodPut),
	)

	chain := []func(http.Handler) http.Handler{
		observability.TraceMiddleware(cfg.ProjectID),
		observability.AccessLog(httpLogger, cfg.ProjectID),
		observability.Recover(httpLogger),
	}
	opts := []handlers.Option{
		handlers.WithAPIMiddlewares(c.Authenticator.RequireUser()),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(build),
			handlers.WithHealthSystemService(c.Services.System),
		)),
		handlers.WithWardrobeRoutes(handlers.NewWardrobeHandlers(c.Services.Wardrobe).Routes),
		handlers.WithRecommendationRoutes(handlers.NewRecommendationHandlers(c.Services.Recommendations,
			handlers.WithGenerateRateLimit(cfg.RateLimits.RecommendPerMinute, time.Minute, nil),
			handlers.WithRecommendationIdempotency(replay),
		).Routes),
		handlers.WithCompositionRoutes(handlers.NewCompositionHandlers(c.Services.Compositions,
			handlers.WithCompositionIdempotency(replay),
		).Routes),
		handlers.WithCutoutRoutes(handlers.NewCutoutHandlers(c.Services.Cutouts,
			handlers.WithCutoutUploadLimit(cfg.Cutout.MaxUploadBytes),
		).Routes),
	}
	if cfg.Metrics.Enabled {
		chain = append(chain, m.Middleware)
		opts = append(opts, handlers.WithMetricsHandler(cfg.Metrics.Path, m.Handler()))
	}
	opts = append(opts, handlers.WithMiddlewares(chain...))
	return handlers.NewRouter(opts...)
}
