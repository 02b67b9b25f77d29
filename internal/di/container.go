package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/auth"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/config"
	pfirestore "github.com/KyawIT/what-to-wear-sub000/internal/platform/firestore"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/idempotency"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/imaging"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/jobs"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/metrics"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/observability"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/secrets"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories/backend"
	"github.com/KyawIT/what-to-wear-sub000/internal/services"
)

const (
	probeTimeout          = 1500 * time.Millisecond
	readinessCacheTTL     = 2 * time.Second
	secretHealthReference = "secret://system/healthz?version=latest"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Wardrobe        services.WardrobeService
	Recommendations services.RecommendationService
	Compositions    services.CompositionService
	Cutouts         services.CutoutService
	System          services.SystemService
	IndexSync       services.IndexSyncDispatcher
}

// Options carries process level collaborators the container does not own.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Secrets *secrets.Fetcher
	Build   services.BuildInfo
	Clock   func() time.Time
}

// Container wires upstream clients, services, and background infrastructure for runtime use.
type Container struct {
	Config        config.Config
	Services      Services
	Authenticator *auth.Authenticator
	Metrics       *metrics.Metrics
	Idempotency   idempotency.Store

	logger  *zap.Logger
	closers []func(context.Context) error
}

// NewContainer constructs the runtime dependencies from cfg.
func NewContainer(ctx context.Context, cfg config.Config, opts Options) (*Container, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	c := &Container{Config: cfg, Metrics: m, logger: logger}

	backendClient, err := backend.NewClient(backend.ClientOptions{
		BaseURL:      cfg.Backend.BaseURL,
		APIKey:       cfg.Backend.APIKey,
		Timeout:      cfg.Backend.Timeout,
		RetryMax:     cfg.Backend.RetryMax,
		RetryWaitMin: cfg.Backend.RetryWaitMin,
		RetryWaitMax: cfg.Backend.RetryWaitMax,
		Logger:       logger.Named("backend"),
	})
	if err != nil {
		return nil, fmt.Errorf("build backend client: %w", err)
	}
	cutoutClient, err := backend.NewClient(backend.ClientOptions{
		BaseURL: cfg.Cutout.BaseURL,
		Timeout: cfg.Cutout.Timeout,
		Logger:  logger.Named("cutout"),
	})
	if err != nil {
		return nil, fmt.Errorf("build cutout client: %w", err)
	}

	authenticator, jwks, err := buildAuthenticator(cfg.Auth, logger.Named("auth"), m, clock)
	if err != nil {
		return nil, err
	}
	c.Authenticator = authenticator

	indexSyncer, err := c.buildIndexSyncer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, storeCheck, err := c.buildIdempotencyStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.Idempotency = store

	svc, err := buildServices(cfg, backendClient, cutoutClient, indexSyncer, logger, m, clock)
	if err != nil {
		return nil, err
	}

	svc.System, err = buildSystemService(cfg, opts.Secrets, jwks, storeCheck, svc.Compositions, opts.Build, clock)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	c.Services = svc
	return c, nil
}

// Close drains background index syncs and releases upstream clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Services.IndexSync != nil {
		if err := c.Services.IndexSync.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain index sync: %w", err))
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildAuthenticator(cfg config.AuthConfig, logger *zap.Logger, m *metrics.Metrics, clock func() time.Time) (*auth.Authenticator, *auth.JWKSCache, error) {
	adapter := observability.NewPrintf(logger.Named("auth"))
	var jwks *auth.JWKSCache
	if url := strings.TrimSpace(cfg.JWKSURL); url != "" {
		jwks = auth.NewJWKSCache(url, auth.WithJWKSLogger(adapter))
	}

	authOpts := []auth.Option{
		auth.WithIssuers(cfg.Issuers...),
		auth.WithAudience(cfg.Audience),
		auth.WithClientID(cfg.ClientID),
		auth.WithLogger(adapter),
		auth.WithMetrics(m),
		auth.WithClock(clock),
	}
	if cfg.AllowUnverified {
		logger.Warn("auth: accepting unverified bearer tokens; never enable this outside local development")
		authOpts = append(authOpts, auth.WithUnverifiedTokens())
	} else if jwks == nil {
		return nil, nil, errors.New("auth: jwks url or issuer is required")
	}
	return auth.NewAuthenticator(jwks, authOpts...), jwks, nil
}

func (c *Container) buildIndexSyncer(ctx context.Context, cfg config.Config) (repositories.IndexSyncer, error) {
	switch cfg.IndexSync.Mode {
	case config.IndexSyncModeOff:
		return nil, nil
	case config.IndexSyncModePubSub:
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		topic := client.Topic(cfg.IndexSync.PubSubTopic)
		topic.EnableMessageOrdering = true
		c.closers = append(c.closers, func(context.Context) error {
			topic.Stop()
			return client.Close()
		})
		publisher, err := jobs.NewPubSubIndexPublisher(topic)
		if err != nil {
			return nil, fmt.Errorf("build index publisher: %w", err)
		}
		return publisher, nil
	default:
		client, err := backend.NewClient(backend.ClientOptions{
			BaseURL: cfg.IndexSync.BaseURL,
			APIKey:  cfg.IndexSync.APIKey,
			Timeout: cfg.IndexSync.Timeout,
			Logger:  c.logger.Named("index"),
		})
		if err != nil {
			return nil, fmt.Errorf("build index client: %w", err)
		}
		syncer, err := backend.NewIndexSyncer(client, cfg.IndexSync.Timeout)
		if err != nil {
			return nil, fmt.Errorf("build index syncer: %w", err)
		}
		return syncer, nil
	}
}

// buildIdempotencyStore returns the replay store and, for Firestore, its readiness check.
func (c *Container) buildIdempotencyStore(ctx context.Context, cfg config.Config) (idempotency.Store, []repositories.DependencyCheck, error) {
	if cfg.Idempotency.Store != config.IdempotencyStoreFirestore {
		return idempotency.NewMemoryStore(), nil, nil
	}
	client, err := pfirestore.NewClient(ctx, pfirestore.Options{
		ProjectID:    cfg.ProjectID,
		EmulatorHost: cfg.Idempotency.EmulatorHost,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build firestore client: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })

	store, err := idempotency.NewFirestoreStore(client, idempotency.WithCollection(cfg.Idempotency.Collection))
	if err != nil {
		return nil, nil, fmt.Errorf("build idempotency store: %w", err)
	}
	check := repositories.DependencyCheck{
		Name:  "idempotencyStore",
		Check: pfirestore.Probe(client, cfg.Idempotency.Collection),
	}
	return store, []repositories.DependencyCheck{check}, nil
}

func buildServices(cfg config.Config, backendClient, cutoutClient *backend.Client, indexSyncer repositories.IndexSyncer, logger *zap.Logger, m *metrics.Metrics, clock func() time.Time) (Services, error) {
	var svc Services

	tokens := auth.NewRequestTokenSource(cfg.Auth.TokenSkew, clock)

	wardrobeRepo, err := backend.NewWardrobeRepository(backendClient)
	if err != nil {
		return Services{}, fmt.Errorf("build wardrobe repository: %w", err)
	}
	outfitRepo, err := backend.NewOutfitRepository(backendClient, clock)
	if err != nil {
		return Services{}, fmt.Errorf("build outfit repository: %w", err)
	}
	images, err := backend.NewImageFetcher(backendClient, 0)
	if err != nil {
		return Services{}, fmt.Errorf("build image fetcher: %w", err)
	}
	recommender, err := backend.NewRecommendationClient(backendClient, images)
	if err != nil {
		return Services{}, fmt.Errorf("build recommendation client: %w", err)
	}
	predictor, err := backend.NewTagPredictor(backendClient, cfg.Backend.PredictTimeout, clock)
	if err != nil {
		return Services{}, fmt.Errorf("build tag predictor: %w", err)
	}
	remover, err := backend.NewBackgroundRemover(cutoutClient)
	if err != nil {
		return Services{}, fmt.Errorf("build background remover: %w", err)
	}
	renderer, err := imaging.NewRenderer(images, imaging.Options{
		PreviewSize: cfg.Capture.PreviewSize,
		Logger:      logger.Named("imaging"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build renderer: %w", err)
	}

	svc.IndexSync = services.NewIndexSyncDispatcher(services.IndexSyncDispatcherDeps{
		Syncer:  indexSyncer,
		Mode:    cfg.IndexSync.Mode,
		Timeout: cfg.IndexSync.Timeout,
		Logger:  logger.Named("index"),
		Metrics: m,
	})

	svc.Wardrobe, err = services.NewWardrobeService(services.WardrobeServiceDeps{
		Wardrobe: wardrobeRepo,
		Tokens:   tokens,
		MinItems: cfg.Recommender.MinItems,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build wardrobe service: %w", err)
	}

	svc.Recommendations, err = services.NewRecommendationService(services.RecommendationServiceDeps{
		Wardrobe:     wardrobeRepo,
		Recommender:  recommender,
		Outfits:      outfitRepo,
		Tokens:       tokens,
		Previews:     renderer,
		IndexSync:    svc.IndexSync,
		Metrics:      m,
		Logger:       logger.Named("recommendations"),
		Clock:        clock,
		Timeout:      cfg.Recommender.Timeout,
		DefaultLimit: cfg.Recommender.DefaultLimit,
		MaxLimit:     cfg.Recommender.MaxLimit,
		MinItems:     cfg.Recommender.MinItems,
		SettleDelay:  cfg.Capture.SettleDelay,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build recommendation service: %w", err)
	}

	svc.Compositions, err = services.NewCompositionService(services.CompositionServiceDeps{
		Wardrobe:   wardrobeRepo,
		Outfits:    outfitRepo,
		Tokens:     tokens,
		Capturer:   renderer,
		Predictor:  predictor,
		IndexSync:  svc.IndexSync,
		Metrics:    m,
		Logger:     logger.Named("compositions"),
		Clock:      clock,
		Canvas:     domain.CanvasSize{Width: cfg.Capture.CanvasWidth, Height: cfg.Capture.CanvasHeight},
		ItemSize:   float64(cfg.Capture.ItemSize),
		FrameDelay: cfg.Capture.FrameDelay,
		SessionTTL: cfg.Sessions.TTL,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build composition service: %w", err)
	}

	svc.Cutouts, err = services.NewCutoutService(services.CutoutServiceDeps{
		Remover:  remover,
		MaxBytes: cfg.Cutout.MaxUploadBytes,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cutout service: %w", err)
	}

	return svc, nil
}

func buildSystemService(cfg config.Config, fetcher *secrets.Fetcher, jwks *auth.JWKSCache, extra []repositories.DependencyCheck, sessions services.SessionCounter, build services.BuildInfo, clock func() time.Time) (services.SystemService, error) {
	probeClient := &http.Client{Timeout: probeTimeout}
	checks := []repositories.DependencyCheck{
		{Name: "backend", Critical: true, Check: repositories.HTTPProbe(probeClient, cfg.Backend.BaseURL+"/api/wearable")},
	}
	if cfg.Cutout.BaseURL != "" {
		checks = append(checks, repositories.DependencyCheck{
			Name:  "cutout",
			Check: repositories.HTTPProbe(probeClient, cfg.Cutout.BaseURL),
		})
	}
	if cfg.IndexSync.Mode == config.IndexSyncModeHTTP {
		checks = append(checks, repositories.DependencyCheck{
			Name:  "indexSync",
			Check: repositories.HTTPProbe(probeClient, cfg.IndexSync.BaseURL),
		})
	}
	if jwks != nil {
		checks = append(checks, repositories.DependencyCheck{Name: "jwks", Critical: true, Check: jwks.Check})
	}
	if fetcher != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				// A missing probe secret still proves Secret Manager answered.
				if _, err := fetcher.ResolveSecret(ctx, secretHealthReference); err != nil && !errors.Is(err, secrets.ErrNotFound) {
					return err
				}
				return nil
			},
		})
	}

	checks = append(checks, extra...)

	repo, err := repositories.NewDependencyHealthRepository(checks,
		repositories.WithDependencyTimeout(probeTimeout),
		repositories.WithDependencyClock(clock),
	)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Sessions:         sessions,
		Clock:            clock,
		Build:            build,
		CacheTTL:         readinessCacheTTL,
	})
}
