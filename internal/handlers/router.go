package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/httpx"
)

// RouteRegistrar mounts one API group on r.
type RouteRegistrar func(r chi.Router)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

type routerConfig struct {
	global      []func(http.Handler) http.Handler
	api         []func(http.Handler) http.Handler
	health      *HealthHandlers
	metrics     http.Handler
	metricsPath string
	groups      map[string]RouteRegistrar
}

// Option configures NewRouter.
type Option func(*routerConfig)

// groupOrder fixes the mount order of the API groups.
var groupOrder = []string{"/wardrobe", "/recommendations", "/compositions", "/cutouts"}

// NewRouter builds the HTTP surface. Probes and metrics live at the root and
// skip API middleware such as authentication. Groups without a registrar are
// not mounted and answer route_not_found.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		global:      []func(http.Handler) http.Handler{middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout)},
		metricsPath: "/metrics",
		groups:      make(map[string]RouteRegistrar),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	useAll(r, cfg.global)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, cfg.metricsPath, cfg.metrics)
	}

	r.Route(apiPrefix, func(api chi.Router) {
		useAll(api, cfg.api)
		for _, path := range groupOrder {
			if register := cfg.groups[path]; register != nil {
				api.Route(path, func(g chi.Router) { register(g) })
			}
		}
	})
	return r
}

func useAll(r chi.Router, mws []func(http.Handler) http.Handler) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

// WithMiddlewares appends middleware run for every request.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

// WithAPIMiddlewares appends middleware run only below /api/v1.
func WithAPIMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.api = append(cfg.api, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithMetricsHandler serves h at path, /metrics when path is empty.
func WithMetricsHandler(path string, h http.Handler) Option {
	return func(cfg *routerConfig) {
		if path != "" {
			cfg.metricsPath = path
		}
		cfg.metrics = h
	}
}

func WithWardrobeRoutes(reg RouteRegistrar) Option {
	return withGroup("/wardrobe", reg)
}

func WithRecommendationRoutes(reg RouteRegistrar) Option {
	return withGroup("/recommendations", reg)
}

func WithCompositionRoutes(reg RouteRegistrar) Option {
	return withGroup("/compositions", reg)
}

func WithCutoutRoutes(reg RouteRegistrar) Option {
	return withGroup("/cutouts", reg)
}

func withGroup(path string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups[path] = reg }
}
