package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Option configures Load and EnvironmentValues.
type Option func(*loadOptions)

type loadOptions struct {
	envFile         string
	overrides       map[string]string
	systemEnv       bool
	resolver        SecretResolver
	requiredSecrets []string
}

func newLoadOptions(opts []Option) loadOptions {
	o := loadOptions{envFile: defaultEnvFile, systemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithEnvFile reads path as a .env file. An empty path skips it.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) { o.envFile = path }
}

// WithEnvMap sets values that win over both the process environment and the .env file.
func WithEnvMap(values map[string]string) Option {
	return func(o *loadOptions) { o.overrides = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loadOptions) { o.systemEnv = false }
}

// WithSecretResolver resolves secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loadOptions) { o.resolver = resolver }
}

// WithRequiredSecrets names secret fields, such as "Backend.APIKey", that must
// resolve to a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loadOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// source layers the explicit overrides over the process environment over the .env file.
type source struct {
	layers []func(string) (string, bool)
}

func newSource(o loadOptions) (source, error) {
	dotenv, err := readDotEnv(o.envFile)
	if err != nil {
		return source{}, err
	}
	var src source
	if o.overrides != nil {
		src.layers = append(src.layers, mapLookup(o.overrides))
	}
	if o.systemEnv {
		src.layers = append(src.layers, os.LookupEnv)
	}
	if dotenv != nil {
		src.layers = append(src.layers, mapLookup(dotenv))
	}
	return src, nil
}

func (s source) lookup(key string) (string, bool) {
	for _, layer := range s.layers {
		if value, ok := layer(key); ok {
			return value, true
		}
	}
	return "", false
}

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := m[key]
		return value, ok
	}
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

// EnvironmentValues returns every variable visible to Load, with the same
// precedence. main uses it to configure the secret fetcher before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	o := newLoadOptions(opts)
	dotenv, err := readDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(dotenv))
	for key, value := range dotenv {
		values[key] = value
	}
	if o.systemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && key != "" {
				values[key] = value
			}
		}
	}
	for key, value := range o.overrides {
		values[key] = value
	}
	return values, nil
}

// reader parses typed values and remembers the keys that did not parse.
type reader struct {
	src       source
	malformed []string
}

func (r *reader) raw(key string) (string, bool) {
	value, ok := r.src.lookup(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (r *reader) str(key, fallback string) string {
	if value, ok := r.raw(key); ok {
		return value
	}
	return fallback
}

func (r *reader) lower(key, fallback string) string {
	return strings.ToLower(r.str(key, fallback))
}

func (r *reader) baseURL(key, fallback string) string {
	return strings.TrimRight(r.str(key, fallback), "/")
}

func (r *reader) duration(key string, fallback time.Duration) time.Duration {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.malformed = append(r.malformed, key)
		return fallback
	}
	return d
}

func (r *reader) integer(key string, fallback int) int {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.malformed = append(r.malformed, key)
		return fallback
	}
	return n
}

func (r *reader) boolean(key string, fallback bool) bool {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	r.malformed = append(r.malformed, key)
	return fallback
}

func (r *reader) list(key string) []string {
	value, _ := r.raw(key)
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load builds the Config from defaults, the .env file, the process
// environment and explicit overrides, then resolves secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := newLoadOptions(opts)
	src, err := newSource(o)
	if err != nil {
		return Config{}, err
	}
	r := &reader{src: src}

	cfg := Config{
		Environment: r.lower("STUDIO_ENVIRONMENT", defaultEnvironment),
		ProjectID:   r.str("STUDIO_GCP_PROJECT_ID", ""),
		Server: ServerConfig{
			Port:            r.str("STUDIO_SERVER_PORT", defaultPort),
			ReadTimeout:     r.duration("STUDIO_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    r.duration("STUDIO_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     r.duration("STUDIO_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: r.duration("STUDIO_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Backend: BackendConfig{
			BaseURL:        r.baseURL("STUDIO_BACKEND_BASE_URL", defaultBackendBaseURL),
			Timeout:        r.duration("STUDIO_BACKEND_TIMEOUT", defaultBackendTimeout),
			PredictTimeout: r.duration("STUDIO_BACKEND_PREDICT_TIMEOUT", defaultPredictTimeout),
			RetryMax:       r.integer("STUDIO_BACKEND_RETRY_MAX", defaultBackendRetryMax),
			RetryWaitMin:   r.duration("STUDIO_BACKEND_RETRY_WAIT_MIN", defaultBackendRetryWaitMin),
			RetryWaitMax:   r.duration("STUDIO_BACKEND_RETRY_WAIT_MAX", defaultBackendRetryWaitMax),
			APIKey:         r.str("STUDIO_BACKEND_API_KEY", ""),
		},
		Recommender: RecommenderConfig{
			Timeout:      r.duration("STUDIO_RECOMMEND_TIMEOUT", defaultRecommendTimeout),
			DefaultLimit: r.integer("STUDIO_RECOMMEND_DEFAULT_LIMIT", defaultRecommendLimit),
			MaxLimit:     r.integer("STUDIO_RECOMMEND_MAX_LIMIT", defaultRecommendMaxLimit),
			MinItems:     r.integer("STUDIO_RECOMMEND_MIN_ITEMS", defaultRecommendMinItems),
		},
		Cutout: CutoutConfig{
			BaseURL:        r.baseURL("STUDIO_CUTOUT_BASE_URL", defaultCutoutBaseURL),
			Timeout:        r.duration("STUDIO_CUTOUT_TIMEOUT", defaultCutoutTimeout),
			MaxUploadBytes: int64(r.integer("STUDIO_CUTOUT_MAX_UPLOAD_BYTES", defaultCutoutMaxUploadBytes)),
		},
		IndexSync: IndexSyncConfig{
			Mode:        r.lower("STUDIO_INDEX_SYNC_MODE", defaultIndexSyncMode),
			BaseURL:     r.baseURL("STUDIO_INDEX_SYNC_BASE_URL", defaultIndexSyncBaseURL),
			Timeout:     r.duration("STUDIO_INDEX_SYNC_TIMEOUT", defaultIndexSyncTimeout),
			APIKey:      r.str("STUDIO_INDEX_SYNC_API_KEY", ""),
			PubSubTopic: r.str("STUDIO_INDEX_SYNC_PUBSUB_TOPIC", ""),
		},
		Auth: AuthConfig{
			JWKSURL:         r.str("STUDIO_AUTH_JWKS_URL", ""),
			Issuers:         r.list("STUDIO_AUTH_ISSUERS"),
			Audience:        r.str("STUDIO_AUTH_AUDIENCE", ""),
			ClientID:        r.str("STUDIO_AUTH_CLIENT_ID", ""),
			AllowUnverified: r.boolean("STUDIO_AUTH_ALLOW_UNVERIFIED", false),
			TokenSkew:       r.duration("STUDIO_AUTH_TOKEN_SKEW", defaultTokenSkew),
		},
		Capture: CaptureConfig{
			FrameDelay:   r.duration("STUDIO_CAPTURE_FRAME_DELAY", defaultCaptureFrameDelay),
			SettleDelay:  r.duration("STUDIO_CAPTURE_SETTLE_DELAY", defaultPreviewSettleDelay),
			CanvasWidth:  r.integer("STUDIO_CAPTURE_CANVAS_WIDTH", defaultCanvasWidth),
			CanvasHeight: r.integer("STUDIO_CAPTURE_CANVAS_HEIGHT", defaultCanvasHeight),
			ItemSize:     r.integer("STUDIO_CAPTURE_ITEM_SIZE", defaultItemSize),
			PreviewSize:  r.integer("STUDIO_CAPTURE_PREVIEW_SIZE", defaultPreviewSize),
		},
		Sessions: SessionConfig{
			TTL:           r.duration("STUDIO_SESSION_TTL", defaultSessionTTL),
			SweepInterval: r.duration("STUDIO_SESSION_SWEEP_INTERVAL", defaultSessionSweep),
		},
		RateLimits: RateLimitConfig{
			RecommendPerMinute: r.integer("STUDIO_RATELIMIT_RECOMMEND_PER_MIN", defaultRecommendPerMinute),
		},
		Idempotency: IdempotencyConfig{
			Header:           r.str("STUDIO_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              r.duration("STUDIO_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  r.duration("STUDIO_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: r.integer("STUDIO_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
			Store:            r.lower("STUDIO_IDEMPOTENCY_STORE", defaultIdempotencyStore),
			Collection:       r.str("STUDIO_IDEMPOTENCY_COLLECTION", defaultIdempotencyColl),
			EmulatorHost:     r.str("FIRESTORE_EMULATOR_HOST", ""),
		},
		Metrics: MetricsConfig{
			Enabled: r.boolean("STUDIO_METRICS_ENABLED", true),
			Path:    r.str("STUDIO_METRICS_PATH", defaultMetricsPath),
		},
	}

	// Keycloak serves realm keys below the issuer.
	if cfg.Auth.JWKSURL == "" && len(cfg.Auth.Issuers) > 0 {
		cfg.Auth.JWKSURL = strings.TrimRight(cfg.Auth.Issuers[0], "/") + "/protocol/openid-connect/certs"
	}
	cfg.Recommender.DefaultLimit = min(cfg.Recommender.DefaultLimit, cfg.Recommender.MaxLimit)

	if err := validate(cfg, r.malformed); err != nil {
		return Config{}, err
	}

	resolved, err := resolveSecretFields(ctx, o.resolver, map[string]*string{
		"Backend.APIKey":   &cfg.Backend.APIKey,
		"IndexSync.APIKey": &cfg.IndexSync.APIKey,
	})
	if err != nil {
		return Config{}, err
	}
	if missing := missingSecrets(o.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}
