// Package config loads the studio configuration from STUDIO_* variables,
// a local .env file and Secret Manager references.
package config

import "time"

const (
	defaultEnvFile              = ".env"
	defaultEnvironment          = "local"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 90 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 15 * time.Second
	defaultBackendBaseURL       = "http://localhost:8080"
	defaultBackendTimeout       = 30 * time.Second
	defaultBackendRetryMax      = 2
	defaultBackendRetryWaitMin  = 200 * time.Millisecond
	defaultBackendRetryWaitMax  = 2 * time.Second
	defaultRecommendTimeout     = 45 * time.Second
	defaultRecommendLimit       = 6
	defaultRecommendMaxLimit    = 12
	defaultRecommendMinItems    = 5
	defaultPredictTimeout       = 30 * time.Second
	defaultCutoutBaseURL        = "http://localhost:8083"
	defaultCutoutTimeout        = 60 * time.Second
	defaultCutoutMaxUploadBytes = 15 << 20
	defaultIndexSyncMode        = IndexSyncModeHTTP
	defaultIndexSyncBaseURL     = "http://localhost:8000"
	defaultIndexSyncTimeout     = 10 * time.Second
	defaultTokenSkew            = 10 * time.Second
	defaultCaptureFrameDelay    = 150 * time.Millisecond
	defaultPreviewSettleDelay   = 80 * time.Millisecond
	defaultCanvasWidth          = 360
	defaultCanvasHeight         = 320
	defaultItemSize             = 100
	defaultPreviewSize          = 220
	defaultSessionTTL           = 30 * time.Minute
	defaultSessionSweep         = time.Minute
	defaultRecommendPerMinute   = 10
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultIdempotencyStore     = IdempotencyStoreMemory
	defaultIdempotencyColl      = "idempotency_keys"
	defaultMetricsPath          = "/metrics"
)

// Index sync delivery modes.
const (
	IndexSyncModeHTTP   = "http"
	IndexSyncModePubSub = "pubsub"
	IndexSyncModeOff    = "off"
)

// Idempotency record stores.
const (
	IdempotencyStoreMemory    = "memory"
	IdempotencyStoreFirestore = "firestore"
)

// Config is the runtime configuration, grouped by collaborator.
type Config struct {
	Environment string
	ProjectID   string

	Server      ServerConfig
	Backend     BackendConfig
	Recommender RecommenderConfig
	Cutout      CutoutConfig
	IndexSync   IndexSyncConfig
	Auth        AuthConfig
	Capture     CaptureConfig
	Sessions    SessionConfig
	RateLimits  RateLimitConfig
	Idempotency IdempotencyConfig
	Metrics     MetricsConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// BackendConfig points at the wardrobe and outfit backend.
type BackendConfig struct {
	BaseURL        string
	Timeout        time.Duration
	PredictTimeout time.Duration
	RetryMax       int
	RetryWaitMin   time.Duration
	RetryWaitMax   time.Duration
	// APIKey is sent as X-Api-Key when set; usually a secret:// reference.
	APIKey string
}

// RecommenderConfig bounds outfit recommendation requests.
type RecommenderConfig struct {
	Timeout      time.Duration
	DefaultLimit int
	MaxLimit     int
	MinItems     int
}

// CutoutConfig points at the background removal service.
type CutoutConfig struct {
	BaseURL        string
	Timeout        time.Duration
	MaxUploadBytes int64
}

// IndexSyncConfig controls how saved outfits reach the AI index.
type IndexSyncConfig struct {
	Mode        string
	BaseURL     string
	Timeout     time.Duration
	APIKey      string
	PubSubTopic string
}

// AuthConfig controls Keycloak bearer token verification.
type AuthConfig struct {
	JWKSURL         string
	Issuers         []string
	Audience        string
	ClientID        string
	AllowUnverified bool
	TokenSkew       time.Duration
}

// CaptureConfig sizes the composition canvas and its rasterized output.
type CaptureConfig struct {
	FrameDelay   time.Duration
	SettleDelay  time.Duration
	CanvasWidth  int
	CanvasHeight int
	ItemSize     int
	PreviewSize  int
}

// SessionConfig controls eviction of idle composition sessions.
type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

type RateLimitConfig struct {
	RecommendPerMinute int
}

// IdempotencyConfig configures replay of save requests.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
	// Store is "memory" for a single replica or "firestore" to share records.
	Store        string
	Collection   string
	EmulatorHost string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}
