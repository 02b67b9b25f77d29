package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://sso.example.com/realms/wardrobe"

func load(t *testing.T, env map[string]string, opts ...Option) (Config, error) {
	t.Helper()
	base := []Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}
	return Load(context.Background(), append(base, opts...)...)
}

func validationFields(t *testing.T, err error) []string {
	t.Helper()
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	return validation.Fields()
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, map[string]string{"STUDIO_AUTH_ISSUERS": testIssuer + "/"})
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, defaultBackendBaseURL, cfg.Backend.BaseURL)
	assert.Equal(t, RecommenderConfig{Timeout: 45 * time.Second, DefaultLimit: 6, MaxLimit: 12, MinItems: 5}, cfg.Recommender)
	assert.Equal(t, "http://localhost:8083", cfg.Cutout.BaseURL)
	assert.Equal(t, IndexSyncModeHTTP, cfg.IndexSync.Mode)
	assert.Equal(t, testIssuer+"/protocol/openid-connect/certs", cfg.Auth.JWKSURL)
	assert.Equal(t, []string{testIssuer + "/"}, cfg.Auth.Issuers)
	assert.Equal(t, 150*time.Millisecond, cfg.Capture.FrameDelay)
	assert.Equal(t, 80*time.Millisecond, cfg.Capture.SettleDelay)
	assert.Equal(t, 100, cfg.Capture.ItemSize)
	assert.Equal(t, 220, cfg.Capture.PreviewSize)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.TTL)
	assert.Equal(t, "Idempotency-Key", cfg.Idempotency.Header)
	assert.Equal(t, IdempotencyStoreMemory, cfg.Idempotency.Store)
	assert.Equal(t, MetricsConfig{Enabled: true, Path: "/metrics"}, cfg.Metrics)
}

func TestLoad_OverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"STUDIO_ENVIRONMENT":             "Prod",
		"STUDIO_GCP_PROJECT_ID":          "wtw-prod",
		"STUDIO_SERVER_PORT":             "9090",
		"STUDIO_BACKEND_BASE_URL":        "https://api.example.com/",
		"STUDIO_BACKEND_API_KEY":         "secret://backend_api_key",
		"STUDIO_BACKEND_RETRY_MAX":       "4",
		"STUDIO_RECOMMEND_DEFAULT_LIMIT": "20",
		"STUDIO_RECOMMEND_MAX_LIMIT":     "8",
		"STUDIO_INDEX_SYNC_MODE":         "PubSub",
		"STUDIO_INDEX_SYNC_PUBSUB_TOPIC": "outfit-index",
		"STUDIO_INDEX_SYNC_API_KEY":      "sm://index_api_key",
		"STUDIO_AUTH_JWKS_URL":           "https://sso.example.com/certs",
		"STUDIO_AUTH_ISSUERS":            "https://a.example.com, ,https://b.example.com",
		"STUDIO_CAPTURE_FRAME_DELAY":     "200ms",
		"STUDIO_METRICS_ENABLED":         "off",
	}
	values := map[string]string{
		"secret://backend_api_key": "backend-key",
		"secret://index_api_key":   "index-key",
	}
	var asked []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		asked = append(asked, ref)
		if v, ok := values[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := load(t, env, WithSecretResolver(resolver), WithRequiredSecrets("Backend.APIKey"))
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "https://api.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "backend-key", cfg.Backend.APIKey)
	assert.Equal(t, "index-key", cfg.IndexSync.APIKey)
	assert.ElementsMatch(t, []string{"secret://backend_api_key", "secret://index_api_key"}, asked)
	assert.Equal(t, 4, cfg.Backend.RetryMax)
	assert.Equal(t, 8, cfg.Recommender.DefaultLimit, "default limit is clamped to the max")
	assert.Equal(t, "outfit-index", cfg.IndexSync.PubSubTopic)
	assert.Equal(t, "https://sso.example.com/certs", cfg.Auth.JWKSURL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Auth.Issuers)
	assert.Equal(t, 200*time.Millisecond, cfg.Capture.FrameDelay)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env.test")
	content := "STUDIO_SERVER_PORT=7070\nexport STUDIO_AUTH_ALLOW_UNVERIFIED=true\nSTUDIO_BACKEND_BASE_URL=\"http://backend:8080\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(),
		WithEnvMap(map[string]string{"STUDIO_SERVER_PORT": "6060"}))
	require.NoError(t, err)

	assert.Equal(t, "6060", cfg.Server.Port, "explicit values win over the file")
	assert.True(t, cfg.Auth.AllowUnverified)
	assert.Equal(t, "http://backend:8080", cfg.Backend.BaseURL)
}

func TestLoad_MissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvFile(filepath.Join(t.TempDir(), "absent.env")),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"STUDIO_AUTH_ALLOW_UNVERIFIED": "true"}))
	require.NoError(t, err)
}

func TestLoad_RequiresKeySource(t *testing.T) {
	_, err := load(t, map[string]string{})
	assert.Equal(t, []string{"Auth.JWKSURL"}, validationFields(t, err))
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	_, err := load(t, map[string]string{
		"STUDIO_ENVIRONMENT":           "prod",
		"STUDIO_AUTH_ALLOW_UNVERIFIED": "true",
		"STUDIO_BACKEND_BASE_URL":      "backend:8080",
		"STUDIO_INDEX_SYNC_MODE":       "carrier-pigeon",
		"STUDIO_CAPTURE_ITEM_SIZE":     "0",
	})

	fields := validationFields(t, err)
	for _, want := range []string{"Backend.BaseURL", "IndexSync.Mode", "Auth.AllowUnverified", "Capture"} {
		assert.Contains(t, fields, want)
	}
}

func TestLoad_ReportsMalformedVariables(t *testing.T) {
	_, err := load(t, map[string]string{
		"STUDIO_AUTH_ALLOW_UNVERIFIED": "maybe",
		"STUDIO_BACKEND_TIMEOUT":       "30",
		"STUDIO_BACKEND_RETRY_MAX":     "two",
		"STUDIO_AUTH_JWKS_URL":         "https://sso.example.com/certs",
	})

	assert.Equal(t, []string{"STUDIO_BACKEND_TIMEOUT", "STUDIO_BACKEND_RETRY_MAX", "STUDIO_AUTH_ALLOW_UNVERIFIED"},
		validationFields(t, err))
}

func TestLoad_PubSubNeedsProjectAndTopic(t *testing.T) {
	_, err := load(t, map[string]string{
		"STUDIO_AUTH_ALLOW_UNVERIFIED": "true",
		"STUDIO_INDEX_SYNC_MODE":       "pubsub",
	})
	assert.Equal(t, []string{"ProjectID", "IndexSync.PubSubTopic"}, validationFields(t, err))
}

func TestLoad_IdempotencyStore(t *testing.T) {
	t.Run("firestore needs a project", func(t *testing.T) {
		_, err := load(t, map[string]string{
			"STUDIO_AUTH_ALLOW_UNVERIFIED": "true",
			"STUDIO_IDEMPOTENCY_STORE":     "Firestore",
		})
		assert.Equal(t, []string{"ProjectID"}, validationFields(t, err))
	})

	t.Run("firestore emulator", func(t *testing.T) {
		cfg, err := load(t, map[string]string{
			"STUDIO_AUTH_ALLOW_UNVERIFIED":  "true",
			"STUDIO_GCP_PROJECT_ID":         "wtw-local",
			"STUDIO_IDEMPOTENCY_STORE":      "firestore",
			"STUDIO_IDEMPOTENCY_COLLECTION": "replays",
			"FIRESTORE_EMULATOR_HOST":       "localhost:8681",
		})
		require.NoError(t, err)
		assert.Equal(t, IdempotencyStoreFirestore, cfg.Idempotency.Store)
		assert.Equal(t, "replays", cfg.Idempotency.Collection)
		assert.Equal(t, "localhost:8681", cfg.Idempotency.EmulatorHost)
	})

	t.Run("unknown store", func(t *testing.T) {
		_, err := load(t, map[string]string{
			"STUDIO_AUTH_ALLOW_UNVERIFIED": "true",
			"STUDIO_IDEMPOTENCY_STORE":     "redis",
		})
		assert.Equal(t, []string{"Idempotency.Store"}, validationFields(t, err))
	})
}

func TestLoad_SecretErrors(t *testing.T) {
	t.Run("resolver failure", func(t *testing.T) {
		boom := errors.New("permission denied")
		_, err := load(t, map[string]string{
			"STUDIO_AUTH_ALLOW_UNVERIFIED": "true",
			"STUDIO_BACKEND_API_KEY":       "sm://backend_api_key",
		}, WithSecretResolver(SecretResolverFunc(func(context.Context, string) (string, error) {
			return "", boom
		})))

		var secretErr *SecretError
		require.ErrorAs(t, err, &secretErr)
		assert.Equal(t, "secret://backend_api_key", secretErr.Ref)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("no resolver", func(t *testing.T) {
		_, err := load(t, map[string]string{
			"STUDIO_AUTH_ALLOW_UNVERIFIED": "true",
			"STUDIO_INDEX_SYNC_API_KEY":    "secret://index_api_key",
		})
		var secretErr *SecretError
		require.ErrorAs(t, err, &secretErr)
		assert.ErrorIs(t, err, errNoResolver)
	})
}

func TestLoad_MissingRequiredSecrets(t *testing.T) {
	_, err := load(t, map[string]string{
		"STUDIO_AUTH_ALLOW_UNVERIFIED": "true",
		"STUDIO_INDEX_SYNC_API_KEY":    "plain",
	}, WithRequiredSecrets("Backend.APIKey", "IndexSync.APIKey", "Backend.APIKey"))

	var missing *MissingSecretsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{redactSecretName("Backend.APIKey")}, missing.RedactedNames())
	assert.NotContains(t, err.Error(), "Backend.APIKey")
}

func TestEnvironmentValues_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env.test")
	content := "STUDIO_GCP_PROJECT_ID=dot-project\nSTUDIO_SECRET_FALLBACK_FILE=.dot.local\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("STUDIO_GCP_PROJECT_ID", "os-project")
	t.Setenv("STUDIO_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(path), WithEnvMap(map[string]string{
		"STUDIO_GCP_PROJECT_ID":      "override-project",
		"STUDIO_SECRET_VERSION_PINS": "secret://backend_api_key=5",
	}))
	require.NoError(t, err)

	assert.Equal(t, "override-project", values["STUDIO_GCP_PROJECT_ID"])
	assert.Equal(t, ".dot.local", values["STUDIO_SECRET_FALLBACK_FILE"])
	assert.Equal(t, "prod=project-prod", values["STUDIO_SECRET_PROJECT_IDS"])
	assert.Equal(t, "secret://backend_api_key=5", values["STUDIO_SECRET_VERSION_PINS"])
}
