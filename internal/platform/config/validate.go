package config

import (
	"net/url"
	"strings"
)

// ValidationError lists the fields or variables that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return "config: invalid fields [" + strings.Join(e.fields, ", ") + "]"
}

// Fields returns the offending names in the order they were found. Malformed
// variables are reported by their environment name.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

func validate(cfg Config, malformed []string) error {
	bad := append([]string(nil), malformed...)
	check := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	check(isHTTPURL(cfg.Backend.BaseURL), "Backend.BaseURL")
	check(cfg.Backend.Timeout > 0, "Backend.Timeout")
	check(cfg.Backend.RetryMax >= 0, "Backend.RetryMax")
	check(cfg.Recommender.Timeout > 0, "Recommender.Timeout")
	check(cfg.Recommender.MaxLimit >= 1 && cfg.Recommender.DefaultLimit >= 1, "Recommender.Limit")
	check(cfg.Recommender.MinItems >= 1, "Recommender.MinItems")
	check(isHTTPURL(cfg.Cutout.BaseURL), "Cutout.BaseURL")

	switch cfg.IndexSync.Mode {
	case IndexSyncModeHTTP:
		check(isHTTPURL(cfg.IndexSync.BaseURL), "IndexSync.BaseURL")
	case IndexSyncModePubSub:
		check(cfg.ProjectID != "", "ProjectID")
		check(cfg.IndexSync.PubSubTopic != "", "IndexSync.PubSubTopic")
	case IndexSyncModeOff:
	default:
		bad = append(bad, "IndexSync.Mode")
	}

	check(cfg.Auth.AllowUnverified || cfg.Auth.JWKSURL != "", "Auth.JWKSURL")
	check(!cfg.Auth.AllowUnverified || cfg.Environment != "prod", "Auth.AllowUnverified")

	c := cfg.Capture
	check(c.CanvasWidth > 0 && c.CanvasHeight > 0 && c.ItemSize > 0 && c.PreviewSize > 0, "Capture")
	check(cfg.Sessions.TTL > 0 && cfg.Sessions.SweepInterval > 0, "Sessions")

	idem := cfg.Idempotency
	check(idem.Header != "", "Idempotency.Header")
	check(idem.TTL > 0, "Idempotency.TTL")
	check(idem.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(idem.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")
	switch idem.Store {
	case IdempotencyStoreMemory:
	case IdempotencyStoreFirestore:
		check(cfg.ProjectID != "", "ProjectID")
		check(idem.Collection != "", "Idempotency.Collection")
	default:
		bad = append(bad, "Idempotency.Store")
	}

	check(!cfg.Metrics.Enabled || strings.HasPrefix(cfg.Metrics.Path, "/"), "Metrics.Path")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
