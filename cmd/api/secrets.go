package main

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/secrets"
)

// secretFields maps config fields that may hold secret references to their variables.
var secretFields = map[string]string{
	"Backend.APIKey":   "STUDIO_BACKEND_API_KEY",
	"IndexSync.APIKey": "STUDIO_INDEX_SYNC_API_KEY",
}

// newSecretFetcher configures Secret Manager access from STUDIO_SECRET_* variables.
// It runs before config.Load because loading resolves references through it.
func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	get := func(key string) string { return strings.TrimSpace(env[key]) }
	or := func(value, fallback string) string {
		if value != "" {
			return value
		}
		return fallback
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(strings.ToLower(or(get("STUDIO_ENVIRONMENT"), "local"))),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(or(get("STUDIO_SECRET_FALLBACK_FILE"), ".secrets.local")),
	}
	if project := or(get("STUDIO_SECRET_DEFAULT_PROJECT_ID"), get("STUDIO_GCP_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if projects := parseKeyValueList(get("STUDIO_SECRET_PROJECT_IDS"), true); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	if pins := secretVersionPinsFromEnv(get("STUDIO_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if file := get("STUDIO_GCP_CREDENTIALS_FILE"); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields whose variable holds a reference,
// so an empty resolution fails startup.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	for field, key := range secretFields {
		if secrets.IsReference(env[key]) {
			required = append(required, field)
		}
	}
	slices.Sort(required)
	return required
}

// secretVersionPinsFromEnv parses "name=3,prod:sm://name=5". Bare names become
// secret:// references; an "env:" prefix scopes the pin to one environment.
func secretVersionPinsFromEnv(raw string) map[string]string {
	pins := make(map[string]string)
	for key, version := range parseKeyValueList(raw, false) {
		scope := ""
		if env, ref, ok := strings.Cut(key, ":"); ok && !strings.HasPrefix(ref, "//") {
			scope, key = strings.ToLower(env)+":", ref
		}
		if !secrets.IsReference(key) {
			key = "secret://" + key
		}
		if ref, err := secrets.ParseReference(key); err == nil {
			pins[scope+ref.Key()] = version
		}
	}
	return pins
}

// parseKeyValueList splits "a=b,c=d", dropping entries with an empty side.
func parseKeyValueList(raw string, lowerKeys bool) map[string]string {
	out := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, _ := strings.Cut(entry, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if lowerKeys {
			key = strings.ToLower(key)
		}
		out[key] = value
	}
	return out
}
