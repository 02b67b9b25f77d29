package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/config"
)

func TestSecretVersionPinsFromEnv(t *testing.T) {
	pins := secretVersionPinsFromEnv("backend_api_key=3, PROD:sm://index_api_key=5 ,secret://x=latest,broken,nested/name=2")

	assert.Equal(t, map[string]string{
		"secret://backend_api_key":    "3",
		"prod:secret://index_api_key": "5",
		"secret://x":                  "latest",
	}, pins)
}

func TestRequiredSecretNames(t *testing.T) {
	cases := []struct {
		env  map[string]string
		want []string
	}{
		{
			env:  map[string]string{"STUDIO_BACKEND_API_KEY": "secret://backend_api_key", "STUDIO_INDEX_SYNC_API_KEY": "plain"},
			want: []string{"Backend.APIKey"},
		},
		{
			env:  map[string]string{"STUDIO_BACKEND_API_KEY": "sm://backend_api_key", "STUDIO_INDEX_SYNC_API_KEY": "secret://index_api_key"},
			want: []string{"Backend.APIKey", "IndexSync.APIKey"},
		},
		{env: map[string]string{}, want: nil},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, requiredSecretNames(tc.env))
	}
}

func TestParseKeyValueList(t *testing.T) {
	got := parseKeyValueList("Prod=wtw-prod, staging = wtw-staging, =x, y=, novalue", true)

	assert.Equal(t, map[string]string{"prod": "wtw-prod", "staging": "wtw-staging"}, got)
}

func TestBuildInfo(t *testing.T) {
	started := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

	info := buildInfo(map[string]string{"STUDIO_BUILD_VERSION": " 1.4.0 "}, config.Config{Environment: "staging"}, started)

	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "unknown", info.CommitSHA)
	assert.Equal(t, "staging", info.Environment)
	assert.Equal(t, started, info.StartedAt)
	assert.Equal(t, "local", buildInfo(nil, config.Config{}, started).Environment)
}
