package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

type readinessBody struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Checks  []struct {
		Name     string `json:"name"`
		Status   string `json:"status"`
		Critical bool   `json:"critical"`
	} `json:"checks"`
	Failing []string `json:"failing"`
}

func serveReadyz(t *testing.T, h *HealthHandlers) (int, readinessBody) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body readinessBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return rr.Code, body
}

func TestHealthz(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "1.0.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start}),
		WithHealthClock(func() time.Time { return start.Add(30 * time.Second) }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, domain.HealthStatusOK, body["status"])
	assert.Equal(t, "1.0.0", body["version"])
	assert.Equal(t, "abc123", body["commitSha"])
	assert.Equal(t, "prod", body["environment"])
	assert.Equal(t, "30s", body["uptime"])
}

func TestReadyzHealthy(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Version:     "1.0.0",
		Uptime:      time.Minute,
		GeneratedAt: now,
		Checks: map[string]domain.SystemHealthCheck{
			"wardrobe_api":  {Status: domain.HealthStatusOK, Critical: true, Latency: 10 * time.Millisecond, CheckedAt: now},
			"recommend_api": {Status: domain.HealthStatusOK, Latency: 25 * time.Millisecond, CheckedAt: now},
		},
	}}))

	code, body := serveReadyz(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.HealthStatusOK, body.Status)
	assert.Equal(t, "1m0s", body.Uptime)
	assert.Empty(t, body.Failing)
	require.Len(t, body.Checks, 2)
	assert.Equal(t, "recommend_api", body.Checks[0].Name, "checks are sorted by name")
	assert.True(t, body.Checks[1].Critical)
}

func TestReadyzDegradedStaysInRotation(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
		Status: domain.HealthStatusDegraded,
		Checks: map[string]domain.SystemHealthCheck{
			"index_topic":  {Status: domain.HealthStatusDegraded, Error: "publish failed"},
			"wardrobe_api": {Status: domain.HealthStatusOK},
		},
	}}))

	code, body := serveReadyz(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.HealthStatusDegraded, body.Status)
	assert.Equal(t, []string{"index_topic: publish failed"}, body.Failing)
}

func TestReadyzErrorIsUnavailable(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
		Status: domain.HealthStatusError,
		Checks: map[string]domain.SystemHealthCheck{
			"index_topic":   {Status: domain.HealthStatusDegraded, Error: "publish failed"},
			"wardrobe_api":  {Status: domain.HealthStatusOK},
			"recommend_api": {Status: domain.HealthStatusError, Critical: true, Detail: "status 503"},
		},
	}}))

	code, body := serveReadyz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, []string{"index_topic: publish failed", "recommend_api: status 503"}, body.Failing)
}

func TestReadyzServiceError(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{err: errors.New("probe exploded")}))

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "readiness_failed", body["error"])
}

func TestReadyzWithoutSystemService(t *testing.T) {
	code, body := serveReadyz(t, NewHealthHandlers())
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, body.Checks)
}
