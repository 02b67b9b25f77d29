package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

type stubHealthRepository struct {
	mu     sync.Mutex
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.report, s.err
}

func (s *stubHealthRepository) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var _ repositories.HealthRepository = (*stubHealthRepository)(nil)

type fixedSessions int

func (n fixedSessions) ActiveSessions() int { return int(n) }

func TestSystemServiceHealthReportAddsBuildAndSessions(t *testing.T) {
	start := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{"backend": {Status: domain.HealthStatusOK}},
	}}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Sessions:         fixedSessions(3),
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start},
	})
	require.NoError(t, err)

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusOK, report.Status)
	require.Equal(t, "1.4.0", report.Version)
	require.Equal(t, "abc123", report.CommitSHA)
	require.Equal(t, "prod", report.Environment)
	require.Equal(t, 5*time.Minute, report.Uptime)
	require.Equal(t, now, report.GeneratedAt)
	require.Equal(t, "3 active sessions", report.Checks["compositions"].Detail)
	require.Len(t, repo.report.Checks, 1, "collected report must not be mutated")
}

func TestSystemServiceAggregatesStatus(t *testing.T) {
	cases := map[string]struct {
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		"empty":    {checks: nil, want: domain.HealthStatusOK},
		"degraded": {checks: map[string]domain.SystemHealthCheck{"indexSync": {Status: domain.HealthStatusDegraded}, "backend": {Status: domain.HealthStatusOK}}, want: domain.HealthStatusDegraded},
		"error":    {checks: map[string]domain.SystemHealthCheck{"indexSync": {Status: domain.HealthStatusDegraded}, "jwks": {Status: domain.HealthStatusError}}, want: domain.HealthStatusError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Checks: tc.checks}},
			})
			require.NoError(t, err)
			report, err := svc.HealthReport(context.Background())
			require.NoError(t, err)
			require.Equal(t, tc.want, report.Status)
		})
	}
}

func TestSystemServiceCachesReport(t *testing.T) {
	now := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	repo := &stubHealthRepository{}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		CacheTTL:         2 * time.Second,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.HealthReport(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, 1, repo.callCount())

	now = now.Add(3 * time.Second)
	_, err = svc.HealthReport(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, repo.callCount())
}

func TestSystemServiceHealthReportErrors(t *testing.T) {
	expected := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{err: expected},
		CacheTTL:         time.Minute,
	})
	require.NoError(t, err)

	_, err = svc.HealthReport(context.Background())
	require.ErrorIs(t, err, expected)
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	_, err := NewSystemService(SystemServiceDeps{})
	require.Error(t, err)
}
