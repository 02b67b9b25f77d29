package services

import (
	"cmp"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

const sessionsCheckName = "compositions"

// BuildInfo is the runtime metadata reported by the probes.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SessionCounter reports how many composition sessions are live.
type SessionCounter interface {
	ActiveSessions() int
}

// SystemServiceDeps bundles the collaborators of NewSystemService.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Sessions         SessionCounter
	Clock            func() time.Time
	Build            BuildInfo
	// CacheTTL reuses a collected report for this long. Zero probes on every call.
	CacheTTL time.Duration
}

type systemService struct {
	health   repositories.HealthRepository
	sessions SessionCounter
	clock    func() time.Time
	build    BuildInfo
	ttl      time.Duration

	probes   singleflight.Group
	mu       sync.Mutex
	cached   domain.SystemHealthReport
	cachedAt time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService builds the readiness service. Concurrent probes share one
// round of dependency checks.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{
		health:   deps.HealthRepository,
		sessions: deps.Sessions,
		clock:    func() time.Time { return clock().UTC() },
		build:    build,
		ttl:      max(deps.CacheTTL, 0),
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	now := s.clock()
	if report, ok := s.fresh(now); ok {
		return s.decorate(report, now), nil
	}

	v, err, _ := s.probes.Do("collect", func() (any, error) {
		report, err := s.health.Collect(ctx)
		if err != nil {
			return domain.SystemHealthReport{}, err
		}
		s.mu.Lock()
		s.cached, s.cachedAt = report, s.clock()
		s.mu.Unlock()
		return report, nil
	})
	if err != nil {
		return SystemHealthReport{}, err
	}
	return s.decorate(v.(domain.SystemHealthReport), now), nil
}

func (s *systemService) fresh(now time.Time) (domain.SystemHealthReport, bool) {
	if s.ttl == 0 {
		return domain.SystemHealthReport{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cachedAt.IsZero() || now.Sub(s.cachedAt) >= s.ttl {
		return domain.SystemHealthReport{}, false
	}
	return s.cached, true
}

// decorate copies report and fills build metadata, the live session count and
// the aggregate status.
func (s *systemService) decorate(report domain.SystemHealthReport, now time.Time) SystemHealthReport {
	checks := make(map[string]domain.SystemHealthCheck, len(report.Checks)+1)
	for name, check := range report.Checks {
		checks[name] = check
	}
	if s.sessions != nil {
		checks[sessionsCheckName] = domain.SystemHealthCheck{
			Status:    domain.HealthStatusOK,
			Detail:    strconv.Itoa(s.sessions.ActiveSessions()) + " active sessions",
			CheckedAt: now,
		}
	}
	report.Checks = checks

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	report.Version = cmp.Or(strings.TrimSpace(report.Version), s.build.Version)
	report.CommitSHA = cmp.Or(strings.TrimSpace(report.CommitSHA), s.build.CommitSHA)
	report.Environment = cmp.Or(strings.TrimSpace(report.Environment), s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = aggregateStatus(report.Checks)
	}
	return report
}

// aggregateStatus is error if any check errored, degraded if any check is
// neither ok nor error, ok otherwise.
func aggregateStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
