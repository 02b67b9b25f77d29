package repositories

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyCheck is one readiness probe. A failing Critical probe makes the
// report an error; any other failure only degrades it.
type DependencyCheck struct {
	Name     string
	Timeout  time.Duration
	Critical bool
	Check    func(context.Context) error
}

// DependencyHealthOption configures NewDependencyHealthRepository.
type DependencyHealthOption func(*probeSet)

// WithDependencyTimeout sets the timeout for checks that do not carry one.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(p *probeSet) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(p *probeSet) {
		if clock != nil {
			p.now = clock
		}
	}
}

// HTTPProbe checks that url answers below 500. A 401 from a protected
// collaborator still proves it is up.
func HTTPProbe(client *http.Client, url string) func(context.Context) error {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}
}

// probeSet runs every check concurrently on each Collect.
type probeSet struct {
	checks  []DependencyCheck
	timeout time.Duration
	now     func() time.Time
}

var _ HealthRepository = (*probeSet)(nil)

// NewDependencyHealthRepository validates checks and returns a HealthRepository over them.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: no dependency checks")
	}
	for _, check := range checks {
		switch {
		case strings.TrimSpace(check.Name) == "":
			return nil, errors.New("health repository: dependency check missing name")
		case check.Check == nil:
			return nil, fmt.Errorf("health repository: dependency %s has no check", check.Name)
		}
	}

	p := &probeSet{
		checks:  append([]DependencyCheck(nil), checks...),
		timeout: defaultProbeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

func (p *probeSet) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("health repository: context is required")
	}

	results := make([]domain.SystemHealthCheck, len(p.checks))
	var g errgroup.Group
	for i, check := range p.checks {
		g.Go(func() error {
			results[i] = p.probe(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	report := domain.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.SystemHealthCheck, len(results)),
		GeneratedAt: p.now(),
	}
	for i, result := range results {
		report.Checks[p.checks[i].Name] = result
		report.Status = worse(report.Status, result.Status)
	}
	return report, nil
}

func (p *probeSet) probe(ctx context.Context, check DependencyCheck) domain.SystemHealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := p.now()
	err := check.Check(ctx)
	if err == nil {
		err = ctx.Err()
	}
	end := p.now()

	result := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Critical:  check.Critical,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	if err == nil {
		return result
	}

	result.Error = err.Error()
	result.Detail = err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result.Detail = "timeout"
	case errors.Is(err, context.Canceled):
		result.Detail = "cancelled"
	}
	result.Status = domain.HealthStatusDegraded
	if check.Critical {
		result.Status = domain.HealthStatusError
	}
	return result
}

func worse(a, b string) string {
	rank := func(s string) int {
		switch s {
		case domain.HealthStatusError:
			return 2
		case domain.HealthStatusOK:
			return 0
		default:
			return 1
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
