package handlers

import (
	"cmp"
	"net/http"
	"slices"
	"time"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/httpx"
	"github.com/KyawIT/what-to-wear-sub000/internal/services"
)

// HealthHandlers serves /healthz and /readyz.
type HealthHandlers struct {
	build  services.BuildInfo
	clock  func() time.Time
	system services.SystemService
}

type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the build metadata reported by both probes.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthSystemService sets the dependency report behind /readyz.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type buildPayload struct {
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime,omitempty"`
}

type livenessPayload struct {
	Status string `json:"status"`
	buildPayload
	Timestamp string `json:"timestamp"`
}

type checkPayload struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Critical  bool   `json:"critical,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

type readinessPayload struct {
	Status string `json:"status"`
	buildPayload
	GeneratedAt string         `json:"generatedAt"`
	Checks      []checkPayload `json:"checks"`
	Failing     []string       `json:"failing,omitempty"`
}

// Healthz answers 200 whenever the process serves HTTP.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.clock().UTC()
	writeJSONResponse(w, http.StatusOK, livenessPayload{
		Status: domain.HealthStatusOK,
		buildPayload: buildPayload{
			Version:     h.build.Version,
			CommitSHA:   h.build.CommitSHA,
			Environment: h.build.Environment,
			Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		},
		Timestamp: now.Format(time.RFC3339),
	})
}

// Readyz reports dependency checks. Only an error status answers 503; a
// degraded optional collaborator keeps the instance in rotation.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		writeJSONResponse(w, http.StatusOK, readinessPayload{
			Status:      domain.HealthStatusOK,
			GeneratedAt: h.clock().UTC().Format(time.RFC3339),
			Checks:      []checkPayload{},
		})
		return
	}

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("readiness_failed", err.Error(), http.StatusServiceUnavailable))
		return
	}

	generatedAt := report.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = h.clock()
	}
	payload := readinessPayload{
		Status: report.Status,
		buildPayload: buildPayload{
			Version:     report.Version,
			CommitSHA:   report.CommitSHA,
			Environment: report.Environment,
		},
		GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
		Checks:      make([]checkPayload, 0, len(report.Checks)),
	}
	if report.Uptime > 0 {
		payload.Uptime = report.Uptime.Round(time.Second).String()
	}
	for name, check := range report.Checks {
		payload.Checks = append(payload.Checks, toCheckPayload(name, check))
	}
	slices.SortFunc(payload.Checks, func(a, b checkPayload) int { return cmp.Compare(a.Name, b.Name) })
	for _, check := range payload.Checks {
		if check.Status != domain.HealthStatusOK {
			payload.Failing = append(payload.Failing, check.Name+": "+cmp.Or(check.Error, check.Detail, check.Status))
		}
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}

func toCheckPayload(name string, check domain.SystemHealthCheck) checkPayload {
	out := checkPayload{
		Name:      name,
		Status:    check.Status,
		Critical:  check.Critical,
		Detail:    check.Detail,
		Error:     check.Error,
		LatencyMS: check.Latency.Milliseconds(),
	}
	if !check.CheckedAt.IsZero() {
		out.CheckedAt = check.CheckedAt.UTC().Format(time.RFC3339)
	}
	return out
}
