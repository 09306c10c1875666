package handlers

import (
	"net/http"
	"sort"
	"strings"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/services"
)

// HealthHandlers answers /healthz from process state alone and /readyz from the system service.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

type HealthOption func(*HealthHandlers)

func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) { h.system = svc }
}

func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) { h.build = info }
}

func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
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

type healthzPayload struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
}

func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.clock().UTC()
	writeJSONResponse(w, http.StatusOK, healthzPayload{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).String(),
		Timestamp:   formatTime(now),
	})
}

type readyzCheck struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

type readyzPayload struct {
	Status      string                 `json:"status"`
	Backend     string                 `json:"backend,omitempty"`
	Version     string                 `json:"version,omitempty"`
	CommitSHA   string                 `json:"commitSha,omitempty"`
	Environment string                 `json:"environment,omitempty"`
	Uptime      string                 `json:"uptime,omitempty"`
	Checks      map[string]readyzCheck `json:"checks,omitempty"`
	Details     []string               `json:"details"`
	Timestamp   string                 `json:"timestamp"`
}

// Readyz answers 200 only when the report status is ok. Details list one line per failing check.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := formatTime(h.clock().UTC())
	unready := func(reason string) {
		writeJSONResponse(w, http.StatusServiceUnavailable, readyzPayload{
			Status:    domain.HealthStatusError,
			Details:   []string{reason},
			Timestamp: now,
		})
	}
	if h.system == nil {
		unready("system: readiness service not configured")
		return
	}
	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		unready("system: " + err.Error())
		return
	}

	payload := readyzPayload{
		Status:      report.Status,
		Backend:     report.Backend,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		Checks:      make(map[string]readyzCheck, len(report.Checks)),
		Details:     failingChecks(report.Checks),
		Timestamp:   now,
	}
	if report.Uptime > 0 {
		payload.Uptime = report.Uptime.String()
	}
	for name, check := range report.Checks {
		payload.Checks[name] = readyzCheck{
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
			CheckedAt: formatTime(check.CheckedAt),
		}
	}

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}

func failingChecks(checks map[string]domain.HealthCheck) []string {
	details := []string{}
	for name, check := range checks {
		if check.Status == domain.HealthStatusOK {
			continue
		}
		reason := strings.TrimSpace(check.Error)
		if reason == "" {
			reason = strings.TrimSpace(check.Detail)
		}
		details = append(details, name+": "+reason)
	}
	sort.Strings(details)
	return details
}
