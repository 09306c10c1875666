package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/services"
)

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHealthzReportsBuildAndUptime(t *testing.T) {
	started := time.Date(2025, 2, 10, 6, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "3.1.0", CommitSHA: "e0d4b7", Environment: "prod", StartedAt: started}),
		WithHealthClock(func() time.Time { return started.Add(2 * time.Minute) }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	body := decodeBody[healthzPayload](t, rr)
	if rr.Code != http.StatusOK || body.Status != domain.HealthStatusOK {
		t.Fatalf("unexpected response %d %+v", rr.Code, body)
	}
	if body.Version != "3.1.0" || body.CommitSHA != "e0d4b7" || body.Uptime != "2m0s" {
		t.Fatalf("unexpected build fields %+v", body)
	}
}

func TestReadyzReflectsReport(t *testing.T) {
	now := time.Date(2025, 2, 10, 6, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		report  services.HealthReport
		status  int
		details []string
	}{
		{
			name: "ok",
			report: services.HealthReport{
				Status:  domain.HealthStatusOK,
				Backend: "firestore",
				Checks: map[string]domain.HealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond, CheckedAt: now},
				},
			},
			status:  http.StatusOK,
			details: []string{},
		},
		{
			name: "degraded",
			report: services.HealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.HealthCheck{
					"redis":  {Status: domain.HealthStatusDegraded, Error: "dial tcp: refused"},
					"kafka":  {Status: domain.HealthStatusError, Detail: "timeout"},
					"memory": {Status: domain.HealthStatusOK},
				},
			},
			status:  http.StatusServiceUnavailable,
			details: []string{"kafka: timeout", "redis: dial tcp: refused"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandlers(
				WithHealthSystemService(&stubSystemService{report: tc.report}),
				WithHealthClock(func() time.Time { return now }),
			)
			rr := httptest.NewRecorder()
			h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			body := decodeBody[readyzPayload](t, rr)
			if len(body.Details) != len(tc.details) {
				t.Fatalf("expected details %v, got %v", tc.details, body.Details)
			}
			for i := range tc.details {
				if body.Details[i] != tc.details[i] {
					t.Fatalf("expected details %v, got %v", tc.details, body.Details)
				}
			}
			if len(body.Checks) != len(tc.report.Checks) {
				t.Fatalf("expected %d checks, got %d", len(tc.report.Checks), len(body.Checks))
			}
		})
	}
}

func TestReadyzUnavailableWithoutReport(t *testing.T) {
	for name, h := range map[string]*HealthHandlers{
		"unconfigured":   NewHealthHandlers(),
		"collect failed": NewHealthHandlers(WithHealthSystemService(&stubSystemService{err: errors.New("boom")})),
	} {
		rr := httptest.NewRecorder()
		h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		body := decodeBody[readyzPayload](t, rr)
		if rr.Code != http.StatusServiceUnavailable || body.Status != domain.HealthStatusError || len(body.Details) != 1 {
			t.Fatalf("%s: unexpected response %d %+v", name, rr.Code, body)
		}
	}
}
