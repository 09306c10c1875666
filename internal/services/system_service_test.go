package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

type stubHealthRepository struct {
	report domain.HealthReport
	err    error
}

func (s stubHealthRepository) Collect(context.Context) (domain.HealthReport, error) {
	return s.report, s.err
}

func TestHealthReportStampsBuildInfo(t *testing.T) {
	started := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Minute)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: stubHealthRepository{report: domain.HealthReport{
			Backend: "firestore",
			Checks:  map[string]domain.HealthCheck{"firestore": {Status: domain.HealthStatusOK}},
		}},
		Clock: func() time.Time { return now },
		Build: BuildInfo{Version: "2.4.0", CommitSHA: "9f1c2d", Environment: "staging", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Backend != "firestore" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Version != "2.4.0" || report.CommitSHA != "9f1c2d" || report.Environment != "staging" {
		t.Fatalf("build info not stamped: %+v", report)
	}
	if report.Uptime != 90*time.Minute || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected timing uptime=%s generated=%s", report.Uptime, report.GeneratedAt)
	}
}

func TestHealthReportKeepsBackendMetadata(t *testing.T) {
	svc, _ := NewSystemService(SystemServiceDeps{
		HealthRepository: stubHealthRepository{report: domain.HealthReport{Version: "from-backend"}},
		Build:            BuildInfo{Version: "from-build"},
	})
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Version != "from-backend" {
		t.Fatalf("expected backend version to win, got %q", report.Version)
	}
	if report.Checks == nil || report.Status != domain.HealthStatusOK {
		t.Fatalf("expected empty checks to report ok, got %+v", report)
	}
}

func TestHealthReportDerivesWorstStatus(t *testing.T) {
	svc, _ := NewSystemService(SystemServiceDeps{HealthRepository: stubHealthRepository{report: domain.HealthReport{
		Checks: map[string]domain.HealthCheck{
			"redis": {Status: domain.HealthStatusDegraded},
			"kafka": {Status: domain.HealthStatusError},
			"mysql": {Status: domain.HealthStatusOK},
		},
	}}})
	report, _ := svc.HealthReport(context.Background())
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error, got %s", report.Status)
	}
}

func TestHealthReportPropagatesCollectError(t *testing.T) {
	boom := errors.New("collect failed")
	svc, _ := NewSystemService(SystemServiceDeps{HealthRepository: stubHealthRepository{err: boom}})
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error without repository")
	}
}
