package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

func okCheck(context.Context) error { return nil }

func TestCollectReportsHealthyBackend(t *testing.T) {
	now := time.Date(2025, time.May, 4, 9, 30, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "mysql", Check: okCheck},
		{Name: "redis", Check: okCheck},
	}, WithBackendName(" mysql "), WithDependencyClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Backend != "mysql" || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.Checks) != 2 || report.Checks["redis"].CheckedAt != now {
		t.Fatalf("unexpected checks %+v", report.Checks)
	}
}

func TestCollectDegradesOnDependencyError(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "kafka", Check: func(context.Context) error { return errors.New("no brokers") }},
		{Name: "firestore", Check: okCheck},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, _ := repo.Collect(context.Background())
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if got := report.Checks["kafka"]; got.Status != domain.HealthStatusDegraded || got.Error != "no brokers" {
		t.Fatalf("unexpected kafka check %+v", got)
	}
	if report.Checks["firestore"].Status != domain.HealthStatusOK {
		t.Fatalf("healthy check should stay ok")
	}
}

func TestCollectTimesOutSlowChecks(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{{
		Name:    "pubsub",
		Timeout: 5 * time.Millisecond,
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}, {
		Name:    "stubborn",
		Timeout: 5 * time.Millisecond,
		Check: func(context.Context) error {
			time.Sleep(20 * time.Millisecond)
			return nil
		},
	}})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, _ := repo.Collect(context.Background())
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
	for _, name := range []string{"pubsub", "stubborn"} {
		if got := report.Checks[name]; got.Status != domain.HealthStatusError || got.Detail != "timeout" {
			t.Fatalf("%s: expected timeout, got %+v", name, got)
		}
	}
}

func TestNewDependencyHealthRepositoryValidatesChecks(t *testing.T) {
	cases := map[string][]DependencyCheck{
		"empty":     nil,
		"unnamed":   {{Check: okCheck}},
		"no func":   {{Name: "redis"}},
		"duplicate": {{Name: "redis", Check: okCheck}, {Name: "redis ", Check: okCheck}},
	}
	for name, checks := range cases {
		if _, err := NewDependencyHealthRepository(checks); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
