package domain

import "time"

// Probe outcomes, ordered from best to worst.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// HealthCheck is the result of probing one backing dependency.
type HealthCheck struct {
	Status    string
	Latency   time.Duration
	CheckedAt time.Time
	// Detail carries a short machine reason ("timeout", "cancelled") and Error the raw message.
	Detail string
	Error  string
}

// HealthReport is what /readyz renders.
type HealthReport struct {
	Status      string
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
	Uptime      time.Duration

	Backend     string
	Environment string
	Version     string
	CommitSHA   string
}
