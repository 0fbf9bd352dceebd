package domain

import "time"

// HealthStatus summarises a dependency probe outcome.
type HealthStatus string

const (
	// HealthStatusOK indicates the dependency answered within its timeout.
	HealthStatusOK HealthStatus = "ok"
	// HealthStatusDegraded indicates the dependency answered with an error.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusError indicates the dependency timed out or the probe was cancelled.
	HealthStatusError HealthStatus = "error"
)

// HealthCheck is the result of one dependency probe.
type HealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probes for readiness endpoints.
type HealthReport struct {
	Status      HealthStatus
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}
