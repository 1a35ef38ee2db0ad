package services

import (
	"context"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthImplementation implements the health service
type HealthImplementation struct {
	db Pinger
}

// NewHealthService creates a new health service implementation. db may be
// nil when the service runs without persistence.
func NewHealthService(db Pinger) *HealthImplementation {
	return &HealthImplementation{db: db}
}

// Healthz implements the liveness probe
func (h *HealthImplementation) Healthz(ctx context.Context) error {
	return nil
}

// Readyz implements the readiness probe
func (h *HealthImplementation) Readyz(ctx context.Context) error {
	if h.db == nil {
		return nil
	}
	if err := h.db.Ping(ctx); err != nil {
		return &UnavailableError{Message: "database unavailable: " + err.Error()}
	}
	return nil
}
