package storage

import (
	"context"
	"time"

	"envmon/internal/metrics"
	"envmon/internal/models"
)

// Instrumented records append counts and latency for a backend.
type Instrumented struct {
	Store
	backend string
}

// Instrument wraps store with Prometheus instrumentation labelled by backend.
func Instrument(store Store, backend string) *Instrumented {
	return &Instrumented{Store: store, backend: backend}
}

// Append forwards to the wrapped store and records the outcome.
func (i *Instrumented) Append(ctx context.Context, reading models.EnvironmentReading) error {
	start := time.Now()
	err := i.Store.Append(ctx, reading)
	metrics.StoreAppendDuration.WithLabelValues(i.backend).Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.StoreAppendTotal.WithLabelValues(i.backend, status).Inc()
	return err
}

// Backend returns the backend label.
func (i *Instrumented) Backend() string {
	return i.backend
}

// HealthCheck forwards to the wrapped store when it can report health.
func (i *Instrumented) HealthCheck(ctx context.Context) error {
	if hc, ok := i.Store.(interface{ HealthCheck(context.Context) error }); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}
