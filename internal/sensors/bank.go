package sensors

import (
	"context"
	"fmt"
	"time"

	"envmon/internal/config"
	"envmon/internal/metrics"
	"envmon/internal/models"
)

// Bank simulates the station's sensors. Fetching a metric blocks for that
// sensor's acquisition latency before generating the value.
type Bank struct {
	generator *Generator
	latency   map[models.Metric]time.Duration
}

// NewBank wraps a generator with per-metric acquisition latency.
func NewBank(generator *Generator, latency map[models.Metric]time.Duration) *Bank {
	l := make(map[models.Metric]time.Duration, len(latency))
	for m, d := range latency {
		l[m] = d
	}
	return &Bank{generator: generator, latency: l}
}

// LatencyFromConfig extracts per-metric acquisition latency from the sensor table.
func LatencyFromConfig(sensors map[models.Metric]config.SensorConfig) map[models.Metric]time.Duration {
	out := make(map[models.Metric]time.Duration, len(sensors))
	for m, row := range sensors {
		out[m] = row.Interval
	}
	return out
}

// Fetch waits out the metric's latency and returns a generated value. If ctx
// ends first the fetch is abandoned before the cooldown tracker is consulted.
func (b *Bank) Fetch(ctx context.Context, metric models.Metric) (float64, error) {
	if !metric.IsValid() {
		return 0, fmt.Errorf("%w: %q", models.ErrUnknownMetric, metric)
	}

	start := time.Now()
	if d := b.latency[metric]; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return 0, err
	}

	v, err := b.generator.Generate(metric)
	if err != nil {
		return 0, err
	}
	metrics.SensorFetchDuration.WithLabelValues(string(metric)).Observe(time.Since(start).Seconds())
	return v, nil
}

// Latest generates a value immediately, bypassing acquisition latency.
func (b *Bank) Latest(metric models.Metric) (float64, error) {
	return b.generator.Generate(metric)
}

// Latency returns the acquisition latency of metric.
func (b *Bank) Latency(metric models.Metric) time.Duration {
	return b.latency[metric]
}
