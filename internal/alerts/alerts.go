package alerts

import (
	"context"

	"github.com/rs/zerolog"

	"envmon/internal/logger"
	"envmon/internal/models"
)

// Evaluator checks every metric of a snapshot against its safe limits.
type Evaluator struct {
	limits map[models.Metric]models.Limits
}

// NewEvaluator creates an evaluator from per-metric limits. Metrics without
// limits are never reported.
func NewEvaluator(limits map[models.Metric]models.Limits) *Evaluator {
	l := make(map[models.Metric]models.Limits, len(limits))
	for m, lim := range limits {
		l[m] = lim
	}
	return &Evaluator{limits: l}
}

// Evaluate returns one AlertEvent per violated metric, in snapshot order. It
// has no side effects, so the same reading always yields the same events.
func (e *Evaluator) Evaluate(reading models.EnvironmentReading) []models.AlertEvent {
	var events []models.AlertEvent
	for _, m := range models.Metrics {
		lim, ok := e.limits[m]
		if !ok {
			continue
		}
		v, err := reading.Value(m)
		if err != nil {
			continue
		}
		if lim.Violated(v) {
			events = append(events, models.AlertEvent{
				Metric:     m,
				Value:      v,
				Limits:     lim,
				DetectedAt: reading.Timestamp,
			})
		}
	}
	return events
}

// Limits returns the limits configured for metric.
func (e *Evaluator) Limits(metric models.Metric) (models.Limits, bool) {
	lim, ok := e.limits[metric]
	return lim, ok
}

// Sink receives detected alerts. Delivery beyond the sink is not the
// station's concern.
type Sink interface {
	Report(ctx context.Context, events []models.AlertEvent) error
}

// LogSink reports alerts to the structured log.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink returns a sink writing through the global logger.
func NewLogSink() *LogSink {
	return &LogSink{log: logger.WithComponent("alerts")}
}

// NewLogSinkWith returns a sink writing through l.
func NewLogSinkWith(l zerolog.Logger) *LogSink {
	return &LogSink{log: l}
}

// Report logs each event at warn level.
func (s *LogSink) Report(_ context.Context, events []models.AlertEvent) error {
	for _, ev := range events {
		s.log.Warn().
			Str("metric", string(ev.Metric)).
			Float64("value", ev.Value).
			Float64("low", ev.Limits.Low).
			Float64("high", ev.Limits.High).
			Time("detected_at", ev.DetectedAt).
			Msg(string(ev.Metric) + " threshold crossed")
	}
	return nil
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, events []models.AlertEvent) error

// Report calls f.
func (f SinkFunc) Report(ctx context.Context, events []models.AlertEvent) error {
	return f(ctx, events)
}
