package station

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"envmon/internal/alerts"
	"envmon/internal/config"
	"envmon/internal/logger"
	"envmon/internal/metrics"
	"envmon/internal/models"
	"envmon/internal/storage"
)

const appendTimeout = 10 * time.Second

// Source acquires one value for a metric, blocking for as long as the
// sensor takes.
type Source interface {
	Fetch(ctx context.Context, metric models.Metric) (float64, error)
}

// Station is the collection loop: it fetches every metric, assembles a
// snapshot, evaluates thresholds, reports alerts and persists the snapshot.
type Station struct {
	id        string
	source    Source
	evaluator *alerts.Evaluator
	sinks     []alerts.Sink
	store     storage.Store
	interval  time.Duration
	schedule  string
	pollGap   map[models.Metric]time.Duration
	now       func() time.Time
	log       zerolog.Logger

	// Metrics
	cycles      atomic.Uint64
	persisted   atomic.Uint64
	storeFailed atomic.Uint64
	fetchFailed atomic.Uint64
	skipped     atomic.Uint64
	alerted     atomic.Uint64
}

// Config holds station configuration
type Config struct {
	ID        string
	Source    Source
	Evaluator *alerts.Evaluator
	Store     storage.Store
	Sinks     []alerts.Sink

	// Minimum time between the start of two cycles
	CycleInterval time.Duration
	// config.ScheduleGated or config.ScheduleIndependent
	Schedule string
	// Extra wait after each fetch in the independent schedule
	PollGap map[models.Metric]time.Duration

	Clock func() time.Time
}

// CycleResult describes one completed cycle.
type CycleResult struct {
	Reading  models.EnvironmentReading
	Alerts   []models.AlertEvent
	StoreErr error
}

// Persisted reports whether the store accepted the reading.
func (r CycleResult) Persisted() bool {
	return r.StoreErr == nil
}

// New constructs a Station with given config.
func New(cfg Config) (*Station, error) {
	if cfg.Source == nil {
		return nil, errors.New("station: source is required")
	}
	if cfg.Evaluator == nil {
		return nil, errors.New("station: evaluator is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("station: store is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = config.ScheduleGated
	}
	if cfg.Schedule != config.ScheduleGated && cfg.Schedule != config.ScheduleIndependent {
		return nil, fmt.Errorf("station: unknown schedule %q", cfg.Schedule)
	}
	if cfg.Schedule == config.ScheduleIndependent && cfg.CycleInterval <= 0 {
		return nil, errors.New("station: independent schedule needs a positive cycle interval")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Station{
		id:        cfg.ID,
		source:    cfg.Source,
		evaluator: cfg.Evaluator,
		sinks:     cfg.Sinks,
		store:     cfg.Store,
		interval:  cfg.CycleInterval,
		schedule:  cfg.Schedule,
		pollGap:   cfg.PollGap,
		now:       cfg.Clock,
		log:       logger.WithStation("station", cfg.ID),
	}, nil
}

// Run drives collection cycles until ctx is cancelled. Cancellation is not
// an error: Run returns nil once the loop has stopped.
func (s *Station) Run(ctx context.Context) error {
	s.log.Info().
		Str("schedule", s.schedule).
		Dur("cycle_interval", s.interval).
		Msg("station starting")
	defer s.log.Info().Msg("station stopped")

	if s.schedule == config.ScheduleIndependent {
		return s.runIndependent(ctx)
	}
	return s.runGated(ctx)
}

// runGated fetches all five metrics each cycle and waits for the slowest.
func (s *Station) runGated(ctx context.Context) error {
	for {
		start := time.Now()
		s.safeCycle(ctx)

		if ctx.Err() != nil {
			return nil
		}

		wait := s.interval - time.Since(start)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// safeCycle runs one cycle and keeps a panic from stopping the loop.
func (s *Station) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("cycle panic recovered")
			metrics.PanicsRecovered.WithLabelValues("station").Inc()
		}
	}()

	if _, err := s.Cycle(ctx); err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("cycle failed")
	}
}

// Cycle runs one gated cycle. An error means no reading was assembled; a
// store failure is reported in the result and does not fail the cycle.
func (s *Station) Cycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	defer func() {
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	reading, err := s.Collect(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.fetchFailed.Add(1)
			metrics.CyclesTotal.WithLabelValues("fetch_failed").Inc()
		}
		return CycleResult{}, err
	}
	return s.process(ctx, reading), nil
}

// Collect fetches every metric concurrently and assembles a snapshot once
// all fetches have completed. Nothing is assembled if any fetch fails.
func (s *Station) Collect(ctx context.Context) (models.EnvironmentReading, error) {
	values := make([]float64, len(models.Metrics))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range models.Metrics {
		g.Go(func() error {
			v, err := s.source.Fetch(gctx, m)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", m, err)
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.EnvironmentReading{}, err
	}

	byMetric := make(map[models.Metric]float64, len(models.Metrics))
	for i, m := range models.Metrics {
		byMetric[m] = values[i]
		metrics.SensorValue.WithLabelValues(string(m)).Set(values[i])
	}
	return models.NewReading(s.id, byMetric, s.now())
}

// process evaluates, reports and persists an assembled reading.
func (s *Station) process(ctx context.Context, reading models.EnvironmentReading) CycleResult {
	s.cycles.Add(1)
	result := CycleResult{Reading: reading}

	result.Alerts = s.evaluator.Evaluate(reading)
	if len(result.Alerts) > 0 {
		s.alerted.Add(uint64(len(result.Alerts)))
		for _, ev := range result.Alerts {
			metrics.AlertsTotal.WithLabelValues(string(ev.Metric)).Inc()
		}
		for _, sink := range s.sinks {
			if err := sink.Report(ctx, result.Alerts); err != nil {
				s.log.Error().Err(err).Msg("alert sink failed")
			}
		}
	}

	// A completed reading is still persisted when shutdown begins mid-append.
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	storeStart := time.Now()
	result.StoreErr = s.store.Append(appendCtx, reading)
	duration := time.Since(storeStart)

	if result.StoreErr != nil {
		s.storeFailed.Add(1)
		metrics.CyclesTotal.WithLabelValues("store_failed").Inc()
		s.log.Error().
			Err(result.StoreErr).
			Str("reading_id", reading.ID).
			Dur("duration", duration).
			Msg("failed to persist reading")
		return result
	}

	s.persisted.Add(1)
	metrics.CyclesTotal.WithLabelValues("persisted").Inc()
	s.log.Info().
		Str("reading_id", reading.ID).
		Float64("temperature", reading.Temperature).
		Float64("rainfall", reading.Rainfall).
		Int("humidity", reading.Humidity).
		Int("air_pollution", reading.AirPollution).
		Float64("co2_emissions", reading.CO2Emissions).
		Int("alerts", len(result.Alerts)).
		Dur("duration", duration).
		Msg("reading persisted")
	return result
}

// runIndependent polls each metric on its own goroutine and assembles a
// snapshot of the latest known values on every cycle tick.
func (s *Station) runIndependent(ctx context.Context) error {
	latest := newLatestValues()

	var wg sync.WaitGroup
	for _, m := range models.Metrics {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.poll(ctx, m, latest)
		}()
	}
	defer wg.Wait()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.safeSnapshot(ctx, latest)
		}
	}
}

func (s *Station) safeSnapshot(ctx context.Context, latest *latestValues) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("snapshot panic recovered")
			metrics.PanicsRecovered.WithLabelValues("station").Inc()
		}
	}()

	values, ok := latest.snapshot()
	if !ok {
		s.skipped.Add(1)
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		s.log.Debug().Msg("waiting for every sensor to report")
		return
	}

	reading, err := models.NewReading(s.id, values, s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to assemble reading")
		return
	}
	s.process(ctx, reading)
}

// poll keeps one metric's latest value current.
func (s *Station) poll(ctx context.Context, m models.Metric, latest *latestValues) {
	log := s.log.With().Str("metric", string(m)).Logger()
	gap := s.pollGap[m]

	for {
		v, err := s.source.Fetch(ctx, m)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("fetch failed")
			if gap <= 0 {
				gap = time.Second
			}
		} else {
			latest.set(m, v)
			metrics.SensorValue.WithLabelValues(string(m)).Set(v)
		}

		if gap > 0 {
			timer := time.NewTimer(gap)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		gap = s.pollGap[m]
	}
}

// Stats returns station statistics
func (s *Station) Stats() Stats {
	return Stats{
		Cycles:      s.cycles.Load(),
		Persisted:   s.persisted.Load(),
		StoreFailed: s.storeFailed.Load(),
		FetchFailed: s.fetchFailed.Load(),
		Skipped:     s.skipped.Load(),
		Alerts:      s.alerted.Load(),
	}
}

// Stats holds station metrics
type Stats struct {
	Cycles      uint64 `json:"cycles"`
	Persisted   uint64 `json:"persisted"`
	StoreFailed uint64 `json:"store_failed"`
	FetchFailed uint64 `json:"fetch_failed"`
	Skipped     uint64 `json:"skipped"`
	Alerts      uint64 `json:"alerts"`
}

// latestValues caches the most recent value per metric.
type latestValues struct {
	mu     sync.Mutex
	values map[models.Metric]float64
}

func newLatestValues() *latestValues {
	return &latestValues{values: make(map[models.Metric]float64, len(models.Metrics))}
}

func (l *latestValues) set(m models.Metric, v float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values[m] = v
}

// snapshot copies the cached values; ok is false until every metric has reported.
func (l *latestValues) snapshot() (map[models.Metric]float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.values) < len(models.Metrics) {
		return nil, false
	}
	out := make(map[models.Metric]float64, len(l.values))
	for m, v := range l.values {
		out[m] = v
	}
	return out, true
}
