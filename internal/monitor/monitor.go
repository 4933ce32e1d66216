package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"envmon/internal/alerts"
	"envmon/internal/config"
	"envmon/internal/handlers"
	"envmon/internal/kafka"
	"envmon/internal/logger"
	"envmon/internal/middleware"
	"envmon/internal/sensors"
	"envmon/internal/station"
	"envmon/internal/storage"
)

const restoreTimeout = 5 * time.Second

// Monitor wires the sensor bank, collection loop, persistent store and
// query surface together and owns their lifecycle.
type Monitor struct {
	cfg        *config.Config
	store      storage.Store
	bank       *sensors.Bank
	station    *station.Station
	httpServer *http.Server
	wg         sync.WaitGroup

	// How long shutdown waits for the collection loop
	stationTimeout time.Duration
}

// Option is a functional option for configuring the monitor
type Option func(*Monitor)

// WithStore replaces the configured persistent store.
func WithStore(store storage.Store) Option {
	return func(m *Monitor) {
		m.store = store
	}
}

// WithStationTimeout bounds how long shutdown waits for the collection loop.
func WithStationTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		m.stationTimeout = d
	}
}

// New constructs a Monitor with given config.
func New(cfg *config.Config, opts ...Option) *Monitor {
	m := &Monitor{cfg: cfg, stationTimeout: 15 * time.Second}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run starts the collection loop and HTTP server and blocks until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	log := logger.WithComponent("monitor")
	log.Info().Str("station_id", m.cfg.Station.ID).Msg("monitor starting")

	if err := m.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if m.store == nil {
		store, err := OpenStore(ctx, m.cfg)
		if err != nil {
			log.Error().Err(err).Msg("failed to open store")
			return fmt.Errorf("failed to open store: %w", err)
		}
		m.store = store
	}
	defer m.closeStore()

	if err := m.initStation(); err != nil {
		log.Error().Err(err).Msg("failed to initialize station")
		return err
	}

	m.initHTTPServer()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		log.Info().Str("addr", m.httpServer.Addr).Msg("starting HTTP server")
		if err := m.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// The station goroutine is tracked by stationDone only, so a stuck
	// append cannot hold shutdown past stationTimeout.
	stationDone := make(chan struct{})
	go func() {
		defer close(stationDone)
		if err := m.station.Run(ctx); err != nil {
			log.Error().Err(err).Msg("station exited")
		}
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.reportStats(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	return m.shutdown(stationDone)
}

// initStation builds the generator, sensor bank and collection loop
func (m *Monitor) initStation() error {
	opts := []sensors.GeneratorOption{}
	if m.cfg.Station.Seed != 0 {
		opts = append(opts, sensors.WithSeed(m.cfg.Station.Seed))
	}

	generator, err := sensors.NewGenerator(
		sensors.ProfilesFromConfig(m.cfg.Sensors),
		sensors.NewCooldownTracker(m.cfg.Station.Cooldown),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize generator: %w", err)
	}
	m.bank = sensors.NewBank(generator, sensors.LatencyFromConfig(m.cfg.Sensors))

	st, err := station.New(station.Config{
		ID:            m.cfg.Station.ID,
		Source:        m.bank,
		Evaluator:     alerts.NewEvaluator(m.cfg.Limits()),
		Store:         m.store,
		Sinks:         []alerts.Sink{alerts.NewLogSink()},
		CycleInterval: m.cfg.Station.CycleInterval,
		Schedule:      m.cfg.Station.Schedule,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize station: %w", err)
	}
	m.station = st
	return nil
}

// initHTTPServer initializes the HTTP server with handlers
func (m *Monitor) initHTTPServer() {
	mux := http.NewServeMux()

	handlers.NewQueryHandler(handlers.QueryConfig{
		Store:   m.store,
		Sensors: m.bank,
		Stats:   m.station,
	}).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	m.httpServer = &http.Server{
		Addr: m.cfg.HTTP.Addr,
		Handler: middleware.Chain(
			mux,
			middleware.Recovery,
			middleware.Logging,
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// shutdown performs graceful shutdown
func (m *Monitor) shutdown(stationDone <-chan struct{}) error {
	log := logger.WithComponent("monitor")
	log.Info().Msg("initiating graceful shutdown")

	// 1. Stop accepting new HTTP requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := m.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Let the collection loop finish its current append
	select {
	case <-stationDone:
		log.Info().Msg("station stopped gracefully")
	case <-time.After(m.stationTimeout):
		log.Warn().Dur("timeout", m.stationTimeout).Msg("station shutdown timeout - forcing exit")
	}

	// 3. Wait for the HTTP server and stats goroutines
	m.wg.Wait()

	log.Info().Msg("monitor stopped gracefully")
	return nil
}

func (m *Monitor) closeStore() {
	log := logger.WithComponent("monitor")
	if err := m.store.Close(); err != nil {
		log.Error().Err(err).Msg("store close error")
	}
}

// reportStats periodically logs statistics
func (m *Monitor) reportStats(ctx context.Context) {
	log := logger.WithComponent("monitor")
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := m.station.Stats()
			log.Info().
				Uint64("cycles", stats.Cycles).
				Uint64("persisted", stats.Persisted).
				Uint64("store_failed", stats.StoreFailed).
				Uint64("fetch_failed", stats.FetchFailed).
				Uint64("alerts", stats.Alerts).
				Msg("stats")
		}
	}
}

// OpenStore opens the persistent store selected by the configuration.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return storage.Instrument(storage.NewMemory(cfg.Storage.MemoryCapacity), config.BackendMemory), nil

	case config.BackendPostgres:
		pg, err := storage.OpenPostgres(ctx, cfg.Storage.PostgresDSN, storage.WithTable(cfg.Storage.Table))
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return storage.Instrument(pg, config.BackendPostgres), nil

	case config.BackendKafka:
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Producer)
		if err != nil {
			return nil, err
		}
		log := logger.WithComponent("monitor")
		restoreCtx, cancel := context.WithTimeout(ctx, restoreTimeout)
		if err := producer.Restore(restoreCtx); err != nil {
			log.Warn().Err(err).Msg("could not restore latest reading from kafka")
		}
		cancel()
		log.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Msg("kafka producer initialized")
		return storage.Instrument(producer, config.BackendKafka), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
