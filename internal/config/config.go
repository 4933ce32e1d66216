package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"envmon/internal/models"
)

// Schedule policies for the collection loop.
const (
	// ScheduleGated fetches all metrics each cycle and waits for the slowest.
	ScheduleGated = "gated"
	// ScheduleIndependent polls each metric on its own timer and snapshots the latest values.
	ScheduleIndependent = "independent"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendKafka    = "kafka"
)

// Config holds runtime configuration for the monitoring station.
type Config struct {
	LogLevel string                         `yaml:"log_level"`
	Station  StationConfig                  `yaml:"station"`
	Sensors  map[models.Metric]SensorConfig `yaml:"sensors"`
	Storage  StorageConfig                  `yaml:"storage"`
	Kafka    KafkaConfig                    `yaml:"kafka"`
	HTTP     HTTPConfig                     `yaml:"http"`
}

// StationConfig configures the collection loop.
type StationConfig struct {
	ID string `yaml:"id"`
	// Minimum time between the start of two cycles
	CycleInterval time.Duration `yaml:"cycle_interval"`
	// gated or independent
	Schedule string `yaml:"schedule"`
	// Minimum time between two anomalous draws for the same metric
	Cooldown time.Duration `yaml:"cooldown"`
	// Random seed; 0 seeds from the clock
	Seed uint64 `yaml:"seed"`
}

// SensorConfig is one row of the per-metric table: acquisition latency,
// generation ranges and the safe operating limits.
type SensorConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Normal    models.Range  `yaml:"normal"`
	Anomalous models.Range  `yaml:"anomalous"`
	Limits    models.Limits `yaml:"limits"`
}

// StorageConfig selects the persistent store.
type StorageConfig struct {
	// memory, postgres or kafka
	Backend        string `yaml:"backend"`
	PostgresDSN    string `yaml:"postgres_dsn"`
	Table          string `yaml:"table"`
	MemoryCapacity int    `yaml:"memory_capacity"`
}

// KafkaConfig configures the kafka store.
type KafkaConfig struct {
	Brokers  []string       `yaml:"brokers"`
	Topic    string         `yaml:"topic"`
	Producer ProducerConfig `yaml:"producer"`
}

// ProducerConfig tunes the kafka writer pool.
type ProducerConfig struct {
	PoolSize     int           `yaml:"pool_size"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
	Compression  string        `yaml:"compression"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// HTTPConfig configures the query surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultSensors returns the reference per-metric table.
func DefaultSensors() map[models.Metric]SensorConfig {
	return map[models.Metric]SensorConfig{
		models.MetricTemperature: {
			Interval:  30 * time.Second,
			Normal:    models.Range{Min: -20, Max: 39},
			Anomalous: models.Range{Min: -100, Max: 100},
			Limits:    models.Between(-9, 30),
		},
		models.MetricRainfall: {
			Interval:  30 * time.Second,
			Normal:    models.Range{Min: 0, Max: 40},
			Anomalous: models.Range{Min: 0, Max: 100},
			Limits:    models.Below(32),
		},
		models.MetricHumidity: {
			Interval:  time.Minute,
			Normal:    models.Range{Min: 0, Max: 100, Integer: true, MaxInclusive: true},
			Anomalous: models.Range{Min: -50, Max: 150, Integer: true},
			Limits:    models.Between(0, 100),
		},
		models.MetricAirPollution: {
			Interval:  time.Minute,
			Normal:    models.Range{Min: 1, Max: 10, Integer: true, MaxInclusive: true},
			Anomalous: models.Range{Min: -5, Max: 15, Integer: true},
			Limits:    models.Between(1, 9),
		},
		models.MetricCO2Emissions: {
			Interval:  2 * time.Minute,
			Normal:    models.Range{Min: 0, Max: 100},
			Anomalous: models.Range{Min: 0, Max: 200},
			Limits:    models.Between(1, 100),
		},
	}
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Station: StationConfig{
			ID:            "station-1",
			CycleInterval: 150 * time.Second,
			Schedule:      ScheduleGated,
			Cooldown:      2 * time.Minute,
		},
		Sensors: DefaultSensors(),
		Storage: StorageConfig{
			Backend:        BackendMemory,
			PostgresDSN:    "postgres://localhost:5432/envmon?sslmode=disable",
			Table:          "environment_readings",
			MemoryCapacity: 1024,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "environment-readings",
			Producer: ProducerConfig{
				PoolSize:     2,
				BatchSize:    1,
				BatchTimeout: 10 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: -1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// Load builds a config from defaults, an optional YAML file and ENVMON_*
// environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.merge(data); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge overlays YAML onto the config. Sensor rows given in YAML replace the
// default row for that metric; omitted metrics keep their defaults.
func (c *Config) merge(data []byte) error {
	sensors := c.Sensors
	c.Sensors = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	for m, row := range c.Sensors {
		sensors[m] = row
	}
	c.Sensors = sensors
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ENVMON_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ENVMON_STATION_ID"); v != "" {
		c.Station.ID = v
	}
	if v := os.Getenv("ENVMON_SCHEDULE"); v != "" {
		c.Station.Schedule = v
	}
	if v := os.Getenv("ENVMON_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("ENVMON_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("ENVMON_POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv("ENVMON_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitCSV(v)
	}
	if v := os.Getenv("ENVMON_KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
}

// Validate checks the configuration and fails fast on anything that would
// make the station produce garbage data. Schedule and backend names are
// normalised first, whether they came from YAML or the environment.
func (c *Config) Validate() error {
	c.normalize()

	var errs []error

	if c.Station.ID == "" {
		errs = append(errs, errors.New("station id is required"))
	}
	if c.Station.CycleInterval < 0 {
		errs = append(errs, errors.New("station cycle interval must not be negative"))
	}
	if c.Station.Cooldown <= 0 {
		errs = append(errs, errors.New("station cooldown must be positive"))
	}
	switch c.Station.Schedule {
	case ScheduleGated, ScheduleIndependent:
	default:
		errs = append(errs, fmt.Errorf("unknown schedule %q", c.Station.Schedule))
	}

	for m := range c.Sensors {
		if !m.IsValid() {
			errs = append(errs, fmt.Errorf("sensor %q: %w", m, models.ErrUnknownMetric))
		}
	}
	for _, m := range models.Metrics {
		row, ok := c.Sensors[m]
		if !ok {
			errs = append(errs, fmt.Errorf("sensor %s: missing configuration", m))
			continue
		}
		if err := row.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sensor %s: %w", m, err))
		}
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres dsn is required"))
		}
	case BackendKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("at least one kafka broker is required"))
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka topic is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	return errors.Join(errs...)
}

func (c *Config) normalize() {
	c.Station.Schedule = strings.ToLower(strings.TrimSpace(c.Station.Schedule))
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
}

// Validate checks one sensor row.
func (s SensorConfig) Validate() error {
	if s.Interval < 0 {
		return errors.New("interval must not be negative")
	}
	if err := s.Normal.Validate(); err != nil {
		return fmt.Errorf("normal range: %w", err)
	}
	if err := s.Anomalous.Validate(); err != nil {
		return fmt.Errorf("anomalous range: %w", err)
	}
	if err := s.Limits.Validate(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	return nil
}

// Limits returns the safe operating limits keyed by metric.
func (c *Config) Limits() map[models.Metric]models.Limits {
	out := make(map[models.Metric]models.Limits, len(c.Sensors))
	for m, row := range c.Sensors {
		out[m] = row.Limits
	}
	return out
}

// UnmarshalYAML lets limits omit a side, which is then unbounded.
func (s *SensorConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		Interval  time.Duration `yaml:"interval"`
		Normal    models.Range  `yaml:"normal"`
		Anomalous models.Range  `yaml:"anomalous"`
		Limits    struct {
			Low  *float64 `yaml:"low"`
			High *float64 `yaml:"high"`
		} `yaml:"limits"`
	}
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	s.Interval = r.Interval
	s.Normal = r.Normal
	s.Anomalous = r.Anomalous
	s.Limits = models.Limits{Low: math.Inf(-1), High: math.Inf(1)}
	if r.Limits.Low != nil {
		s.Limits.Low = *r.Limits.Low
	}
	if r.Limits.High != nil {
		s.Limits.High = *r.Limits.High
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
