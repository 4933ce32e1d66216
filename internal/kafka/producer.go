package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"envmon/internal/config"
	"envmon/internal/logger"
	"envmon/internal/metrics"
	"envmon/internal/models"
	"envmon/internal/storage"
)

// Producer errors
var (
	ErrProducerClosed  = errors.New("producer is closed")
	ErrSerializeFailed = errors.New("failed to serialize reading")
)

// MessageWriter is the subset of *kafka.Writer the producer relies on.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer appends readings to a Kafka topic. It satisfies storage.Store;
// Latest serves the last reading the producer successfully wrote.
type Producer struct {
	cfg     config.ProducerConfig
	topic   string
	writers []MessageWriter
	pool    chan MessageWriter
	tail    TailReader
	closed  atomic.Bool

	latestMu sync.RWMutex
	latest   *models.EnvironmentReading

	// Metrics
	messagesSent   atomic.Uint64
	messagesFailed atomic.Uint64
	bytesWritten   atomic.Uint64
}

var _ storage.Store = (*Producer)(nil)

// ProducerOption is a functional option for configuring the producer
type ProducerOption func(*Producer)

// WithWriters replaces the kafka writer pool, mainly for tests.
func WithWriters(writers ...MessageWriter) ProducerOption {
	return func(p *Producer) {
		p.writers = writers
	}
}

// WithTail replaces the reader Restore uses to find the newest reading.
func WithTail(tail TailReader) ProducerOption {
	return func(p *Producer) {
		p.tail = tail
	}
}

// NewProducer creates a new Kafka producer with the given configuration
func NewProducer(brokers []string, topic string, cfg config.ProducerConfig, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}

	if topic == "" {
		return nil, errors.New("topic is required")
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 2
	}

	p := &Producer{
		cfg:   cfg,
		topic: topic,
	}

	for _, opt := range opts {
		opt(p)
	}

	if len(p.writers) == 0 {
		compression := getCompression(cfg.Compression)
		for i := 0; i < cfg.PoolSize; i++ {
			p.writers = append(p.writers, &kafka.Writer{
				Addr:         kafka.TCP(brokers...),
				Topic:        topic,
				Balancer:     &kafka.Hash{}, // Partition by station
				BatchSize:    cfg.BatchSize,
				BatchTimeout: cfg.BatchTimeout,
				WriteTimeout: cfg.WriteTimeout,
				RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
				Compression:  compression,
				MaxAttempts:  1, // retries are handled by the producer
				Async:        false,
			})
		}
	}

	if p.tail == nil {
		p.tail = NewTopicTail(brokers, topic)
	}

	p.pool = make(chan MessageWriter, len(p.writers))
	for _, w := range p.writers {
		p.pool <- w
	}

	return p, nil
}

// getCompression returns the kafka compression codec
func getCompression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// Append publishes the reading to the topic, keyed by station.
func (p *Producer) Append(ctx context.Context, reading models.EnvironmentReading) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	data, err := json.Marshal(reading)
	if err != nil {
		p.messagesFailed.Add(1)
		return fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}

	msg := kafka.Message{
		Key:   []byte(reading.StationID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "station_id", Value: []byte(reading.StationID)},
			{Key: "reading_id", Value: []byte(reading.ID)},
		},
		Time: reading.Timestamp,
	}

	var writer MessageWriter
	select {
	case writer = <-p.pool:
		defer func() { p.pool <- writer }()
	case <-ctx.Done():
		p.messagesFailed.Add(1)
		return ctx.Err()
	}

	if err := p.publishWithRetry(ctx, writer, msg); err != nil {
		p.messagesFailed.Add(1)
		return err
	}

	p.messagesSent.Add(1)
	p.bytesWritten.Add(uint64(len(data)))
	metrics.KafkaBytesWritten.Add(float64(len(data)))

	p.latestMu.Lock()
	p.latest = &reading
	p.latestMu.Unlock()
	return nil
}

// Latest returns the last reading written by this producer.
func (p *Producer) Latest(ctx context.Context) (models.EnvironmentReading, error) {
	if err := ctx.Err(); err != nil {
		return models.EnvironmentReading{}, err
	}

	p.latestMu.RLock()
	defer p.latestMu.RUnlock()

	if p.latest == nil {
		return models.EnvironmentReading{}, storage.ErrNoReadings
	}
	return *p.latest, nil
}

// Restore seeds Latest from the newest reading already on the topic, so the
// latest reading survives a restart. A reading appended since start wins over
// an older restored one. Messages that do not decode are skipped.
func (p *Producer) Restore(ctx context.Context) error {
	msgs, err := p.tail.Tail(ctx)
	if err != nil {
		return fmt.Errorf("restore latest reading: %w", err)
	}

	log := logger.WithComponent("kafka_producer")
	var newest *models.EnvironmentReading
	for _, msg := range msgs {
		var r models.EnvironmentReading
		if err := json.Unmarshal(msg.Value, &r); err != nil {
			log.Warn().
				Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("skipping undecodable message")
			continue
		}
		if newest == nil || r.Timestamp.After(newest.Timestamp) {
			newest = &r
		}
	}
	if newest == nil {
		return nil
	}

	p.latestMu.Lock()
	defer p.latestMu.Unlock()
	if p.latest == nil || newest.Timestamp.After(p.latest.Timestamp) {
		p.latest = newest
		log.Info().
			Str("reading_id", newest.ID).
			Time("timestamp", newest.Timestamp).
			Msg("restored latest reading")
	}
	return nil
}

// publishWithRetry publishes a single message with exponential backoff retry
func (p *Producer) publishWithRetry(ctx context.Context, writer MessageWriter, msg kafka.Message) error {
	log := logger.WithComponent("kafka_producer")
	var lastErr error
	backoff := p.cfg.RetryBackoff

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("retrying kafka publish")

			metrics.KafkaPublishRetries.Inc()

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}

		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Msg("kafka publish attempt failed")

		// Check for non-retryable errors
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	log.Error().
		Err(lastErr).
		Int("max_retries", p.cfg.MaxRetries+1).
		Msg("kafka publish failed after all retries")

	return fmt.Errorf("failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

// Close closes all writers in the pool
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil // Already closed
	}

	var errs []error
	for _, writer := range p.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Stats returns producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.messagesSent.Load(),
		MessagesFailed: p.messagesFailed.Load(),
		BytesWritten:   p.bytesWritten.Load(),
	}
}

// ProducerStats holds producer metrics
type ProducerStats struct {
	MessagesSent   uint64
	MessagesFailed uint64
	BytesWritten   uint64
}

// HealthCheck verifies the producer has a writer available.
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	select {
	case writer := <-p.pool:
		p.pool <- writer
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
