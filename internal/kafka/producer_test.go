package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"envmon/internal/config"
	"envmon/internal/models"
	"envmon/internal/storage"
)

// mockWriter records messages and fails the first failures writes
type mockWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	failures int
	calls    int
	closed   bool
}

func (w *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls <= w.failures {
		return errors.New("broker unavailable")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *mockWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func testConfig() config.ProducerConfig {
	return config.ProducerConfig{
		PoolSize:     1,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}
}

func testReading(t *testing.T) models.EnvironmentReading {
	t.Helper()
	r, err := models.NewReading("station-7", map[models.Metric]float64{
		models.MetricTemperature:  21.5,
		models.MetricRainfall:     3,
		models.MetricHumidity:     60,
		models.MetricAirPollution: 2,
		models.MetricCO2Emissions: 40,
	}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestNewProducer_Validation(t *testing.T) {
	if _, err := NewProducer(nil, "topic", testConfig()); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewProducer([]string{"localhost:9092"}, "", testConfig()); err == nil {
		t.Error("expected error without topic")
	}
}

func TestProducer_AppendPublishesReading(t *testing.T) {
	w := &mockWriter{}
	p, err := NewProducer([]string{"localhost:9092"}, "readings", testConfig(), WithWriters(w))
	if err != nil {
		t.Fatal(err)
	}

	r := testReading(t)
	if err := p.Append(context.Background(), r); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if len(w.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.messages))
	}
	msg := w.messages[0]
	if string(msg.Key) != "station-7" {
		t.Errorf("expected station key, got %q", msg.Key)
	}

	var decoded models.EnvironmentReading
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != r.ID || decoded.Humidity != 60 {
		t.Errorf("unexpected payload %+v", decoded)
	}

	latest, err := p.Latest(context.Background())
	if err != nil || latest.ID != r.ID {
		t.Errorf("expected latest %s, got %s (%v)", r.ID, latest.ID, err)
	}
	if stats := p.Stats(); stats.MessagesSent != 1 || stats.BytesWritten == 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestProducer_RetriesThenSucceeds(t *testing.T) {
	w := &mockWriter{failures: 2}
	p, _ := NewProducer([]string{"localhost:9092"}, "readings", testConfig(), WithWriters(w))

	if err := p.Append(context.Background(), testReading(t)); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if w.calls != 3 {
		t.Errorf("expected 3 write attempts, got %d", w.calls)
	}
}

func TestProducer_FailureIsReported(t *testing.T) {
	w := &mockWriter{failures: 10}
	p, _ := NewProducer([]string{"localhost:9092"}, "readings", testConfig(), WithWriters(w))

	if err := p.Append(context.Background(), testReading(t)); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if _, err := p.Latest(context.Background()); !errors.Is(err, storage.ErrNoReadings) {
		t.Errorf("failed append must not become latest, got %v", err)
	}
	if p.Stats().MessagesFailed != 1 {
		t.Errorf("expected one failed message, got %+v", p.Stats())
	}
}

func TestProducer_DuplicateAppendPublishedTwice(t *testing.T) {
	w := &mockWriter{}
	p, _ := NewProducer([]string{"localhost:9092"}, "readings", testConfig(), WithWriters(w))
	r := testReading(t)

	for i := 0; i < 2; i++ {
		if err := p.Append(context.Background(), r); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if len(w.messages) != 2 {
		t.Errorf("expected two messages, got %d", len(w.messages))
	}
}

func TestProducer_Close(t *testing.T) {
	w := &mockWriter{}
	p, _ := NewProducer([]string{"localhost:9092"}, "readings", testConfig(), WithWriters(w))

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if !w.closed {
		t.Error("expected writer closed")
	}
	if err := p.Append(context.Background(), testReading(t)); !errors.Is(err, ErrProducerClosed) {
		t.Errorf("expected ErrProducerClosed, got %v", err)
	}
	if err := p.HealthCheck(context.Background()); !errors.Is(err, ErrProducerClosed) {
		t.Errorf("expected unhealthy after close, got %v", err)
	}
}

func TestGetCompression(t *testing.T) {
	if getCompression("unknown") != compress.None {
		t.Error("expected no compression for unknown codec")
	}
	if getCompression("snappy") != compress.Snappy {
		t.Error("expected snappy codec")
	}
}

// fakeTail serves fixed partition tails
type fakeTail struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeTail) Tail(ctx context.Context) ([]kafka.Message, error) {
	return f.msgs, f.err
}

func readingMessage(t *testing.T, ts time.Time, partition int) (models.EnvironmentReading, kafka.Message) {
	t.Helper()
	r, err := models.NewReading("station-7", map[models.Metric]float64{
		models.MetricTemperature:  18,
		models.MetricRainfall:     1,
		models.MetricHumidity:     55,
		models.MetricAirPollution: 3,
		models.MetricCO2Emissions: 20,
	}, ts)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	return r, kafka.Message{Partition: partition, Value: data}
}

func TestProducer_RestoreSeedsLatest(t *testing.T) {
	base := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	_, older := readingMessage(t, base, 0)
	newest, newer := readingMessage(t, base.Add(time.Minute), 1)
	garbage := kafka.Message{Partition: 2, Offset: 7, Value: []byte("not json")}

	tail := &fakeTail{msgs: []kafka.Message{older, garbage, newer}}
	p, err := NewProducer([]string{"localhost:9092"}, "readings", testConfig(),
		WithWriters(&mockWriter{}), WithTail(tail))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Latest(context.Background()); !errors.Is(err, storage.ErrNoReadings) {
		t.Fatalf("expected ErrNoReadings before restore, got %v", err)
	}
	if err := p.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, err := p.Latest(context.Background())
	if err != nil {
		t.Fatalf("latest after restore: %v", err)
	}
	if got.ID != newest.ID || !got.Timestamp.Equal(newest.Timestamp) {
		t.Errorf("expected newest topic reading %s, got %s", newest.ID, got.ID)
	}
}

func TestProducer_RestoreKeepsNewerAppend(t *testing.T) {
	_, stale := readingMessage(t, time.Now().Add(-time.Hour), 0)
	p, err := NewProducer([]string{"localhost:9092"}, "readings", testConfig(),
		WithWriters(&mockWriter{}), WithTail(&fakeTail{msgs: []kafka.Message{stale}}))
	if err != nil {
		t.Fatal(err)
	}

	appended := testReading(t)
	if err := p.Append(context.Background(), appended); err != nil {
		t.Fatal(err)
	}
	if err := p.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}

	got, err := p.Latest(context.Background())
	if err != nil || got.ID != appended.ID {
		t.Errorf("expected appended reading %s to survive restore, got %s (%v)", appended.ID, got.ID, err)
	}
}

func TestProducer_RestoreEmptyAndError(t *testing.T) {
	p, err := NewProducer([]string{"localhost:9092"}, "readings", testConfig(),
		WithWriters(&mockWriter{}), WithTail(&fakeTail{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Restore(context.Background()); err != nil {
		t.Fatalf("restore of empty topic: %v", err)
	}
	if _, err := p.Latest(context.Background()); !errors.Is(err, storage.ErrNoReadings) {
		t.Errorf("expected ErrNoReadings for empty topic, got %v", err)
	}

	brokerDown := errors.New("broker unavailable")
	p, err = NewProducer([]string{"localhost:9092"}, "readings", testConfig(),
		WithWriters(&mockWriter{}), WithTail(&fakeTail{err: brokerDown}))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Restore(context.Background()); !errors.Is(err, brokerDown) {
		t.Errorf("expected wrapped tail error, got %v", err)
	}
}
