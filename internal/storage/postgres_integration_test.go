package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"envmon/internal/models"
)

const integrationTable = "environment_readings_it"

func openIntegrationDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping db: %v", err)
	}
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+integrationTable)
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+integrationTable)
	})
	return db
}

func integrationReading(t *testing.T, temperature float64, ts time.Time) models.EnvironmentReading {
	t.Helper()
	r, err := models.NewReading("station-it", map[models.Metric]float64{
		models.MetricTemperature:  temperature,
		models.MetricRainfall:     12.5,
		models.MetricHumidity:     70,
		models.MetricAirPollution: 4,
		models.MetricCO2Emissions: 88,
	}, ts)
	if err != nil {
		t.Fatalf("new reading: %v", err)
	}
	return r
}

func countRows(t *testing.T, db *sql.DB, id string) int {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM "+integrationTable+" WHERE id = $1", id).Scan(&n)
	if err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestPostgres_Integration(t *testing.T) {
	db := openIntegrationDB(t)
	ctx := context.Background()

	store, err := NewPostgres(db, WithTable(integrationTable))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	// A second call must be a no-op on an existing table.
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema twice: %v", err)
	}

	if _, err := store.Latest(ctx); !errors.Is(err, ErrNoReadings) {
		t.Fatalf("expected ErrNoReadings on empty table, got %v", err)
	}

	t1 := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Minute)

	newer := integrationReading(t, 20, t1)
	older := integrationReading(t, 10, t0)
	if err := store.Append(ctx, newer); err != nil {
		t.Fatalf("append newer: %v", err)
	}
	if err := store.Append(ctx, older); err != nil {
		t.Fatalf("append older: %v", err)
	}

	got, err := store.Latest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.ID != newer.ID {
		t.Errorf("latest ordered by insertion instead of recorded_at: got %s, want %s", got.ID, newer.ID)
	}
	if !got.Timestamp.Equal(t1) || got.Temperature != 20 || got.Humidity != 70 || got.StationID != "station-it" {
		t.Errorf("unexpected latest reading %+v", got)
	}

	// Equal timestamps fall back to insertion order.
	tie := integrationReading(t, 25, t1)
	if err := store.Append(ctx, tie); err != nil {
		t.Fatalf("append tie: %v", err)
	}
	if got, err := store.Latest(ctx); err != nil || got.ID != tie.ID {
		t.Errorf("expected later insert %s to win the tie, got %s (%v)", tie.ID, got.ID, err)
	}

	// Appends are plain inserts: a duplicate is stored twice.
	if err := store.Append(ctx, tie); err != nil {
		t.Fatalf("duplicate append: %v", err)
	}
	if n := countRows(t, db, tie.ID); n != 2 {
		t.Errorf("expected 2 rows for duplicate append, got %d", n)
	}
	if n := countRows(t, db, newer.ID); n != 1 {
		t.Errorf("expected 1 row for single append, got %d", n)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Errorf("health check: %v", err)
	}
	// The caller owns db, so Close must leave it usable.
	if err := store.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		t.Errorf("borrowed pool closed by store: %v", err)
	}
}

func TestOpenPostgres_Integration(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	store, err := OpenPostgres(context.Background(), dsn, WithTable(integrationTable))
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Error("expected owned pool to be closed")
	}
}
