package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	_ "github.com/jackc/pgx/v5/stdlib"

	"envmon/internal/models"
)

const defaultReadingsTable = "environment_readings"

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Postgres stores readings in a Postgres table.
type Postgres struct {
	db    *sql.DB
	table string
	owned bool
}

// PostgresOption configures the store.
type PostgresOption func(*Postgres)

// WithTable overrides the default table name.
func WithTable(table string) PostgresOption {
	return func(p *Postgres) {
		if table != "" {
			p.table = table
		}
	}
}

// OpenPostgres opens a connection pool through the pgx driver and verifies it.
func OpenPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	p, err := NewPostgres(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// NewPostgres wraps an existing pool. The caller keeps ownership of db.
func NewPostgres(db *sql.DB, opts ...PostgresOption) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("postgres store: nil db")
	}
	p := &Postgres{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(p)
	}
	if !tableNamePattern.MatchString(p.table) {
		return nil, fmt.Errorf("postgres store: invalid table name %q", p.table)
	}
	return p, nil
}

// EnsureSchema creates the readings table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	seq BIGSERIAL PRIMARY KEY,
	id UUID NOT NULL,
	station_id TEXT NOT NULL,
	temperature DOUBLE PRECISION NOT NULL,
	rainfall DOUBLE PRECISION NOT NULL,
	humidity INTEGER NOT NULL,
	air_pollution INTEGER NOT NULL,
	co2_emissions DOUBLE PRECISION NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
)`, p.table)
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("postgres store: create table: %w", err)
	}
	return nil
}

// Append inserts the reading as a new row.
func (p *Postgres) Append(ctx context.Context, reading models.EnvironmentReading) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	station_id,
	temperature,
	rainfall,
	humidity,
	air_pollution,
	co2_emissions,
	recorded_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)`, p.table)

	_, err := p.db.ExecContext(ctx, query,
		reading.ID,
		reading.StationID,
		reading.Temperature,
		reading.Rainfall,
		reading.Humidity,
		reading.AirPollution,
		reading.CO2Emissions,
		reading.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres store: insert reading %s: %w", reading.ID, err)
	}
	return nil
}

// Latest returns the most recently recorded reading.
func (p *Postgres) Latest(ctx context.Context) (models.EnvironmentReading, error) {
	query := fmt.Sprintf(`
SELECT id, station_id, temperature, rainfall, humidity, air_pollution, co2_emissions, recorded_at
FROM %s
ORDER BY recorded_at DESC, seq DESC
LIMIT 1`, p.table)

	var r models.EnvironmentReading
	err := p.db.QueryRowContext(ctx, query).Scan(
		&r.ID,
		&r.StationID,
		&r.Temperature,
		&r.Rainfall,
		&r.Humidity,
		&r.AirPollution,
		&r.CO2Emissions,
		&r.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EnvironmentReading{}, ErrNoReadings
	}
	if err != nil {
		return models.EnvironmentReading{}, fmt.Errorf("postgres store: latest reading: %w", err)
	}
	r.Timestamp = r.Timestamp.UTC()
	return r, nil
}

// Close releases the pool when the store opened it.
func (p *Postgres) Close() error {
	if p.owned {
		return p.db.Close()
	}
	return nil
}

// HealthCheck verifies the database is reachable.
func (p *Postgres) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
