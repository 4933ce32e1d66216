package storage

import (
	"context"
	"sync"

	"envmon/internal/models"
)

// Memory is an in-process store holding the most recent readings.
type Memory struct {
	mu       sync.RWMutex
	readings []models.EnvironmentReading
	capacity int
	// Oldest slot once a bounded buffer is full
	head   int
	closed bool
}

// NewMemory returns a store retaining at most capacity readings, oldest
// evicted first. A non-positive capacity keeps everything.
func NewMemory(capacity int) *Memory {
	m := &Memory{capacity: capacity}
	if capacity > 0 {
		m.readings = make([]models.EnvironmentReading, 0, capacity)
	}
	return m
}

// Append stores the reading.
func (m *Memory) Append(ctx context.Context, reading models.EnvironmentReading) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.capacity > 0 && len(m.readings) == m.capacity {
		// Full: overwrite the oldest slot in place.
		m.readings[m.head] = reading
		m.head = (m.head + 1) % m.capacity
		return nil
	}
	m.readings = append(m.readings, reading)
	return nil
}

// Latest returns the most recently appended reading.
func (m *Memory) Latest(ctx context.Context) (models.EnvironmentReading, error) {
	if err := ctx.Err(); err != nil {
		return models.EnvironmentReading{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.readings) == 0 {
		return models.EnvironmentReading{}, ErrNoReadings
	}
	return m.readings[m.newest()], nil
}

// All returns a copy of the retained readings, oldest first.
func (m *Memory) All() []models.EnvironmentReading {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.EnvironmentReading, 0, len(m.readings))
	out = append(out, m.readings[m.head:]...)
	out = append(out, m.readings[:m.head]...)
	return out
}

// newest returns the index of the last appended reading. Callers hold mu and
// guarantee at least one reading.
func (m *Memory) newest() int {
	if m.head == 0 {
		return len(m.readings) - 1
	}
	return m.head - 1
}

// Len returns the number of retained readings.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.readings)
}

// Close marks the store closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
