package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"envmon/internal/models"
	"envmon/internal/station"
	"envmon/internal/storage"
)

// LiveSensors returns a value for a metric on demand, outside the
// collection loop's cadence.
type LiveSensors interface {
	Latest(metric models.Metric) (float64, error)
}

// StatsProvider exposes collection loop statistics.
type StatsProvider interface {
	Stats() station.Stats
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// QueryHandler serves the latest stored and live sensor values.
type QueryHandler struct {
	store   storage.Store
	sensors LiveSensors
	stats   StatsProvider
	health  HealthChecker
}

// QueryConfig holds configuration for the query handler
type QueryConfig struct {
	Store   storage.Store
	Sensors LiveSensors
	Stats   StatsProvider
	// Optional; the store is probed when it implements HealthChecker
	Health HealthChecker
}

// NewQueryHandler creates a new query handler
func NewQueryHandler(cfg QueryConfig) *QueryHandler {
	health := cfg.Health
	if health == nil {
		if hc, ok := cfg.Store.(HealthChecker); ok {
			health = hc
		}
	}
	return &QueryHandler{
		store:   cfg.Store,
		sensors: cfg.Sensors,
		stats:   cfg.Stats,
		health:  health,
	}
}

// SensorValue is the response for a live sensor query
type SensorValue struct {
	Metric    models.Metric `json:"metric"`
	Value     float64       `json:"value"`
	Timestamp time.Time     `json:"timestamp"`
}

// Register mounts the query routes on mux.
func (h *QueryHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /readings/latest", h.latestReading)
	mux.HandleFunc("GET /environment/data", h.latestReading)
	mux.HandleFunc("GET /sensors", h.allSensors)
	mux.HandleFunc("GET /sensors/{metric}", h.sensor)
	mux.HandleFunc("GET /health", h.healthCheck)
	mux.HandleFunc("GET /stats", h.statsReport)
}

// latestReading returns the most recently persisted snapshot
func (h *QueryHandler) latestReading(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	reading, err := h.store.Latest(ctx)
	if errors.Is(err, storage.ErrNoReadings) {
		h.writeError(w, http.StatusNotFound, "no readings stored yet")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load latest reading")
		return
	}
	h.writeJSON(w, http.StatusOK, reading)
}

// sensor generates a live value for a single metric
func (h *QueryHandler) sensor(w http.ResponseWriter, r *http.Request) {
	metric, err := models.ParseMetric(r.PathValue("metric"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "unknown metric: "+r.PathValue("metric"))
		return
	}

	v, err := h.sensors.Latest(metric)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, SensorValue{Metric: metric, Value: v, Timestamp: time.Now().UTC()})
}

// allSensors generates a live value for every metric
func (h *QueryHandler) allSensors(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	out := make([]SensorValue, 0, len(models.Metrics))
	for _, m := range models.Metrics {
		v, err := h.sensors.Latest(m)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, SensorValue{Metric: m, Value: v, Timestamp: now})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// healthCheck handles health check requests
func (h *QueryHandler) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.health != nil {
		if err := h.health.HealthCheck(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "unhealthy: "+err.Error())
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// statsReport returns current collection loop statistics
func (h *QueryHandler) statsReport(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.writeError(w, http.StatusNotFound, "stats unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, h.stats.Stats())
}

func (h *QueryHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response
func (h *QueryHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
