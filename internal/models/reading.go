package models

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Reading errors
var (
	ErrMissingMetric = errors.New("snapshot is missing a metric value")
	ErrZeroTimestamp = errors.New("timestamp cannot be zero")
)

// EnvironmentReading is one timestamped snapshot of all five metrics. It is
// assembled once per collection cycle and never modified afterwards.
type EnvironmentReading struct {
	// Unique identifier assigned at assembly
	ID string `json:"id"`

	// Station that collected the snapshot
	StationID string `json:"station_id"`

	// Temperature in °C
	Temperature float64 `json:"temperature"`

	// Rainfall in mm
	Rainfall float64 `json:"rainfall"`

	// Relative humidity in %
	Humidity int `json:"humidity"`

	// Air pollution index
	AirPollution int `json:"air_pollution"`

	// CO2 emissions in ppm
	CO2Emissions float64 `json:"co2_emissions"`

	// UTC instant the snapshot was assembled
	Timestamp time.Time `json:"timestamp"`
}

// NewReading assembles a snapshot from a value per metric. Every metric in
// Metrics must be present; integer metrics are rounded to whole numbers.
func NewReading(stationID string, values map[Metric]float64, ts time.Time) (EnvironmentReading, error) {
	for _, m := range Metrics {
		if _, ok := values[m]; !ok {
			return EnvironmentReading{}, fmt.Errorf("%w: %s", ErrMissingMetric, m)
		}
	}
	if ts.IsZero() {
		return EnvironmentReading{}, ErrZeroTimestamp
	}

	return EnvironmentReading{
		ID:           uuid.NewString(),
		StationID:    stationID,
		Temperature:  values[MetricTemperature],
		Rainfall:     values[MetricRainfall],
		Humidity:     int(math.Round(values[MetricHumidity])),
		AirPollution: int(math.Round(values[MetricAirPollution])),
		CO2Emissions: values[MetricCO2Emissions],
		Timestamp:    ts.UTC(),
	}, nil
}

// Value returns the recorded value of a metric.
func (r EnvironmentReading) Value(m Metric) (float64, error) {
	switch m {
	case MetricTemperature:
		return r.Temperature, nil
	case MetricRainfall:
		return r.Rainfall, nil
	case MetricHumidity:
		return float64(r.Humidity), nil
	case MetricAirPollution:
		return float64(r.AirPollution), nil
	case MetricCO2Emissions:
		return r.CO2Emissions, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, m)
	}
}

// Values returns every metric value keyed by metric.
func (r EnvironmentReading) Values() map[Metric]float64 {
	out := make(map[Metric]float64, len(Metrics))
	for _, m := range Metrics {
		v, _ := r.Value(m)
		out[m] = v
	}
	return out
}
