package models

import (
	"errors"
	"strings"
)

// Metric identifies one of the environmental quantities a station measures.
type Metric string

const (
	MetricTemperature  Metric = "Temperature"
	MetricRainfall     Metric = "Rainfall"
	MetricHumidity     Metric = "Humidity"
	MetricAirPollution Metric = "AirPollution"
	MetricCO2Emissions Metric = "CO2Emissions"
)

// Metrics lists every metric in snapshot order.
var Metrics = []Metric{
	MetricTemperature,
	MetricRainfall,
	MetricHumidity,
	MetricAirPollution,
	MetricCO2Emissions,
}

var slugReplacer = strings.NewReplacer("-", "", "_", "")

// ErrUnknownMetric is returned for identifiers outside the fixed metric set.
var ErrUnknownMetric = errors.New("unknown metric")

// IsValid checks if the metric is one of the fixed identifiers
func (m Metric) IsValid() bool {
	switch m {
	case MetricTemperature, MetricRainfall, MetricHumidity, MetricAirPollution, MetricCO2Emissions:
		return true
	default:
		return false
	}
}

// IsInteger reports whether the metric is recorded as a whole number.
func (m Metric) IsInteger() bool {
	return m == MetricHumidity || m == MetricAirPollution
}

// ParseMetric resolves a metric identifier case-insensitively, ignoring '-' and
// '_' separators, so "co2-emissions", "co2_emissions" and "CO2Emissions" name
// the same metric.
func ParseMetric(s string) (Metric, error) {
	s = slugReplacer.Replace(strings.TrimSpace(s))
	if s == "" {
		return "", ErrUnknownMetric
	}
	for _, m := range Metrics {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}
	return "", ErrUnknownMetric
}
