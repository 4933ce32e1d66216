package alerts

import (
	"bytes"
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"envmon/internal/config"
	"envmon/internal/models"
)

func newEvaluator() *Evaluator {
	return NewEvaluator(config.Default().Limits())
}

func reading(t *testing.T, temp, rain, humidity, air, co2 float64) models.EnvironmentReading {
	t.Helper()
	r, err := models.NewReading("test", map[models.Metric]float64{
		models.MetricTemperature:  temp,
		models.MetricRainfall:     rain,
		models.MetricHumidity:     humidity,
		models.MetricAirPollution: air,
		models.MetricCO2Emissions: co2,
	}, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewReading: %v", err)
	}
	return r
}

func metricsOf(events []models.AlertEvent) []models.Metric {
	out := make([]models.Metric, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Metric)
	}
	return out
}

func TestEvaluate_Temperature(t *testing.T) {
	e := newEvaluator()

	events := e.Evaluate(reading(t, -15, 20, 50, 5, 30))
	if len(events) != 1 || events[0].Metric != models.MetricTemperature || events[0].Value != -15 {
		t.Errorf("expected one temperature alert for -15, got %+v", events)
	}

	if events := e.Evaluate(reading(t, 25, 20, 50, 5, 30)); len(events) != 0 {
		t.Errorf("expected no alerts for 25, got %+v", events)
	}
}

func TestEvaluate_Rules(t *testing.T) {
	tests := []struct {
		name   string
		values [5]float64
		want   []models.Metric
	}{
		{"all nominal", [5]float64{20, 10, 50, 5, 50}, nil},
		{"cold", [5]float64{-9.5, 10, 50, 5, 50}, []models.Metric{models.MetricTemperature}},
		{"temperature at low limit", [5]float64{-9, 10, 50, 5, 50}, nil},
		{"hot", [5]float64{30.1, 10, 50, 5, 50}, []models.Metric{models.MetricTemperature}},
		{"temperature at high limit", [5]float64{30, 10, 50, 5, 50}, nil},
		{"heavy rain", [5]float64{20, 33, 50, 5, 50}, []models.Metric{models.MetricRainfall}},
		{"rain at limit", [5]float64{20, 32, 50, 5, 50}, nil},
		{"humidity 0", [5]float64{20, 10, 0, 5, 50}, nil},
		{"humidity 100", [5]float64{20, 10, 100, 5, 50}, nil},
		{"humidity -1", [5]float64{20, 10, -1, 5, 50}, []models.Metric{models.MetricHumidity}},
		{"humidity 101", [5]float64{20, 10, 101, 5, 50}, []models.Metric{models.MetricHumidity}},
		{"air pollution 0", [5]float64{20, 10, 50, 0, 50}, []models.Metric{models.MetricAirPollution}},
		{"air pollution 10", [5]float64{20, 10, 50, 10, 50}, []models.Metric{models.MetricAirPollution}},
		{"air pollution 9", [5]float64{20, 10, 50, 9, 50}, nil},
		{"co2 0.5", [5]float64{20, 10, 50, 5, 0.5}, []models.Metric{models.MetricCO2Emissions}},
		{"co2 150", [5]float64{20, 10, 50, 5, 150}, []models.Metric{models.MetricCO2Emissions}},
		{"everything", [5]float64{-50, 90, 140, -3, 180}, models.Metrics},
	}

	e := newEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.values
			got := metricsOf(e.Evaluate(reading(t, v[0], v[1], v[2], v[3], v[4])))
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvaluate_IsPure(t *testing.T) {
	e := newEvaluator()
	r := reading(t, -40, 50, 120, 12, 150)

	first := e.Evaluate(r)
	second := e.Evaluate(r)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("evaluate is not deterministic:\n%+v\n%+v", first, second)
	}
	for _, ev := range first {
		if !ev.DetectedAt.Equal(r.Timestamp) {
			t.Errorf("expected detection time %v, got %v", r.Timestamp, ev.DetectedAt)
		}
	}
}

func TestEvaluate_FullCycleScenario(t *testing.T) {
	events := newEvaluator().Evaluate(reading(t, -10, 20, 50, 5, 30))

	if len(events) != 1 {
		t.Fatalf("expected exactly one alert, got %+v", events)
	}
	if events[0].Metric != models.MetricTemperature || events[0].Value != -10 {
		t.Errorf("unexpected alert %+v", events[0])
	}
}

func TestEvaluate_MetricWithoutLimits(t *testing.T) {
	e := NewEvaluator(map[models.Metric]models.Limits{
		models.MetricRainfall: models.Below(32),
	})

	got := metricsOf(e.Evaluate(reading(t, -100, 40, 500, -5, 999)))
	if !reflect.DeepEqual(got, []models.Metric{models.MetricRainfall}) {
		t.Errorf("expected only rainfall, got %v", got)
	}
	if _, ok := e.Limits(models.MetricTemperature); ok {
		t.Error("expected no temperature limits")
	}
}

func TestLogSink_Report(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSinkWith(zerolog.New(&buf))

	events := newEvaluator().Evaluate(reading(t, -10, 40, 50, 5, 30))
	if err := sink.Report(context.Background(), events); err != nil {
		t.Fatalf("Report: %v", err)
	}

	out := buf.String()
	if strings.Count(out, "\n") != 2 {
		t.Errorf("expected two log lines, got %q", out)
	}
	if !strings.Contains(out, `"metric":"Temperature"`) || !strings.Contains(out, `"metric":"Rainfall"`) {
		t.Errorf("missing metric fields in %q", out)
	}
}

func TestSinkFunc(t *testing.T) {
	var got int
	sink := SinkFunc(func(_ context.Context, events []models.AlertEvent) error {
		got = len(events)
		return nil
	})

	_ = sink.Report(context.Background(), make([]models.AlertEvent, 3))
	if got != 3 {
		t.Errorf("expected 3 events, got %d", got)
	}
}
