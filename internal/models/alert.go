package models

import (
	"fmt"
	"time"
)

// AlertEvent reports one metric outside its safe limits in one snapshot.
type AlertEvent struct {
	Metric     Metric    `json:"metric"`
	Value      float64   `json:"value"`
	Limits     Limits    `json:"limits"`
	DetectedAt time.Time `json:"detected_at"`
}

func (a AlertEvent) String() string {
	return fmt.Sprintf("%s threshold crossed: %g outside [%g, %g]", a.Metric, a.Value, a.Limits.Low, a.Limits.High)
}
