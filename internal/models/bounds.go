package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrEmptyRange is returned when a generation range contains no values.
var ErrEmptyRange = errors.New("empty range")

// Range is a numeric interval values are drawn from. Min is always included;
// Max is included only when MaxInclusive is set. Integer ranges yield whole numbers.
type Range struct {
	Min          float64 `yaml:"min" json:"min"`
	Max          float64 `yaml:"max" json:"max"`
	Integer      bool    `yaml:"integer" json:"integer"`
	MaxInclusive bool    `yaml:"max_inclusive" json:"max_inclusive"`
}

// Validate rejects ranges that cannot produce a value.
func (r Range) Validate() error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
		return fmt.Errorf("%w: bounds must be finite", ErrEmptyRange)
	}
	if r.Integer {
		lo, hi := r.IntBounds()
		if hi < lo {
			return fmt.Errorf("%w: no integer in %s", ErrEmptyRange, r)
		}
		return nil
	}
	if r.Max < r.Min || (r.Max == r.Min && !r.MaxInclusive) {
		return fmt.Errorf("%w: %s", ErrEmptyRange, r)
	}
	return nil
}

// IntBounds returns the smallest and largest whole numbers the range admits.
func (r Range) IntBounds() (lo, hi int) {
	lo = int(math.Ceil(r.Min))
	hi = int(math.Floor(r.Max))
	if !r.MaxInclusive && float64(hi) == r.Max {
		hi--
	}
	return lo, hi
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	if v < r.Min {
		return false
	}
	if r.MaxInclusive {
		return v <= r.Max
	}
	return v < r.Max
}

func (r Range) String() string {
	closing := ")"
	if r.MaxInclusive {
		closing = "]"
	}
	return fmt.Sprintf("[%g, %g%s", r.Min, r.Max, closing)
}

// Limits is the safe operating band of a metric. A value strictly below Low or
// strictly above High is a threshold violation. Use ±Inf for an open side.
type Limits struct {
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
}

// Below returns limits that only bound the upper side.
func Below(high float64) Limits {
	return Limits{Low: math.Inf(-1), High: high}
}

// Between returns limits bounding both sides.
func Between(low, high float64) Limits {
	return Limits{Low: low, High: high}
}

// Violated reports whether v falls outside the limits.
func (l Limits) Violated(v float64) bool {
	return v < l.Low || v > l.High
}

// Validate rejects inverted limits.
func (l Limits) Validate() error {
	if math.IsNaN(l.Low) || math.IsNaN(l.High) {
		return errors.New("limits must not be NaN")
	}
	if l.Low > l.High {
		return fmt.Errorf("low limit %g above high limit %g", l.Low, l.High)
	}
	return nil
}

// MarshalJSON encodes an open side as null, since JSON has no infinity.
func (l Limits) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Low  *float64 `json:"low"`
		High *float64 `json:"high"`
	}{finite(l.Low), finite(l.High)})
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) {
		return nil
	}
	return &v
}
