package sensors

import (
	"sync"
	"time"

	"envmon/internal/models"
)

// DefaultCooldown is the minimum time between two anomalous draws for a metric.
const DefaultCooldown = 2 * time.Minute

// CooldownTracker remembers, per metric, when an anomalous value was last
// allowed. It paces synthetic anomalies; it does not deduplicate alerts.
type CooldownTracker struct {
	window time.Duration

	mu   sync.Mutex
	last map[models.Metric]time.Time
}

// NewCooldownTracker creates a tracker with the given window.
func NewCooldownTracker(window time.Duration) *CooldownTracker {
	if window <= 0 {
		window = DefaultCooldown
	}
	return &CooldownTracker{
		window: window,
		last:   make(map[models.Metric]time.Time, len(models.Metrics)),
	}
}

// Eligible reports whether metric may produce an anomalous value at now. A
// true result records now as the metric's last anomaly, so checking and
// resetting the timer are one step.
func (c *CooldownTracker) Eligible(metric models.Metric, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.last[metric]; ok && now.Sub(last) < c.window {
		return false
	}
	c.last[metric] = now
	return true
}

// LastAnomaly returns when metric was last allowed an anomalous value.
func (c *CooldownTracker) LastAnomaly(metric models.Metric) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.last[metric]
	return t, ok
}

// Window returns the cooldown window.
func (c *CooldownTracker) Window() time.Duration {
	return c.window
}
