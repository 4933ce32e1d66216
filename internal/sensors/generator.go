package sensors

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"envmon/internal/config"
	"envmon/internal/metrics"
	"envmon/internal/models"
)

// Profile is the generation table row for one metric.
type Profile struct {
	Normal    models.Range
	Anomalous models.Range
}

// ProfilesFromConfig extracts generation ranges from the sensor table.
func ProfilesFromConfig(sensors map[models.Metric]config.SensorConfig) map[models.Metric]Profile {
	out := make(map[models.Metric]Profile, len(sensors))
	for m, row := range sensors {
		out[m] = Profile{Normal: row.Normal, Anomalous: row.Anomalous}
	}
	return out
}

// Generator synthesizes sensor values. Each call consults the cooldown
// tracker and draws from the anomalous range when the metric is eligible.
type Generator struct {
	profiles map[models.Metric]Profile
	cooldown *CooldownTracker
	now      func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// GeneratorOption is a functional option for configuring the generator
type GeneratorOption func(*Generator)

// WithSeed makes the random draws reproducible.
func WithSeed(seed uint64) GeneratorOption {
	return func(g *Generator) {
		g.rnd = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithClock overrides the time source used for cooldown checks.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) {
		g.now = now
	}
}

// NewGenerator validates every profile and returns a generator. A missing
// metric or an empty range is a configuration error.
func NewGenerator(profiles map[models.Metric]Profile, cooldown *CooldownTracker, opts ...GeneratorOption) (*Generator, error) {
	for _, m := range models.Metrics {
		p, ok := profiles[m]
		if !ok {
			return nil, fmt.Errorf("sensor %s: no generation profile", m)
		}
		if err := p.Normal.Validate(); err != nil {
			return nil, fmt.Errorf("sensor %s normal range: %w", m, err)
		}
		if err := p.Anomalous.Validate(); err != nil {
			return nil, fmt.Errorf("sensor %s anomalous range: %w", m, err)
		}
	}
	if cooldown == nil {
		cooldown = NewCooldownTracker(DefaultCooldown)
	}

	g := &Generator{
		profiles: profiles,
		cooldown: cooldown,
		now:      time.Now,
		rnd:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate returns one synthetic value for metric.
func (g *Generator) Generate(metric models.Metric) (float64, error) {
	p, ok := g.profiles[metric]
	if !ok {
		return 0, fmt.Errorf("%w: %q", models.ErrUnknownMetric, metric)
	}

	r, label := p.Normal, "normal"
	if g.cooldown.Eligible(metric, g.now()) {
		r, label = p.Anomalous, "anomalous"
	}

	v := g.draw(r)
	metrics.ReadingsGenerated.WithLabelValues(string(metric), label).Inc()
	return v, nil
}

// draw picks a uniform value from r.
func (g *Generator) draw(r models.Range) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r.Integer {
		lo, hi := r.IntBounds()
		return float64(lo + g.rnd.IntN(hi-lo+1))
	}
	if r.Max == r.Min {
		return r.Min
	}
	return r.Min + g.rnd.Float64()*(r.Max-r.Min)
}

// Cooldown returns the tracker the generator consults.
func (g *Generator) Cooldown() *CooldownTracker {
	return g.cooldown
}
