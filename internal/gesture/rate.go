// Package gesture turns raw touch-style input into narration intents: a
// vertical drag adjusts the reading rate, taps become single or double taps.
package gesture

import (
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limits and tuning.
const (
	MinRate            = 0.5
	DefaultMaxRate     = 10.0
	DefaultSensitivity = 150.0
	DefaultThrottle    = 100 * time.Millisecond
	DefaultDeadband    = 0.1
)

// PresetRates are offered for discrete speed selection.
var PresetRates = []float64{0.5, 0.8, 1.0, 1.5, 2.0, 3.0}

// Persister stores committed rates.
type Persister interface {
	SaveRate(rate float64)
}

// RateConfig tunes a RateController.
type RateConfig struct {
	// Sensitivity is the drag distance for a 1.0 change in rate. Larger is
	// less sensitive.
	Sensitivity float64       `mapstructure:"sensitivity" yaml:"sensitivity"`
	Throttle    time.Duration `mapstructure:"throttle" yaml:"throttle"`
	Deadband    float64       `mapstructure:"deadband" yaml:"deadband"`
}

// DefaultRateConfig returns the stock tuning.
func DefaultRateConfig() RateConfig {
	return RateConfig{
		Sensitivity: DefaultSensitivity,
		Throttle:    DefaultThrottle,
		Deadband:    DefaultDeadband,
	}
}

// Validate checks the tuning values.
func (c RateConfig) Validate() error {
	if c.Sensitivity <= 0 {
		return fmt.Errorf("gesture sensitivity must be positive, got %v", c.Sensitivity)
	}
	if c.Throttle < 0 {
		return fmt.Errorf("gesture throttle must not be negative, got %s", c.Throttle)
	}
	if c.Deadband < 0 {
		return fmt.Errorf("gesture deadband must not be negative, got %v", c.Deadband)
	}
	return nil
}

// RateController maps drag deltas onto a clamped reading rate. Deltas that
// arrive within the throttle window of the last committed change are
// dropped; changes inside the deadband are absorbed.
type RateController struct {
	mu       sync.Mutex
	cfg      RateConfig
	rate     float64
	maxRate  float64
	limiter  *rate.Limiter
	now      func() time.Time
	persist  Persister
	onChange func(rate float64, explicit bool)
}

// RateOption configures a RateController.
type RateOption func(*RateController)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) RateOption {
	return func(c *RateController) { c.now = now }
}

// WithPersister sets where committed rates are saved.
func WithPersister(p Persister) RateOption {
	return func(c *RateController) { c.persist = p }
}

// OnChange registers a callback fired on every committed rate.
func OnChange(fn func(rate float64, explicit bool)) RateOption {
	return func(c *RateController) { c.onChange = fn }
}

// NewRateController starts at initial, clamped to [MinRate, DefaultMaxRate].
func NewRateController(cfg RateConfig, initial float64, opts ...RateOption) *RateController {
	if cfg.Sensitivity <= 0 {
		cfg.Sensitivity = DefaultSensitivity
	}
	c := &RateController{
		cfg:     cfg,
		maxRate: DefaultMaxRate,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.limiter = newLimiter(cfg.Throttle)
	c.rate = c.clamp(initial)
	return c
}

// newLimiter returns nil when throttling is disabled.
func newLimiter(throttle time.Duration) *rate.Limiter {
	if throttle <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(throttle), 1)
}

// Rate returns the last committed rate.
func (c *RateController) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// MaxRate returns the current upper bound.
func (c *RateController) MaxRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxRate
}

// SetMaxRate updates the upper bound, usually from the speech engine's
// capability query, and re-clamps the current rate. It reports the
// resulting rate.
func (c *RateController) SetMaxRate(limit float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit < MinRate || math.IsNaN(limit) {
		limit = MinRate
	}
	c.maxRate = limit
	c.rate = c.clamp(c.rate)
	return c.rate
}

// DragDelta feeds one movement of an active drag. Negative dy (upward)
// speeds up. Every committed rate is persisted. It reports the committed
// rate and whether it changed.
func (c *RateController) DragDelta(dy float64) (float64, bool) {
	c.mu.Lock()
	now := c.now()
	if c.limiter != nil && c.limiter.TokensAt(now) < 1 {
		r := c.rate
		c.mu.Unlock()
		return r, false
	}

	candidate := c.clamp(c.rate - dy/c.cfg.Sensitivity)
	if math.Abs(candidate-c.rate) <= c.cfg.Deadband {
		r := c.rate
		c.mu.Unlock()
		return r, false
	}

	if c.limiter != nil {
		c.limiter.AllowN(now, 1)
	}
	c.rate = candidate
	p, fn := c.persist, c.onChange
	c.mu.Unlock()

	if p != nil {
		p.SaveRate(candidate)
	}
	if fn != nil {
		fn(candidate, false)
	}
	return candidate, true
}

// DragEnd persists the committed rate again, whether or not the drag
// changed it.
func (c *RateController) DragEnd() float64 {
	c.mu.Lock()
	r := c.rate
	p := c.persist
	c.mu.Unlock()

	if p != nil {
		p.SaveRate(r)
	}
	return r
}

// SetRate commits an explicit rate, bypassing throttle and deadband, and
// persists it immediately. It returns the clamped rate.
func (c *RateController) SetRate(r float64) float64 {
	c.mu.Lock()
	r = c.clamp(r)
	c.rate = r
	if c.limiter != nil {
		c.limiter.AllowN(c.now(), 1)
	}
	p, fn := c.persist, c.onChange
	c.mu.Unlock()

	if p != nil {
		p.SaveRate(r)
	}
	if fn != nil {
		fn(r, true)
	}
	return r
}

// clamp must be called with the lock held.
func (c *RateController) clamp(r float64) float64 {
	if math.IsNaN(r) {
		return MinRate
	}
	return math.Max(MinRate, math.Min(c.maxRate, r))
}

// Preset returns PresetRates[i] clamped to limit, and false when i is out of
// range.
func Preset(i int, limit float64) (float64, bool) {
	if i < 0 || i >= len(PresetRates) {
		return 0, false
	}
	return math.Max(MinRate, math.Min(limit, PresetRates[i])), true
}
