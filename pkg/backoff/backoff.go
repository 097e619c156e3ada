// Package backoff implements the monotonic-attempt exponential backoff
// used by a ProviderInstance between retries.
package backoff

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Config parameterizes an ExponentialBackoff.
type Config struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     float64 // fraction in [0,1]
}

// DefaultConfig returns sane defaults: 500ms base, x2 multiplier, 30s cap, 20% jitter.
func DefaultConfig() Config {
	return Config{
		Base:       500 * time.Millisecond,
		Multiplier: 2.0,
		Max:        30 * time.Second,
		Jitter:     0.2,
	}
}

// Backoff is a monotonic attempt counter yielding a bounded exponential delay.
type Backoff struct {
	mu      sync.Mutex
	cfg     Config
	attempt int
	rng     *rand.Rand
}

// New creates a Backoff with the given configuration.
func New(cfg Config) *Backoff {
	return &Backoff{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GetDelay returns min(base*multiplier^attempt, max) scaled by a uniform
// jitter factor in [1-jitter, 1+jitter].
func (b *Backoff) GetDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw := float64(b.cfg.Base) * math.Pow(b.cfg.Multiplier, float64(b.attempt))
	if maxF := float64(b.cfg.Max); raw > maxF {
		raw = maxF
	}
	if raw < 0 {
		raw = 0
	}

	jitterFactor := 1.0
	if b.cfg.Jitter > 0 {
		jitterFactor = 1.0 - b.cfg.Jitter + b.rng.Float64()*2*b.cfg.Jitter
	}

	delay := time.Duration(raw * jitterFactor)
	if delay < 0 {
		delay = 0
	}
	return delay
}

// RecordAttempt increments the attempt counter.
func (b *Backoff) RecordAttempt() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt++
}

// Reset zeroes the attempt counter, called on success.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}

// Attempt returns the current attempt count, mostly for tests/introspection.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}
