package provider

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/redisnotbluedev/llm-gateway/pkg/backoff"
	"github.com/redisnotbluedev/llm-gateway/pkg/circuitbreaker"
	"github.com/redisnotbluedev/llm-gateway/pkg/credential"
	"github.com/redisnotbluedev/llm-gateway/pkg/speedtracker"
)

// Instance is a ProviderInstance: a binding of
// (adapter, logical model, credential pool, priority) with health state.
type Instance struct {
	mu sync.Mutex

	Name     string
	Adapter  Adapter
	Priority int
	ModelIDs []string
	modelIdx int

	Pool *credential.Pool // nil is valid: adapter must accept a null credential

	enabled             bool
	consecutiveFailures int
	lastFailure         time.Time
	retryCount          int
	MaxRetries          int

	Breaker *circuitbreaker.CircuitBreaker
	Backoff *backoff.Backoff
	Speed   *speedtracker.Tracker

	log *logrus.Entry

	// Now is overridable for deterministic tests.
	Now func() time.Time
}

// NewInstance builds a ProviderInstance. modelIDs must be non-empty.
func NewInstance(name string, adapter Adapter, priority int, modelIDs []string, pool *credential.Pool, maxRetries int, log *logrus.Entry) *Instance {
	if len(modelIDs) == 0 {
		panic("provider.NewInstance: modelIDs must be non-empty")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Instance{
		Name:       name,
		Adapter:    adapter,
		Priority:   priority,
		ModelIDs:   modelIDs,
		Pool:       pool,
		enabled:    true,
		MaxRetries: maxRetries,
		Breaker:    circuitbreaker.New(circuitbreaker.DefaultConfig()),
		Backoff:    backoff.New(backoff.DefaultConfig()),
		Speed:      speedtracker.New(speedtracker.DefaultCapacity),
		log:        log.WithField("provider", name),
		Now:        time.Now,
	}
}

func (pi *Instance) now() time.Time {
	if pi.Now != nil {
		return pi.Now()
	}
	return time.Now()
}

// CurrentCredential returns pool.Select(0), or ("", false) when there is no pool.
func (pi *Instance) CurrentCredential() (credential.Key, bool) {
	if pi.Pool == nil {
		return "", false
	}
	return pi.Pool.Select(0)
}

// HasPool reports whether this instance rotates credentials at all, letting
// callers distinguish "no pool configured" (a null credential is valid)
// from "pool configured but currently has no eligible key".
func (pi *Instance) HasPool() bool {
	return pi.Pool != nil
}

// NextModelID round-robins over ModelIDs.
func (pi *Instance) NextModelID() string {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	id := pi.ModelIDs[pi.modelIdx%len(pi.ModelIDs)]
	pi.modelIdx++
	return id
}

// RecordResponse forwards a successful completion's stats to the speed
// tracker and, when the instance has a credential pool, to the selected
// key's usage accounting (including the empty null-credential slot).
func (pi *Instance) RecordResponse(duration time.Duration, inTokens, outTokens int, credits float64, ttft time.Duration, start time.Time, key credential.Key) {
	pi.Speed.Record(duration, outTokens, ttft, start)
	if pi.Pool != nil {
		pi.Pool.RecordUsage(key, inTokens, outTokens, credits)
	}
}

// MarkSuccess resets failure bookkeeping and records success on the breaker/backoff.
func (pi *Instance) MarkSuccess() {
	pi.mu.Lock()
	pi.consecutiveFailures = 0
	pi.enabled = true
	pi.mu.Unlock()

	pi.Breaker.RecordSuccess()
	pi.Backoff.Reset()
}

// MarkFailure increments the failure count, disabling the instance after 3
// consecutive failures, and records failure on the breaker.
func (pi *Instance) MarkFailure() {
	pi.mu.Lock()
	pi.consecutiveFailures++
	pi.lastFailure = pi.now()
	disabled := pi.consecutiveFailures >= 3
	if disabled {
		pi.enabled = false
	}
	n := pi.consecutiveFailures
	pi.mu.Unlock()

	pi.Breaker.RecordFailure()
	if disabled {
		pi.log.WithField("consecutive_failures", n).Warn("provider instance disabled after repeated failures")
	}
}

// MarkKeySuccess forwards success bookkeeping to the credential pool, if any.
func (pi *Instance) MarkKeySuccess(key credential.Key) {
	if pi.Pool != nil && key != "" {
		pi.Pool.MarkSuccess(key)
	}
}

// MarkKeyFailure forwards failure bookkeeping to the credential pool, if any.
func (pi *Instance) MarkKeyFailure(key credential.Key) {
	if pi.Pool != nil && key != "" {
		pi.Pool.MarkFailure(key)
	}
}

// ShouldAttempt reports whether the breaker allows a call and retries remain.
func (pi *Instance) ShouldAttempt() bool {
	pi.mu.Lock()
	retryCount, maxRetries := pi.retryCount, pi.MaxRetries
	pi.mu.Unlock()
	return pi.Breaker.CanAttempt() && retryCount < maxRetries
}

// ResetRetryCount zeroes the per-request retry counter, called once per
// ProviderInstance at the start of the dispatcher's outer loop iteration.
func (pi *Instance) ResetRetryCount() {
	pi.mu.Lock()
	pi.retryCount = 0
	pi.mu.Unlock()
}

// IncrementRetryCount bumps the per-request retry counter and records a backoff attempt.
func (pi *Instance) IncrementRetryCount() {
	pi.mu.Lock()
	pi.retryCount++
	pi.mu.Unlock()
	pi.Backoff.RecordAttempt()
}

// RetryCount returns the current per-request retry counter.
func (pi *Instance) RetryCount() int {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.retryCount
}

// Enabled reports the instance's enabled flag.
func (pi *Instance) Enabled() bool {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.enabled
}

// ConsecutiveFailures returns the current consecutive failure count.
func (pi *Instance) ConsecutiveFailures() int {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.consecutiveFailures
}

// RetryCooldownElapsed reports whether cooldownSeconds have elapsed since
// the last failure, or true if the instance never failed, matching
// original_source/src/models.py's should_retry.
func (pi *Instance) RetryCooldownElapsed(cooldownSeconds int) bool {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if pi.lastFailure.IsZero() {
		return true
	}
	return pi.now().Sub(pi.lastFailure) >= time.Duration(cooldownSeconds)*time.Second
}

// ReenableIfCooldownElapsed re-enables a disabled instance once its cooldown
// has elapsed, used by Model.AvailableCandidates.
func (pi *Instance) ReenableIfCooldownElapsed(cooldownSeconds int) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if !pi.enabled && pi.RetryCooldownElapsedLocked(cooldownSeconds) {
		pi.enabled = true
	}
}

// RetryCooldownElapsedLocked is RetryCooldownElapsed without acquiring the
// lock; callers must already hold pi.mu.
func (pi *Instance) RetryCooldownElapsedLocked(cooldownSeconds int) bool {
	if pi.lastFailure.IsZero() {
		return true
	}
	return pi.now().Sub(pi.lastFailure) >= time.Duration(cooldownSeconds)*time.Second
}

// HealthScore computes the 0-100 composite health score.
func (pi *Instance) HealthScore() int {
	if pi.Breaker.State() == circuitbreaker.StateOpen {
		return 0
	}

	score := 100.0

	if pi.Breaker.State() == circuitbreaker.StateHalfOpen {
		score -= 50
	}

	failures := pi.ConsecutiveFailures()
	penalty := float64(failures) * 10
	if penalty > 40 {
		penalty = 40
	}
	score -= penalty

	if tps := pi.Speed.Throughput(); tps > 0 {
		p := (50 - tps) / 50
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		score -= p * 30
	}

	if avgTTFT := pi.Speed.MeanTTFT(); avgTTFT > 0 {
		p := avgTTFT * 20
		if p > 20 {
			p = 20
		}
		score -= p
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score)
}

// Snapshot is the introspection shape for one ProviderInstance.
type Snapshot struct {
	Name                string                     `json:"name"`
	Priority            int                        `json:"priority"`
	Enabled             bool                       `json:"enabled"`
	ConsecutiveFailures int                        `json:"consecutive_failures"`
	HealthScore         int                        `json:"health_score"`
	CircuitBreaker      circuitbreaker.Snapshot    `json:"circuit_breaker"`
	Speed               speedtracker.Snapshot      `json:"speed"`
	Credentials         []credential.KeyUsageStat  `json:"credentials,omitempty"`
}

// RestoreHealth seeds failure bookkeeping and the circuit breaker from a
// persisted snapshot on startup. Rolling-window speed stats are never
// persisted, so Speed is left at its fresh-start zero value.
func (pi *Instance) RestoreHealth(consecutiveFailures int, lastFailure time.Time, breaker circuitbreaker.Snapshot) {
	pi.mu.Lock()
	pi.consecutiveFailures = consecutiveFailures
	pi.lastFailure = lastFailure
	pi.enabled = consecutiveFailures < 3
	pi.mu.Unlock()
	pi.Breaker.Restore(breaker)
}

// Snapshot returns introspection/persistence data for this instance.
func (pi *Instance) Snapshot() Snapshot {
	var creds []credential.KeyUsageStat
	if pi.Pool != nil {
		creds = pi.Pool.Snapshot()
	}
	return Snapshot{
		Name:                pi.Name,
		Priority:            pi.Priority,
		Enabled:             pi.Enabled(),
		ConsecutiveFailures: pi.ConsecutiveFailures(),
		HealthScore:         pi.HealthScore(),
		CircuitBreaker:      pi.Breaker.Snapshot(),
		Speed:               pi.Speed.Snapshot(),
		Credentials:         creds,
	}
}
