// Package credential implements CredentialPool: an ordered set of API
// credentials for one provider instance, round-robin selected and
// filtered by rate-limit, cooldown, and credit-balance state.
package credential

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/redisnotbluedev/llm-gateway/pkg/ratelimit"
)

// Key is an opaque credential handle. The gateway never logs its value; a
// short fingerprint is derived for structured logging instead.
type Key string

// Fingerprint returns a short, non-reversible-looking tag safe for logs.
func (k Key) Fingerprint() string {
	s := string(k)
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

type keyState struct {
	consecutiveFailures int
	disabledUntil       time.Time // zero value means active
}

func (s keyState) active(now time.Time) bool {
	return s.disabledUntil.IsZero() || now.After(s.disabledUntil) || now.Equal(s.disabledUntil)
}

// Pool is a CredentialPool. Every public method acquires mu, making
// operations on a single Pool linearizable under concurrent callers.
type Pool struct {
	mu              sync.Mutex
	keys            []Key
	cursor          int
	states          map[Key]*keyState
	limiters        map[Key]*ratelimit.Tracker
	cooldownSeconds int
	log             *logrus.Entry

	// Now is overridable for deterministic tests.
	Now func() time.Time
}

// New builds a Pool over keys, each backed by the given (possibly shared)
// RateLimitTracker. limiters must contain an entry for every key.
func New(keys []Key, limiters map[Key]*ratelimit.Tracker, cooldownSeconds int, log *logrus.Entry) *Pool {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	states := make(map[Key]*keyState, len(keys))
	for _, k := range keys {
		states[k] = &keyState{}
	}
	return &Pool{
		keys:            keys,
		states:          states,
		limiters:        limiters,
		cooldownSeconds: cooldownSeconds,
		log:             log,
		Now:             time.Now,
	}
}

func (p *Pool) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Len returns the number of keys in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// clearExpiredCooldowns clears disabledUntil for any key whose cooldown has
// elapsed and resets its consecutive-failure count.
func (p *Pool) clearExpiredCooldowns(now time.Time) {
	for _, k := range p.keys {
		st := p.states[k]
		if !st.disabledUntil.IsZero() && !now.Before(st.disabledUntil) {
			st.disabledUntil = time.Time{}
			st.consecutiveFailures = 0
		}
	}
}

// Select runs the round-robin credential selection algorithm.
// requiredCredits of 0 disables the credit-sufficiency filter.
func (p *Pool) Select(requiredCredits float64) (Key, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return "", false
	}

	now := p.now()
	p.clearExpiredCooldowns(now)

	eligible := make(map[Key]bool, len(p.keys))
	for _, k := range p.keys {
		st := p.states[k]
		if !st.active(now) {
			continue
		}
		limiter := p.limiters[k]
		if limiter != nil && limiter.IsLimited() {
			continue
		}
		if requiredCredits > 0 && limiter != nil && !limiter.HasSufficientCredits(requiredCredits) {
			continue
		}
		eligible[k] = true
	}

	if len(eligible) == 0 {
		// Emergency unblock: pick the key with the oldest disabledUntil and
		// clear it, treating it as the sole eligible key. Best-effort — the
		// subsequent call is expected to fail fast if truly down.
		var oldestKey Key
		var oldest time.Time
		found := false
		for _, k := range p.keys {
			st := p.states[k]
			if !found || (!st.disabledUntil.IsZero() && st.disabledUntil.Before(oldest)) {
				oldestKey = k
				oldest = st.disabledUntil
				found = true
			}
		}
		if !found {
			return "", false
		}
		p.states[oldestKey].disabledUntil = time.Time{}
		p.log.WithFields(logrus.Fields{
			"key": oldestKey.Fingerprint(),
		}).Warn("credential pool emergency unblock: no eligible keys, clearing oldest cooldown")
		return oldestKey, true
	}

	n := len(p.keys)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		k := p.keys[idx]
		if eligible[k] {
			p.cursor = (idx + 1) % n
			return k, true
		}
	}
	// Defensive: should be unreachable since eligible is non-empty and a
	// subset of p.keys.
	return "", false
}

// MarkSuccess clears failure/cooldown state for k.
func (p *Pool) MarkSuccess(k Key) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[k]
	if !ok {
		return
	}
	st.consecutiveFailures = 0
	st.disabledUntil = time.Time{}
}

// MarkFailure increments k's failure count and puts it in cooldown.
func (p *Pool) MarkFailure(k Key) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[k]
	if !ok {
		return
	}
	st.consecutiveFailures++
	st.disabledUntil = p.now().Add(time.Duration(p.cooldownSeconds) * time.Second)
	p.log.WithFields(logrus.Fields{
		"key":                  k.Fingerprint(),
		"consecutive_failures": st.consecutiveFailures,
		"cooldown_seconds":     p.cooldownSeconds,
	}).Warn("credential pool key failed, entering cooldown")
}

// RecordUsage forwards accounting to k's RateLimitTracker. creditsParam is
// used verbatim only when the tracker has no configured credit-cost rate;
// whatever credit amount the tracker actually computes is then spent
// against its credit-balance model, if one is configured.
//
// The dispatcher calls this with creditsParam=0, relying entirely on the
// per-key RateLimitTracker's configured rates to derive the real cost — see
// DESIGN.md for why a literal zero argument here does not mean "never
// charge credits".
func (p *Pool) RecordUsage(k Key, inTokens, outTokens int, creditsParam float64) {
	p.mu.Lock()
	limiter := p.limiters[k]
	p.mu.Unlock()
	if limiter == nil {
		return
	}
	spent := limiter.Record(1, inTokens, outTokens, creditsParam)
	if spent > 0 {
		limiter.Spend(spent)
	}
}

// KeyUsageStat is the introspection shape for one credential's state.
type KeyUsageStat struct {
	Fingerprint         string                                      `json:"fingerprint"`
	ConsecutiveFailures int                                         `json:"consecutive_failures"`
	InCooldown          bool                                        `json:"in_cooldown"`
	Usage               map[ratelimit.LimitKey]ratelimit.UsageStat `json:"usage"`
}

// Snapshot returns per-key introspection data.
func (p *Pool) Snapshot() []KeyUsageStat {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]KeyUsageStat, 0, len(p.keys))
	for _, k := range p.keys {
		st := p.states[k]
		var usage map[ratelimit.LimitKey]ratelimit.UsageStat
		if limiter := p.limiters[k]; limiter != nil {
			usage = limiter.UsageStats()
		}
		out = append(out, KeyUsageStat{
			Fingerprint:         k.Fingerprint(),
			ConsecutiveFailures: st.consecutiveFailures,
			InCooldown:          !st.active(now),
			Usage:               usage,
		})
	}
	return out
}
