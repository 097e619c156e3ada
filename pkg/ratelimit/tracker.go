// Package ratelimit implements RateLimitTracker: per-credential usage
// accounting over calendar windows, with an optional credit-balance model
// layered on top.
package ratelimit

import (
	"sync"
	"time"
)

// Config parameterizes a Tracker. Limits and credit periods are both
// optional and sparse: only configured entries are tracked.
type Config struct {
	Limits map[LimitKey]float64

	TokenMultiplier    float64
	InTokenMultiplier  float64
	OutTokenMultiplier float64
	RequestMultiplier  float64

	CreditsPerToken            float64
	CreditsPerMillionTokens    float64
	CreditsPerInToken          float64
	CreditsPerOutToken         float64
	CreditsPerMillionInTokens  float64
	CreditsPerMillionOutTokens float64
	CreditsPerRequest          float64

	CreditGainPerPeriod map[Period]float64
	CreditMaxPerPeriod  map[Period]float64
}

// periodState is the lazily-initialized per-period accumulator plus its
// optional credit balance.
type periodState struct {
	accum     map[UsageType]float64
	nextReset time.Time

	hasCredit bool
	balance   float64
}

// UsageStat is one entry of usage_stats(): (used, limit) for a configured LimitKey.
type UsageStat struct {
	Used  float64
	Limit float64
}

// Tracker is a RateLimitTracker.
type Tracker struct {
	mu      sync.Mutex
	cfg     Config
	periods map[Period]*periodState

	// Now is overridable for deterministic calendar-boundary tests.
	Now func() time.Time
}

// New creates a Tracker from cfg, defaulting all multipliers to 1 when unset (zero).
func New(cfg Config) *Tracker {
	if cfg.TokenMultiplier == 0 {
		cfg.TokenMultiplier = 1
	}
	if cfg.InTokenMultiplier == 0 {
		cfg.InTokenMultiplier = cfg.TokenMultiplier
	}
	if cfg.OutTokenMultiplier == 0 {
		cfg.OutTokenMultiplier = cfg.TokenMultiplier
	}
	if cfg.RequestMultiplier == 0 {
		cfg.RequestMultiplier = 1
	}
	if cfg.Limits == nil {
		cfg.Limits = make(map[LimitKey]float64)
	}
	return &Tracker{
		cfg:     cfg,
		periods: make(map[Period]*periodState),
		Now:     time.Now,
	}
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// rolloverLocked lazily creates, or rolls over, the accumulator for period p.
// Must be called with t.mu held.
func (t *Tracker) rolloverLocked(now time.Time, p Period) *periodState {
	ps, ok := t.periods[p]
	if !ok {
		ps = &periodState{
			accum:     make(map[UsageType]float64),
			nextReset: nextBoundary(now, p),
		}
		if gain, hasGain := t.cfg.CreditGainPerPeriod[p]; hasGain {
			ps.hasCredit = true
			if max, ok := t.cfg.CreditMaxPerPeriod[p]; ok {
				ps.balance = max
			} else {
				ps.balance = gain
			}
		}
		t.periods[p] = ps
		return ps
	}

	if !now.Before(ps.nextReset) {
		ps.accum = make(map[UsageType]float64)
		ps.nextReset = nextBoundary(now, p)
		if ps.hasCredit {
			if max, ok := t.cfg.CreditMaxPerPeriod[p]; ok {
				ps.balance = max
			} else {
				ps.balance = t.cfg.CreditGainPerPeriod[p]
			}
		}
	}
	return ps
}

// activePeriods returns the set of periods referenced by any configured limit.
func (t *Tracker) activePeriods() map[Period]bool {
	set := make(map[Period]bool)
	for k := range t.cfg.Limits {
		set[k.Period] = true
	}
	return set
}

func (t *Tracker) creditCost(requestMultiplier float64, inTokens, outTokens int, creditsParam float64) float64 {
	c := t.cfg
	switch {
	case c.CreditsPerToken > 0:
		return c.CreditsPerToken * float64(inTokens+outTokens)
	case c.CreditsPerMillionTokens > 0:
		return c.CreditsPerMillionTokens * float64(inTokens+outTokens) / 1e6
	case c.CreditsPerInToken > 0 || c.CreditsPerOutToken > 0:
		return c.CreditsPerInToken*float64(inTokens) + c.CreditsPerOutToken*float64(outTokens)
	case c.CreditsPerMillionInTokens > 0 || c.CreditsPerMillionOutTokens > 0:
		return c.CreditsPerMillionInTokens*float64(inTokens)/1e6 + c.CreditsPerMillionOutTokens*float64(outTokens)/1e6
	case c.CreditsPerRequest > 0:
		return c.CreditsPerRequest * requestMultiplier
	default:
		return creditsParam
	}
}

// Record applies one usage event: requestMultiplier is the caller-supplied
// per-call request weight (pass 1 for a normal request), in/out tokens are
// raw counts, and creditsParam is used verbatim when no credit-cost rate is
// configured. It returns the computed credit cost so the caller
// (CredentialPool.RecordUsage) can debit the credit-balance model with the
// actual amount rather than a caller-guessed figure.
func (t *Tracker) Record(requestMultiplier float64, inTokens, outTokens int, creditsParam float64) float64 {
	if requestMultiplier == 0 {
		requestMultiplier = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	countedRequest := requestMultiplier * t.cfg.RequestMultiplier
	countedIn := float64(inTokens) * t.cfg.InTokenMultiplier
	countedOut := float64(outTokens) * t.cfg.OutTokenMultiplier
	countedTotal := countedIn + countedOut
	credits := t.creditCost(requestMultiplier, inTokens, outTokens, creditsParam)

	for p := range t.activePeriods() {
		ps := t.rolloverLocked(now, p)
		ps.accum[UsageRequests] += countedRequest
		ps.accum[UsageTokens] += countedTotal
		ps.accum[UsageInTokens] += countedIn
		ps.accum[UsageOutTokens] += countedOut
		ps.accum[UsageCredits] += credits
	}

	// Token-count fallback: caller passed only total tokens (outTokens==0,
	// inTokens carries the total) is handled by the caller; Record stores
	// whatever split it is given, zero if absent.

	return credits
}

// IsLimited reports whether any configured limit is currently exceeded.
func (t *Tracker) IsLimited() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for k, bound := range t.cfg.Limits {
		ps := t.rolloverLocked(now, k.Period)
		if ps.accum[k.Type] >= bound {
			return true
		}
	}
	return false
}

// UsageStats returns (used, limit) for every configured limit key.
func (t *Tracker) UsageStats() map[LimitKey]UsageStat {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make(map[LimitKey]UsageStat, len(t.cfg.Limits))
	for k, bound := range t.cfg.Limits {
		ps := t.rolloverLocked(now, k.Period)
		out[k] = UsageStat{Used: ps.accum[k.Type], Limit: bound}
	}
	return out
}

// TimeUntilAvailable returns the minimum time until a currently-limited
// period rolls over, or 0 if nothing is limited. The calendar boundary is
// always the correct answer, never a rolling window.
func (t *Tracker) TimeUntilAvailable() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var min time.Duration = -1
	for k, bound := range t.cfg.Limits {
		ps := t.rolloverLocked(now, k.Period)
		if ps.accum[k.Type] >= bound {
			d := ps.nextReset.Sub(now)
			if min < 0 || d < min {
				min = d
			}
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// HasSufficientCredits reports whether, for every period with a configured
// credit gain, the balance covers required. Trackers with no credit model
// configured always have sufficient credits.
func (t *Tracker) HasSufficientCredits(required float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for p := range t.cfg.CreditGainPerPeriod {
		ps := t.rolloverLocked(now, p)
		if ps.balance < required {
			return false
		}
	}
	// No credit model configured, or every configured period has enough.
	return true
}

// Spend subtracts amount from every credit-enabled period's balance, floored at 0.
func (t *Tracker) Spend(amount float64) {
	if amount <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for p := range t.cfg.CreditGainPerPeriod {
		ps := t.rolloverLocked(now, p)
		ps.balance -= amount
		if ps.balance < 0 {
			ps.balance = 0
		}
	}
}

// BalanceSnapshot reports the current balance for every credit-enabled period.
func (t *Tracker) BalanceSnapshot() map[Period]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make(map[Period]float64, len(t.cfg.CreditGainPerPeriod))
	for p := range t.cfg.CreditGainPerPeriod {
		ps := t.rolloverLocked(now, p)
		out[p] = ps.balance
	}
	return out
}
