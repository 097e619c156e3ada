package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLimitKey(t *testing.T) {
	cases := []struct {
		in   string
		want LimitKey
		ok   bool
	}{
		{"requests_per_minute", LimitKey{UsageRequests, PeriodMinute}, true},
		{"tokens_per_day", LimitKey{UsageTokens, PeriodDay}, true},
		{"credits_per_month", LimitKey{UsageCredits, PeriodMonth}, true},
		{"bogus_per_minute", LimitKey{}, false},
		{"requests_per_fortnight", LimitKey{}, false},
	}
	for _, c := range cases {
		got, ok := ParseLimitKey(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		if c.ok {
			assert.Equal(t, c.want, got, c.in)
			assert.Equal(t, c.in, got.String())
		}
	}
}

func TestTracker_RequestsPerMinuteLimit(t *testing.T) {
	tr := New(Config{
		Limits: map[LimitKey]float64{
			{UsageRequests, PeriodMinute}: 2,
		},
	})
	now := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)
	tr.Now = func() time.Time { return now }

	assert.False(t, tr.IsLimited())
	tr.Record(1, 0, 0, 0)
	assert.False(t, tr.IsLimited())
	tr.Record(1, 0, 0, 0)
	assert.True(t, tr.IsLimited())
}

func TestTracker_CalendarBoundaryReset(t *testing.T) {
	tr := New(Config{
		Limits: map[LimitKey]float64{
			{UsageRequests, PeriodMinute}: 1,
		},
	})
	now := time.Date(2026, 1, 1, 10, 30, 59, 0, time.UTC)
	tr.Now = func() time.Time { return now }
	tr.Record(1, 0, 0, 0)
	require.True(t, tr.IsLimited())

	until := tr.TimeUntilAvailable()
	assert.Equal(t, time.Second, until)

	now = now.Add(time.Second)
	assert.False(t, tr.IsLimited())
}

func TestTracker_CreditGainAndSpend(t *testing.T) {
	tr := New(Config{
		CreditsPerRequest: 1,
		CreditGainPerPeriod: map[Period]float64{
			PeriodMinute: 4,
		},
		CreditMaxPerPeriod: map[Period]float64{
			PeriodMinute: 4,
		},
	})
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	tr.Now = func() time.Time { return now }

	assert.True(t, tr.HasSufficientCredits(4))
	assert.False(t, tr.HasSufficientCredits(5))

	spent := tr.Record(1, 0, 0, 0)
	assert.Equal(t, 1.0, spent)
	tr.Spend(spent)

	bal := tr.BalanceSnapshot()
	assert.Equal(t, 3.0, bal[PeriodMinute])
}

func TestTracker_TokenMultiplierDividesEffectiveLimit(t *testing.T) {
	// A limit of 100 tokens/minute with a 2x token multiplier means the
	// raw token count that trips the limit is 50, since counted usage is
	// doubled at record time.
	tr := New(Config{
		TokenMultiplier: 2,
		Limits: map[LimitKey]float64{
			{UsageTokens, PeriodMinute}: 100,
		},
	})
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	tr.Now = func() time.Time { return now }

	tr.Record(1, 25, 25, 0) // 50 raw tokens * 2 = 100 counted
	assert.True(t, tr.IsLimited())
}

func TestTracker_NoCreditModelAlwaysSufficient(t *testing.T) {
	tr := New(Config{})
	assert.True(t, tr.HasSufficientCredits(1e9))
}
