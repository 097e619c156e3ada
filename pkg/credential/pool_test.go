package credential

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redisnotbluedev/llm-gateway/pkg/ratelimit"
)

func freshTrackers(keys []Key) map[Key]*ratelimit.Tracker {
	m := make(map[Key]*ratelimit.Tracker, len(keys))
	for _, k := range keys {
		m[k] = ratelimit.New(ratelimit.Config{})
	}
	return m
}

func TestPool_RoundRobinExactlyTwiceInTwoN(t *testing.T) {
	keys := []Key{"a", "b", "c"}
	p := New(keys, freshTrackers(keys), 30, nil)

	counts := map[Key]int{}
	for i := 0; i < 2*len(keys); i++ {
		k, ok := p.Select(0)
		require.True(t, ok)
		counts[k]++
	}
	for _, k := range keys {
		assert.Equal(t, 2, counts[k], k)
	}
}

func TestPool_FailureTriggersCooldownAndSkip(t *testing.T) {
	keys := []Key{"a", "b"}
	p := New(keys, freshTrackers(keys), 30, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.Now = func() time.Time { return now }

	k1, _ := p.Select(0)
	assert.Equal(t, Key("a"), k1)
	p.MarkFailure(k1)

	k2, ok := p.Select(0)
	require.True(t, ok)
	assert.Equal(t, Key("b"), k2)

	// "a" is still cooling down, so the next two selects both land on "b".
	k3, ok := p.Select(0)
	require.True(t, ok)
	assert.Equal(t, Key("b"), k3)
}

func TestPool_CooldownExpiresAndReincludesKey(t *testing.T) {
	keys := []Key{"a", "b"}
	p := New(keys, freshTrackers(keys), 30, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.Now = func() time.Time { return now }

	p.MarkFailure("a")
	_, _ = p.Select(0) // lands on "b", advances cursor past it

	now = now.Add(31 * time.Second)
	_, _ = p.Select(0)
	snap := p.Snapshot()
	for _, s := range snap {
		if s.Fingerprint == Key("a").Fingerprint() {
			assert.False(t, s.InCooldown)
		}
	}
}

func TestPool_EmergencyUnblockWhenAllCoolingDown(t *testing.T) {
	keys := []Key{"a", "b"}
	p := New(keys, freshTrackers(keys), 30, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.Now = func() time.Time { return now }

	p.MarkFailure("a")
	now = now.Add(time.Second)
	p.MarkFailure("b")

	k, ok := p.Select(0)
	require.True(t, ok)
	// "a" failed first, so it has the oldest disabledUntil and is unblocked.
	assert.Equal(t, Key("a"), k)
}

func TestPool_RateLimitedKeyIsSkipped(t *testing.T) {
	keys := []Key{"a", "b"}
	limiters := map[Key]*ratelimit.Tracker{
		"a": ratelimit.New(ratelimit.Config{
			Limits: map[ratelimit.LimitKey]float64{{Type: ratelimit.UsageRequests, Period: ratelimit.PeriodMinute}: 1},
		}),
		"b": ratelimit.New(ratelimit.Config{}),
	}
	p := New(keys, limiters, 30, nil)
	limiters["a"].Record(1, 0, 0, 0)

	k, ok := p.Select(0)
	require.True(t, ok)
	assert.Equal(t, Key("b"), k)
}

func TestPool_EmptyPoolReturnsFalse(t *testing.T) {
	p := New(nil, map[Key]*ratelimit.Tracker{}, 30, nil)
	_, ok := p.Select(0)
	assert.False(t, ok)
}

func TestPool_ConcurrentAccessIsRaceFree(t *testing.T) {
	keys := []Key{"a", "b", "c"}
	p := New(keys, freshTrackers(keys), 30, nil)

	const goroutines = 16
	const iterations = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				k, ok := p.Select(0)
				if !ok {
					continue
				}
				if i%7 == 0 {
					p.MarkFailure(k)
				} else {
					p.MarkSuccess(k)
				}
				p.RecordUsage(k, 10, 10, 0)
				_ = p.Snapshot()
				_ = p.Len()
			}
		}()
	}
	wg.Wait()
}

func TestKey_Fingerprint(t *testing.T) {
	assert.Equal(t, "****", Key("short").Fingerprint())
	fp := Key("sk-abcdefghijklmnop").Fingerprint()
	assert.Contains(t, fp, "...")
	assert.NotContains(t, fp, "abcdefghijkl")
}
