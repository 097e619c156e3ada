package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redisnotbluedev/llm-gateway/pkg/circuitbreaker"
	"github.com/redisnotbluedev/llm-gateway/pkg/credential"
	"github.com/redisnotbluedev/llm-gateway/pkg/ratelimit"
)

type echoAdapter struct{}

func (echoAdapter) ChatCompletion(context.Context, ChatRequest, string, credential.Key) (ChatResponse, error) {
	return ChatResponse{Content: "ok"}, nil
}

func TestInstance_HealthScoreStartsAt100(t *testing.T) {
	inst := NewInstance("p1", echoAdapter{}, 0, []string{"m"}, nil, 3, nil)
	assert.Equal(t, 100, inst.HealthScore())
}

func TestInstance_HealthScorePenalizesConsecutiveFailures(t *testing.T) {
	inst := NewInstance("p1", echoAdapter{}, 0, []string{"m"}, nil, 3, nil)
	inst.MarkFailure()
	assert.Equal(t, 90, inst.HealthScore())
}

func TestInstance_HealthScoreZeroWhenBreakerOpen(t *testing.T) {
	inst := NewInstance("p1", echoAdapter{}, 0, []string{"m"}, nil, 3, nil)
	inst.MarkFailure()
	inst.MarkFailure()
	inst.MarkFailure()
	assert.Equal(t, circuitbreaker.StateOpen, inst.Breaker.State())
	assert.Equal(t, 0, inst.HealthScore())
}

func TestInstance_MarkFailureDisablesAfterThreeConsecutive(t *testing.T) {
	inst := NewInstance("p1", echoAdapter{}, 0, []string{"m"}, nil, 3, nil)
	assert.True(t, inst.Enabled())
	inst.MarkFailure()
	inst.MarkFailure()
	assert.True(t, inst.Enabled())
	inst.MarkFailure()
	assert.False(t, inst.Enabled())
}

func TestInstance_MarkSuccessResetsFailuresAndReenables(t *testing.T) {
	inst := NewInstance("p1", echoAdapter{}, 0, []string{"m"}, nil, 3, nil)
	inst.MarkFailure()
	inst.MarkFailure()
	inst.MarkFailure()
	require.False(t, inst.Enabled())
	inst.MarkSuccess()
	assert.True(t, inst.Enabled())
	assert.Equal(t, 0, inst.ConsecutiveFailures())
}

func TestInstance_ShouldAttemptRespectsMaxRetries(t *testing.T) {
	inst := NewInstance("p1", echoAdapter{}, 0, []string{"m"}, nil, 2, nil)
	assert.True(t, inst.ShouldAttempt())
	inst.IncrementRetryCount()
	assert.True(t, inst.ShouldAttempt())
	inst.IncrementRetryCount()
	assert.False(t, inst.ShouldAttempt())
	inst.ResetRetryCount()
	assert.True(t, inst.ShouldAttempt())
}

func TestInstance_RetryCooldownElapsed(t *testing.T) {
	inst := NewInstance("p1", echoAdapter{}, 0, []string{"m"}, nil, 3, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inst.Now = func() time.Time { return now }

	assert.True(t, inst.RetryCooldownElapsed(60), "never failed means cooldown trivially elapsed")

	inst.MarkFailure()
	assert.False(t, inst.RetryCooldownElapsed(60))

	now = now.Add(61 * time.Second)
	assert.True(t, inst.RetryCooldownElapsed(60))
}

func TestInstance_ReenableIfCooldownElapsed(t *testing.T) {
	inst := NewInstance("p1", echoAdapter{}, 0, []string{"m"}, nil, 3, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inst.Now = func() time.Time { return now }

	inst.MarkFailure()
	inst.MarkFailure()
	inst.MarkFailure()
	require.False(t, inst.Enabled())

	inst.ReenableIfCooldownElapsed(60)
	assert.False(t, inst.Enabled(), "cooldown not yet elapsed")

	now = now.Add(61 * time.Second)
	inst.ReenableIfCooldownElapsed(60)
	assert.True(t, inst.Enabled())
}

func TestInstance_NextModelIDRoundRobins(t *testing.T) {
	inst := NewInstance("p1", echoAdapter{}, 0, []string{"m1", "m2"}, nil, 3, nil)
	assert.Equal(t, "m1", inst.NextModelID())
	assert.Equal(t, "m2", inst.NextModelID())
	assert.Equal(t, "m1", inst.NextModelID())
}

func TestInstance_HasPoolDistinguishesNullCredential(t *testing.T) {
	withoutPool := NewInstance("p1", echoAdapter{}, 0, []string{"m"}, nil, 3, nil)
	assert.False(t, withoutPool.HasPool())
	_, ok := withoutPool.CurrentCredential()
	assert.False(t, ok)

	key := credential.Key("sk-a")
	pool := credential.New([]credential.Key{key}, map[credential.Key]*ratelimit.Tracker{key: ratelimit.New(ratelimit.Config{})}, 30, nil)
	withPool := NewInstance("p2", echoAdapter{}, 0, []string{"m"}, pool, 3, nil)
	assert.True(t, withPool.HasPool())
	got, ok := withPool.CurrentCredential()
	require.True(t, ok)
	assert.Equal(t, key, got)
}

func TestInstance_RestoreHealthSeedsFailureAndBreaker(t *testing.T) {
	inst := NewInstance("p1", echoAdapter{}, 0, []string{"m"}, nil, 3, nil)
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inst.RestoreHealth(5, last, circuitbreaker.Snapshot{State: "open", FailureCount: 3})

	assert.Equal(t, 5, inst.ConsecutiveFailures())
	assert.False(t, inst.Enabled(), "5 consecutive failures implies disabled")
	assert.Equal(t, circuitbreaker.StateOpen, inst.Breaker.State())
	assert.False(t, inst.Speed.HasSamples(), "rolling-window speed stats are never restored")
}
