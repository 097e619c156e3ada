package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobal_RecordRequestAccumulatesTotals(t *testing.T) {
	g := New(nil)
	g.RecordRequest(100*time.Millisecond, 10, 20, 0.5, 0.01)
	g.RecordRequest(200*time.Millisecond, 5, 5, 0.25, 0.02)

	snap := g.Snapshot()
	assert.Equal(t, int64(2), snap.TotalRequests)
	assert.Equal(t, int64(15), snap.TotalPromptTokens)
	assert.Equal(t, int64(25), snap.TotalCompletionTokens)
	assert.Equal(t, int64(40), snap.TotalTokens)
	assert.InDelta(t, 0.75, snap.TotalCredits, 0.0001)
	assert.Equal(t, 150*time.Millisecond, snap.MeanDuration)
}

func TestGlobal_RecordErrorIncrementsCount(t *testing.T) {
	g := New(nil)
	g.RecordError()
	g.RecordError()
	assert.Equal(t, int64(2), g.Snapshot().TotalErrors)
}

func TestGlobal_RestoreSeedsTotalsNotWindows(t *testing.T) {
	g := New(nil)
	g.Restore(Snapshot{TotalRequests: 50, TotalErrors: 3, TotalTokens: 1000})

	snap := g.Snapshot()
	assert.Equal(t, int64(50), snap.TotalRequests)
	assert.Equal(t, int64(3), snap.TotalErrors)
	assert.Equal(t, int64(1000), snap.TotalTokens)
	assert.Zero(t, snap.MeanDuration, "rolling windows are never restored")
}

func TestGlobal_WithPrometheusRegistererRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := New(reg)
	require.NotNil(t, g)
	g.RecordRequest(time.Millisecond, 1, 1, 0, 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestGlobal_UptimeGrowsOverTime(t *testing.T) {
	g := New(nil)
	snap1 := g.Snapshot()
	time.Sleep(2 * time.Millisecond)
	snap2 := g.Snapshot()
	assert.Greater(t, snap2.UptimeSeconds, snap1.UptimeSeconds)
}
