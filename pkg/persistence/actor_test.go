package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redisnotbluedev/llm-gateway/pkg/metrics"
	"github.com/redisnotbluedev/llm-gateway/pkg/model"
	"github.com/redisnotbluedev/llm-gateway/pkg/provider"
	"github.com/redisnotbluedev/llm-gateway/pkg/provider/adapters"
	"github.com/redisnotbluedev/llm-gateway/pkg/registry"
)

func newTestActor(t *testing.T, debounce time.Duration) (*Actor, *Store) {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	reg := registry.New(provider.NewFactoryRegistry())
	inst := provider.NewInstance("p1", adapters.NewMock("p1", adapters.MockEcho), 0, []string{"p1-m"}, nil, 3, nil)
	reg.RegisterModel(model.New("gpt", 0, "gw", []*provider.Instance{inst}))

	return NewActor(s, reg, metrics.New(nil), debounce, nil), s
}

func TestActor_CoalescesBurstIntoSingleFlush(t *testing.T) {
	a, s := newTestActor(t, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go a.Run(ctx, done)

	for i := 0; i < 5; i++ {
		a.Trigger()
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(50 * time.Millisecond)
	_, err := s.LoadGlobalMetrics()
	require.NoError(t, err)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("actor did not shut down")
	}
}

func TestActor_FlushesOnShutdownEvenWithoutPriorTrigger(t *testing.T) {
	a, s := newTestActor(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go a.Run(ctx, done)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("actor did not shut down")
	}

	data, err := s.LoadProviderMetrics()
	require.NoError(t, err)
	assert.Contains(t, data, "gpt/p1", "final flush on shutdown must persist current state")
}

func TestActor_TriggerNeverBlocks(t *testing.T) {
	a, _ := newTestActor(t, time.Hour)
	for i := 0; i < 10; i++ {
		a.Trigger()
	}
}
