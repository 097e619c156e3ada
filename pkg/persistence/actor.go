package persistence

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/redisnotbluedev/llm-gateway/pkg/metrics"
	"github.com/redisnotbluedev/llm-gateway/pkg/registry"
)

// DefaultDebounce is the default coalescing window between a state change
// and the resulting disk flush.
const DefaultDebounce = 2 * time.Second

// Actor replaces the source's on-change callback with an explicit event
// channel fed by state-mutating components; it batches bursts of Trigger
// calls into a single flush per debounce window.
type Actor struct {
	store    *Store
	reg      *registry.Registry
	global   *metrics.Global
	debounce time.Duration
	log      *logrus.Entry

	events chan struct{}
}

// NewActor builds an Actor that persists reg's and global's aggregates to
// store. debounce <= 0 uses DefaultDebounce.
func NewActor(store *Store, reg *registry.Registry, global *metrics.Global, debounce time.Duration, log *logrus.Entry) *Actor {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Actor{
		store:    store,
		reg:      reg,
		global:   global,
		debounce: debounce,
		log:      log,
		events:   make(chan struct{}, 1),
	}
}

// Trigger signals that state changed and a flush should eventually happen.
// It never blocks: a pending, not-yet-processed signal is enough to cause
// the next flush, so redundant triggers are dropped.
func (a *Actor) Trigger() {
	select {
	case a.events <- struct{}{}:
	default:
	}
}

// Run drains the event channel, debouncing bursts, until ctx is canceled.
// It always flushes once more before returning so in-flight state is not
// lost on shutdown. done, if non-nil, is closed once the final flush
// completes, letting a caller block on Run's exit during graceful shutdown.
func (a *Actor) Run(ctx context.Context, done chan<- struct{}) {
	if done != nil {
		defer close(done)
	}
	for {
		select {
		case <-ctx.Done():
			a.flush()
			return
		case <-a.events:
			timer := time.NewTimer(a.debounce)
			a.drainAndWait(ctx, timer)
			a.flush()
		}
	}
}

func (a *Actor) drainAndWait(ctx context.Context, timer *time.Timer) {
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.events:
			// Coalesce: restart the debounce window.
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(a.debounce)
		case <-timer.C:
			return
		}
	}
}

func (a *Actor) flush() {
	models := a.reg.ListModels()
	if err := a.store.SaveProviderMetrics(ExtractProviderMetrics(models)); err != nil {
		a.log.WithError(err).Warn("failed to persist provider metrics")
	}
	if err := a.store.SaveGlobalMetrics(a.global.Snapshot()); err != nil {
		a.log.WithError(err).Warn("failed to persist global metrics")
	}
}
