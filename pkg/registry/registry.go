// Package registry implements the Registry: the collection of Models and
// ProviderAdapters, and the canonical credential->RateLimitTracker map
// that lets the same opaque key be shared across multiple pools.
package registry

import (
	"sync"

	"github.com/redisnotbluedev/llm-gateway/pkg/circuitbreaker"
	"github.com/redisnotbluedev/llm-gateway/pkg/credential"
	"github.com/redisnotbluedev/llm-gateway/pkg/model"
	"github.com/redisnotbluedev/llm-gateway/pkg/provider"
	"github.com/redisnotbluedev/llm-gateway/pkg/ratelimit"
)

// Registry owns LogicalModels, ProviderAdapters, and the process-wide
// credential->tracker map. Pools hold non-owning references (handles) into
// this map; its lifetime is the Registry's lifetime.
type Registry struct {
	mu sync.RWMutex

	models    map[string]*model.Model
	factories *provider.FactoryRegistry

	// sharedTrackers is the canonical credential->RateLimitTracker map used
	// when the same opaque key appears in multiple pools.
	sharedTrackers map[credential.Key]*ratelimit.Tracker

	// Breakers indexes every ProviderInstance's circuit breaker by
	// "<model_id>/<provider_name>" for flat introspection.
	Breakers *circuitbreaker.Manager
}

// New creates an empty Registry with the given adapter factory registry.
func New(factories *provider.FactoryRegistry) *Registry {
	return &Registry{
		models:         make(map[string]*model.Model),
		factories:      factories,
		sharedTrackers: make(map[credential.Key]*ratelimit.Tracker),
		Breakers:       circuitbreaker.NewManager(),
	}
}

// RegisterModel adds m to the registry, keyed by its ID.
func (r *Registry) RegisterModel(m *model.Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.ID] = m
}

// GetModel looks up a model by ID.
func (r *Registry) GetModel(id string) (*model.Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// ListModels returns every registered model, in no particular order.
func (r *Registry) ListModels() []*model.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	return out
}

// Factories exposes the adapter factory registry, used by config binding.
func (r *Registry) Factories() *provider.FactoryRegistry {
	return r.factories
}

// SharedTracker returns the canonical tracker for key, creating it with cfg
// if absent. Subsequent calls with the same key return the same tracker
// regardless of cfg, since the tracker is shared process-wide once created —
// config binding is expected to call this with a consistent cfg per key
// (the first pool to reference a credential sets its limits).
func (r *Registry) SharedTracker(key credential.Key, cfg ratelimit.Config) *ratelimit.Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.sharedTrackers[key]; ok {
		return t
	}
	t := ratelimit.New(cfg)
	r.sharedTrackers[key] = t
	return t
}

// PrivateTracker builds a tracker that is not registered in the shared map,
// for credentials declared private to a single pool.
func PrivateTracker(cfg ratelimit.Config) *ratelimit.Tracker {
	return ratelimit.New(cfg)
}
