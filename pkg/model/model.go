// Package model implements LogicalModel and its candidate-ranking function.
package model

import (
	"sort"

	"github.com/redisnotbluedev/llm-gateway/pkg/provider"
)

// DefaultRetryCooldownSeconds is the cooldown used by AvailableCandidates
// when re-enabling a disabled ProviderInstance.
const DefaultRetryCooldownSeconds = 600

// Model is a LogicalModel: a client-visible identifier plus an ordered list
// of ProviderInstances. Immutable except for its instances' own mutable
// health state.
type Model struct {
	ID       string
	Created  int64
	OwnedBy  string

	Instances []*provider.Instance

	// RetryCooldownSeconds parameterizes re-enable checks; defaults to
	// DefaultRetryCooldownSeconds when zero.
	RetryCooldownSeconds int
}

// New builds a Model. instances order is preserved for tie-breaking.
func New(id string, created int64, ownedBy string, instances []*provider.Instance) *Model {
	return &Model{ID: id, Created: created, OwnedBy: ownedBy, Instances: instances}
}

func (m *Model) cooldown() int {
	if m.RetryCooldownSeconds > 0 {
		return m.RetryCooldownSeconds
	}
	return DefaultRetryCooldownSeconds
}

type rankedInstance struct {
	inst          *provider.Instance
	adjustedScore int
	priorityRank  int
}

// AvailableCandidates re-enables instances whose cooldown elapsed, ranks
// the result by health_score + priority_bonus, and returns them sorted
// descending. Candidates with no latency samples yet are moved ahead of
// candidates with samples, preserving adjusted-score order within each
// group; this bootstrap reordering is folded into ranking here, since both
// operate on the same ranked list with no intervening state mutation.
func (m *Model) AvailableCandidates() []*provider.Instance {
	cooldown := m.cooldown()

	var set []*provider.Instance
	for _, pi := range m.Instances {
		pi.ReenableIfCooldownElapsed(cooldown)
		if pi.Enabled() || pi.RetryCooldownElapsed(cooldown) {
			set = append(set, pi)
		}
	}
	if len(set) == 0 {
		return nil
	}

	// Rank by ascending priority (stable tie-break: original order) to
	// compute the priority bonus: best priority gets (N-1), worst gets -(N-1).
	byPriority := make([]*provider.Instance, len(set))
	copy(byPriority, set)
	sort.SliceStable(byPriority, func(i, j int) bool {
		return byPriority[i].Priority < byPriority[j].Priority
	})
	n := len(byPriority)
	bonus := make(map[*provider.Instance]int, n)
	for i, pi := range byPriority {
		bonus[pi] = (n - 1) - 2*i
	}

	ranked := make([]rankedInstance, 0, n)
	for _, pi := range set {
		ranked = append(ranked, rankedInstance{
			inst:          pi,
			adjustedScore: pi.HealthScore() + bonus[pi],
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].adjustedScore > ranked[j].adjustedScore
	})

	ordered := make([]*provider.Instance, len(ranked))
	for i, r := range ranked {
		ordered[i] = r.inst
	}

	return bootstrapFirst(ordered)
}

// bootstrapFirst moves instances with no latency samples ahead of those
// with samples, preserving relative order within each group.
func bootstrapFirst(ordered []*provider.Instance) []*provider.Instance {
	out := make([]*provider.Instance, 0, len(ordered))
	for _, pi := range ordered {
		if !pi.Speed.HasSamples() {
			out = append(out, pi)
		}
	}
	for _, pi := range ordered {
		if pi.Speed.HasSamples() {
			out = append(out, pi)
		}
	}
	return out
}

// ToDict is the OpenAI model-object shape returned by GET /v1/models.
type ToDict struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ToDictObject returns m's OpenAI model-object representation.
func (m *Model) ToDictObject() ToDict {
	return ToDict{ID: m.ID, Object: "model", Created: m.Created, OwnedBy: m.OwnedBy}
}
