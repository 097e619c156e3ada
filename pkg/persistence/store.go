// Package persistence encodes and restores the persisted-state aggregates:
// two JSON files under a metrics directory, one per-provider-instance and
// one global. Rolling windows are never persisted, only their derived
// aggregates — grounded on original_source/src/metrics.py's
// MetricsPersistence.save_metrics/save_global_metrics.
package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/redisnotbluedev/llm-gateway/pkg/circuitbreaker"
	"github.com/redisnotbluedev/llm-gateway/pkg/metrics"
	"github.com/redisnotbluedev/llm-gateway/pkg/model"
)

const (
	providerMetricsFile = "provider_metrics.json"
	globalMetricsFile   = "global_metrics.json"
)

// ProviderMetrics is the persisted shape for one ProviderInstance, field
// names matching original_source/src/metrics.py's extract_provider_metrics.
type ProviderMetrics struct {
	ConsecutiveFailures        int       `json:"consecutive_failures"`
	LastFailure                time.Time `json:"last_failure,omitempty"`
	CircuitBreakerState        string    `json:"circuit_breaker_state"`
	CircuitBreakerFailCount    int       `json:"circuit_breaker_fail_count"`
	CircuitBreakerSuccessCount int       `json:"circuit_breaker_success_count"`
	AverageResponseTime        float64   `json:"average_response_time"`
	P95ResponseTime            float64   `json:"p95_response_time"`
	TokensPerSecond            float64   `json:"tokens_per_second"`
	AverageTTFT                float64   `json:"average_ttft"`
	P95TTFT                    float64   `json:"p95_ttft"`
}

// Store owns the on-disk location of the two persisted-state files.
type Store struct {
	Dir string
}

// NewStore creates a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = "metrics"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{Dir: dir}, nil
}

// ExtractProviderMetrics builds the persisted-shape map for every
// ProviderInstance across every model in models, keyed by
// "<model_id>/<provider_name>" to disambiguate instances reused across
// multiple logical models.
func ExtractProviderMetrics(models []*model.Model) map[string]ProviderMetrics {
	out := make(map[string]ProviderMetrics)
	for _, m := range models {
		for _, inst := range m.Instances {
			snap := inst.Snapshot()
			out[m.ID+"/"+snap.Name] = ProviderMetrics{
				ConsecutiveFailures:        snap.ConsecutiveFailures,
				LastFailure:                snap.CircuitBreaker.LastFailure,
				CircuitBreakerState:        snap.CircuitBreaker.State,
				CircuitBreakerFailCount:    snap.CircuitBreaker.FailureCount,
				CircuitBreakerSuccessCount: snap.CircuitBreaker.SuccessCount,
				AverageResponseTime:        snap.Speed.AverageResponseTime,
				P95ResponseTime:            snap.Speed.P95ResponseTime,
				TokensPerSecond:            snap.Speed.TokensPerSecond,
				AverageTTFT:                snap.Speed.AverageTTFT,
				P95TTFT:                    snap.Speed.P95TTFT,
			}
		}
	}
	return out
}

// RestoreProviderMetrics loads per-instance aggregates from disk and
// applies each to the matching ProviderInstance across models, keyed the
// same way ExtractProviderMetrics writes them. Entries with no matching
// instance (a renamed or removed provider) are skipped. Returns the
// number of instances restored.
func (s *Store) RestoreProviderMetrics(models []*model.Model) (int, error) {
	data, err := s.LoadProviderMetrics()
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, m := range models {
		for _, inst := range m.Instances {
			pm, ok := data[m.ID+"/"+inst.Name]
			if !ok {
				continue
			}
			inst.RestoreHealth(pm.ConsecutiveFailures, pm.LastFailure, circuitbreaker.Snapshot{
				State:        pm.CircuitBreakerState,
				FailureCount: pm.CircuitBreakerFailCount,
				SuccessCount: pm.CircuitBreakerSuccessCount,
				LastFailure:  pm.LastFailure,
			})
			restored++
		}
	}
	return restored, nil
}

// SaveProviderMetrics writes per-instance aggregates to disk.
func (s *Store) SaveProviderMetrics(data map[string]ProviderMetrics) error {
	return writeJSON(filepath.Join(s.Dir, providerMetricsFile), data)
}

// LoadProviderMetrics reads per-instance aggregates from disk. A missing
// file is not an error; it returns an empty map.
func (s *Store) LoadProviderMetrics() (map[string]ProviderMetrics, error) {
	var out map[string]ProviderMetrics
	if err := readJSON(filepath.Join(s.Dir, providerMetricsFile), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = make(map[string]ProviderMetrics)
	}
	return out, nil
}

// SaveGlobalMetrics writes the GlobalMetrics aggregate snapshot to disk.
func (s *Store) SaveGlobalMetrics(snap metrics.Snapshot) error {
	return writeJSON(filepath.Join(s.Dir, globalMetricsFile), snap)
}

// LoadGlobalMetrics reads the GlobalMetrics aggregate snapshot from disk. A
// missing file returns the zero Snapshot.
func (s *Store) LoadGlobalMetrics() (metrics.Snapshot, error) {
	var out metrics.Snapshot
	if err := readJSON(filepath.Join(s.Dir, globalMetricsFile), &out); err != nil {
		return metrics.Snapshot{}, err
	}
	return out, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
