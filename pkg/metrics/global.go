// Package metrics implements GlobalMetrics: process-wide aggregate
// counters and rolling windows, updated on every success and failure, plus
// a Prometheus exporter for the same data.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const rollingWindowCapacity = 1000

// Global is the process-wide metrics aggregator. One instance per process.
type Global struct {
	mu sync.Mutex

	totalRequests int64
	totalErrors   int64

	totalPromptTokens     int64
	totalCompletionTokens int64
	totalTokens           int64
	totalCredits          float64

	durations        []time.Duration
	ttfts            []float64
	requestTimestamps []time.Time
	errorTimestamps   []time.Time

	startedAt time.Time

	prom *promCollectors
}

type promCollectors struct {
	requestsTotal prometheus.Counter
	errorsTotal   prometheus.Counter
	tokensTotal   prometheus.Counter
	creditsTotal  prometheus.Counter
	duration      prometheus.Histogram
	ttft          prometheus.Histogram
}

// New creates a Global metrics aggregator. If reg is non-nil, Prometheus
// collectors are created and registered against it.
func New(reg prometheus.Registerer) *Global {
	g := &Global{startedAt: time.Now()}
	if reg != nil {
		g.prom = &promCollectors{
			requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "gateway", Subsystem: "dispatch", Name: "requests_total",
				Help: "Total dispatched chat-completion requests.",
			}),
			errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "gateway", Subsystem: "dispatch", Name: "errors_total",
				Help: "Total dispatch attempt failures (validation + transport).",
			}),
			tokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "gateway", Subsystem: "dispatch", Name: "tokens_total",
				Help: "Total tokens (prompt+completion) across successful requests.",
			}),
			creditsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "gateway", Subsystem: "dispatch", Name: "credits_total",
				Help: "Total credits spent across successful requests.",
			}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "gateway", Subsystem: "dispatch", Name: "request_duration_seconds",
				Help: "Request duration in seconds.", Buckets: prometheus.DefBuckets,
			}),
			ttft: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "gateway", Subsystem: "dispatch", Name: "ttft_seconds",
				Help: "Time to first token in seconds.", Buckets: prometheus.DefBuckets,
			}),
		}
		reg.MustRegister(
			g.prom.requestsTotal, g.prom.errorsTotal, g.prom.tokensTotal,
			g.prom.creditsTotal, g.prom.duration, g.prom.ttft,
		)
	}
	return g
}

func appendBounded[T any](slice []T, v T, cap int) []T {
	if len(slice) >= cap {
		slice = slice[1:]
	}
	return append(slice, v)
}

// RecordRequest records a successful completion's duration/token/ttft stats.
func (g *Global) RecordRequest(duration time.Duration, promptTokens, completionTokens int, credits float64, ttft float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	g.totalRequests++
	g.totalPromptTokens += int64(promptTokens)
	g.totalCompletionTokens += int64(completionTokens)
	g.totalTokens += int64(promptTokens + completionTokens)
	g.totalCredits += credits

	g.durations = appendBounded(g.durations, duration, rollingWindowCapacity)
	g.ttfts = appendBounded(g.ttfts, ttft, rollingWindowCapacity)
	g.requestTimestamps = appendBounded(g.requestTimestamps, now, rollingWindowCapacity)

	if g.prom != nil {
		g.prom.requestsTotal.Inc()
		g.prom.tokensTotal.Add(float64(promptTokens + completionTokens))
		g.prom.creditsTotal.Add(credits)
		g.prom.duration.Observe(duration.Seconds())
		g.prom.ttft.Observe(ttft)
	}
}

// RecordError records one failed attempt (validation or transport).
func (g *Global) RecordError() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalErrors++
	g.errorTimestamps = appendBounded(g.errorTimestamps, time.Now(), rollingWindowCapacity)

	if g.prom != nil {
		g.prom.errorsTotal.Inc()
	}
}

func meanDuration(s []time.Duration) time.Duration {
	if len(s) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range s {
		sum += d
	}
	return sum / time.Duration(len(s))
}

func p95Duration(s []time.Duration) time.Duration {
	if len(s) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), s...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func meanFloat(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

func p95Float(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	sorted := append([]float64(nil), s...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// Snapshot is the introspection/persistence shape for global aggregates.
type Snapshot struct {
	TotalRequests         int64         `json:"total_requests"`
	TotalErrors           int64         `json:"total_errors"`
	TotalPromptTokens     int64         `json:"total_prompt_tokens"`
	TotalCompletionTokens int64         `json:"total_completion_tokens"`
	TotalTokens           int64         `json:"total_tokens"`
	TotalCredits          float64       `json:"total_credits"`
	MeanDuration          time.Duration `json:"mean_duration_ns"`
	P95Duration           time.Duration `json:"p95_duration_ns"`
	MeanTTFT              float64       `json:"mean_ttft_seconds"`
	P95TTFT               float64       `json:"p95_ttft_seconds"`
	UptimeSeconds         float64       `json:"uptime_seconds"`
}

// Restore seeds the running totals from a persisted Snapshot on startup.
// Rolling windows and uptime are never restored: uptime is measured from
// this process's own start, and percentile windows are not persisted.
func (g *Global) Restore(snap Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.totalRequests = snap.TotalRequests
	g.totalErrors = snap.TotalErrors
	g.totalPromptTokens = snap.TotalPromptTokens
	g.totalCompletionTokens = snap.TotalCompletionTokens
	g.totalTokens = snap.TotalTokens
	g.totalCredits = snap.TotalCredits
}

// Snapshot returns a coherent read of the current aggregates, taken under
// the same lock that updates them.
func (g *Global) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Snapshot{
		TotalRequests:         g.totalRequests,
		TotalErrors:           g.totalErrors,
		TotalPromptTokens:     g.totalPromptTokens,
		TotalCompletionTokens: g.totalCompletionTokens,
		TotalTokens:           g.totalTokens,
		TotalCredits:          g.totalCredits,
		MeanDuration:          meanDuration(g.durations),
		P95Duration:           p95Duration(g.durations),
		MeanTTFT:              meanFloat(g.ttfts),
		P95TTFT:               p95Float(g.ttfts),
		UptimeSeconds:         time.Since(g.startedAt).Seconds(),
	}
}
