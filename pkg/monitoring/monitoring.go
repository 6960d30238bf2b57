// Package monitoring provides request-duration sampling, a JSON runtime
// metrics endpoint and pprof registration for the operations port.
package monitoring

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	pp "net/http/pprof"
)

// Metrics keeps a circular buffer of recent request durations.
type Metrics struct {
	mu        sync.Mutex
	durations []float64 // milliseconds
	idx       int
	count     int64
	n         int
}

func NewMetrics(capacity int) *Metrics {
	if capacity <= 0 {
		capacity = 256
	}
	return &Metrics{durations: make([]float64, capacity), n: capacity}
}

// Observe adds a duration sample in milliseconds.
func (m *Metrics) Observe(ms float64) {
	m.mu.Lock()
	m.durations[m.idx] = ms
	m.idx = (m.idx + 1) % m.n
	m.count++
	m.mu.Unlock()
}

// Snapshot returns total count plus average and quantiles over the
// recent window.
func (m *Metrics) Snapshot() (count int64, avg, p50, p95 float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var samples []float64
	if m.count < int64(m.n) {
		samples = append(samples, m.durations[:m.idx]...)
	} else {
		samples = append(samples, m.durations...)
	}
	if len(samples) == 0 {
		return m.count, 0, 0, 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	avg = sum / float64(len(samples))
	sort.Float64s(samples)
	p50 = samples[(len(samples)*50)/100]
	p95 = samples[(len(samples)*95)/100]
	return m.count, avg, p50, p95
}

// Middleware measures request duration into Metrics. No per-route labels;
// the catalog API is small enough for one histogram.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			m.Observe(time.Since(start).Seconds() * 1000.0)
		})
	}
}

// CostMetrics summarizes AI spend for the human-readable metrics page.
type CostMetrics struct {
	TotalCostUSD  float64 `json:"total_cost_usd"`
	TotalRequests int     `json:"total_requests"`
	CostPerCall   float64 `json:"cost_per_call_usd"`
}

// MetricsHandler exposes runtime and request metrics as JSON.
func MetricsHandler(m *Metrics) http.Handler {
	return MetricsHandlerWithCosts(m, nil)
}

// MetricsHandlerWithCosts additionally reports AI usage costs when a
// provider is given.
func MetricsHandlerWithCosts(m *Metrics, costs func() (CostMetrics, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		count, avg, p50, p95 := m.Snapshot()
		resp := map[string]interface{}{
			"time":             time.Now().Format(time.RFC3339),
			"requests_total":   count,
			"duration_ms_avg":  avg,
			"duration_ms_p50":  p50,
			"duration_ms_p95":  p95,
			"goroutines":       runtime.NumGoroutine(),
			"mem_alloc_bytes":  ms.Alloc,
			"heap_inuse_bytes": ms.HeapInuse,
			"gc_num":           ms.NumGC,
		}
		if costs != nil {
			if cm, err := costs(); err == nil {
				resp["ai_costs"] = cm
			}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}

// RegisterPprof registers the standard pprof handlers under /debug/pprof/.
func RegisterPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pp.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pp.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pp.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pp.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pp.Trace)
	mux.Handle("/debug/pprof/goroutine", pp.Handler("goroutine"))
	mux.Handle("/debug/pprof/heap", pp.Handler("heap"))
	mux.Handle("/debug/pprof/block", pp.Handler("block"))
	mux.Handle("/debug/pprof/mutex", pp.Handler("mutex"))
}

// EnableProfiling toggles block/mutex profiling rates.
func EnableProfiling(enabled bool) {
	if enabled {
		runtime.SetBlockProfileRate(1)
		runtime.SetMutexProfileFraction(5)
	} else {
		runtime.SetBlockProfileRate(0)
		runtime.SetMutexProfileFraction(0)
	}
}
