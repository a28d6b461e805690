// Package metrics provides detector collectors and latency percentiles.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a sliding window of latency samples.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	window  int
	sorted  bool
}

// NewLatencyTracker creates a tracker keeping at most window samples.
func NewLatencyTracker(window int) *LatencyTracker {
	if window <= 0 {
		window = 1000
	}
	return &LatencyTracker{samples: make([]time.Duration, 0, window), window: window}
}

// Record adds one sample, dropping the oldest tenth when the window is full.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if len(lt.samples) >= lt.window {
		drop := lt.window / 10
		if drop < 1 {
			drop = 1
		}
		lt.samples = append(lt.samples[:0], lt.samples[drop:]...)
	}
	lt.samples = append(lt.samples, d)
	lt.sorted = false
}

// Stats computes percentiles over the current window.
func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	n := len(lt.samples)
	if n == 0 {
		return LatencyStats{}
	}
	if !lt.sorted {
		sort.Slice(lt.samples, func(i, j int) bool { return lt.samples[i] < lt.samples[j] })
		lt.sorted = true
	}

	var sum time.Duration
	for _, v := range lt.samples {
		sum += v
	}
	at := func(p float64) time.Duration { return lt.samples[int(float64(n-1)*p)] }

	return LatencyStats{
		Count: int64(n),
		Min:   lt.samples[0],
		Max:   lt.samples[n-1],
		Avg:   sum / time.Duration(n),
		P50:   at(0.50),
		P90:   at(0.90),
		P95:   at(0.95),
		P99:   at(0.99),
	}
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count int64         `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
	P50   time.Duration `json:"p50"`
	P90   time.Duration `json:"p90"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// ToMap renders the stats in milliseconds for JSON output.
func (s LatencyStats) ToMap() map[string]any {
	return map[string]any{
		"count":  s.Count,
		"min_ms": ms(s.Min),
		"max_ms": ms(s.Max),
		"avg_ms": ms(s.Avg),
		"p50_ms": ms(s.P50),
		"p90_ms": ms(s.P90),
		"p95_ms": ms(s.P95),
		"p99_ms": ms(s.P99),
	}
}

// LatencyRegistry keeps one tracker per operation name.
type LatencyRegistry struct {
	mu       sync.RWMutex
	trackers map[string]*LatencyTracker
	window   int
}

// NewLatencyRegistry creates an empty registry.
func NewLatencyRegistry(window int) *LatencyRegistry {
	return &LatencyRegistry{trackers: make(map[string]*LatencyTracker), window: window}
}

// Record records a latency for the given operation.
func (r *LatencyRegistry) Record(op string, d time.Duration) {
	r.mu.RLock()
	t, ok := r.trackers[op]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if t, ok = r.trackers[op]; !ok {
			t = NewLatencyTracker(r.window)
			r.trackers[op] = t
		}
		r.mu.Unlock()
	}
	t.Record(d)
}

// Stats returns the stats of one operation.
func (r *LatencyRegistry) Stats(op string) LatencyStats {
	r.mu.RLock()
	t, ok := r.trackers[op]
	r.mu.RUnlock()
	if !ok {
		return LatencyStats{}
	}
	return t.Stats()
}

// AllStats returns the stats of every operation.
func (r *LatencyRegistry) AllStats() map[string]LatencyStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]LatencyStats, len(r.trackers))
	for op, t := range r.trackers {
		out[op] = t.Stats()
	}
	return out
}
