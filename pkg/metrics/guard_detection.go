package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DetectionMetrics groups the detector's Prometheus collectors and the
// in-process scoring latency registry. A nil *DetectionMetrics is a no-op.
type DetectionMetrics struct {
	observed        *prometheus.CounterVec
	scoringRequests *prometheus.CounterVec
	inflight        prometheus.Gauge
	verdicts        *prometheus.CounterVec
	streamEvents    *prometheus.CounterVec
	latency         *LatencyRegistry
}

// NewDetectionMetrics creates and registers the collectors on reg.
func NewDetectionMetrics(reg prometheus.Registerer) *DetectionMetrics {
	m := &DetectionMetrics{
		observed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phishguard_observe_total",
			Help: "Observations by outcome status",
		}, []string{"status"}),
		scoringRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phishguard_scoring_requests_total",
			Help: "Calls to the scoring service by operation and outcome",
		}, []string{"op", "outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "phishguard_inflight",
			Help: "Analyses currently in flight",
		}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phishguard_verdicts_total",
			Help: "Completed verdicts by category",
		}, []string{"category"}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phishguard_stream_events_total",
			Help: "Content stream events by type and result",
		}, []string{"type", "result"}),
		latency: NewLatencyRegistry(1000),
	}
	if reg != nil {
		reg.MustRegister(m.observed, m.scoringRequests, m.inflight, m.verdicts, m.streamEvents)
	}
	return m
}

// Observed counts one observation outcome.
func (m *DetectionMetrics) Observed(status string) {
	if m == nil {
		return
	}
	m.observed.WithLabelValues(status).Inc()
}

// ScoringCall counts one scoring call and records its latency under op.
func (m *DetectionMetrics) ScoringCall(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.scoringRequests.WithLabelValues(op, outcome).Inc()
	m.latency.Record(op, d)
}

// InFlightAdd moves the in-flight gauge by delta.
func (m *DetectionMetrics) InFlightAdd(delta float64) {
	if m == nil {
		return
	}
	m.inflight.Add(delta)
}

// Verdict counts one completed verdict.
func (m *DetectionMetrics) Verdict(category string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(category).Inc()
}

// StreamEvent counts one processed stream event.
func (m *DetectionMetrics) StreamEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(eventType, result).Inc()
}

// ScoringLatency returns p50/p95/p99 in milliseconds per scoring operation.
func (m *DetectionMetrics) ScoringLatency() map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64)
	for op, s := range m.latency.AllStats() {
		out[op+"_p50"] = ms(s.P50)
		out[op+"_p95"] = ms(s.P95)
		out[op+"_p99"] = ms(s.P99)
	}
	return out
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
