package verify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the verifier.
type Metrics struct {
	attempts *prometheus.CounterVec
	results  *prometheus.CounterVec
	delay    prometheus.Histogram
	inflight prometheus.Gauge
}

// NewMetrics registers the verifier collectors on reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "clashforge"
	}
	factory := promauto.With(reg)
	return &Metrics{
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "verify",
				Name:      "attempts_total",
				Help:      "Verification attempts by outcome.",
			},
			[]string{"outcome"},
		),
		results: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "verify",
				Name:      "results_total",
				Help:      "Verified descriptors by protocol and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		delay: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "verify",
				Name:      "delay_ms",
				Help:      "Measured delay of reachable proxies in milliseconds.",
				Buckets:   []float64{50, 100, 200, 300, 500, 800, 1200, 2000, 3000, 5000},
			},
		),
		inflight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "verify",
				Name:      "inflight_jobs",
				Help:      "Verification jobs currently running.",
			},
		),
	}
}

func (m *Metrics) observeAttempt(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = classify(err)
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeResult(r Result) {
	if m == nil {
		return
	}
	outcome := "success"
	if !r.Succeeded {
		outcome = "failure"
	}
	m.results.WithLabelValues(r.Descriptor.Kind.String(), outcome).Inc()
	if r.Succeeded && r.Delay > 0 {
		m.delay.Observe(float64(r.Delay))
	}
}

func (m *Metrics) jobStarted() {
	if m != nil {
		m.inflight.Inc()
	}
}

func (m *Metrics) jobFinished() {
	if m != nil {
		m.inflight.Dec()
	}
}
