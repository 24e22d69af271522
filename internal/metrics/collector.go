// Package metrics records sandbox activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "scriptbox"

// Collector holds the sandbox metrics. A nil *Collector records nothing.
type Collector struct {
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	violations    *prometheus.CounterVec
	liveChildren  prometheus.Gauge
	policyReloads *prometheus.CounterVec
	limitFailures *prometheus.CounterVec
}

// NewCollector registers the sandbox metrics with reg. A nil reg uses a
// private registry so several runners can coexist in one process.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Collector{
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "runs_total",
				Help:      "Total number of script runs by strategy and outcome kind",
			},
			[]string{"strategy", "kind"},
		),
		runDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of script runs in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"strategy"},
		),
		violations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "guard_violations_total",
				Help:      "Total number of constructs rejected by the static guard",
			},
			[]string{"policy_version"},
		),
		liveChildren: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "live_children",
				Help:      "Number of sandbox child processes currently running",
			},
		),
		policyReloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "policy_reloads_total",
				Help:      "Total number of policy reload attempts by status",
			},
			[]string{"status"},
		),
		limitFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "limit_failures_total",
				Help:      "Total number of resource limits the host refused",
			},
			[]string{"strategy"},
		),
	}
}

// RecordRun records one finished run. An empty kind means success.
func (c *Collector) RecordRun(strategy, kind string, d time.Duration) {
	if c == nil {
		return
	}
	if kind == "" {
		kind = "ok"
	}
	c.runsTotal.WithLabelValues(strategy, kind).Inc()
	c.runDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// RecordViolations records n guard violations under a policy version.
func (c *Collector) RecordViolations(policyVersion string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.violations.WithLabelValues(policyVersion).Add(float64(n))
}

// ChildStarted and ChildExited track live sandbox child processes.
func (c *Collector) ChildStarted() {
	if c != nil {
		c.liveChildren.Inc()
	}
}

func (c *Collector) ChildExited() {
	if c != nil {
		c.liveChildren.Dec()
	}
}

// RecordPolicyReload records a reload attempt.
func (c *Collector) RecordPolicyReload(err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.policyReloads.WithLabelValues(status).Inc()
}

// RecordLimitFailures records n resource limits the host refused.
func (c *Collector) RecordLimitFailures(strategy string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.limitFailures.WithLabelValues(strategy).Add(float64(n))
}
