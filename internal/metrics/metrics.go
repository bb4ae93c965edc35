// Package metrics instruments automation cycles and punch actions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Set holds punchd's collectors. A nil *Set is a safe no-op so tests
// and trimmed-down wiring can skip instrumentation.
type Set struct {
	cyclesTotal    *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	actionsTotal   *prometheus.CounterVec
	lockContention prometheus.Counter
}

// New registers punchd's collectors on reg.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "punchd_cycles_total",
			Help: "Automation cycles run, by trigger source.",
		}, []string{"source"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "punchd_cycle_duration_seconds",
			Help:    "Duration of one full automation cycle.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "punchd_actions_total",
			Help: "Executed punch actions, by action and result.",
		}, []string{"action", "result"}),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "punchd_lock_contention_total",
			Help: "Triggers rejected because a cycle was already running.",
		}),
	}
	reg.MustRegister(s.cyclesTotal, s.cycleDuration, s.actionsTotal, s.lockContention)
	return s
}

func (s *Set) CycleRan(source string, d time.Duration) {
	if s == nil {
		return
	}
	s.cyclesTotal.WithLabelValues(source).Inc()
	s.cycleDuration.Observe(d.Seconds())
}

func (s *Set) ActionExecuted(action string, success bool) {
	if s == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	s.actionsTotal.WithLabelValues(action, result).Inc()
}

func (s *Set) LockContended() {
	if s == nil {
		return
	}
	s.lockContention.Inc()
}
