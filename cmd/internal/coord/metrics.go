package coord

import "github.com/prometheus/client_golang/prometheus"

// Metrics carries the coordinator's Prometheus instruments. All methods are
// nil-safe so the service can run without a registry in tests.
type Metrics struct {
	lockAcquires *prometheus.CounterVec
	joins        *prometheus.CounterVec
	casRetries   prometheus.Counter
}

// NewMetrics registers the coordinator instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lockAcquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "coord",
			Name:      "lock_acquire_total",
			Help:      "Prompt lock acquisition attempts by outcome.",
		}, []string{"outcome"}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "coord",
			Name:      "join_total",
			Help:      "Invite join attempts by outcome.",
		}, []string{"outcome"}),
		casRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "coord",
			Name:      "cas_retry_total",
			Help:      "Optimistic-concurrency retries performed by the fallback store.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.lockAcquires, m.joins, m.casRetries)
	}
	return m
}

func (m *Metrics) lockAcquire(outcome string) {
	if m == nil {
		return
	}
	m.lockAcquires.WithLabelValues(outcome).Inc()
}

func (m *Metrics) join(outcome string) {
	if m == nil {
		return
	}
	m.joins.WithLabelValues(outcome).Inc()
}

// CASRetryHook returns a func suitable for PostgresCASStore's retry hook.
func (m *Metrics) CASRetryHook() func() {
	if m == nil {
		return func() {}
	}
	return m.casRetries.Inc
}
