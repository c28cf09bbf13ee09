package service

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the Prometheus instrumentation exposed by a Service.
// Purely observational; none of it affects operation semantics.
type metrics struct {
	requests       *prometheus.CounterVec
	conflicts      prometheus.Counter
	proofsOmitted  prometheus.Counter
	wipeViolations prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smtd_requests_total",
			Help: "Total tree service operations, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smtd_transaction_conflicts_total",
			Help: "Total backing-store transaction conflicts observed.",
		}),
		proofsOmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smtd_proofs_omitted_total",
			Help: "Total per-key proof generation failures, logged and dropped from the result mapping.",
		}),
		wipeViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smtd_wipe_postcondition_violations_total",
			Help: "Total Wipe calls whose root was not empty after zeroing every observed leaf.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.conflicts, m.proofsOmitted, m.wipeViolations)
	}
	return m
}

func (m *metrics) observe(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
}
