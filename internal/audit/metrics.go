package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the audit subsystem's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Recorded      prometheus.Counter
	WriteFailures prometheus.Counter
	Dropped       prometheus.Counter
	Purged        *prometheus.CounterVec
	RetentionRuns *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg (prometheus.DefaultRegisterer in main).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Recorded: f.NewCounter(prometheus.CounterOpts{
			Name: "admin_audit_events_recorded_total",
			Help: "Audit events persisted",
		}),
		WriteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "admin_audit_write_failures_total",
			Help: "Audit events lost because the store rejected or failed the write",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "admin_audit_events_dropped_total",
			Help: "Audit events dropped because the dispatch queue was full or closed",
		}),
		Purged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_audit_events_purged_total",
			Help: "Audit events removed by retention and maintenance",
		}, []string{"reason"}),
		RetentionRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_audit_retention_runs_total",
			Help: "Retention runs by outcome",
		}, []string{"result"}),
	}
}

func (m *Metrics) recorded() {
	if m != nil {
		m.Recorded.Inc()
	}
}

func (m *Metrics) writeFailed() {
	if m != nil {
		m.WriteFailures.Inc()
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *Metrics) purged(reason string, n int64) {
	if m != nil && n > 0 {
		m.Purged.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) retentionRun(result string) {
	if m != nil {
		m.RetentionRuns.WithLabelValues(result).Inc()
	}
}

// ObservePurge counts rows removed outside a retention run, e.g. by an admin maintenance call.
func (m *Metrics) ObservePurge(reason string, n int64) { m.purged(reason, n) }
