package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors shared by the compliance and coin
// services.
type Metrics struct {
	SweepRuns     *prometheus.CounterVec
	SweepDuration *prometheus.HistogramVec
	Violations    *prometheus.CounterVec
	AuditWrites   *prometheus.CounterVec
	LedgerOps     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esports",
			Subsystem: "compliance",
			Name:      "sweeps_total",
			Help:      "Compliance sweeps by kind and outcome.",
		}, []string{"kind", "outcome"}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "esports",
			Subsystem: "compliance",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of completed compliance sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"kind"}),
		Violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esports",
			Subsystem: "compliance",
			Name:      "violations_total",
			Help:      "Violations found by type and severity.",
		}, []string{"type", "severity"}),
		AuditWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esports",
			Subsystem: "compliance",
			Name:      "audit_writes_total",
			Help:      "Audit log writes by outcome.",
		}, []string{"outcome"}),
		LedgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esports",
			Subsystem: "coins",
			Name:      "ledger_operations_total",
			Help:      "Coin ledger operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}
	reg.MustRegister(m.SweepRuns, m.SweepDuration, m.Violations, m.AuditWrites, m.LedgerOps)
	return m
}

func (m *Metrics) observeViolations(result ComplianceResult) {
	if m == nil {
		return
	}
	for _, v := range result.Violations {
		m.Violations.WithLabelValues(string(v.Type), string(v.Severity)).Inc()
	}
}

func (m *Metrics) ledger(operation, outcome string) {
	if m == nil {
		return
	}
	m.LedgerOps.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) auditWrite(outcome string) {
	if m == nil {
		return
	}
	m.AuditWrites.WithLabelValues(outcome).Inc()
}
