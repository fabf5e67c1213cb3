package rbac

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Decision outcomes recorded by the resolver.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
	DecisionError = "error"
)

// Metrics exposes Prometheus collectors for authorization and repair.
type Metrics struct {
	decisions *prometheus.CounterVec
	changes   *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// NewMetrics registers the RBAC metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultMetricsOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accessctl_authz_decisions_total",
		Help: "Authorization decisions partitioned by outcome.",
	}, []string{"outcome"})
	changes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accessctl_repair_changes_total",
		Help: "Repair findings partitioned by step and outcome.",
	}, []string{"step", "outcome"})
	registerer.MustRegister(decisions, changes)
	return &Metrics{decisions: decisions, changes: changes}
}

func (m *Metrics) observeDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeStep(step StepReport) {
	if m == nil {
		return
	}
	for _, change := range step.Changes {
		m.changes.WithLabelValues(step.Name, string(change.Outcome)).Inc()
	}
}
