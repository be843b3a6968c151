package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles the Prometheus instruments the service emits. A dedicated
// registry keeps the scrape surface limited to what we register here.
type Metrics struct {
	registry *prometheus.Registry

	AuthAttempts  *prometheus.CounterVec
	Lockouts      prometheus.Counter
	CodesIssued   *prometheus.CounterVec
	CodeVerifies  *prometheus.CounterVec
	Rotations     prometheus.Counter
	ReplaysCaught prometheus.Counter
	ResetsStarted prometheus.Counter
	ResetsDone    prometheus.Counter
}

// NewMetrics registers the service counters on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "identity",
			Name:      "auth_attempts_total",
			Help:      "Authentication attempts by outcome",
		}, []string{"result"}),
		Lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "identity",
			Name:      "lockouts_total",
			Help:      "Authentication attempts rejected by the lockout window",
		}),
		CodesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "identity",
			Name:      "codes_issued_total",
			Help:      "One-time codes issued by purpose",
		}, []string{"purpose"}),
		CodeVerifies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "identity",
			Name:      "code_verifications_total",
			Help:      "One-time code verification outcomes",
		}, []string{"result"}),
		Rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "identity",
			Name:      "grant_rotations_total",
			Help:      "Successful refresh grant rotations",
		}),
		ReplaysCaught: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "identity",
			Name:      "grant_replays_total",
			Help:      "Refresh grant reuse attempts detected",
		}),
		ResetsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "identity",
			Name:      "resets_initiated_total",
			Help:      "Credential reset flows initiated",
		}),
		ResetsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "identity",
			Name:      "resets_completed_total",
			Help:      "Credential reset flows completed",
		}),
	}

	registry.MustRegister(
		m.AuthAttempts,
		m.Lockouts,
		m.CodesIssued,
		m.CodeVerifies,
		m.Rotations,
		m.ReplaysCaught,
		m.ResetsStarted,
		m.ResetsDone,
	)

	return m
}

// Registry exposes the registry for the metrics HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
