package agent

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirrors pkg/dispute.Metrics' plain counters as real Prometheus
// collectors, the way the teacher's LifecycleMetrics shape suggests a
// production deployment would. The agent increments these itself as it
// dispatches events; they are not read from pkg/dispute.Metrics, which keeps
// its own separate counts.
type Metrics struct {
	ChallengesOpened   prometheus.Counter
	ChallengesResolved prometheus.Counter
	ChallengesExpired  prometheus.Counter
	ProofsAccepted     prometheus.Counter
	ProofsRejected     prometheus.Counter
	EventsProcessed    *prometheus.CounterVec
	OpenChallenges     prometheus.Gauge
}

// NewMetrics registers this agent's collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChallengesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zkopml", Subsystem: "agent", Name: "challenges_opened_total",
			Help: "Number of dispute challenges opened.",
		}),
		ChallengesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zkopml", Subsystem: "agent", Name: "challenges_resolved_total",
			Help: "Number of dispute challenges resolved.",
		}),
		ChallengesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zkopml", Subsystem: "agent", Name: "challenges_expired_total",
			Help: "Number of dispute challenges expired by timeout.",
		}),
		ProofsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zkopml", Subsystem: "agent", Name: "proofs_accepted_total",
			Help: "Number of single-operator zk proofs accepted.",
		}),
		ProofsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zkopml", Subsystem: "agent", Name: "proofs_rejected_total",
			Help: "Number of single-operator zk proofs rejected.",
		}),
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zkopml", Subsystem: "agent", Name: "events_processed_total",
			Help: "Number of events processed, partitioned by kind and outcome.",
		}, []string{"kind", "outcome"}),
		OpenChallenges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zkopml", Subsystem: "agent", Name: "open_challenges",
			Help: "Current number of challenges not yet resolved or expired.",
		}),
	}

	reg.MustRegister(m.ChallengesOpened, m.ChallengesResolved, m.ChallengesExpired,
		m.ProofsAccepted, m.ProofsRejected, m.EventsProcessed, m.OpenChallenges)
	return m
}
