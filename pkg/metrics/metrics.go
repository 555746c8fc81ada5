// Package metrics exposes Prometheus collectors for every component of the
// swarm coordination core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarm_agents_total",
			Help: "Total number of registered agents by state",
		},
		[]string{"state"},
	)

	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_messages_total",
			Help: "Total number of messages routed by kind",
		},
		[]string{"kind"},
	)

	TopologySwitchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarm_topology_switches_total",
			Help: "Total number of successful topology switches",
		},
	)

	TopologyHealth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarm_topology_health",
			Help: "Topology health classification (0=healthy, 1=degraded, 2=critical)",
		},
	)

	ConsensusDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_consensus_decisions_total",
			Help: "Total number of consensus decisions by algorithm and outcome",
		},
		[]string{"algorithm", "decision"},
	)

	ConsensusDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarm_consensus_duration_seconds",
			Help:    "Time taken to reach a consensus decision",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"algorithm"},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swarm_sync_duration_seconds",
			Help:    "Time taken for a StateSynchronizer.synchronize_state call",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_sync_outcomes_total",
			Help: "Total number of synchronize_state outcomes",
		},
		[]string{"outcome"},
	)

	HeartbeatTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_heartbeat_transitions_total",
			Help: "Total number of agent health state transitions",
		},
		[]string{"from", "to"},
	)

	HookInvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarm_hook_invocation_duration_seconds",
			Help:    "Time taken by a single hook invocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase", "event_type"},
	)

	HookResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_hook_results_total",
			Help: "Total number of hook invocations by outcome",
		},
		[]string{"outcome"},
	)

	PatternsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_patterns_written_total",
			Help: "Total number of patterns persisted by type",
		},
		[]string{"type"},
	)

	PatternsCleanedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarm_patterns_cleaned_total",
			Help: "Total number of pattern files removed or compacted during cleanup",
		},
	)
)

func init() {
	prometheus.MustRegister(
		AgentsTotal,
		MessagesTotal,
		TopologySwitchesTotal,
		TopologyHealth,
		ConsensusDecisionsTotal,
		ConsensusDuration,
		SyncDuration,
		SyncOutcomesTotal,
		HeartbeatTransitionsTotal,
		HookInvocationDuration,
		HookResultsTotal,
		PatternsWrittenTotal,
		PatternsCleanedTotal,
	)
}

// Handler returns the Prometheus HTTP scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration for later histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a plain histogram.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
