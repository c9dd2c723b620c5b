package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for processed events.
const (
	OutcomeNew             = "new"
	OutcomeDuplicate       = "duplicate"
	OutcomeRejected        = "rejected"
	OutcomePendingApproval = "pending_approval"
)

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage_engine",
			Name:      "events_total",
			Help:      "Error events received, partitioned by gate outcome.",
		},
		[]string{"outcome"},
	)

	runSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "triage_engine",
			Name:      "run_seconds",
			Help:      "Wall-clock duration of a full run (enrichment through persistence).",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 240},
		},
	)

	sourceFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage_engine",
			Name:      "source_fetch_total",
			Help:      "Enrichment source fetches, partitioned by source and status.",
		},
		[]string{"source", "status"},
	)

	agentTurns = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "triage_engine",
			Name:      "agent_turns",
			Help:      "Reasoning turns consumed per run.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)
)

// Register attaches the triage-engine collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsTotal,
		runSeconds,
		sourceFetchTotal,
		agentTurns,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEvent counts one gate decision.
func ObserveEvent(outcome string) {
	eventsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRun records a completed run's duration.
func ObserveRun(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	runSeconds.Observe(duration.Seconds())
}

// ObserveSourceFetch counts one enrichment source outcome.
func ObserveSourceFetch(source, status string) {
	sourceFetchTotal.WithLabelValues(source, status).Inc()
}

// ObserveAgentTurns records turns consumed by one reasoning loop.
func ObserveAgentTurns(turns int) {
	if turns < 0 {
		turns = 0
	}
	agentTurns.Observe(float64(turns))
}
