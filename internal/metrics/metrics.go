// Package metrics exposes Prometheus instruments for the scoring engine,
// the segment synchronizer and the sweep workers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "leadscore"

var (
	// Persisted score writes partitioned by mutation kind
	ScoreChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_changes_total",
			Help:      "Total number of persisted lead score changes",
		},
		[]string{"operation"},
	)

	// Score points removed by decay
	DecayPoints = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decay_points_total",
			Help:      "Total score points removed by inactivity decay",
		},
	)

	// Lead-level synchronizations partitioned by scope and outcome
	SegmentSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_syncs_total",
			Help:      "Total number of lead segment synchronizations",
		},
		[]string{"scope", "outcome"},
	)

	// Data-quality problems found in segment rules
	RuleWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_warnings_total",
			Help:      "Total number of malformed segment rules encountered",
		},
	)

	// Events handed to sinks partitioned by event type and outcome
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of domain events published",
		},
		[]string{"type", "outcome"},
	)

	// Wall time of bulk sweeps
	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of bulk decay and synchronization sweeps",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800},
		},
		[]string{"job"},
	)

	// Leads visited by sweeps partitioned by job and result
	SweepLeads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_leads_total",
			Help:      "Leads processed by bulk sweeps",
		},
		[]string{"job", "result"},
	)

	// Sweep runs that were skipped because another host held the lock
	SweepsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_skipped_total",
			Help:      "Sweeps skipped because the distributed lock was held elsewhere",
		},
		[]string{"job"},
	)
)
