package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pdf_checker"

var (
	// Submissions counts uploads by result: created, deduplicated, rejected.
	Submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "Uploaded documents by submission result.",
	}, []string{"result"})

	// Claims counts claim attempts per stage: claimed, recovered, conflict.
	Claims = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claims_total",
		Help:      "Claim attempts per stage and result.",
	}, []string{"stage", "result"})

	// StageOutcomes counts how each stage run ended.
	StageOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_outcomes_total",
		Help:      "Stage runs per stage, trigger and outcome.",
	}, []string{"stage", "trigger", "outcome"})

	// CollaboratorDuration observes analyzer and summarizer call latency.
	CollaboratorDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "collaborator_duration_seconds",
		Help:      "Duration of analyzer and summarizer calls.",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	// SweepDuration observes whole sweep runs.
	SweepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "Duration of sweep runs per stage.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})
)

func init() {
	prometheus.MustRegister(Submissions, Claims, StageOutcomes, CollaboratorDuration, SweepDuration)
}
