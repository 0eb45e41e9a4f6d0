// Package metrics defines the prometheus instruments for the evaluation
// pipeline. Instruments exist unregistered from package init so callers
// can always update them; Init registers them with a registry when the
// embedding process wants to expose them.
package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EvaluationsStarted counts evaluation runs begun.
	EvaluationsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scorepipe_evaluations_started_total",
		Help: "Number of evaluation runs started",
	})

	// EvaluationsCompleted counts finished runs by result.
	EvaluationsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scorepipe_evaluations_completed_total",
		Help: "Number of evaluation runs completed, by result",
	}, []string{"result"}) // passed, failed, error

	// EvaluationDuration observes end-to-end run duration.
	EvaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scorepipe_evaluation_duration_seconds",
		Help:    "End-to-end evaluation run duration",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// ClassifierFallbacks counts runs graded by the deterministic fallback.
	ClassifierFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scorepipe_classifier_fallbacks_total",
		Help: "Number of runs that fell back to deterministic grading",
	})

	// HumanReviewFlagged counts runs routed to human review.
	HumanReviewFlagged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scorepipe_human_review_flagged_total",
		Help: "Number of runs flagged for human review",
	})
)

// Init registers all pipeline instruments with the given registerer.
func Init(reg prometheus.Registerer) {
	slog.Debug("metrics.Init: registering pipeline instruments")
	reg.MustRegister(
		EvaluationsStarted,
		EvaluationsCompleted,
		EvaluationDuration,
		ClassifierFallbacks,
		HumanReviewFlagged,
	)
}
