// Package pipeline sequences the evaluation stages for one recording:
// transcript validation, behavior detection, deterministic rules,
// classifier grading, scoring, confidence and final assembly. Runs are
// independent of each other; a batch helper evaluates many recordings
// with bounded parallelism.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ScorePipe/ScorePipe/internal/classifier"
	"github.com/ScorePipe/ScorePipe/internal/confidence"
	"github.com/ScorePipe/ScorePipe/internal/detection"
	"github.com/ScorePipe/ScorePipe/internal/explain"
	"github.com/ScorePipe/ScorePipe/internal/messaging"
	"github.com/ScorePipe/ScorePipe/internal/metrics"
	"github.com/ScorePipe/ScorePipe/internal/models"
	"github.com/ScorePipe/ScorePipe/internal/rules"
	"github.com/ScorePipe/ScorePipe/internal/scoring"
	"github.com/ScorePipe/ScorePipe/internal/sentiment"
	"github.com/ScorePipe/ScorePipe/internal/store"
)

// DefaultBatchParallelism bounds concurrent runs in EvaluateBatch.
const DefaultBatchParallelism = 4

// Opts holds configuration options for the orchestrator.
type Opts struct {
	Repository store.EvaluationRepository
	Publisher  messaging.Publisher
	Confidence confidence.Weights
}

// Option configures the orchestrator.
type Option func(*Opts)

// WithRepository persists every finished evaluation.
func WithRepository(repo store.EvaluationRepository) Option {
	return func(o *Opts) { o.Repository = repo }
}

// WithPublisher publishes every finished evaluation.
func WithPublisher(pub messaging.Publisher) Option {
	return func(o *Opts) { o.Publisher = pub }
}

// WithConfidenceWeights overrides the confidence signal weighting.
func WithConfidenceWeights(w confidence.Weights) Option {
	return func(o *Opts) { o.Confidence = w }
}

// Orchestrator wires the stage engines together and runs evaluations.
type Orchestrator struct {
	detector   *detection.Engine
	rules      *rules.Engine
	classifier *classifier.Adapter
	confidence *confidence.Engine
	repo       store.EvaluationRepository
	publisher  messaging.Publisher
}

// NewOrchestrator creates an orchestrator around the three stateful
// engines. Repository and publisher are optional collaborators.
func NewOrchestrator(detector *detection.Engine, ruleEngine *rules.Engine, adapter *classifier.Adapter, opts ...Option) *Orchestrator {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Orchestrator{
		detector:   detector,
		rules:      ruleEngine,
		classifier: adapter,
		confidence: confidence.NewEngine(cfg.Confidence),
		repo:       cfg.Repository,
		publisher:  cfg.Publisher,
	}
}

// Evaluate runs the full pipeline for one recording. A missing transcript
// short-circuits: the returned evaluation carries the error and null rule
// results, and the error is also returned. All other outcomes return a
// complete evaluation and a nil error.
func (o *Orchestrator) Evaluate(ctx context.Context, input models.EvaluationInput) (models.FinalEvaluation, error) {
	start := time.Now()
	metrics.EvaluationsStarted.Inc()

	final := models.FinalEvaluation{
		EvaluationID: input.EvaluationID,
		PolicyName:   input.Policy.Name,
		EvaluatedAt:  start.UTC(),
	}
	if final.EvaluationID == "" {
		final.EvaluationID = uuid.NewString()
	}
	slog.Debug("Orchestrator.Evaluate: run started", "evaluation", final.EvaluationID, "policy", input.Policy.Name)

	if err := models.ValidateTranscript(input.Segments); err != nil {
		final.Error = err.Error()
		final.RuleResults = nil
		metrics.EvaluationsCompleted.WithLabelValues("error").Inc()
		slog.Error("Orchestrator.Evaluate: transcript rejected", "evaluation", final.EvaluationID, "error", err)
		return final, fmt.Errorf("evaluation %s: %w", final.EvaluationID, err)
	}
	if err := input.Policy.Validate(); err != nil {
		final.Error = err.Error()
		final.RuleResults = nil
		metrics.EvaluationsCompleted.WithLabelValues("error").Inc()
		slog.Error("Orchestrator.Evaluate: policy rejected", "evaluation", final.EvaluationID, "error", err)
		return final, fmt.Errorf("evaluation %s: %w", final.EvaluationID, err)
	}

	feed := sentiment.NewFeed(input.Sentiment)

	// Stage order then behavior order keeps detection output deterministic.
	detectionsByID := make(map[string]models.DetectionResult)
	for _, stage := range input.Policy.Stages {
		for _, behavior := range stage.Behaviors {
			if err := ctx.Err(); err != nil {
				return final, err
			}
			result := o.detector.Detect(ctx, input.Segments, behavior)
			detectionsByID[behavior.ID] = result
			final.Detections = append(final.Detections, result)
		}
	}

	final.RuleResults = o.rules.Evaluate(input.Policy.Rules, input.Segments, feed, input.Metadata)

	outcome := o.classifier.Grade(ctx, final.EvaluationID, input.Policy.Categories, final.RuleResults, feed, input.Segments)
	final.Grades = outcome.Grades
	final.Overrides = outcome.Overrides
	final.ClassifierUsed = outcome.UsedClassifier
	final.ClassifierFallback = outcome.Fallback
	if outcome.Fallback {
		metrics.ClassifierFallbacks.Inc()
	}

	scorer := scoring.NewEngine(input.Policy.Scoring)
	scored := scorer.Score(input.Policy.Stages, detectionsByID, final.RuleResults, input.Policy.Rules)
	final.Stages = scored.Stages
	final.OverallScore = scored.OverallScore
	final.Passed = scored.Passed
	final.FailureReason = scored.FailureReason
	final.TotalPenaltyPoints = scored.TotalPenaltyPoints
	final.Violations = scored.Violations
	final.RequiresHumanReview = scored.RequiresHumanReview

	final.Confidence = o.confidence.Compute(confidence.Input{
		Segments:      input.Segments,
		Detections:    final.Detections,
		Stages:        final.Stages,
		RuleResults:   final.RuleResults,
		OverallScore:  scored.RawOverall,
		SchemaInvalid: outcome.SchemaInvalid,
	})
	if final.Confidence.Score < scorer.Config().OverallConfidenceReviewThreshold {
		final.RequiresHumanReview = true
	}
	if final.RequiresHumanReview {
		metrics.HumanReviewFlagged.Inc()
	}

	o.deliver(ctx, final)

	result := "failed"
	if final.Passed {
		result = "passed"
	}
	metrics.EvaluationsCompleted.WithLabelValues(result).Inc()
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	slog.Debug("Orchestrator.Evaluate: run finished", "evaluation", final.EvaluationID,
		"score", final.OverallScore, "passed", final.Passed,
		"confidence", final.Confidence.Score, "review", final.RequiresHumanReview)
	return final, nil
}

// Explain renders the narrative report for a finished evaluation.
func (o *Orchestrator) Explain(final models.FinalEvaluation) explain.Report {
	return explain.Explain(final)
}

// deliver hands the finished evaluation to the optional collaborators.
// Delivery failures are logged, not fatal; the evaluation itself is sound.
func (o *Orchestrator) deliver(ctx context.Context, final models.FinalEvaluation) {
	if o.repo != nil {
		if err := o.repo.SaveEvaluation(final); err != nil {
			slog.Error("Orchestrator.deliver: persist failed", "evaluation", final.EvaluationID, "error", err)
		}
	}
	if o.publisher != nil {
		if err := o.publisher.PublishEvaluation(ctx, final); err != nil {
			slog.Error("Orchestrator.deliver: publish failed", "evaluation", final.EvaluationID, "error", err)
		}
	}
}

// BatchResult pairs one input's evaluation with its fatal error, if any.
type BatchResult struct {
	Final models.FinalEvaluation
	Err   error
}

// EvaluateBatch evaluates many recordings with at most parallelism
// concurrent runs. Results keep input order. A fatal input error on one
// run never stops the others; only context cancellation aborts the batch.
func (o *Orchestrator) EvaluateBatch(ctx context.Context, inputs []models.EvaluationInput, parallelism int) ([]BatchResult, error) {
	if parallelism <= 0 {
		parallelism = DefaultBatchParallelism
	}
	results := make([]BatchResult, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, input := range inputs {
		i, input := i, input
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			final, err := o.Evaluate(gctx, input)
			results[i] = BatchResult{Final: final, Err: err}
			// Per-run input errors are recorded, not propagated; returning
			// one would cancel the sibling runs.
			if gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	slog.Debug("Orchestrator.EvaluateBatch: batch finished", "runs", len(inputs), "parallelism", parallelism)
	return results, nil
}
