// Package classifier adapts the external zero-temperature classifier into
// the evaluation pipeline.
//
// The adapter invokes the model with deterministic settings, validates the
// response strictly, retries a bounded number of times with exponential
// backoff, and falls back to a verdict derived purely from rule results
// rather than failing the evaluation. A critical-rule override pass runs
// last, regardless of where the grades came from.
package classifier

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ScorePipe/ScorePipe/internal/genai"
	"github.com/ScorePipe/ScorePipe/internal/models"
	"github.com/ScorePipe/ScorePipe/internal/sentiment"
)

// Invocation defaults.
const (
	// DefaultTimeout bounds one classifier attempt.
	DefaultTimeout = 60 * time.Second
	// DefaultMaxAttempts bounds the total attempts (first try + retries).
	DefaultMaxAttempts = 3
	// DefaultBackoffBase is the first retry delay; each retry multiplies it
	// by DefaultBackoffFactor (1s, 3s, 9s, ...).
	DefaultBackoffBase   = 1 * time.Second
	DefaultBackoffFactor = 3
)

// Opts holds configuration for the classifier adapter.
type Opts struct {
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
}

// Option configures the classifier adapter.
type Option func(*Opts)

// WithTimeout bounds each classifier attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithMaxAttempts bounds the attempt count.
func WithMaxAttempts(n int) Option {
	return func(o *Opts) { o.MaxAttempts = n }
}

// WithBackoffBase sets the first retry delay.
func WithBackoffBase(d time.Duration) Option {
	return func(o *Opts) { o.BackoffBase = d }
}

// Adapter invokes the external classifier under the strict contract.
type Adapter struct {
	client      genai.ClientInterface
	timeout     time.Duration
	maxAttempts int
	backoffBase time.Duration
}

// NewAdapter creates a classifier adapter. A nil client disables the
// classifier entirely; every evaluation then takes the deterministic
// fallback.
func NewAdapter(client genai.ClientInterface, opts ...Option) *Adapter {
	cfg := Opts{
		Timeout:     DefaultTimeout,
		MaxAttempts: DefaultMaxAttempts,
		BackoffBase: DefaultBackoffBase,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	return &Adapter{
		client:      client,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
	}
}

// Outcome is the accepted grading result plus its provenance for audit.
type Outcome struct {
	Grades []models.CategoryGrade
	// UsedClassifier is set when an accepted classifier response supplied
	// the grades; Fallback when the deterministic fallback did.
	UsedClassifier bool
	Fallback       bool
	// SchemaInvalid records that at least one response failed validation,
	// which the confidence engine penalizes.
	SchemaInvalid bool
	Overrides     []models.CriticalOverride
}

// Grade produces one rubric level per category. It never returns an error:
// classifier trouble degrades to the deterministic fallback so the
// evaluation always completes. Context cancellation is honored between and
// during attempts.
func (a *Adapter) Grade(ctx context.Context, evaluationID string, categories []models.ClassifierCategory, ruleResults map[string][]models.RuleEvaluationResult, feed sentiment.Feed, segments []models.TranscriptSegment) Outcome {
	if len(categories) == 0 {
		return Outcome{}
	}

	var out Outcome
	if a.client == nil {
		out.Fallback = true
		out.Grades = deterministicGrades(categories, ruleResults)
		applyCriticalOverrides(&out, categories, ruleResults)
		return out
	}

	req := BuildRequest(evaluationID, categories, ruleResults, feed, segments)
	payload, err := req.CanonicalJSON()
	if err != nil {
		slog.Error("classifier.Grade: payload serialization failed, using fallback", "evaluation", evaluationID, "error", err)
		out.Fallback = true
		out.Grades = deterministicGrades(categories, ruleResults)
		applyCriticalOverrides(&out, categories, ruleResults)
		return out
	}
	messages := buildMessages(payload)
	seed := Seed(evaluationID)

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, a.timeout)
		raw, err := a.client.GenerateDeterministic(attemptCtx, messages, seed)
		cancel()

		if err == nil {
			grades, verr := parseAndValidate(raw, req)
			if verr == nil {
				out.UsedClassifier = true
				out.Grades = gradesFromMap(grades, categories)
				applyCriticalOverrides(&out, categories, ruleResults)
				slog.Debug("classifier.Grade: response accepted", "evaluation", evaluationID, "attempt", attempt)
				return out
			}
			err = verr
		}
		if errors.Is(err, ErrValidation) {
			out.SchemaInvalid = true
		}
		slog.Warn("classifier.Grade: attempt failed", "evaluation", evaluationID, "attempt", attempt, "error", err)

		if attempt == a.maxAttempts || ctx.Err() != nil {
			break
		}
		if !a.sleepBackoff(ctx, attempt) {
			break
		}
	}

	slog.Warn("classifier.Grade: exhausted attempts, using deterministic fallback", "evaluation", evaluationID)
	out.Fallback = true
	out.Grades = deterministicGrades(categories, ruleResults)
	applyCriticalOverrides(&out, categories, ruleResults)
	return out
}

// sleepBackoff waits the exponential delay for the given attempt number,
// returning false when the context is cancelled first.
func (a *Adapter) sleepBackoff(ctx context.Context, attempt int) bool {
	delay := a.backoffBase
	for i := 1; i < attempt; i++ {
		delay *= DefaultBackoffFactor
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
