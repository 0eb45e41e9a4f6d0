// Package rules implements the deterministic rule-evaluation engine.
//
// Rules are a closed tagged union (see models.PolicyRule); the engine
// dispatches each rule to the evaluator for its archetype with an
// exhaustive switch, so adding an archetype is a compile-time-checked
// change. Evaluation is pure: identical inputs always produce identical
// results, which auditability and the test suite both depend on.
package rules

import (
	"log/slog"

	"github.com/ScorePipe/ScorePipe/internal/models"
	"github.com/ScorePipe/ScorePipe/internal/sentiment"
)

// Default matching configuration for phrase-style rules.
const (
	// DefaultFuzzyThreshold is the fuzzy similarity floor used when a
	// phrase rule enables fuzzy matching without its own threshold.
	DefaultFuzzyThreshold = 0.85
)

// Error strings recorded on indeterminate results.
const (
	errTranscriptMissing = "transcript not available"
	errSentimentMissing  = "sentiment feed not available"
)

// Opts holds configuration for the rule engine.
type Opts struct {
	FuzzyThreshold float64
}

// Option configures the rule engine.
type Option func(*Opts)

// WithFuzzyThreshold overrides the default fuzzy threshold for phrase rules.
func WithFuzzyThreshold(t float64) Option {
	return func(o *Opts) { o.FuzzyThreshold = t }
}

// Engine evaluates policy rules against one evaluation's data. Engines are
// stateless and safe for concurrent use.
type Engine struct {
	fuzzyThreshold float64
}

// NewEngine creates a rule engine with the given options.
func NewEngine(opts ...Option) *Engine {
	cfg := Opts{FuzzyThreshold: DefaultFuzzyThreshold}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = DefaultFuzzyThreshold
	}
	return &Engine{fuzzyThreshold: cfg.FuzzyThreshold}
}

// evalContext bundles the read-only inputs every evaluator sees.
type evalContext struct {
	segments []models.TranscriptSegment
	feed     sentiment.Feed
	meta     models.CallMetadata
}

// Evaluate runs every enabled rule and returns one result per rule, keyed
// by category. A malformed rule or an underivable measurement yields an
// indeterminate result for that rule only; the rest of the batch always
// completes. With no transcript at all, every rule is indeterminate.
func (e *Engine) Evaluate(ruleSet map[string][]models.PolicyRule, segments []models.TranscriptSegment, feed sentiment.Feed, meta models.CallMetadata) map[string][]models.RuleEvaluationResult {
	results := make(map[string][]models.RuleEvaluationResult, len(ruleSet))
	ctx := evalContext{segments: segments, feed: feed, meta: meta}

	for category, ruleList := range ruleSet {
		for _, rule := range ruleList {
			if !rule.Enabled {
				continue
			}
			result := e.evaluateRule(ctx, category, rule)
			results[category] = append(results[category], result)
		}
	}
	return results
}

// evaluateRule validates and dispatches one rule.
func (e *Engine) evaluateRule(ctx evalContext, category string, rule models.PolicyRule) models.RuleEvaluationResult {
	base := models.RuleEvaluationResult{
		RuleID:   rule.ID,
		Category: category,
		Severity: rule.Severity,
	}

	if err := rule.Validate(); err != nil {
		slog.Warn("rules.evaluateRule: malformed rule skipped", "rule", rule.ID, "category", category, "error", err)
		base.Passed = models.PassIndeterminate
		base.Error = "malformed rule: " + err.Error()
		return base
	}

	if len(ctx.segments) == 0 {
		base.Passed = models.PassIndeterminate
		base.Error = errTranscriptMissing
		return base
	}

	switch rule.Type {
	case models.RuleTypeBoolean:
		return e.evaluateBoolean(ctx, base, *rule.Boolean)
	case models.RuleTypeNumeric:
		return e.evaluateNumeric(ctx, base, *rule.Numeric)
	case models.RuleTypePhrase:
		return e.evaluatePhrase(ctx, base, *rule.Phrase)
	case models.RuleTypeList:
		return e.evaluateList(ctx, base, *rule.List)
	case models.RuleTypeConditional:
		return e.evaluateConditional(ctx, base, *rule.Conditional)
	case models.RuleTypeMultiStep:
		return e.evaluateMultiStep(ctx, base, *rule.MultiStep)
	case models.RuleTypeToneBased:
		return e.evaluateToneBased(ctx, base, *rule.ToneBased)
	case models.RuleTypeResolution:
		return e.evaluateResolution(ctx, base, *rule.Resolution)
	default:
		// Validate guarantees a known type; kept for exhaustiveness.
		base.Passed = models.PassIndeterminate
		base.Error = "malformed rule: unknown type"
		return base
	}
}
