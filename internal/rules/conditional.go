// Package rules implements the deterministic rule-evaluation engine.
//
// Conditional rules evaluate a field/operator/value predicate against call
// metadata, derived transcript features, or overall sentiment; when the
// predicate holds, the nested rule is evaluated, otherwise the rule
// trivially passes.
package rules

import (
	"fmt"
	"strings"

	"github.com/ScorePipe/ScorePipe/internal/models"
)

// Derived condition fields beyond numeric measurements.
const (
	FieldAgentTurns       = "agent_turns"
	FieldCustomerTurns    = "customer_turns"
	FieldDurationSeconds  = "duration_seconds"
	FieldOverallSentiment = "overall_sentiment"
)

// evaluateConditional checks the condition, then either trivially passes
// or recursively evaluates the nested rule under the outer rule's
// identity.
func (e *Engine) evaluateConditional(ctx evalContext, base models.RuleEvaluationResult, rule models.ConditionalRule) models.RuleEvaluationResult {
	holds, err := evalCondition(ctx, rule.Condition)
	if err != nil {
		base.Passed = models.PassIndeterminate
		base.Error = err.Error()
		return base
	}
	if !holds {
		base.Passed = models.PassTrue
		base.Note = "condition not met"
		return base
	}

	nested := e.evaluateRule(ctx, base.Category, *rule.Then)
	// The nested verdict is reported under the outer rule's identity.
	nested.RuleID = base.RuleID
	nested.Category = base.Category
	nested.Severity = base.Severity
	return nested
}

// evalCondition resolves the field and applies the typed comparison.
func evalCondition(ctx evalContext, cond models.Condition) (bool, error) {
	if cond.NumberValue != nil {
		actual, ok := numericField(ctx, cond.Field)
		if !ok {
			return false, fmt.Errorf("condition field %s could not be derived", cond.Field)
		}
		if !models.IsValidCompareOp(cond.Operator) && cond.Operator != models.OpNotEqual {
			return false, fmt.Errorf("condition operator %q not valid for numbers", cond.Operator)
		}
		return compareNumeric(actual, cond.Operator, *cond.NumberValue), nil
	}

	actual, ok := stringField(ctx, cond.Field)
	if !ok {
		return false, fmt.Errorf("condition field %s could not be derived", cond.Field)
	}
	expect := *cond.StringValue
	switch cond.Operator {
	case models.OpEqual:
		return strings.EqualFold(actual, expect), nil
	case models.OpNotEqual:
		return !strings.EqualFold(actual, expect), nil
	case models.OpContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(expect)), nil
	default:
		return false, fmt.Errorf("condition operator %q not valid for strings", cond.Operator)
	}
}

// numericField resolves a numeric condition field: derived transcript
// features first, then numeric metadata, then measurement names.
func numericField(ctx evalContext, field string) (float64, bool) {
	switch field {
	case FieldAgentTurns:
		return float64(countTurns(ctx.segments, models.SpeakerAgent)), true
	case FieldCustomerTurns:
		return float64(countTurns(ctx.segments, models.SpeakerCustomer)), true
	case FieldDurationSeconds:
		v, err := deriveMeasurement(ctx, MeasurementCallDuration)
		return v, err == nil
	}
	if v, ok := ctx.meta.Number(field); ok {
		return v, true
	}
	if v, err := deriveMeasurement(ctx, field); err == nil {
		return v, true
	}
	return 0, false
}

// stringField resolves a string condition field: overall sentiment or a
// string metadata fact.
func stringField(ctx evalContext, field string) (string, bool) {
	if field == FieldOverallSentiment {
		if ctx.feed.Empty() {
			return "", false
		}
		return ctx.feed.Overall(), true
	}
	return ctx.meta.String(field)
}

func countTurns(segments []models.TranscriptSegment, sp models.Speaker) int {
	n := 0
	for _, seg := range segments {
		if seg.Speaker == sp {
			n++
		}
	}
	return n
}
