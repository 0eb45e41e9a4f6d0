// Package rules implements the deterministic rule-evaluation engine.
//
// Numeric rules compare a derived measurement against a threshold. A
// measurement that cannot be derived yields an indeterminate result,
// recorded as an error — never a silent pass.
package rules

import (
	"fmt"

	"github.com/ScorePipe/ScorePipe/internal/models"
)

// Built-in measurement names. Anything else is looked up in the numeric
// call metadata.
const (
	// MeasurementGreetWithin is the start time of the first agent utterance.
	MeasurementGreetWithin = "greet_within_seconds"
	// MeasurementMaxSilence is the longest gap between consecutive segments.
	MeasurementMaxSilence = "max_silence_seconds"
	// MeasurementCallDuration is the end time of the last segment, or the
	// call_duration_seconds metadata fact when present.
	MeasurementCallDuration = "call_duration_seconds"
	// MeasurementAgentTalkRatio is agent speaking time over total speaking time.
	MeasurementAgentTalkRatio = "agent_talk_ratio"
)

// evaluateNumeric derives the named measurement and applies the operator.
func (e *Engine) evaluateNumeric(ctx evalContext, base models.RuleEvaluationResult, rule models.NumericRule) models.RuleEvaluationResult {
	threshold := rule.Threshold
	base.RequiredValue = &threshold
	base.Operator = rule.Operator

	actual, err := deriveMeasurement(ctx, rule.Measurement)
	if err != nil {
		base.Passed = models.PassIndeterminate
		base.Error = err.Error()
		return base
	}
	base.ActualValue = &actual

	if compareNumeric(actual, rule.Operator, rule.Threshold) {
		base.Passed = models.PassTrue
	} else {
		base.Passed = models.PassFalse
	}
	return base
}

// deriveMeasurement computes a named measurement from the transcript or
// metadata. Metadata wins for call duration so collaborators can supply
// the authoritative recording length.
func deriveMeasurement(ctx evalContext, name string) (float64, error) {
	switch name {
	case MeasurementGreetWithin:
		for _, seg := range ctx.segments {
			if seg.Speaker == models.SpeakerAgent {
				return seg.StartSeconds(), nil
			}
		}
		return 0, fmt.Errorf("measurement %s: no agent utterance in transcript", name)

	case MeasurementMaxSilence:
		if len(ctx.segments) < 2 {
			return 0, nil
		}
		maxGap := 0.0
		for i := 1; i < len(ctx.segments); i++ {
			gap := ctx.segments[i].StartSeconds() - ctx.segments[i-1].EndSeconds()
			if gap > maxGap {
				maxGap = gap
			}
		}
		return maxGap, nil

	case MeasurementCallDuration:
		if v, ok := ctx.meta.Number(MeasurementCallDuration); ok {
			return v, nil
		}
		end := 0.0
		for _, seg := range ctx.segments {
			if seg.EndSeconds() > end {
				end = seg.EndSeconds()
			}
		}
		return end, nil

	case MeasurementAgentTalkRatio:
		var agent, total float64
		for _, seg := range ctx.segments {
			d := seg.EndSeconds() - seg.StartSeconds()
			total += d
			if seg.Speaker == models.SpeakerAgent {
				agent += d
			}
		}
		if total == 0 {
			return 0, fmt.Errorf("measurement %s: transcript has zero speaking time", name)
		}
		return agent / total, nil

	default:
		if v, ok := ctx.meta.Number(name); ok {
			return v, nil
		}
		return 0, fmt.Errorf("measurement %s could not be derived", name)
	}
}

// compareNumeric applies a comparison operator. Unknown operators are
// rejected by rule validation before reaching here.
func compareNumeric(actual float64, op models.CompareOp, threshold float64) bool {
	switch op {
	case models.OpLessOrEqual:
		return actual <= threshold
	case models.OpLess:
		return actual < threshold
	case models.OpEqual:
		return actual == threshold
	case models.OpNotEqual:
		return actual != threshold
	case models.OpGreaterOrEqual:
		return actual >= threshold
	case models.OpGreater:
		return actual > threshold
	default:
		return false
	}
}
