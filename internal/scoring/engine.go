// Package scoring turns detection and rule outcomes into stage scores, an
// overall score with penalties, pass/fail status and the human-review
// trigger.
//
// The engine is pure arithmetic over its inputs; identical inputs always
// yield identical scores.
package scoring

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/ScorePipe/ScorePipe/internal/models"
)

// Satisfaction multipliers.
const (
	multiplierFull    = 1.0
	multiplierPartial = 0.5
	multiplierNone    = 0.0
)

// normalizedWeightTotal is what stage weights are scaled to sum to.
const normalizedWeightTotal = 100.0

// Failure reasons reported on the final evaluation.
const (
	FailureCriticalViolation = "critical_violation"
	FailureScoreBelowCutoff  = "overall_score_below_threshold"
	FailureStageBelowCutoff  = "stage_score_below_threshold"
)

// Engine computes scores under one scoring configuration.
type Engine struct {
	cfg models.ScoringConfig
}

// NewEngine creates a scoring engine; the configuration is normalized so
// zero values become defaults.
func NewEngine(cfg models.ScoringConfig) *Engine {
	return &Engine{cfg: cfg.Normalize()}
}

// Config returns the normalized configuration in effect.
func (e *Engine) Config() models.ScoringConfig {
	return e.cfg
}

// Result is the scoring outcome before confidence-based review routing.
type Result struct {
	Stages              []models.StageEvaluation
	OverallScore        int
	RawOverall          float64
	Passed              bool
	FailureReason       *string
	TotalPenaltyPoints  float64
	Violations          []models.PolicyViolation
	RequiresHumanReview bool
}

// Score computes stage and overall scores. detections are keyed by
// behavior id; rules provide violation metadata (description,
// fail-overall) for failed rule results.
func (e *Engine) Score(stages []models.StageDefinition, detections map[string]models.DetectionResult, ruleResults map[string][]models.RuleEvaluationResult, ruleSet map[string][]models.PolicyRule) Result {
	var result Result

	weights := NormalizeStageWeights(stages)
	for i, stage := range stages {
		eval := e.scoreStage(stage, detections)
		eval.Weight = weights[i]
		result.Stages = append(result.Stages, eval)
	}

	result.Violations, result.TotalPenaltyPoints = e.collectViolations(ruleResults, ruleSet)

	weighted := 0.0
	for _, st := range result.Stages {
		weighted += st.Score * st.Weight
	}
	overall := weighted/normalizedWeightTotal - result.TotalPenaltyPoints
	result.RawOverall = clamp(overall, 0, 100)
	result.OverallScore = int(math.Round(result.RawOverall))

	e.decidePassFail(&result, stages)
	slog.Debug("scoring.Score: computed", "overall", result.OverallScore,
		"penalty", result.TotalPenaltyPoints, "passed", result.Passed)
	return result
}

// NormalizeStageWeights scales stage weights to sum to 100. Stages with no
// weight at all share it equally.
func NormalizeStageWeights(stages []models.StageDefinition) []float64 {
	weights := make([]float64, len(stages))
	total := 0.0
	for _, st := range stages {
		total += st.Weight
	}
	for i, st := range stages {
		if total > 0 {
			weights[i] = st.Weight / total * normalizedWeightTotal
		} else if len(stages) > 0 {
			weights[i] = normalizedWeightTotal / float64(len(stages))
		}
	}
	return weights
}

// scoreStage aggregates a stage's behaviors into a percentage score.
func (e *Engine) scoreStage(stage models.StageDefinition, detections map[string]models.DetectionResult) models.StageEvaluation {
	eval := models.StageEvaluation{
		StageID: stage.ID,
		Name:    stage.Name,
	}

	var weightTotal, effectiveTotal, confidenceTotal float64
	satisfiedCount := 0
	for _, behavior := range stage.Behaviors {
		det := detections[behavior.ID]
		verdict := behaviorVerdict(behavior, det)
		eval.Behaviors = append(eval.Behaviors, verdict)
		if det.CriticalViolation {
			eval.CriticalViolation = true
		}

		multiplier := satisfactionMultiplier(verdict.Satisfaction)
		if e.cfg.ConfidenceWeighting {
			alpha := e.cfg.ConfidenceFloor
			multiplier *= alpha + (1-alpha)*verdict.Confidence
		}
		weightTotal += behavior.Weight
		effectiveTotal += behavior.Weight * multiplier
		confidenceTotal += verdict.Confidence
		if verdict.Satisfaction != models.SatisfactionNone {
			satisfiedCount++
		}
	}

	if weightTotal > 0 {
		eval.Score = clamp(effectiveTotal/weightTotal*100, 0, 100)
	}
	if len(eval.Behaviors) > 0 {
		eval.Confidence = confidenceTotal / float64(len(eval.Behaviors))
	}
	eval.Feedback = stageFeedback(eval, satisfiedCount, len(eval.Behaviors))
	return eval
}

// behaviorVerdict derives satisfaction from the detection and compliance
// outcome. Forbidden behaviors satisfy by absence; a late required
// behavior counts as partial.
func behaviorVerdict(behavior models.BehaviorDefinition, det models.DetectionResult) models.BehaviorVerdict {
	verdict := models.BehaviorVerdict{
		BehaviorID: behavior.ID,
		Name:       behavior.Name,
		Detected:   det.Detected,
		Confidence: det.Confidence,
		Weight:     behavior.Weight,
		Evidence:   det.Evidence,
	}

	switch behavior.Type {
	case models.BehaviorForbidden:
		if det.Detected {
			verdict.Satisfaction = models.SatisfactionNone
		} else {
			verdict.Satisfaction = models.SatisfactionFull
		}
	default:
		switch {
		case !det.Detected:
			verdict.Satisfaction = models.SatisfactionNone
		case det.ComplianceViolation:
			verdict.Satisfaction = models.SatisfactionPartial
		default:
			verdict.Satisfaction = models.SatisfactionFull
		}
	}
	return verdict
}

func satisfactionMultiplier(s models.Satisfaction) float64 {
	switch s {
	case models.SatisfactionFull:
		return multiplierFull
	case models.SatisfactionPartial:
		return multiplierPartial
	default:
		return multiplierNone
	}
}

func stageFeedback(eval models.StageEvaluation, satisfied, total int) string {
	if total == 0 {
		return "no behaviors defined for this stage"
	}
	if eval.CriticalViolation {
		return fmt.Sprintf("critical violation; %d of %d behaviors satisfied", satisfied, total)
	}
	return fmt.Sprintf("%d of %d behaviors satisfied", satisfied, total)
}

// collectViolations turns failed rule results into penalty-bearing
// violations. Critical severity contributes no points; it forces failure
// through pass/fail logic instead. Indeterminate results never become
// violations.
func (e *Engine) collectViolations(ruleResults map[string][]models.RuleEvaluationResult, ruleSet map[string][]models.PolicyRule) ([]models.PolicyViolation, float64) {
	rulesByID := make(map[string]models.PolicyRule)
	for _, list := range ruleSet {
		for _, r := range list {
			rulesByID[r.ID] = r
		}
	}

	var violations []models.PolicyViolation
	total := 0.0
	for category, list := range ruleResults {
		for _, r := range list {
			if r.Passed != models.PassFalse {
				continue
			}
			rule := rulesByID[r.RuleID]
			points := 0.0
			if r.Severity != models.SeverityCritical {
				points = e.cfg.PenaltyPoints[r.Severity]
			}
			violations = append(violations, models.PolicyViolation{
				RuleID:        r.RuleID,
				Category:      category,
				Severity:      r.Severity,
				Description:   rule.Description,
				PenaltyPoints: points,
				FailOverall:   rule.FailOverall,
			})
			total += points
		}
	}
	return violations, total
}

// decidePassFail applies, in order: critical fail-overall violations, the
// overall threshold, then per-stage thresholds when enforced. It also sets
// the pre-confidence human-review trigger (critical violations, low stage
// confidence); the orchestrator adds the overall-confidence trigger once
// the confidence engine has run.
func (e *Engine) decidePassFail(result *Result, stages []models.StageDefinition) {
	result.Passed = true

	for _, st := range result.Stages {
		if st.Confidence < e.cfg.StageConfidenceReviewThreshold || st.CriticalViolation {
			result.RequiresHumanReview = true
		}
	}

	for _, v := range result.Violations {
		if v.Severity == models.SeverityCritical {
			result.RequiresHumanReview = true
			if v.FailOverall {
				result.Passed = false
				reason := fmt.Sprintf("%s:%s", FailureCriticalViolation, v.RuleID)
				result.FailureReason = &reason
				return
			}
		}
	}

	if result.RawOverall < e.cfg.PassThreshold {
		result.Passed = false
		reason := FailureScoreBelowCutoff
		result.FailureReason = &reason
		return
	}

	if e.cfg.EnforceStageThresholds {
		for i, st := range result.Stages {
			threshold := stages[i].PassThreshold
			if threshold > 0 && st.Score < threshold {
				result.Passed = false
				reason := fmt.Sprintf("%s:%s", FailureStageBelowCutoff, st.StageID)
				result.FailureReason = &reason
				return
			}
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
