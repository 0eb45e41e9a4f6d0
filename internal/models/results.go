// Package models defines the core data structures for ScorePipe.
//
// This file defines the result types produced by the pipeline stages and
// the final evaluation snapshot handed to collaborators.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// PassState is the tri-state outcome of a rule evaluation. Downstream
// consumers must never conflate "rule failed" with "rule could not be
// evaluated", so indeterminate is a first-class value.
type PassState string

const (
	PassTrue          PassState = "true"
	PassFalse         PassState = "false"
	PassIndeterminate PassState = "indeterminate"
)

// MatchType records which detection strategy produced a match.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchFuzzy    MatchType = "fuzzy"
	MatchSemantic MatchType = "semantic"
	MatchNone     MatchType = "none"
)

// Satisfaction is the degree to which a behavior was observed.
type Satisfaction string

const (
	SatisfactionFull    Satisfaction = "full"
	SatisfactionPartial Satisfaction = "partial"
	SatisfactionNone    Satisfaction = "none"
)

// Evidence points at the transcript text that supports a verdict.
type Evidence struct {
	Text    string  `json:"text"`
	Speaker Speaker `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	// Pattern is the evidence pattern or phrase that matched, when known.
	Pattern string `json:"pattern,omitempty"`
}

// DetectionResult is the per-behavior outcome of the detection engine
// merged with the compliance evaluation.
type DetectionResult struct {
	BehaviorID  string    `json:"behavior_id"`
	Detected    bool      `json:"detected"`
	MatchType   MatchType `json:"match_type"`
	MatchedText string    `json:"matched_text,omitempty"`
	// Confidence combines match similarity, transcription confidence,
	// match-type precision and evidence count; always in [0,1].
	Confidence float64    `json:"confidence"`
	Evidence   []Evidence `json:"evidence,omitempty"`
	// ExactDetected/SemanticDetected record the per-strategy outcomes when
	// the strategy ran, for cross-method agreement scoring.
	ExactDetected       *bool `json:"exact_detected,omitempty"`
	SemanticDetected    *bool `json:"semantic_detected,omitempty"`
	ComplianceViolation bool  `json:"compliance_violation"`
	ViolationReason     string     `json:"violation_reason,omitempty"`
	CriticalViolation   bool       `json:"critical_violation"`
}

// RuleEvaluationResult is the per-rule verdict of the deterministic rule
// engine.
type RuleEvaluationResult struct {
	RuleID   string    `json:"rule_id"`
	Category string    `json:"category"`
	Severity Severity  `json:"severity"`
	Passed   PassState `json:"passed"`
	// ActualValue/RequiredValue/Operator are set for numeric rules.
	ActualValue   *float64  `json:"actual_value,omitempty"`
	RequiredValue *float64  `json:"required_value,omitempty"`
	Operator      CompareOp `json:"operator,omitempty"`
	Evidence      []Evidence `json:"evidence,omitempty"`
	// Present/Missing name satisfied and unsatisfied list items.
	Present []string `json:"present,omitempty"`
	Missing []string `json:"missing,omitempty"`
	// Note carries human-readable detail for passed/failed outcomes, e.g.
	// "condition not met" or a step-order violation.
	Note string `json:"note,omitempty"`
	// Error explains an indeterminate or malformed-rule outcome.
	Error string `json:"error,omitempty"`
}

// BehaviorVerdict is the scored per-behavior entry inside a stage.
type BehaviorVerdict struct {
	BehaviorID   string       `json:"behavior_id"`
	Name         string       `json:"name"`
	Detected     bool         `json:"detected"`
	Satisfaction Satisfaction `json:"satisfaction"`
	Confidence   float64      `json:"confidence"`
	Weight       float64      `json:"weight"`
	Evidence     []Evidence   `json:"evidence,omitempty"`
}

// StageEvaluation is the scored outcome of one call stage.
type StageEvaluation struct {
	StageID           string            `json:"stage_id"`
	Name              string            `json:"name"`
	Weight            float64           `json:"weight"` // normalized weight (sums to 100 across stages)
	Behaviors         []BehaviorVerdict `json:"behaviors"`
	Score             float64           `json:"score"` // percentage 0-100
	Confidence        float64           `json:"confidence"`
	Feedback          string            `json:"feedback,omitempty"`
	CriticalViolation bool              `json:"critical_violation"`
}

// PolicyViolation is one rule violation surfaced in the final evaluation.
type PolicyViolation struct {
	RuleID        string   `json:"rule_id"`
	Category      string   `json:"category"`
	Severity      Severity `json:"severity"`
	Description   string   `json:"description,omitempty"`
	PenaltyPoints float64  `json:"penalty_points"`
	FailOverall   bool     `json:"fail_overall,omitempty"`
}

// ConfidenceBreakdown is the seven-signal decomposition of the confidence
// score. Every signal is bounded to [0,1].
type ConfidenceBreakdown struct {
	TranscriptQuality       float64 `json:"transcript_quality"`
	DetectionAgreement      float64 `json:"detection_agreement"`
	ClassifierConsistency   float64 `json:"classifier_consistency"`
	RuleClassifierAgreement float64 `json:"rule_classifier_agreement"`
	EvidenceStrength        float64 `json:"evidence_strength"`
	ScoreVariance           float64 `json:"score_variance"`
	BehaviorCoverage        float64 `json:"behavior_coverage"`
}

// Confidence levels.
const (
	ConfidenceLevelHigh   = "high"
	ConfidenceLevelMedium = "medium"
	ConfidenceLevelLow    = "low"
)

// ConfidenceReport carries the combined confidence score, its breakdown,
// the tier and the generated reasoning, plus the routing recommendation.
type ConfidenceReport struct {
	Score     float64             `json:"score"` // [0,1]
	Level     string              `json:"level"` // high, medium, low
	Breakdown ConfidenceBreakdown `json:"breakdown"`
	Reasoning string              `json:"reasoning"`
	// SchemaPenalized is set when an invalid classifier response multiplied
	// the score by the schema penalty factor.
	SchemaPenalized bool `json:"schema_penalized,omitempty"`
	// Routing recommends where the evaluation should go next:
	// "auto_accept", "spot_check" or "human_review".
	Routing string `json:"routing"`
}

// CriticalOverride records a category forced to the worst rubric level
// because its linked critical rule failed.
type CriticalOverride struct {
	Category    string `json:"category"`
	RuleID      string `json:"rule_id"`
	ForcedLevel string `json:"forced_level"`
	// PreviousLevel is the classifier's answer before the override, when a
	// classifier response was accepted.
	PreviousLevel string `json:"previous_level,omitempty"`
}

// CategoryGrade is the accepted rubric level for one classifier category,
// whether from the classifier or the deterministic fallback.
type CategoryGrade struct {
	Category string `json:"category"`
	Level    string `json:"level"`
	// LevelIndex is the position of Level in the category's worst-to-best
	// ordering.
	LevelIndex int `json:"level_index"`
}

// FinalEvaluation is the single immutable snapshot handed to the caller.
type FinalEvaluation struct {
	EvaluationID string `json:"evaluation_id"`
	PolicyName   string `json:"policy_name,omitempty"`
	// OverallScore is 0-100, integer, after penalties and clamping.
	OverallScore        int     `json:"overall_score"`
	Passed              bool    `json:"passed"`
	FailureReason       *string `json:"failure_reason"`
	RequiresHumanReview bool    `json:"requires_human_review"`

	Confidence         ConfidenceReport  `json:"confidence"`
	TotalPenaltyPoints float64           `json:"total_penalty_points"`
	Violations         []PolicyViolation `json:"violations,omitempty"`
	Stages             []StageEvaluation `json:"stages"`

	Detections  []DetectionResult                 `json:"detections,omitempty"`
	RuleResults map[string][]RuleEvaluationResult `json:"rule_results"`
	Grades      []CategoryGrade                   `json:"grades,omitempty"`
	Overrides   []CriticalOverride                `json:"overrides,omitempty"`

	// ClassifierUsed reports whether an accepted classifier response
	// contributed; ClassifierFallback reports the deterministic fallback
	// was taken after retries.
	ClassifierUsed     bool `json:"classifier_used"`
	ClassifierFallback bool `json:"classifier_fallback"`

	EvaluatedAt time.Time `json:"evaluated_at,omitempty"`
	// Error is set only for fatal input failures (missing transcript); rule
	// results are null in that case.
	Error string `json:"error,omitempty"`
}

// ToJSON serializes the final evaluation for storage or transfer.
func (f FinalEvaluation) ToJSON() (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to serialize final evaluation: %w", err)
	}
	return string(b), nil
}

// FromJSON deserializes a final evaluation from JSON.
func (f *FinalEvaluation) FromJSON(data string) error {
	if err := json.Unmarshal([]byte(data), f); err != nil {
		return fmt.Errorf("failed to parse final evaluation: %w", err)
	}
	return nil
}
