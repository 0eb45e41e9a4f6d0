// Package models defines the core data structures for ScorePipe.
//
// It includes transcript, behavior, policy and scoring types shared across
// the evaluation pipeline. All types are JSON-serializable so collaborators
// can persist or display them without further conversion.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Speaker identifies who produced a transcript segment. Upstream
// transcription must normalize speakers to this closed set before the
// pipeline runs; anything else is rejected at validation time.
type Speaker string

const (
	SpeakerAgent    Speaker = "agent"
	SpeakerCustomer Speaker = "customer"
	SpeakerUnknown  Speaker = "unknown"
)

// IsValidSpeaker checks if the given speaker is part of the closed set.
func IsValidSpeaker(s Speaker) bool {
	switch s {
	case SpeakerAgent, SpeakerCustomer, SpeakerUnknown:
		return true
	default:
		return false
	}
}

// BehaviorType classifies how a behavior is policed.
type BehaviorType string

const (
	// BehaviorRequired must be observed during the call.
	BehaviorRequired BehaviorType = "required"
	// BehaviorOptional contributes to scoring but is never a violation.
	BehaviorOptional BehaviorType = "optional"
	// BehaviorForbidden must not be observed during the call.
	BehaviorForbidden BehaviorType = "forbidden"
	// BehaviorCritical is required, and its absence is a critical violation.
	BehaviorCritical BehaviorType = "critical"
)

// IsValidBehaviorType checks if the given behavior type is supported.
func IsValidBehaviorType(bt BehaviorType) bool {
	switch bt {
	case BehaviorRequired, BehaviorOptional, BehaviorForbidden, BehaviorCritical:
		return true
	default:
		return false
	}
}

// DetectionMode selects the matching strategy for a behavior.
type DetectionMode string

const (
	// DetectionExact matches behavior phrases by substring/fuzzy comparison.
	DetectionExact DetectionMode = "exact"
	// DetectionSemantic matches by embedding cosine similarity.
	DetectionSemantic DetectionMode = "semantic"
	// DetectionHybrid tries exact first and falls back to semantic.
	DetectionHybrid DetectionMode = "hybrid"
)

// IsValidDetectionMode checks if the given detection mode is supported.
func IsValidDetectionMode(dm DetectionMode) bool {
	switch dm {
	case DetectionExact, DetectionSemantic, DetectionHybrid:
		return true
	default:
		return false
	}
}

// Validation constants for transcript and policy input.
const (
	// MaxSegmentTextLength caps the text of a single transcript segment.
	MaxSegmentTextLength = 16384
	// MaxBehaviorExamples caps the number of example phrases per behavior.
	MaxBehaviorExamples = 50
)

// Error variables for boundary validation, shared across the pipeline.
var (
	ErrEmptyTranscript      = errors.New("transcript not available")
	ErrMissingTimestamps    = errors.New("segment start or end timestamp missing")
	ErrNegativeTimestamp    = errors.New("segment timestamps must be non-negative")
	ErrEndBeforeStart       = errors.New("segment end precedes start")
	ErrInvalidSpeaker       = errors.New("speaker is not agent, customer or unknown")
	ErrSegmentTextTooLong   = errors.New("segment text exceeds maximum length")
	ErrEmptyBehaviorID      = errors.New("behavior id cannot be empty")
	ErrInvalidBehaviorType  = errors.New("invalid behavior type")
	ErrInvalidDetectionMode = errors.New("invalid detection mode")
	ErrTooManyExamples      = errors.New("too many behavior examples")
	ErrEmptyStageID         = errors.New("stage id cannot be empty")
	ErrNoStages             = errors.New("policy has no stages")
)

// TranscriptSegment is one utterance of the recorded interaction.
// Segments are produced upstream, ordered by start time, and immutable
// within the pipeline.
type TranscriptSegment struct {
	Speaker    Speaker  `json:"speaker"`
	Text       string   `json:"text"`
	Start      *float64 `json:"start"` // seconds from call start
	End        *float64 `json:"end"`
	Confidence *float64 `json:"confidence,omitempty"` // per-segment transcription confidence in [0,1]
}

// StartSeconds returns the segment start, or 0 when absent. Callers must
// validate first; this is a convenience for validated segments.
func (s TranscriptSegment) StartSeconds() float64 {
	if s.Start == nil {
		return 0
	}
	return *s.Start
}

// EndSeconds returns the segment end, or 0 when absent.
func (s TranscriptSegment) EndSeconds() float64 {
	if s.End == nil {
		return 0
	}
	return *s.End
}

// Validate checks one segment against the boundary contract. Ambiguous or
// missing timestamps are rejected rather than guessed at.
func (s TranscriptSegment) Validate() error {
	if !IsValidSpeaker(s.Speaker) {
		return fmt.Errorf("%w: %q", ErrInvalidSpeaker, s.Speaker)
	}
	if s.Start == nil || s.End == nil {
		return ErrMissingTimestamps
	}
	if *s.Start < 0 || *s.End < 0 {
		return ErrNegativeTimestamp
	}
	if *s.End < *s.Start {
		return ErrEndBeforeStart
	}
	if len(s.Text) > MaxSegmentTextLength {
		return ErrSegmentTextTooLong
	}
	return nil
}

// ValidateTranscript checks an entire segment list. An empty list is the
// one fatal input error of the pipeline.
func ValidateTranscript(segments []TranscriptSegment) error {
	if len(segments) == 0 {
		return ErrEmptyTranscript
	}
	for i, seg := range segments {
		if err := seg.Validate(); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
	}
	return nil
}

// BehaviorDefinition describes one expected or forbidden agent action.
type BehaviorDefinition struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Examples      []string      `json:"examples,omitempty"`
	Type          BehaviorType  `json:"type"`
	DetectionMode DetectionMode `json:"detection_mode"`
	Weight        float64       `json:"weight"`
	// TimingWindowSeconds, when set, requires the behavior's first evidence
	// within this many seconds of call start.
	TimingWindowSeconds *float64 `json:"timing_window_seconds,omitempty"`
}

// Validate checks structural requirements of a behavior definition.
func (b BehaviorDefinition) Validate() error {
	if b.ID == "" {
		return ErrEmptyBehaviorID
	}
	if !IsValidBehaviorType(b.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidBehaviorType, b.Type)
	}
	if !IsValidDetectionMode(b.DetectionMode) {
		return fmt.Errorf("%w: %q", ErrInvalidDetectionMode, b.DetectionMode)
	}
	if len(b.Examples) > MaxBehaviorExamples {
		return ErrTooManyExamples
	}
	return nil
}

// StageDefinition groups behaviors into a weighted call stage
// (e.g. greeting, discovery, resolution, closing).
type StageDefinition struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Weight        float64              `json:"weight"`
	Behaviors     []BehaviorDefinition `json:"behaviors"`
	PassThreshold float64              `json:"pass_threshold,omitempty"` // stage score floor when enforced
}

// Validate checks a stage and its behaviors.
func (sd StageDefinition) Validate() error {
	if sd.ID == "" {
		return ErrEmptyStageID
	}
	for _, b := range sd.Behaviors {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("stage %s behavior %s: %w", sd.ID, b.ID, err)
		}
	}
	return nil
}

// ClassifierCategory names a rubric category the external classifier must
// grade, its allowed levels ordered worst to best, and an optional linked
// deterministic rule used for the critical override pass.
type ClassifierCategory struct {
	Name         string   `json:"name"`
	Levels       []string `json:"levels"` // ordered worst -> best
	LinkedRuleID string   `json:"linked_rule_id,omitempty"`
}

// CallMetadata carries free-form named facts supplied by collaborators,
// split into numeric and string values so rule evaluation never has to
// duck-type.
type CallMetadata struct {
	Numbers map[string]float64 `json:"numbers,omitempty"`
	Strings map[string]string  `json:"strings,omitempty"`
}

// Number returns a named numeric fact, reporting whether it exists.
func (m CallMetadata) Number(name string) (float64, bool) {
	v, ok := m.Numbers[name]
	return v, ok
}

// String returns a named string fact, reporting whether it exists.
func (m CallMetadata) String(name string) (string, bool) {
	v, ok := m.Strings[name]
	return v, ok
}

// Default scoring configuration values.
const (
	DefaultPassThreshold          = 70.0
	DefaultConfidenceFloor        = 0.5
	DefaultConfidenceReviewCutoff = 0.6
	DefaultMajorPenaltyPoints     = 10.0
	DefaultMinorPenaltyPoints     = 3.0
)

// ScoringConfig tunes the scoring engine. Zero values are replaced by
// defaults via Normalize.
type ScoringConfig struct {
	// PenaltyPoints maps rule severities to deducted points. Critical is
	// intentionally absent from deduction; it forces failure instead.
	PenaltyPoints map[Severity]float64 `json:"penalty_points,omitempty"`
	// PassThreshold is the minimum overall score to pass (0-100).
	PassThreshold float64 `json:"pass_threshold,omitempty"`
	// EnforceStageThresholds fails the call when any stage scores below its
	// own PassThreshold.
	EnforceStageThresholds bool `json:"enforce_stage_thresholds,omitempty"`
	// ConfidenceWeighting dampens behavior scores by detection confidence.
	ConfidenceWeighting bool `json:"confidence_weighting,omitempty"`
	// ConfidenceFloor is the damping floor alpha: multiplier =
	// alpha + (1-alpha)*confidence.
	ConfidenceFloor float64 `json:"confidence_floor,omitempty"`
	// StageConfidenceReviewThreshold routes to human review when any stage
	// confidence is below it.
	StageConfidenceReviewThreshold float64 `json:"stage_confidence_review_threshold,omitempty"`
	// OverallConfidenceReviewThreshold routes to human review when the
	// overall confidence is below it.
	OverallConfidenceReviewThreshold float64 `json:"overall_confidence_review_threshold,omitempty"`
}

// Normalize fills zero-valued fields with defaults and returns the result.
func (c ScoringConfig) Normalize() ScoringConfig {
	if c.PassThreshold <= 0 {
		c.PassThreshold = DefaultPassThreshold
	}
	if c.ConfidenceFloor <= 0 {
		c.ConfidenceFloor = DefaultConfidenceFloor
	}
	if c.StageConfidenceReviewThreshold <= 0 {
		c.StageConfidenceReviewThreshold = DefaultConfidenceReviewCutoff
	}
	if c.OverallConfidenceReviewThreshold <= 0 {
		c.OverallConfidenceReviewThreshold = DefaultConfidenceReviewCutoff
	}
	if c.PenaltyPoints == nil {
		c.PenaltyPoints = map[Severity]float64{
			SeverityMajor: DefaultMajorPenaltyPoints,
			SeverityMinor: DefaultMinorPenaltyPoints,
		}
	}
	return c
}

// Policy bundles everything an evaluation run needs: weighted stages with
// behaviors, deterministic rules keyed by category, classifier categories
// with rubric levels, and scoring configuration. Policies are authored by
// an external component; the core treats them as read-only.
type Policy struct {
	Name       string                  `json:"name"`
	Stages     []StageDefinition       `json:"stages"`
	Rules      map[string][]PolicyRule `json:"rules"`
	Categories []ClassifierCategory    `json:"categories,omitempty"`
	Scoring    ScoringConfig           `json:"scoring,omitempty"`
}

// Validate checks structural requirements of the policy. Per-rule payload
// validation is left to the rule engine, which isolates malformed rules
// instead of aborting the batch.
func (p Policy) Validate() error {
	if len(p.Stages) == 0 {
		return ErrNoStages
	}
	for _, st := range p.Stages {
		if err := st.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ToJSON serializes the policy for storage or transfer.
func (p Policy) ToJSON() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to serialize policy: %w", err)
	}
	return string(b), nil
}

// FromJSON deserializes a policy from JSON.
func (p *Policy) FromJSON(data string) error {
	if err := json.Unmarshal([]byte(data), p); err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}
	return nil
}

// SentimentEntry is one element of the optional sentiment feed, aligned to
// transcript time ranges.
type SentimentEntry struct {
	Speaker   Speaker  `json:"speaker"`
	Start     float64  `json:"start"`
	End       float64  `json:"end"`
	Sentiment string   `json:"sentiment"` // positive, neutral, negative
	Score     *float64 `json:"score,omitempty"`
}

// EvaluationInput is everything one run consumes. Sentiment and metadata
// are optional; their absence makes dependent rules indeterminate rather
// than failing the run.
type EvaluationInput struct {
	EvaluationID string              `json:"evaluation_id"`
	Segments     []TranscriptSegment `json:"segments"`
	Policy       Policy              `json:"policy"`
	Sentiment    []SentimentEntry    `json:"sentiment,omitempty"`
	Metadata     CallMetadata        `json:"metadata,omitempty"`
	StartedAt    time.Time           `json:"started_at,omitempty"`
}
