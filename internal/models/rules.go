// Package models defines the core data structures for ScorePipe.
//
// This file defines the policy-rule tagged union. Each rule carries exactly
// one archetype-specific payload selected by its Type tag, so the rule
// engine can dispatch with an exhaustive switch instead of reflection.
package models

import (
	"errors"
	"fmt"
)

// RuleType tags the rule archetype.
type RuleType string

const (
	RuleTypeBoolean     RuleType = "boolean"
	RuleTypeNumeric     RuleType = "numeric"
	RuleTypePhrase      RuleType = "phrase"
	RuleTypeList        RuleType = "list"
	RuleTypeConditional RuleType = "conditional"
	RuleTypeMultiStep   RuleType = "multi_step"
	RuleTypeToneBased   RuleType = "tone_based"
	RuleTypeResolution  RuleType = "resolution"
)

// IsValidRuleType checks if the given rule type is supported.
func IsValidRuleType(rt RuleType) bool {
	switch rt {
	case RuleTypeBoolean, RuleTypeNumeric, RuleTypePhrase, RuleTypeList,
		RuleTypeConditional, RuleTypeMultiStep, RuleTypeToneBased, RuleTypeResolution:
		return true
	default:
		return false
	}
}

// Severity grades how serious a rule violation is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// IsValidSeverity checks if the given severity is supported.
func IsValidSeverity(s Severity) bool {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor:
		return true
	default:
		return false
	}
}

// CompareOp is the comparison operator for numeric rules and conditions.
type CompareOp string

const (
	OpLessOrEqual    CompareOp = "<="
	OpLess           CompareOp = "<"
	OpEqual          CompareOp = "=="
	OpNotEqual       CompareOp = "!="
	OpGreaterOrEqual CompareOp = ">="
	OpGreater        CompareOp = ">"
	// OpContains applies to string condition values only.
	OpContains CompareOp = "contains"
)

// IsValidCompareOp checks if the operator is supported for numeric rules.
func IsValidCompareOp(op CompareOp) bool {
	switch op {
	case OpLessOrEqual, OpLess, OpEqual, OpGreaterOrEqual, OpGreater:
		return true
	default:
		return false
	}
}

// Rule validation errors surfaced as MalformedRule records, never panics.
var (
	ErrEmptyRuleID          = errors.New("rule id cannot be empty")
	ErrInvalidRuleType      = errors.New("invalid rule type")
	ErrInvalidSeverity      = errors.New("invalid rule severity")
	ErrMissingRulePayload   = errors.New("rule payload for its type is missing")
	ErrMultipleRulePayloads = errors.New("rule carries more than one archetype payload")
	ErrNoPatterns           = errors.New("rule requires at least one pattern")
	ErrNoMeasurement        = errors.New("numeric rule requires a measurement name")
	ErrInvalidOperator      = errors.New("invalid comparison operator")
	ErrNoListItems          = errors.New("list rule requires at least one item")
	ErrNoSteps              = errors.New("multi-step rule requires at least one step")
	ErrMissingCondition     = errors.New("conditional rule requires a condition")
	ErrMissingNestedRule    = errors.New("conditional rule requires a nested rule")
	ErrConditionValue       = errors.New("condition requires exactly one of number_value or string_value")
	ErrNoMarkers            = errors.New("resolution rule requires resolution markers")
)

// BooleanRule checks presence or absence of evidence patterns.
type BooleanRule struct {
	// Required true means the evidence must be present; false means it must
	// be absent (forbidden).
	Required bool     `json:"required"`
	Patterns []string `json:"patterns"`
	// AgentOnly restricts the search to agent segments.
	AgentOnly bool `json:"agent_only,omitempty"`
	// WindowStart/WindowEnd bound the search in seconds from call start.
	WindowStart *float64 `json:"window_start,omitempty"`
	WindowEnd   *float64 `json:"window_end,omitempty"`
}

// NumericRule compares a derived measurement against a threshold.
type NumericRule struct {
	// Measurement names the derived value, e.g. "greet_within_seconds",
	// "max_silence_seconds", "call_duration_seconds", or any numeric
	// metadata fact.
	Measurement string    `json:"measurement"`
	Operator    CompareOp `json:"operator"`
	Threshold   float64   `json:"threshold"`
}

// PhraseRule requires or forbids a set of phrases.
type PhraseRule struct {
	Phrases       []string `json:"phrases"`
	Forbidden     bool     `json:"forbidden,omitempty"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`
	Fuzzy         bool     `json:"fuzzy,omitempty"`
	// FuzzyThreshold overrides the default similarity ratio when Fuzzy is set.
	FuzzyThreshold float64 `json:"fuzzy_threshold,omitempty"`
}

// ListItem is one named entry of a list rule with its matching patterns.
type ListItem struct {
	Name     string   `json:"name"`
	Patterns []string `json:"patterns"`
}

// ListRule requires a minimum number (or all) of named items to appear.
type ListRule struct {
	Items       []ListItem `json:"items"`
	MinRequired int        `json:"min_required,omitempty"`
	RequireAll  bool       `json:"require_all,omitempty"`
}

// Condition is the predicate of a conditional rule: a named field compared
// against exactly one typed value. Supported fields are numeric metadata
// facts, derived transcript features (agent_turns, customer_turns,
// duration_seconds), string metadata facts, and "overall_sentiment".
type Condition struct {
	Field       string    `json:"field"`
	Operator    CompareOp `json:"operator"`
	NumberValue *float64  `json:"number_value,omitempty"`
	StringValue *string   `json:"string_value,omitempty"`
}

// Validate checks the condition's structural contract.
func (c Condition) Validate() error {
	if c.Field == "" {
		return ErrMissingCondition
	}
	if (c.NumberValue == nil) == (c.StringValue == nil) {
		return ErrConditionValue
	}
	return nil
}

// ConditionalRule evaluates Then only when Condition holds; otherwise the
// rule trivially passes.
type ConditionalRule struct {
	Condition Condition   `json:"condition"`
	Then      *PolicyRule `json:"then"`
}

// MultiStepStep is one entry of an ordered checklist.
type MultiStepStep struct {
	Name     string   `json:"name"`
	Patterns []string `json:"patterns"`
}

// MultiStepRule requires evidence for every step; with StrictOrder the
// steps' first evidence must appear in chronological order.
type MultiStepRule struct {
	Steps       []MultiStepStep `json:"steps"`
	StrictOrder bool            `json:"strict_order,omitempty"`
}

// ToneBasedRule detects tone mismatches from the sentiment feed.
type ToneBasedRule struct {
	// ForbiddenTones fail the rule when observed for the target speaker.
	ForbiddenTones []string `json:"forbidden_tones"`
	// Target defaults to the agent when empty.
	Target Speaker `json:"target,omitempty"`
	// DetectEscalation also fails when negative customer sentiment is
	// answered with negative agent sentiment.
	DetectEscalation bool `json:"detect_escalation,omitempty"`
}

// ResolutionRule checks issue-resolved markers and closing next steps.
type ResolutionRule struct {
	ResolutionMarkers []string `json:"resolution_markers"`
	NextStepMarkers   []string `json:"next_step_markers,omitempty"`
	RequireNextSteps  bool     `json:"require_next_steps,omitempty"`
}

// PolicyRule is the tagged union over rule archetypes. Exactly one
// archetype payload must be populated, matching Type.
type PolicyRule struct {
	ID          string   `json:"id"`
	Type        RuleType `json:"type"`
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Enabled     bool     `json:"enabled"`
	Description string   `json:"description,omitempty"`
	// FailOverall forces overall failure when a critical rule fails.
	FailOverall bool `json:"fail_overall,omitempty"`

	Boolean     *BooleanRule     `json:"boolean,omitempty"`
	Numeric     *NumericRule     `json:"numeric,omitempty"`
	Phrase      *PhraseRule      `json:"phrase,omitempty"`
	List        *ListRule        `json:"list,omitempty"`
	Conditional *ConditionalRule `json:"conditional,omitempty"`
	MultiStep   *MultiStepRule   `json:"multi_step,omitempty"`
	ToneBased   *ToneBasedRule   `json:"tone_based,omitempty"`
	Resolution  *ResolutionRule  `json:"resolution,omitempty"`
}

// payloadCount returns how many archetype payloads are populated.
func (r PolicyRule) payloadCount() int {
	n := 0
	for _, set := range []bool{
		r.Boolean != nil, r.Numeric != nil, r.Phrase != nil, r.List != nil,
		r.Conditional != nil, r.MultiStep != nil, r.ToneBased != nil, r.Resolution != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Validate checks the union invariant and archetype-required fields. A
// failure here is reported by the rule engine as a malformed-rule error; it
// never aborts the batch.
func (r PolicyRule) Validate() error {
	if r.ID == "" {
		return ErrEmptyRuleID
	}
	if !IsValidRuleType(r.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidRuleType, r.Type)
	}
	if !IsValidSeverity(r.Severity) {
		return fmt.Errorf("%w: %q", ErrInvalidSeverity, r.Severity)
	}
	if n := r.payloadCount(); n > 1 {
		return ErrMultipleRulePayloads
	}

	switch r.Type {
	case RuleTypeBoolean:
		if r.Boolean == nil {
			return ErrMissingRulePayload
		}
		if len(r.Boolean.Patterns) == 0 {
			return ErrNoPatterns
		}
	case RuleTypeNumeric:
		if r.Numeric == nil {
			return ErrMissingRulePayload
		}
		if r.Numeric.Measurement == "" {
			return ErrNoMeasurement
		}
		if !IsValidCompareOp(r.Numeric.Operator) {
			return fmt.Errorf("%w: %q", ErrInvalidOperator, r.Numeric.Operator)
		}
	case RuleTypePhrase:
		if r.Phrase == nil {
			return ErrMissingRulePayload
		}
		if len(r.Phrase.Phrases) == 0 {
			return ErrNoPatterns
		}
	case RuleTypeList:
		if r.List == nil {
			return ErrMissingRulePayload
		}
		if len(r.List.Items) == 0 {
			return ErrNoListItems
		}
	case RuleTypeConditional:
		if r.Conditional == nil {
			return ErrMissingRulePayload
		}
		if err := r.Conditional.Condition.Validate(); err != nil {
			return err
		}
		if r.Conditional.Then == nil {
			return ErrMissingNestedRule
		}
		if err := r.Conditional.Then.Validate(); err != nil {
			return fmt.Errorf("nested rule: %w", err)
		}
	case RuleTypeMultiStep:
		if r.MultiStep == nil {
			return ErrMissingRulePayload
		}
		if len(r.MultiStep.Steps) == 0 {
			return ErrNoSteps
		}
		for _, step := range r.MultiStep.Steps {
			if len(step.Patterns) == 0 {
				return ErrNoPatterns
			}
		}
	case RuleTypeToneBased:
		if r.ToneBased == nil {
			return ErrMissingRulePayload
		}
		if len(r.ToneBased.ForbiddenTones) == 0 && !r.ToneBased.DetectEscalation {
			return ErrNoPatterns
		}
	case RuleTypeResolution:
		if r.Resolution == nil {
			return ErrMissingRulePayload
		}
		if len(r.Resolution.ResolutionMarkers) == 0 {
			return ErrNoMarkers
		}
	}
	return nil
}
