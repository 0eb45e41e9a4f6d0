package rules

import (
	"strings"
	"testing"

	"github.com/ScorePipe/ScorePipe/internal/models"
	"github.com/ScorePipe/ScorePipe/internal/sentiment"
)

func fptr(v float64) *float64 { return &v }

func seg(sp models.Speaker, text string, start, end float64) models.TranscriptSegment {
	return models.TranscriptSegment{Speaker: sp, Text: text, Start: fptr(start), End: fptr(end)}
}

func singleResult(t *testing.T, results map[string][]models.RuleEvaluationResult, category string) models.RuleEvaluationResult {
	t.Helper()
	list := results[category]
	if len(list) != 1 {
		t.Fatalf("category %q has %d results, want 1", category, len(list))
	}
	return list[0]
}

func ruleSet(rule models.PolicyRule) map[string][]models.PolicyRule {
	return map[string][]models.PolicyRule{rule.Category: {rule}}
}

func TestBooleanRulePassesInsideWindow(t *testing.T) {
	engine := NewEngine()
	rule := models.PolicyRule{
		ID: "greeting-present", Type: models.RuleTypeBoolean, Category: "greeting",
		Severity: models.SeverityMajor, Enabled: true,
		Boolean: &models.BooleanRule{
			Required: true, Patterns: []string{"this is"},
			AgentOnly: true, WindowEnd: fptr(30),
		},
	}
	segments := []models.TranscriptSegment{
		seg(models.SpeakerAgent, "Hello, this is Sam speaking.", 5, 8),
	}

	result := singleResult(t, engine.Evaluate(ruleSet(rule), segments, sentiment.Feed{}, models.CallMetadata{}), "greeting")
	if result.Passed != models.PassTrue {
		t.Fatalf("Passed = %q, want true (error %q)", result.Passed, result.Error)
	}
	if len(result.Evidence) != 1 || result.Evidence[0].Pattern != "this is" {
		t.Errorf("evidence = %+v, want one entry for the matched pattern", result.Evidence)
	}
}

func TestBooleanRuleFailsOutsideWindow(t *testing.T) {
	engine := NewEngine()
	rule := models.PolicyRule{
		ID: "greeting-present", Type: models.RuleTypeBoolean, Category: "greeting",
		Severity: models.SeverityMajor, Enabled: true,
		Boolean: &models.BooleanRule{Required: true, Patterns: []string{"this is"}, WindowEnd: fptr(30)},
	}
	segments := []models.TranscriptSegment{
		seg(models.SpeakerAgent, "Sorry for the wait, this is Sam.", 40, 44),
	}

	result := singleResult(t, engine.Evaluate(ruleSet(rule), segments, sentiment.Feed{}, models.CallMetadata{}), "greeting")
	if result.Passed != models.PassFalse {
		t.Fatalf("Passed = %q, want false", result.Passed)
	}
}

func TestNumericRuleGreetingDelayFails(t *testing.T) {
	engine := NewEngine()
	rule := models.PolicyRule{
		ID: "greet-fast", Type: models.RuleTypeNumeric, Category: "timing",
		Severity: models.SeverityMinor, Enabled: true,
		Numeric: &models.NumericRule{Measurement: MeasurementGreetWithin, Operator: models.OpLessOrEqual, Threshold: 15},
	}
	segments := []models.TranscriptSegment{
		seg(models.SpeakerCustomer, "Hello? Anyone there?", 0, 3),
		seg(models.SpeakerAgent, "Hi, sorry for the wait.", 20, 23),
	}

	result := singleResult(t, engine.Evaluate(ruleSet(rule), segments, sentiment.Feed{}, models.CallMetadata{}), "timing")
	if result.Passed != models.PassFalse {
		t.Fatalf("Passed = %q, want false", result.Passed)
	}
	if result.ActualValue == nil || *result.ActualValue != 20 {
		t.Errorf("ActualValue = %v, want 20", result.ActualValue)
	}
	if result.RequiredValue == nil || *result.RequiredValue != 15 {
		t.Errorf("RequiredValue = %v, want 15", result.RequiredValue)
	}
}

func TestNumericRuleUnderivableMeasurement(t *testing.T) {
	engine := NewEngine()
	rule := models.PolicyRule{
		ID: "hold-time", Type: models.RuleTypeNumeric, Category: "timing",
		Severity: models.SeverityMinor, Enabled: true,
		Numeric: &models.NumericRule{Measurement: "hold_time_seconds", Operator: models.OpLess, Threshold: 60},
	}
	segments := []models.TranscriptSegment{seg(models.SpeakerAgent, "hi", 0, 1)}

	result := singleResult(t, engine.Evaluate(ruleSet(rule), segments, sentiment.Feed{}, models.CallMetadata{}), "timing")
	if result.Passed != models.PassIndeterminate {
		t.Fatalf("Passed = %q, want indeterminate", result.Passed)
	}
	if result.Error == "" {
		t.Error("underivable measurement must record an error")
	}
}

func TestNumericRuleMetadataMeasurement(t *testing.T) {
	engine := NewEngine()
	rule := models.PolicyRule{
		ID: "hold-time", Type: models.RuleTypeNumeric, Category: "timing",
		Severity: models.SeverityMinor, Enabled: true,
		Numeric: &models.NumericRule{Measurement: "hold_time_seconds", Operator: models.OpLess, Threshold: 60},
	}
	segments := []models.TranscriptSegment{seg(models.SpeakerAgent, "hi", 0, 1)}
	meta := models.CallMetadata{Numbers: map[string]float64{"hold_time_seconds": 30}}

	result := singleResult(t, engine.Evaluate(ruleSet(rule), segments, sentiment.Feed{}, meta), "timing")
	if result.Passed != models.PassTrue {
		t.Fatalf("Passed = %q, want true", result.Passed)
	}
}

func TestListRuleReportsPresentAndMissing(t *testing.T) {
	engine := NewEngine()
	rule := models.PolicyRule{
		ID: "disclosures", Type: models.RuleTypeList, Category: "compliance",
		Severity: models.SeverityMajor, Enabled: true,
		List: &models.ListRule{
			Items: []models.ListItem{
				{Name: "recording_notice", Patterns: []string{"call may be recorded"}},
				{Name: "privacy", Patterns: []string{"privacy policy"}},
			},
			RequireAll: true,
		},
	}
	segments := []models.TranscriptSegment{
		seg(models.SpeakerAgent, "This call may be recorded for quality.", 2, 5),
	}

	result := singleResult(t, engine.Evaluate(ruleSet(rule), segments, sentiment.Feed{}, models.CallMetadata{}), "compliance")
	if result.Passed != models.PassFalse {
		t.Fatalf("Passed = %q, want false", result.Passed)
	}
	if len(result.Present) != 1 || result.Present[0] != "recording_notice" {
		t.Errorf("Present = %v, want [recording_notice]", result.Present)
	}
	if len(result.Missing) != 1 || result.Missing[0] != "privacy" {
		t.Errorf("Missing = %v, want [privacy]", result.Missing)
	}
}

func TestListRuleMinRequired(t *testing.T) {
	engine := NewEngine()
	rule := models.PolicyRule{
		ID: "disclosures", Type: models.RuleTypeList, Category: "compliance",
		Severity: models.SeverityMajor, Enabled: true,
		List: &models.ListRule{
			Items: []models.ListItem{
				{Name: "recording_notice", Patterns: []string{"call may be recorded"}},
				{Name: "privacy", Patterns: []string{"privacy policy"}},
			},
			MinRequired: 1,
		},
	}
	segments := []models.TranscriptSegment{
		seg(models.SpeakerAgent, "This call may be recorded for quality.", 2, 5),
	}

	result := singleResult(t, engine.Evaluate(ruleSet(rule), segments, sentiment.Feed{}, models.CallMetadata{}), "compliance")
	if result.Passed != models.PassTrue {
		t.Fatalf("Passed = %q, want true with min_required 1", result.Passed)
	}
}

func TestPhraseRuleForbidden(t *testing.T) {
	engine := NewEngine()
	rule := models.PolicyRule{
		ID: "no-guarantees", Type: models.RuleTypePhrase, Category: "compliance",
		Severity: models.SeverityCritical, Enabled: true,
		Phrase: &models.PhraseRule{Phrases: []string{"I guarantee"}, Forbidden: true},
	}

	clean := []models.TranscriptSegment{seg(models.SpeakerAgent, "I expect this resolves today.", 0, 3)}
	result := singleResult(t, engine.Evaluate(ruleSet(rule), clean, sentiment.Feed{}, models.CallMetadata{}), "compliance")
	if result.Passed != models.PassTrue {
		t.Fatalf("clean transcript: Passed = %q, want true", result.Passed)
	}

	dirty := []models.TranscriptSegment{seg(models.SpeakerAgent, "I guarantee a full refund.", 0, 3)}
	result = singleResult(t, engine.Evaluate(ruleSet(rule), dirty, sentiment.Feed{}, models.CallMetadata{}), "compliance")
	if result.Passed != models.PassFalse {
		t.Fatalf("forbidden phrase present: Passed = %q, want false", result.Passed)
	}
}

func TestPhraseRuleFuzzy(t *testing.T) {
	engine := NewEngine()
	rule := models.PolicyRule{
		ID: "recording", Type: models.RuleTypePhrase, Category: "compliance",
		Severity: models.SeverityMajor, Enabled: true,
		Phrase: &models.PhraseRule{Phrases: []string{"may be recorded"}, Fuzzy: true, FuzzyThreshold: 0.8},
	}
	segments := []models.TranscriptSegment{
		seg(models.SpeakerAgent, "this call may be recroded for training", 0, 4),
	}

	result := singleResult(t, engine.Evaluate(ruleSet(rule), segments, sentiment.Feed{}, models.CallMetadata{}), "compliance")
	if result.Passed != models.PassTrue {
		t.Fatalf("Passed = %q, want true via fuzzy match", result.Passed)
	}
}

func TestConditionalRuleNotMet(t *testing.T) {
	engine := NewEngine()
	nested := models.PolicyRule{
		ID: "nested", Type: models.RuleTypeBoolean, Category: "handling",
		Severity: models.SeverityMinor, Enabled: true,
		Boolean: &models.BooleanRule{Required: true, Patterns: []string{"supervisor"}},
	}
	rule := models.PolicyRule{
		ID: "long-call-escalation", Type: models.RuleTypeConditional, Category: "handling",
		Severity: models.SeverityMinor, Enabled: true,
		Conditional: &models.ConditionalRule{
			Condition: models.Condition{Field: FieldDurationSeconds, Operator: models.OpGreater, NumberValue: fptr(600)},
			Then:      &nested,
		},
	}
	segments := []models.TranscriptSegment{seg(models.SpeakerAgent, "short call", 0, 20)}

	result := singleResult(t, engine.Evaluate(ruleSet(rule), segments, sentiment.Feed{}, models.CallMetadata{}), "handling")
	if result.Passed != models.PassTrue {
		t.Fatalf("Passed = %q, want trivial pass", result.Passed)
	}
	if result.Note != "condition not met" {
		t.Errorf("Note = %q, want condition not met", result.Note)
	}
}

func TestConditionalRuleMetEvaluatesNested(t *testing.T) {
	engine := NewEngine()
	nested := models.PolicyRule{
		ID: "nested", Type: models.RuleTypeBoolean, Category: "handling",
		Severity: models.SeverityMinor, Enabled: true,
		Boolean: &models.BooleanRule{Required: true, Patterns: []string{"supervisor"}},
	}
	rule := models.PolicyRule{
		ID: "long-call-escalation", Type: models.RuleTypeConditional, Category: "handling",
		Severity: models.SeverityMajor, Enabled: true,
		Conditional: &models.ConditionalRule{
			Condition: models.Condition{Field: FieldDurationSeconds, Operator: models.OpGreater, NumberValue: fptr(600)},
			Then:      &nested,
		},
	}
	segments := []models.TranscriptSegment{
		seg(models.SpeakerAgent, "thanks for holding", 0, 5),
		seg(models.SpeakerCustomer, "finally", 700, 702),
	}

	result := singleResult(t, engine.Evaluate(ruleSet(rule), segments, sentiment.Feed{}, models.CallMetadata{}), "handling")
	if result.Passed != models.PassFalse {
		t.Fatalf("Passed = %q, want false from the nested rule", result.Passed)
	}
	// The nested verdict carries the outer identity.
	if result.RuleID != "long-call-escalation" || result.Severity != models.SeverityMajor {
		t.Errorf("identity = (%s, %s), want the outer rule's", result.RuleID, result.Severity)
	}
}

func TestMultiStepRuleStrictOrder(t *testing.T) {
	engine := NewEngine()
	rule := models.PolicyRule{
		ID: "id-verification", Type: models.RuleTypeMultiStep, Category: "security",
		Severity: models.SeverityCritical, Enabled: true,
		MultiStep: &models.MultiStepRule{
			Steps: []models.MultiStepStep{
				{Name: "ask name", Patterns: []string{"your full name"}},
				{Name: "ask dob", Patterns: []string{"date of birth"}},
			},
			StrictOrder: true,
		},
	}

	ordered := []models.TranscriptSegment{
		seg(models.SpeakerAgent, "Can I get your full name?", 10, 13),
		seg(models.SpeakerAgent, "And your date of birth?", 20, 23),
	}
	result := singleResult(t, engine.Evaluate(ruleSet(rule), ordered, sentiment.Feed{}, models.CallMetadata{}), "security")
	if result.Passed != models.PassTrue {
		t.Fatalf("ordered steps: Passed = %q, want true", result.Passed)
	}

	reversed := []models.TranscriptSegment{
		seg(models.SpeakerAgent, "And your date of birth?", 10, 13),
		seg(models.SpeakerAgent, "Can I get your full name?", 20, 23),
	}
	result = singleResult(t, engine.Evaluate(ruleSet(rule), reversed, sentiment.Feed{}, models.CallMetadata{}), "security")
	if result.Passed != models.PassFalse {
		t.Fatalf("reversed steps: Passed = %q, want false", result.Passed)
	}
	if !strings.Contains(result.Note, "occurred before") {
		t.Errorf("Note = %q, want ordering explanation", result.Note)
	}
}

func TestMultiStepRuleMissingStep(t *testing.T) {
	engine := NewEngine()
	rule := models.PolicyRule{
		ID: "id-verification", Type: models.RuleTypeMultiStep, Category: "security",
		Severity: models.SeverityCritical, Enabled: true,
		MultiStep: &models.MultiStepRule{
			Steps: []models.MultiStepStep{
				{Name: "ask name", Patterns: []string{"your full name"}},
				{Name: "ask dob", Patterns: []string{"date of birth"}},
			},
		},
	}
	segments := []models.TranscriptSegment{
		seg(models.SpeakerAgent, "Can I get your full name?", 10, 13),
	}

	result := singleResult(t, engine.Evaluate(ruleSet(rule), segments, sentiment.Feed{}, models.CallMetadata{}), "security")
	if result.Passed != models.PassFalse {
		t.Fatalf("Passed = %q, want false", result.Passed)
	}
	if len(result.Missing) != 1 || result.Missing[0] != "ask dob" {
		t.Errorf("Missing = %v, want [ask dob]", result.Missing)
	}
}

func TestToneRuleWithoutFeedIsIndeterminate(t *testing.T) {
	engine := NewEngine()
	rule := models.PolicyRule{
		ID: "no-hostility", Type: models.RuleTypeToneBased, Category: "tone",
		Severity: models.SeverityMajor, Enabled: true,
		ToneBased: &models.ToneBasedRule{ForbiddenTones: []string{"negative"}},
	}
	segments := []models.TranscriptSegment{seg(models.SpeakerAgent, "hello", 0, 1)}

	result := singleResult(t, engine.Evaluate(ruleSet(rule), segments, sentiment.Feed{}, models.CallMetadata{}), "tone")
	if result.Passed != models.PassIndeterminate {
		t.Fatalf("Passed = %q, want indeterminate without a feed", result.Passed)
	}
	if result.Error != errSentimentMissing {
		t.Errorf("Error = %q, want %q", result.Error, errSentimentMissing)
	}
}

func TestToneRuleEscalation(t *testing.T) {
	engine := NewEngine()
	rule := models.PolicyRule{
		ID: "de-escalate", Type: models.RuleTypeToneBased, Category: "tone",
		Severity: models.SeverityMajor, Enabled: true,
		ToneBased: &models.ToneBasedRule{DetectEscalation: true},
	}
	segments := []models.TranscriptSegment{seg(models.SpeakerAgent, "hello", 0, 1)}
	feed := sentiment.NewFeed([]models.SentimentEntry{
		{Speaker: models.SpeakerCustomer, Sentiment: "negative", Start: 10, End: 20},
		{Speaker: models.SpeakerAgent, Sentiment: "negative", Start: 25, End: 30},
	})

	result := singleResult(t, engine.Evaluate(ruleSet(rule), segments, feed, models.CallMetadata{}), "tone")
	if result.Passed != models.PassFalse {
		t.Fatalf("Passed = %q, want false on escalation", result.Passed)
	}
}

func TestResolutionRuleClosingWindow(t *testing.T) {
	engine := NewEngine()
	rule := models.PolicyRule{
		ID: "wrap-up", Type: models.RuleTypeResolution, Category: "closing",
		Severity: models.SeverityMinor, Enabled: true,
		Resolution: &models.ResolutionRule{
			ResolutionMarkers: []string{"issue is resolved"},
			NextStepMarkers:   []string{"follow up"},
			RequireNextSteps:  true,
		},
	}

	// Next-step marker only at the start of the call: outside the closing window.
	early := []models.TranscriptSegment{
		seg(models.SpeakerAgent, "I will follow up if needed.", 0, 5),
		seg(models.SpeakerCustomer, "ok", 10, 11),
		seg(models.SpeakerAgent, "Checking the account now.", 20, 30),
		seg(models.SpeakerAgent, "More diagnostics here.", 40, 60),
		seg(models.SpeakerCustomer, "sure", 70, 72),
		seg(models.SpeakerAgent, "Your issue is resolved.", 80, 85),
		seg(models.SpeakerCustomer, "great", 90, 92),
		seg(models.SpeakerAgent, "Anything else?", 95, 98),
		seg(models.SpeakerCustomer, "no thanks", 99, 100),
	}
	result := singleResult(t, engine.Evaluate(ruleSet(rule), early, sentiment.Feed{}, models.CallMetadata{}), "closing")
	if result.Passed != models.PassFalse {
		t.Fatalf("early next-step marker: Passed = %q, want false", result.Passed)
	}

	// Same call, next-step marker in the closing stretch.
	late := append(append([]models.TranscriptSegment{}, early[1:]...),
		seg(models.SpeakerAgent, "I'll follow up by email tomorrow.", 101, 104))
	result = singleResult(t, engine.Evaluate(ruleSet(rule), late, sentiment.Feed{}, models.CallMetadata{}), "closing")
	if result.Passed != models.PassTrue {
		t.Fatalf("closing next-step marker: Passed = %q, want true (note %q)", result.Passed, result.Note)
	}
}

func TestMissingTranscriptMakesAllRulesIndeterminate(t *testing.T) {
	engine := NewEngine()
	set := map[string][]models.PolicyRule{
		"greeting": {{
			ID: "b1", Type: models.RuleTypeBoolean, Category: "greeting",
			Severity: models.SeverityMajor, Enabled: true,
			Boolean: &models.BooleanRule{Required: true, Patterns: []string{"hi"}},
		}},
		"timing": {{
			ID: "n1", Type: models.RuleTypeNumeric, Category: "timing",
			Severity: models.SeverityMinor, Enabled: true,
			Numeric: &models.NumericRule{Measurement: MeasurementGreetWithin, Operator: models.OpLessOrEqual, Threshold: 15},
		}},
	}

	results := engine.Evaluate(set, nil, sentiment.Feed{}, models.CallMetadata{})
	for category, list := range results {
		for _, r := range list {
			if r.Passed != models.PassIndeterminate {
				t.Errorf("%s/%s: Passed = %q, want indeterminate", category, r.RuleID, r.Passed)
			}
			if r.Error != errTranscriptMissing {
				t.Errorf("%s/%s: Error = %q, want %q", category, r.RuleID, r.Error, errTranscriptMissing)
			}
		}
	}
}

func TestDisabledRuleSkipped(t *testing.T) {
	engine := NewEngine()
	rule := models.PolicyRule{
		ID: "off", Type: models.RuleTypeBoolean, Category: "greeting",
		Severity: models.SeverityMinor, Enabled: false,
		Boolean: &models.BooleanRule{Required: true, Patterns: []string{"hi"}},
	}
	results := engine.Evaluate(ruleSet(rule), []models.TranscriptSegment{seg(models.SpeakerAgent, "hi", 0, 1)}, sentiment.Feed{}, models.CallMetadata{})
	if len(results["greeting"]) != 0 {
		t.Fatalf("disabled rule produced %d results, want 0", len(results["greeting"]))
	}
}

func TestMalformedRuleIsolated(t *testing.T) {
	engine := NewEngine()
	set := map[string][]models.PolicyRule{
		"compliance": {
			{
				ID: "broken", Type: models.RuleTypeBoolean, Category: "compliance",
				Severity: models.SeverityMajor, Enabled: true,
				// payload missing
			},
			{
				ID: "fine", Type: models.RuleTypeBoolean, Category: "compliance",
				Severity: models.SeverityMajor, Enabled: true,
				Boolean: &models.BooleanRule{Required: true, Patterns: []string{"hello"}},
			},
		},
	}
	segments := []models.TranscriptSegment{seg(models.SpeakerAgent, "hello there", 0, 2)}

	results := engine.Evaluate(set, segments, sentiment.Feed{}, models.CallMetadata{})
	list := results["compliance"]
	if len(list) != 2 {
		t.Fatalf("got %d results, want 2", len(list))
	}
	byID := map[string]models.RuleEvaluationResult{}
	for _, r := range list {
		byID[r.RuleID] = r
	}
	if byID["broken"].Passed != models.PassIndeterminate {
		t.Errorf("broken rule Passed = %q, want indeterminate", byID["broken"].Passed)
	}
	if !strings.HasPrefix(byID["broken"].Error, "malformed rule") {
		t.Errorf("broken rule Error = %q, want malformed rule prefix", byID["broken"].Error)
	}
	if byID["fine"].Passed != models.PassTrue {
		t.Errorf("healthy rule Passed = %q, want true", byID["fine"].Passed)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	engine := NewEngine()
	rule := models.PolicyRule{
		ID: "greeting-present", Type: models.RuleTypeBoolean, Category: "greeting",
		Severity: models.SeverityMajor, Enabled: true,
		Boolean: &models.BooleanRule{Required: true, Patterns: []string{"this is"}},
	}
	segments := []models.TranscriptSegment{seg(models.SpeakerAgent, "Hello, this is Sam.", 5, 8)}

	first := singleResult(t, engine.Evaluate(ruleSet(rule), segments, sentiment.Feed{}, models.CallMetadata{}), "greeting")
	for i := 0; i < 10; i++ {
		again := singleResult(t, engine.Evaluate(ruleSet(rule), segments, sentiment.Feed{}, models.CallMetadata{}), "greeting")
		if again.Passed != first.Passed || len(again.Evidence) != len(first.Evidence) {
			t.Fatalf("run %d diverged: %+v vs %+v", i, again, first)
		}
	}
}
