package explain

import (
	"reflect"
	"strings"
	"testing"

	"github.com/ScorePipe/ScorePipe/internal/models"
)

func sampleEvaluation() models.FinalEvaluation {
	reason := "critical_violation:no-guarantees"
	return models.FinalEvaluation{
		EvaluationID: "eval-1",
		OverallScore: 62,
		Passed:       false,
		FailureReason: &reason,
		Stages: []models.StageEvaluation{
			{
				StageID: "opening", Name: "Opening", Score: 100, Weight: 40,
				Feedback: "2 of 2 behaviors satisfied",
				Behaviors: []models.BehaviorVerdict{
					{BehaviorID: "greet", Name: "Greeting", Detected: true, Satisfaction: models.SatisfactionFull, Confidence: 0.9, Weight: 1,
						Evidence: []models.Evidence{{Text: "hello, this is Sam", Speaker: models.SpeakerAgent}}},
					{BehaviorID: "verify", Name: "Identity verification", Detected: true, Satisfaction: models.SatisfactionFull, Confidence: 0.8, Weight: 1},
				},
			},
			{
				StageID: "closing", Name: "Closing", Score: 50, Weight: 60,
				CriticalViolation: true,
				Feedback:          "critical violation; 1 of 2 behaviors satisfied",
				Behaviors: []models.BehaviorVerdict{
					{BehaviorID: "recap", Name: "Recap", Detected: true, Satisfaction: models.SatisfactionPartial, Confidence: 0.7, Weight: 1},
					{BehaviorID: "thanks", Name: "Thanks", Satisfaction: models.SatisfactionNone, Confidence: 0.5, Weight: 1},
				},
			},
		},
		Violations: []models.PolicyViolation{
			{RuleID: "no-guarantees", Severity: models.SeverityCritical, FailOverall: true},
			{RuleID: "hold-notice", Severity: models.SeverityMajor, PenaltyPoints: 10},
		},
		TotalPenaltyPoints:  10,
		RequiresHumanReview: true,
		ClassifierFallback:  true,
		Confidence: models.ConfidenceReport{
			Score: 0.45, Level: models.ConfidenceLevelLow,
			Reasoning: "Confidence 0.45 (low).",
			Breakdown: models.ConfidenceBreakdown{
				TranscriptQuality:       0.5,
				DetectionAgreement:      1.0,
				ClassifierConsistency:   0.7,
				RuleClassifierAgreement: 0.7,
				EvidenceStrength:        0.3,
				ScoreVariance:           0.5,
				BehaviorCoverage:        0.75,
			},
			SchemaPenalized: true,
		},
	}
}

func TestExplainIsIdempotent(t *testing.T) {
	final := sampleEvaluation()
	first := Explain(final)
	for i := 0; i < 5; i++ {
		if again := Explain(final); !reflect.DeepEqual(again, first) {
			t.Fatalf("run %d produced a different report", i)
		}
	}
}

func TestExplainOverallNarrative(t *testing.T) {
	report := Explain(sampleEvaluation())
	if report.EvaluationID != "eval-1" {
		t.Errorf("EvaluationID = %q", report.EvaluationID)
	}
	for _, want := range []string{
		"Overall score 62/100 (failed)",
		"Failure reason: critical_violation:no-guarantees",
		"Stage contributions",
		"Opening",
		"Penalties deducted 10.0 pts",
		"hold-notice (major, -10.0)",
		"Critical violation: no-guarantees",
		"Flagged for human review",
		"deterministic fallback",
	} {
		if !strings.Contains(report.Overall, want) {
			t.Errorf("overall narrative missing %q:\n%s", want, report.Overall)
		}
	}
}

func TestExplainStageContributions(t *testing.T) {
	report := Explain(sampleEvaluation())
	if len(report.Stages) != 2 {
		t.Fatalf("explained %d stages, want 2", len(report.Stages))
	}
	opening := report.Stages[0]
	if opening.Contribution != 40 {
		t.Errorf("opening contribution = %v, want 40 (100%% of weight 40)", opening.Contribution)
	}
	closing := report.Stages[1]
	if closing.Contribution != 30 {
		t.Errorf("closing contribution = %v, want 30 (50%% of weight 60)", closing.Contribution)
	}
	if !strings.Contains(closing.Text, "critical behavior violation") {
		t.Errorf("closing narrative missing the critical marker: %s", closing.Text)
	}
}

func TestExplainBehaviorImpacts(t *testing.T) {
	report := Explain(sampleEvaluation())
	if len(report.Behaviors) != 4 {
		t.Fatalf("explained %d behaviors, want 4", len(report.Behaviors))
	}

	byID := map[string]BehaviorExplanation{}
	for _, be := range report.Behaviors {
		byID[be.BehaviorID] = be
	}

	// Opening splits weight 40 across two behaviors, both satisfied.
	if got := byID["greet"].ScoreImpact; got != 20 {
		t.Errorf("greet impact = %v, want +20", got)
	}
	// Partial satisfaction halves the share of closing's weight 60.
	if got := byID["recap"].ScoreImpact; got != 15 {
		t.Errorf("recap impact = %v, want +15", got)
	}
	// An unobserved behavior counts against the score.
	if got := byID["thanks"].ScoreImpact; got != -30 {
		t.Errorf("thanks impact = %v, want -30", got)
	}

	if byID["greet"].EvidenceRefs != 1 {
		t.Errorf("greet evidence refs = %d, want 1", byID["greet"].EvidenceRefs)
	}
	if !strings.Contains(byID["thanks"].Text, "not observed") {
		t.Errorf("thanks narrative = %q", byID["thanks"].Text)
	}
	if !strings.Contains(byID["recap"].Text, "partially satisfied") {
		t.Errorf("recap narrative = %q", byID["recap"].Text)
	}
}

func TestExplainConfidenceRecommendations(t *testing.T) {
	report := Explain(sampleEvaluation())
	ce := report.Confidence
	if ce.Text != "Confidence 0.45 (low)." {
		t.Errorf("confidence text = %q", ce.Text)
	}

	joined := strings.Join(ce.Recommendations, "\n")
	for _, want := range []string{
		"transcription quality",
		"supporting evidence",
		"schema-invalid response",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("recommendations missing %q:\n%s", want, joined)
		}
	}
	// Signals above their cutoffs must not generate advice.
	for _, reject := range []string{"semantic threshold", "policy matches"} {
		if strings.Contains(joined, reject) {
			t.Errorf("unexpected recommendation about %q:\n%s", reject, joined)
		}
	}
}

func TestExplainEmptyEvaluation(t *testing.T) {
	report := Explain(models.FinalEvaluation{EvaluationID: "empty", Passed: true})
	if len(report.Stages) != 0 || len(report.Behaviors) != 0 {
		t.Errorf("empty evaluation explained stages/behaviors: %+v", report)
	}
	if !strings.Contains(report.Overall, "Overall score 0/100 (passed)") {
		t.Errorf("overall = %q", report.Overall)
	}
}
