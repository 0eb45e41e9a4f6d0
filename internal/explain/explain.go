// Package explain renders a structured, human-readable narrative of a
// final evaluation: overall explanation, per-stage and per-behavior
// breakdowns, and a confidence explanation with targeted recommendations.
//
// The package is a pure transformer: it only reads its inputs, and
// re-running it on an unchanged evaluation produces an identical payload.
package explain

import (
	"fmt"
	"strings"

	"github.com/ScorePipe/ScorePipe/internal/models"
)

// BehaviorExplanation narrates one behavior's verdict.
type BehaviorExplanation struct {
	BehaviorID   string              `json:"behavior_id"`
	Name         string              `json:"name"`
	StageID      string              `json:"stage_id"`
	Detected     bool                `json:"detected"`
	Satisfaction models.Satisfaction `json:"satisfaction"`
	Confidence   float64             `json:"confidence"`
	EvidenceRefs int                 `json:"evidence_refs"`
	// ScoreImpact estimates how many overall points this behavior's verdict
	// cost (negative) or contributed (positive).
	ScoreImpact float64 `json:"score_impact"`
	Text        string  `json:"text"`
}

// StageExplanation narrates one stage's score.
type StageExplanation struct {
	StageID      string                `json:"stage_id"`
	Name         string                `json:"name"`
	Score        float64               `json:"score"`
	Weight       float64               `json:"weight"`
	Contribution float64               `json:"contribution"` // points contributed to the overall score
	Text         string                `json:"text"`
	Behaviors    []BehaviorExplanation `json:"behaviors"`
}

// ConfidenceExplanation narrates the confidence signal.
type ConfidenceExplanation struct {
	Text            string   `json:"text"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Report is the full explanation payload.
type Report struct {
	EvaluationID string                `json:"evaluation_id"`
	Overall      string                `json:"overall"`
	Stages       []StageExplanation    `json:"stages"`
	Behaviors    []BehaviorExplanation `json:"behaviors"`
	Confidence   ConfidenceExplanation `json:"confidence"`
}

// Explain builds the full narrative for a final evaluation.
func Explain(final models.FinalEvaluation) Report {
	report := Report{EvaluationID: final.EvaluationID}

	for _, stage := range final.Stages {
		se := explainStage(stage)
		report.Stages = append(report.Stages, se)
		report.Behaviors = append(report.Behaviors, se.Behaviors...)
	}
	report.Overall = explainOverall(final, report.Stages)
	report.Confidence = explainConfidence(final.Confidence)
	return report
}

// explainOverall narrates weighted stage contributions, the penalty
// breakdown and the failure reason.
func explainOverall(final models.FinalEvaluation, stages []StageExplanation) string {
	var b strings.Builder

	verdict := "passed"
	if !final.Passed {
		verdict = "failed"
	}
	fmt.Fprintf(&b, "Overall score %d/100 (%s).", final.OverallScore, verdict)
	if final.FailureReason != nil {
		fmt.Fprintf(&b, " Failure reason: %s.", *final.FailureReason)
	}

	if len(stages) > 0 {
		b.WriteString(" Stage contributions:")
		for i, st := range stages {
			sep := " "
			if i > 0 {
				sep = "; "
			}
			fmt.Fprintf(&b, "%s%s %.1f%% × weight %.1f = %.1f pts", sep, st.Name, st.Score, st.Weight, st.Contribution)
		}
		b.WriteString(".")
	}

	if final.TotalPenaltyPoints > 0 {
		fmt.Fprintf(&b, " Penalties deducted %.1f pts:", final.TotalPenaltyPoints)
		for i, v := range final.Violations {
			if v.PenaltyPoints <= 0 {
				continue
			}
			sep := " "
			if i > 0 {
				sep = "; "
			}
			fmt.Fprintf(&b, "%s%s (%s, -%.1f)", sep, v.RuleID, v.Severity, v.PenaltyPoints)
		}
		b.WriteString(".")
	}

	for _, v := range final.Violations {
		if v.Severity == models.SeverityCritical {
			fmt.Fprintf(&b, " Critical violation: %s.", v.RuleID)
		}
	}
	if final.RequiresHumanReview {
		b.WriteString(" Flagged for human review.")
	}
	if final.ClassifierFallback {
		b.WriteString(" Grading used the deterministic fallback (classifier unavailable or invalid).")
	}
	return b.String()
}

// explainStage narrates one stage and its behaviors, including the
// estimated per-behavior score impact.
func explainStage(stage models.StageEvaluation) StageExplanation {
	se := StageExplanation{
		StageID:      stage.StageID,
		Name:         stage.Name,
		Score:        stage.Score,
		Weight:       stage.Weight,
		Contribution: stage.Score * stage.Weight / 100,
	}

	weightTotal := 0.0
	for _, b := range stage.Behaviors {
		weightTotal += b.Weight
	}

	for _, b := range stage.Behaviors {
		be := BehaviorExplanation{
			BehaviorID:   b.BehaviorID,
			Name:         b.Name,
			StageID:      stage.StageID,
			Detected:     b.Detected,
			Satisfaction: b.Satisfaction,
			Confidence:   b.Confidence,
			EvidenceRefs: len(b.Evidence),
			ScoreImpact:  behaviorImpact(b, weightTotal, stage.Weight),
		}
		be.Text = behaviorText(be, b)
		se.Behaviors = append(se.Behaviors, be)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s scored %.1f%% (weight %.1f, contributing %.1f pts to the overall score).", stage.Name, se.Score, se.Weight, se.Contribution)
	if stage.CriticalViolation {
		b.WriteString(" Contains a critical behavior violation.")
	}
	if stage.Feedback != "" {
		fmt.Fprintf(&b, " %s.", strings.TrimSuffix(stage.Feedback, "."))
	}
	se.Text = b.String()
	return se
}

// behaviorImpact estimates overall points won or lost by this behavior:
// its share of the stage weight, scaled by the stage's normalized weight,
// signed by satisfaction.
func behaviorImpact(b models.BehaviorVerdict, stageWeightTotal, stageWeight float64) float64 {
	if stageWeightTotal == 0 {
		return 0
	}
	share := b.Weight / stageWeightTotal * stageWeight / 100 * 100
	switch b.Satisfaction {
	case models.SatisfactionFull:
		return share
	case models.SatisfactionPartial:
		return share * 0.5
	default:
		return -share
	}
}

func behaviorText(be BehaviorExplanation, b models.BehaviorVerdict) string {
	var sb strings.Builder
	switch {
	case b.Satisfaction == models.SatisfactionFull:
		fmt.Fprintf(&sb, "%q satisfied", b.Name)
	case b.Satisfaction == models.SatisfactionPartial:
		fmt.Fprintf(&sb, "%q partially satisfied", b.Name)
	case b.Detected:
		fmt.Fprintf(&sb, "%q detected but not satisfied", b.Name)
	default:
		fmt.Fprintf(&sb, "%q not observed", b.Name)
	}
	fmt.Fprintf(&sb, " (confidence %.2f, %d evidence reference(s), est. impact %+.1f pts).", b.Confidence, be.EvidenceRefs, be.ScoreImpact)
	return sb.String()
}

// explainConfidence narrates the confidence report and derives targeted
// improvement recommendations from low-scoring signals.
func explainConfidence(report models.ConfidenceReport) ConfidenceExplanation {
	ce := ConfidenceExplanation{Text: report.Reasoning}

	b := report.Breakdown
	if b.TranscriptQuality < 0.6 {
		ce.Recommendations = append(ce.Recommendations, "improve recording or transcription quality; low segment confidence is eroding every downstream signal")
	}
	if b.DetectionAgreement < 0.6 {
		ce.Recommendations = append(ce.Recommendations, "exact and semantic detection disagree often; review behavior example phrases and the semantic threshold")
	}
	if b.EvidenceStrength < 0.5 {
		ce.Recommendations = append(ce.Recommendations, "few behaviors have supporting evidence; add evidence patterns or examples to behavior definitions")
	}
	if b.RuleClassifierAgreement < 0.6 {
		ce.Recommendations = append(ce.Recommendations, "rule violations coexist with high scores; have a reviewer reconcile the rule results against the grading")
	}
	if b.BehaviorCoverage < 0.5 {
		ce.Recommendations = append(ce.Recommendations, "less than half the defined behaviors were observed; confirm the policy matches this call type")
	}
	if report.SchemaPenalized {
		ce.Recommendations = append(ce.Recommendations, "the classifier returned a schema-invalid response; inspect the classifier configuration before trusting automated grading")
	}
	return ce
}
