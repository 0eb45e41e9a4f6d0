// Package confidence computes the calibrated confidence signal for one
// evaluation: seven independently bounded signals combined by a fixed
// weighted sum, a three-tier level, a routing recommendation, and a
// human-readable reasoning string.
package confidence

import (
	"fmt"
	"math"
	"strings"

	"github.com/ScorePipe/ScorePipe/internal/models"
)

// Level thresholds and the schema-invalid penalty.
const (
	highCutoff   = 0.80
	mediumCutoff = 0.60
	// SchemaInvalidFactor multiplies the final score when the classifier
	// returned a schema-invalid response at any point.
	SchemaInvalidFactor = 0.4
)

// Routing recommendations.
const (
	RoutingAutoAccept  = "auto_accept"
	RoutingSpotCheck   = "spot_check"
	RoutingHumanReview = "human_review"
)

// Weights for the seven signals. Defaults sum to 1.0.
type Weights struct {
	TranscriptQuality       float64
	DetectionAgreement      float64
	ClassifierConsistency   float64
	RuleClassifierAgreement float64
	EvidenceStrength        float64
	ScoreVariance           float64
	BehaviorCoverage        float64
}

// DefaultWeights returns the standard signal weighting.
func DefaultWeights() Weights {
	return Weights{
		TranscriptQuality:       0.20,
		DetectionAgreement:      0.15,
		ClassifierConsistency:   0.15,
		RuleClassifierAgreement: 0.15,
		EvidenceStrength:        0.15,
		ScoreVariance:           0.10,
		BehaviorCoverage:        0.10,
	}
}

// Engine combines the signals under one weight configuration.
type Engine struct {
	weights Weights
}

// NewEngine creates a confidence engine. Zero weights fall back to the
// defaults.
func NewEngine(weights Weights) *Engine {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Engine{weights: weights}
}

// Input bundles everything the confidence engine reads.
type Input struct {
	Segments      []models.TranscriptSegment
	Detections    []models.DetectionResult
	Stages        []models.StageEvaluation
	RuleResults   map[string][]models.RuleEvaluationResult
	OverallScore  float64
	SchemaInvalid bool
}

// Compute produces the confidence report. The score is always in [0,1];
// a schema-invalid classifier response multiplies the weighted sum by
// SchemaInvalidFactor.
func (e *Engine) Compute(in Input) models.ConfidenceReport {
	breakdown := models.ConfidenceBreakdown{
		TranscriptQuality:       transcriptQuality(in.Segments),
		DetectionAgreement:      detectionAgreement(in.Detections),
		ClassifierConsistency:   classifierConsistency(in.Stages),
		RuleClassifierAgreement: ruleClassifierAgreement(in.RuleResults, in.OverallScore),
		EvidenceStrength:        evidenceStrength(in.Detections),
		ScoreVariance:           scoreVarianceFactor(in.Stages),
		BehaviorCoverage:        behaviorCoverage(in.Stages),
	}

	score := e.weights.TranscriptQuality*breakdown.TranscriptQuality +
		e.weights.DetectionAgreement*breakdown.DetectionAgreement +
		e.weights.ClassifierConsistency*breakdown.ClassifierConsistency +
		e.weights.RuleClassifierAgreement*breakdown.RuleClassifierAgreement +
		e.weights.EvidenceStrength*breakdown.EvidenceStrength +
		e.weights.ScoreVariance*breakdown.ScoreVariance +
		e.weights.BehaviorCoverage*breakdown.BehaviorCoverage

	report := models.ConfidenceReport{Breakdown: breakdown}
	if in.SchemaInvalid {
		score *= SchemaInvalidFactor
		report.SchemaPenalized = true
	}
	report.Score = clamp01(score)

	switch {
	case report.Score >= highCutoff:
		report.Level = models.ConfidenceLevelHigh
		report.Routing = RoutingAutoAccept
	case report.Score >= mediumCutoff:
		report.Level = models.ConfidenceLevelMedium
		report.Routing = RoutingSpotCheck
	default:
		report.Level = models.ConfidenceLevelLow
		report.Routing = RoutingHumanReview
	}
	report.Reasoning = buildReasoning(breakdown, report)
	return report
}

// transcriptQuality averages per-segment transcription confidence.
func transcriptQuality(segments []models.TranscriptSegment) float64 {
	if len(segments) == 0 {
		return 0
	}
	total := 0.0
	for _, seg := range segments {
		if seg.Confidence != nil {
			total += clamp01(*seg.Confidence)
		} else {
			total += 1.0
		}
	}
	return total / float64(len(segments))
}

// detectionAgreement is the fraction of dual-strategy behaviors where
// exact and semantic detection agreed. With no dual-strategy behaviors
// there is nothing to disagree about.
func detectionAgreement(detections []models.DetectionResult) float64 {
	dual, agreed := 0, 0
	for _, d := range detections {
		if d.ExactDetected == nil || d.SemanticDetected == nil {
			continue
		}
		dual++
		if *d.ExactDetected == *d.SemanticDetected {
			agreed++
		}
	}
	if dual == 0 {
		return 1.0
	}
	return float64(agreed) / float64(dual)
}

// classifierConsistency is the stage-confidence mean reduced by an
// inter-stage score variance penalty (capped at 0.3).
func classifierConsistency(stages []models.StageEvaluation) float64 {
	if len(stages) == 0 {
		return 0
	}
	mean := 0.0
	for _, st := range stages {
		mean += st.Confidence
	}
	mean /= float64(len(stages))

	penalty := math.Min(0.3, stageScoreStdDev(stages)/100*0.5)
	return clamp01(mean - penalty)
}

// ruleClassifierAgreement starts at full agreement and is penalized for
// unresolved critical/major violations coexisting with a high overall
// score, plus a small penalty per indeterminate rule.
func ruleClassifierAgreement(ruleResults map[string][]models.RuleEvaluationResult, overallScore float64) float64 {
	agreement := 1.0
	for _, list := range ruleResults {
		for _, r := range list {
			switch {
			case r.Passed == models.PassFalse && overallScore >= 70:
				if r.Severity == models.SeverityCritical {
					agreement -= 0.30
				} else if r.Severity == models.SeverityMajor {
					agreement -= 0.15
				}
			case r.Passed == models.PassIndeterminate:
				agreement -= 0.05
			}
		}
	}
	return clamp01(agreement)
}

// evidenceStrength is the fraction of behaviors with attached evidence,
// boosted by the absolute evidence count.
func evidenceStrength(detections []models.DetectionResult) float64 {
	if len(detections) == 0 {
		return 0
	}
	withEvidence, total := 0, 0
	for _, d := range detections {
		if len(d.Evidence) > 0 {
			withEvidence++
		}
		total += len(d.Evidence)
	}
	frac := float64(withEvidence) / float64(len(detections))
	boost := math.Min(0.2, float64(total)*0.02)
	return clamp01(frac + boost)
}

// scoreVarianceFactor rewards consistent stage scores.
func scoreVarianceFactor(stages []models.StageEvaluation) float64 {
	if len(stages) == 0 {
		return 0
	}
	return clamp01(1 - stageScoreStdDev(stages)/50)
}

// behaviorCoverage is the fraction of behaviors observed at any
// satisfaction level.
func behaviorCoverage(stages []models.StageEvaluation) float64 {
	total, covered := 0, 0
	for _, st := range stages {
		for _, b := range st.Behaviors {
			total++
			if b.Satisfaction != models.SatisfactionNone {
				covered++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total)
}

func stageScoreStdDev(stages []models.StageEvaluation) float64 {
	if len(stages) < 2 {
		return 0
	}
	mean := 0.0
	for _, st := range stages {
		mean += st.Score
	}
	mean /= float64(len(stages))
	variance := 0.0
	for _, st := range stages {
		d := st.Score - mean
		variance += d * d
	}
	variance /= float64(len(stages))
	return math.Sqrt(variance)
}

// buildReasoning narrates the threshold crossings per signal.
func buildReasoning(b models.ConfidenceBreakdown, report models.ConfidenceReport) string {
	signals := []struct {
		name  string
		value float64
	}{
		{"transcript quality", b.TranscriptQuality},
		{"detection agreement", b.DetectionAgreement},
		{"classifier consistency", b.ClassifierConsistency},
		{"rule/classifier agreement", b.RuleClassifierAgreement},
		{"evidence strength", b.EvidenceStrength},
		{"score consistency", b.ScoreVariance},
		{"behavior coverage", b.BehaviorCoverage},
	}

	var strong, weak []string
	for _, s := range signals {
		switch {
		case s.value >= highCutoff:
			strong = append(strong, s.name)
		case s.value < 0.5:
			weak = append(weak, fmt.Sprintf("%s (%.2f)", s.name, s.value))
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Confidence %.2f (%s).", report.Score, report.Level)
	if len(strong) > 0 {
		fmt.Fprintf(&sb, " Strong signals: %s.", strings.Join(strong, ", "))
	}
	if len(weak) > 0 {
		fmt.Fprintf(&sb, " Weak signals: %s.", strings.Join(weak, ", "))
	}
	if report.SchemaPenalized {
		sb.WriteString(" Score penalized for a schema-invalid classifier response.")
	}
	return sb.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
