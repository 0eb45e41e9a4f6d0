// Package detection matches behaviors and evaluates their compliance
// policy.
//
// This file merges the per-strategy outcomes and the input-quality signal
// into one behavior-detection record, including the combined confidence.
package detection

import (
	"math"

	"github.com/ScorePipe/ScorePipe/internal/models"
)

// Confidence combination weights: match similarity, segment transcription
// confidence, match-type precision, evidence-count normalization.
const (
	similarityWeight    = 0.5
	transcriptionWeight = 0.2
	precisionWeight     = 0.2
	evidenceWeight      = 0.1

	// evidenceSaturation is the evidence count at which the evidence signal
	// reaches full strength.
	evidenceSaturation = 3.0
)

// matchPrecision rates how trustworthy a match type is.
func matchPrecision(mt models.MatchType) float64 {
	switch mt {
	case models.MatchExact:
		return 1.0
	case models.MatchFuzzy, models.MatchSemantic:
		return 0.8
	default:
		return 0
	}
}

// aggregate merges strategy outcomes into a DetectionResult. The headline
// match is the strategy with the higher similarity; evidence from both
// strategies is kept.
func aggregate(behavior models.BehaviorDefinition, segments []models.TranscriptSegment, exact, semantic strategyOutcome) models.DetectionResult {
	best := exact
	if semantic.detected && (!exact.detected || semantic.similarity > exact.similarity) {
		best = semantic
	}

	result := models.DetectionResult{
		BehaviorID: behavior.ID,
		Detected:   best.detected,
		MatchType:  best.matchType,
	}
	if best.detected {
		result.MatchedText = best.matched
	} else {
		result.MatchType = models.MatchNone
	}
	if exact.ran {
		v := exact.detected
		result.ExactDetected = &v
	}
	if semantic.ran {
		v := semantic.detected
		result.SemanticDetected = &v
	}
	result.Evidence = append(result.Evidence, exact.evidence...)
	result.Evidence = append(result.Evidence, semantic.evidence...)

	quality := transcriptionQuality(segments)
	if best.detected {
		evidenceNorm := math.Min(1, float64(len(result.Evidence))/evidenceSaturation)
		result.Confidence = clamp01(similarityWeight*best.similarity +
			transcriptionWeight*quality +
			precisionWeight*matchPrecision(best.matchType) +
			evidenceWeight*evidenceNorm)
	} else {
		// Absence confidence: how much we trust that a miss is a real miss.
		// Driven by transcription quality alone.
		result.Confidence = clamp01(0.5 * quality)
	}
	return result
}

// transcriptionQuality averages per-segment transcription confidence.
// Segments without a confidence value count as fully confident, so feeds
// that omit the signal are not penalized.
func transcriptionQuality(segments []models.TranscriptSegment) float64 {
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

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
