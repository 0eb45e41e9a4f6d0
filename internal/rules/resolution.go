// Package rules implements the deterministic rule-evaluation engine.
//
// Resolution rules check issue-resolved markers anywhere in the call and
// next-step markers in the closing window.
package rules

import (
	"github.com/ScorePipe/ScorePipe/internal/models"
	"github.com/ScorePipe/ScorePipe/internal/textmatch"
)

// Closing-window bounds: the last closingFraction of the call by time,
// never fewer than closingMinSegments segments.
const (
	closingFraction    = 0.2
	closingMinSegments = 3
)

// evaluateResolution passes when a resolution marker appears and, if next
// steps are required, a next-step marker appears in the closing window.
func (e *Engine) evaluateResolution(ctx evalContext, base models.RuleEvaluationResult, rule models.ResolutionRule) models.RuleEvaluationResult {
	resolved := false
	for _, marker := range rule.ResolutionMarkers {
		if seg, pattern, ok := findPhrase(ctx.segments, marker, false, false, 0); ok {
			resolved = true
			base.Present = append(base.Present, marker)
			base.Evidence = append(base.Evidence, models.Evidence{
				Text:    seg.Text,
				Speaker: seg.Speaker,
				Start:   seg.StartSeconds(),
				End:     seg.EndSeconds(),
				Pattern: pattern,
			})
		}
	}
	if !resolved {
		base.Passed = models.PassFalse
		base.Note = "no resolution marker found"
		return base
	}

	if rule.RequireNextSteps {
		closing := closingSegments(ctx.segments)
		nextSteps := false
		for _, marker := range rule.NextStepMarkers {
			for _, seg := range closing {
				if textmatch.Contains(seg.Text, marker) {
					nextSteps = true
					base.Present = append(base.Present, marker)
					base.Evidence = append(base.Evidence, models.Evidence{
						Text:    seg.Text,
						Speaker: seg.Speaker,
						Start:   seg.StartSeconds(),
						End:     seg.EndSeconds(),
						Pattern: marker,
					})
					break
				}
			}
		}
		if !nextSteps {
			base.Passed = models.PassFalse
			base.Note = "no next-step marker in the closing segments"
			return base
		}
	}

	base.Passed = models.PassTrue
	return base
}

// closingSegments returns the tail of the call: segments in the last 20%
// of its duration, or the last three segments, whichever is larger.
func closingSegments(segments []models.TranscriptSegment) []models.TranscriptSegment {
	if len(segments) <= closingMinSegments {
		return segments
	}
	end := 0.0
	for _, seg := range segments {
		if seg.EndSeconds() > end {
			end = seg.EndSeconds()
		}
	}
	cutoff := end * (1 - closingFraction)
	idx := len(segments)
	for i, seg := range segments {
		if seg.StartSeconds() >= cutoff {
			idx = i
			break
		}
	}
	if len(segments)-idx < closingMinSegments {
		idx = len(segments) - closingMinSegments
	}
	return segments[idx:]
}
