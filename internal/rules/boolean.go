// Package rules implements the deterministic rule-evaluation engine.
//
// Boolean rules check presence or absence of evidence patterns, optionally
// restricted to agent segments and a time window.
package rules

import (
	"github.com/ScorePipe/ScorePipe/internal/models"
	"github.com/ScorePipe/ScorePipe/internal/textmatch"
)

// evaluateBoolean searches the selected segments for the evidence patterns.
// pass = (required AND found) OR (NOT required AND NOT found).
func (e *Engine) evaluateBoolean(ctx evalContext, base models.RuleEvaluationResult, rule models.BooleanRule) models.RuleEvaluationResult {
	found := false
	for _, seg := range ctx.segments {
		if rule.AgentOnly && seg.Speaker != models.SpeakerAgent {
			continue
		}
		if !inWindow(seg, rule.WindowStart, rule.WindowEnd) {
			continue
		}
		for _, pattern := range rule.Patterns {
			if textmatch.Contains(seg.Text, pattern) {
				found = true
				base.Evidence = append(base.Evidence, models.Evidence{
					Text:    seg.Text,
					Speaker: seg.Speaker,
					Start:   seg.StartSeconds(),
					End:     seg.EndSeconds(),
					Pattern: pattern,
				})
				break
			}
		}
	}

	if found == rule.Required {
		base.Passed = models.PassTrue
	} else {
		base.Passed = models.PassFalse
	}
	return base
}

// inWindow reports whether a segment starts inside the optional window.
func inWindow(seg models.TranscriptSegment, start, end *float64) bool {
	at := seg.StartSeconds()
	if start != nil && at < *start {
		return false
	}
	if end != nil && at > *end {
		return false
	}
	return true
}
