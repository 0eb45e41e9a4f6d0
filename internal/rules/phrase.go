// Package rules implements the deterministic rule-evaluation engine.
//
// Phrase rules require (or forbid) a set of phrases across all segments;
// list rules require a minimum number of named items, each matched by any
// of its patterns.
package rules

import (
	"strings"

	"github.com/ScorePipe/ScorePipe/internal/models"
	"github.com/ScorePipe/ScorePipe/internal/textmatch"
)

// evaluatePhrase checks every phrase against all segments. A required set
// passes when every phrase appears; a forbidden set passes when none does.
func (e *Engine) evaluatePhrase(ctx evalContext, base models.RuleEvaluationResult, rule models.PhraseRule) models.RuleEvaluationResult {
	threshold := rule.FuzzyThreshold
	if threshold <= 0 {
		threshold = e.fuzzyThreshold
	}

	for _, phrase := range rule.Phrases {
		seg, pattern, ok := findPhrase(ctx.segments, phrase, rule.CaseSensitive, rule.Fuzzy, threshold)
		if ok {
			base.Present = append(base.Present, phrase)
			base.Evidence = append(base.Evidence, models.Evidence{
				Text:    seg.Text,
				Speaker: seg.Speaker,
				Start:   seg.StartSeconds(),
				End:     seg.EndSeconds(),
				Pattern: pattern,
			})
		} else {
			base.Missing = append(base.Missing, phrase)
		}
	}

	if rule.Forbidden {
		if len(base.Present) == 0 {
			base.Passed = models.PassTrue
		} else {
			base.Passed = models.PassFalse
			base.Note = "forbidden phrase present"
		}
		// Present/Missing describe observation, not satisfaction; for a
		// forbidden set an empty Present is the good outcome.
		base.Missing = nil
		return base
	}

	if len(base.Missing) == 0 {
		base.Passed = models.PassTrue
	} else {
		base.Passed = models.PassFalse
	}
	return base
}

// findPhrase locates the first segment containing the phrase.
func findPhrase(segments []models.TranscriptSegment, phrase string, caseSensitive, fuzzy bool, threshold float64) (models.TranscriptSegment, string, bool) {
	for _, seg := range segments {
		if caseSensitive {
			if strings.Contains(seg.Text, phrase) {
				return seg, phrase, true
			}
			continue
		}
		if textmatch.Contains(seg.Text, phrase) {
			return seg, phrase, true
		}
		if fuzzy {
			if ok, _, window := textmatch.FuzzyContains(seg.Text, phrase, threshold); ok {
				return seg, window, true
			}
		}
	}
	return models.TranscriptSegment{}, "", false
}

// evaluateList matches each named item by any of its patterns and applies
// the min-required / all-required threshold. With neither configured, all
// items are required.
func (e *Engine) evaluateList(ctx evalContext, base models.RuleEvaluationResult, rule models.ListRule) models.RuleEvaluationResult {
	for _, item := range rule.Items {
		matched := false
		for _, pattern := range item.Patterns {
			if seg, _, ok := findPhrase(ctx.segments, pattern, false, false, 0); ok {
				matched = true
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
		if matched {
			base.Present = append(base.Present, item.Name)
		} else {
			base.Missing = append(base.Missing, item.Name)
		}
	}

	required := rule.MinRequired
	if rule.RequireAll || required <= 0 {
		required = len(rule.Items)
	}
	if len(base.Present) >= required {
		base.Passed = models.PassTrue
	} else {
		base.Passed = models.PassFalse
	}
	return base
}
