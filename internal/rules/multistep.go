// Package rules implements the deterministic rule-evaluation engine.
//
// Multi-step rules are ordered checklists: every step needs matching
// evidence, and with strict_order set, a step's first evidence must not
// occur before an earlier step's first evidence.
package rules

import (
	"fmt"

	"github.com/ScorePipe/ScorePipe/internal/models"
	"github.com/ScorePipe/ScorePipe/internal/textmatch"
)

// evaluateMultiStep finds each step's first evidence and enforces the
// optional chronological ordering.
func (e *Engine) evaluateMultiStep(ctx evalContext, base models.RuleEvaluationResult, rule models.MultiStepRule) models.RuleEvaluationResult {
	type stepHit struct {
		name  string
		at    float64
		found bool
	}
	hits := make([]stepHit, 0, len(rule.Steps))

	for _, step := range rule.Steps {
		hit := stepHit{name: step.Name}
		for _, seg := range ctx.segments {
			matched := false
			for _, pattern := range step.Patterns {
				if textmatch.Contains(seg.Text, pattern) {
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
				hit.at = seg.StartSeconds()
				hit.found = true
				break // first evidence only
			}
		}
		hits = append(hits, hit)
		if hit.found {
			base.Present = append(base.Present, step.Name)
		} else {
			base.Missing = append(base.Missing, step.Name)
		}
	}

	if len(base.Missing) > 0 {
		base.Passed = models.PassFalse
		return base
	}

	if rule.StrictOrder {
		for i := 1; i < len(hits); i++ {
			if hits[i].at < hits[i-1].at {
				base.Passed = models.PassFalse
				base.Note = fmt.Sprintf("step %q occurred before step %q", hits[i].name, hits[i-1].name)
				return base
			}
		}
	}

	base.Passed = models.PassTrue
	return base
}
