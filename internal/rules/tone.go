// Package rules implements the deterministic rule-evaluation engine.
//
// Tone-based rules check the optional sentiment feed for forbidden tones
// and hostile escalation; without a feed they are indeterminate, never a
// silent pass.
package rules

import (
	"fmt"

	"github.com/ScorePipe/ScorePipe/internal/models"
)

// evaluateToneBased fails when the target speaker shows a forbidden tone,
// or when escalation detection is on and negative customer sentiment is
// answered in kind.
func (e *Engine) evaluateToneBased(ctx evalContext, base models.RuleEvaluationResult, rule models.ToneBasedRule) models.RuleEvaluationResult {
	if ctx.feed.Empty() {
		base.Passed = models.PassIndeterminate
		base.Error = errSentimentMissing
		return base
	}

	target := rule.Target
	if target == "" {
		target = models.SpeakerAgent
	}

	for _, tone := range rule.ForbiddenTones {
		if ctx.feed.HasLabel(target, tone) {
			base.Passed = models.PassFalse
			base.Note = fmt.Sprintf("forbidden tone %q observed for %s", tone, target)
			return base
		}
	}

	if rule.DetectEscalation && ctx.feed.Escalation() {
		base.Passed = models.PassFalse
		base.Note = "agent matched customer hostility instead of de-escalating"
		return base
	}

	base.Passed = models.PassTrue
	return base
}
