// Package detection matches behaviors and evaluates their compliance
// policy.
//
// This file implements the compliance evaluator: given the behavior's
// required/forbidden/critical classification, the detection outcome and
// the optional timing window, it decides the violation status.
package detection

import (
	"fmt"

	"github.com/ScorePipe/ScorePipe/internal/models"
)

// Violation reasons reported on detection results.
const (
	ReasonRequiredMissing  = "required_behavior_missing"
	ReasonForbiddenPresent = "forbidden_behavior_present"
	ReasonLateBehavior     = "late_behavior"
)

// applyCompliance mutates the detection result with the compliance verdict:
// required-and-absent or forbidden-and-present are violations, a timing
// window exceeded is a violation independent of either, and a critical
// behavior classification upgrades any violation to critical.
func applyCompliance(result *models.DetectionResult, behavior models.BehaviorDefinition, firstAt *float64) {
	switch behavior.Type {
	case models.BehaviorRequired, models.BehaviorCritical:
		if !result.Detected {
			result.ComplianceViolation = true
			result.ViolationReason = ReasonRequiredMissing
		}
	case models.BehaviorForbidden:
		if result.Detected {
			result.ComplianceViolation = true
			result.ViolationReason = ReasonForbiddenPresent
		}
	}

	// Timing violations apply regardless of the required/forbidden outcome.
	if behavior.TimingWindowSeconds != nil && result.Detected && firstAt != nil {
		if *firstAt > *behavior.TimingWindowSeconds {
			result.ComplianceViolation = true
			if result.ViolationReason != "" {
				result.ViolationReason = fmt.Sprintf("%s,%s", result.ViolationReason, ReasonLateBehavior)
			} else {
				result.ViolationReason = ReasonLateBehavior
			}
		}
	}

	if behavior.Type == models.BehaviorCritical && result.ComplianceViolation {
		result.CriticalViolation = true
	}
}
