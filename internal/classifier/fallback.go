// Package classifier adapts the external zero-temperature classifier into
// the evaluation pipeline.
//
// This file derives the deterministic-only verdict used when the
// classifier is unavailable or keeps returning invalid responses, and the
// critical-rule override pass that runs over any accepted grading.
package classifier

import (
	"log/slog"

	"github.com/ScorePipe/ScorePipe/internal/models"
)

// deterministicGrades maps each category's rule results straight onto its
// rubric: any failed rule forces the worst level, all rules passing earns
// the best level, and no determinate signal lands on the middle level.
func deterministicGrades(categories []models.ClassifierCategory, ruleResults map[string][]models.RuleEvaluationResult) []models.CategoryGrade {
	out := make([]models.CategoryGrade, 0, len(categories))
	for _, cat := range categories {
		idx := fallbackLevelIndex(cat, ruleResults[cat.Name])
		level := ""
		if idx >= 0 && idx < len(cat.Levels) {
			level = cat.Levels[idx]
		}
		out = append(out, models.CategoryGrade{
			Category:   cat.Name,
			Level:      level,
			LevelIndex: idx,
		})
	}
	return out
}

func fallbackLevelIndex(cat models.ClassifierCategory, results []models.RuleEvaluationResult) int {
	if len(cat.Levels) == 0 {
		return -1
	}
	anyFailed := false
	anyPassed := false
	for _, r := range results {
		switch r.Passed {
		case models.PassFalse:
			anyFailed = true
		case models.PassTrue:
			anyPassed = true
		}
	}
	switch {
	case anyFailed:
		return 0
	case anyPassed:
		return len(cat.Levels) - 1
	default:
		return len(cat.Levels) / 2
	}
}

// applyCriticalOverrides forces any category whose linked rule is critical
// and failed to the worst rubric level, recording the override for audit.
// It runs no matter where the grades came from.
func applyCriticalOverrides(out *Outcome, categories []models.ClassifierCategory, ruleResults map[string][]models.RuleEvaluationResult) {
	byName := make(map[string]models.ClassifierCategory, len(categories))
	for _, cat := range categories {
		byName[cat.Name] = cat
	}

	for i := range out.Grades {
		grade := &out.Grades[i]
		cat, ok := byName[grade.Category]
		if !ok || cat.LinkedRuleID == "" || len(cat.Levels) == 0 {
			continue
		}
		linked, ok := findRuleResult(ruleResults, cat.LinkedRuleID)
		if !ok || linked.Severity != models.SeverityCritical || linked.Passed != models.PassFalse {
			continue
		}
		worst := cat.Levels[0]
		if grade.Level == worst && grade.LevelIndex == 0 {
			continue
		}
		slog.Info("classifier.applyCriticalOverrides: forcing worst rubric level",
			"category", grade.Category, "rule", cat.LinkedRuleID, "previous_level", grade.Level)
		out.Overrides = append(out.Overrides, models.CriticalOverride{
			Category:      grade.Category,
			RuleID:        cat.LinkedRuleID,
			ForcedLevel:   worst,
			PreviousLevel: grade.Level,
		})
		grade.Level = worst
		grade.LevelIndex = 0
	}
}

func findRuleResult(ruleResults map[string][]models.RuleEvaluationResult, ruleID string) (models.RuleEvaluationResult, bool) {
	for _, list := range ruleResults {
		for _, r := range list {
			if r.RuleID == ruleID {
				return r, true
			}
		}
	}
	return models.RuleEvaluationResult{}, false
}
