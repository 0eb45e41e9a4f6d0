// Package classifier adapts the external zero-temperature classifier into
// the evaluation pipeline.
//
// This file implements the strict response validation: required fields,
// echoed identity, exact category set, allowed levels, and zero sampling
// settings. Anything off-contract is a validation failure that routes to
// retry and ultimately to the deterministic fallback.
package classifier

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ScorePipe/ScorePipe/internal/models"
)

// ErrValidation marks a response that failed the strict contract.
var ErrValidation = errors.New("classifier response validation failed")

// response is the wire shape the classifier must return.
type response struct {
	EvaluationID string             `json:"evaluation_id"`
	Grades       map[string]string  `json:"grades"`
	Temperature  *float64           `json:"temperature"`
	TopP         *float64           `json:"top_p"`
}

// parseAndValidate decodes the raw model output and enforces the contract
// against the request. The category remap shim runs before set comparison
// so near-miss names from the model do not discard an otherwise valid
// response; remapping never touches the deterministic core.
func parseAndValidate(raw string, req Request) (map[string]string, error) {
	var resp response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if resp.EvaluationID == "" || resp.Grades == nil || resp.Temperature == nil || resp.TopP == nil {
		return nil, fmt.Errorf("%w: missing required top-level fields", ErrValidation)
	}
	if resp.EvaluationID != req.EvaluationID {
		return nil, fmt.Errorf("%w: evaluation id mismatch: got %q want %q", ErrValidation, resp.EvaluationID, req.EvaluationID)
	}
	if *resp.Temperature != 0 || *resp.TopP != 0 {
		return nil, fmt.Errorf("%w: non-zero sampling settings reported (temperature=%v top_p=%v)", ErrValidation, *resp.Temperature, *resp.TopP)
	}

	grades := remapCategories(resp.Grades, req)

	if len(grades) != len(req.Categories) {
		return nil, fmt.Errorf("%w: returned %d categories, requested %d", ErrValidation, len(grades), len(req.Categories))
	}
	for _, cat := range req.Categories {
		level, ok := grades[cat.Name]
		if !ok {
			return nil, fmt.Errorf("%w: category %q missing from response", ErrValidation, cat.Name)
		}
		if !levelAllowed(cat.Levels, level) {
			return nil, fmt.Errorf("%w: level %q not allowed for category %q", ErrValidation, level, cat.Name)
		}
	}
	return grades, nil
}

func levelAllowed(levels []string, level string) bool {
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

// levelIndex returns the worst-to-best position of a level, -1 if absent.
func levelIndex(levels []string, level string) int {
	for i, l := range levels {
		if l == level {
			return i
		}
	}
	return -1
}

// gradesFromMap converts validated grades into the ordered result slice.
func gradesFromMap(grades map[string]string, categories []models.ClassifierCategory) []models.CategoryGrade {
	out := make([]models.CategoryGrade, 0, len(categories))
	for _, cat := range categories {
		level := grades[cat.Name]
		out = append(out, models.CategoryGrade{
			Category:   cat.Name,
			Level:      level,
			LevelIndex: levelIndex(cat.Levels, level),
		})
	}
	return out
}
