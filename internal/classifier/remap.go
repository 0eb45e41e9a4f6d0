// Package classifier adapts the external zero-temperature classifier into
// the evaluation pipeline.
//
// This file is the category-name compatibility shim. Models occasionally
// return a near-miss of a requested category name ("Greeting Quality" for
// "greeting_quality"). The shim remaps such names onto the requested set
// before validation. It lives only at the classifier boundary; rule
// evaluation never sees remapped names.
package classifier

import (
	"log/slog"

	"github.com/ScorePipe/ScorePipe/internal/textmatch"
)

// remapSimilarity is the minimum normalized similarity for a remap.
const remapSimilarity = 0.8

// remapCategories returns the grades keyed by requested category names
// where an unambiguous match exists. Exact names pass through untouched;
// a returned name that matches no requested category is kept as-is so
// validation can reject it.
func remapCategories(grades map[string]string, req Request) map[string]string {
	requested := make(map[string]bool, len(req.Categories))
	for _, cat := range req.Categories {
		requested[cat.Name] = true
	}

	out := make(map[string]string, len(grades))
	for name, level := range grades {
		if requested[name] {
			out[name] = level
			continue
		}
		if mapped, ok := closestCategory(name, req); ok {
			if _, taken := out[mapped]; taken {
				// Two returned names collapsing onto one category is
				// ambiguous; keep the original so validation fails loudly.
				out[name] = level
				continue
			}
			slog.Debug("classifier.remapCategories: remapped model category name", "from", name, "to", mapped)
			out[mapped] = level
			continue
		}
		out[name] = level
	}
	return out
}

// closestCategory finds the best requested category for an invented name.
func closestCategory(name string, req Request) (string, bool) {
	norm := textmatch.Normalize(name)
	best := ""
	bestSim := 0.0
	for _, cat := range req.Categories {
		sim := textmatch.Ratio(norm, textmatch.Normalize(cat.Name))
		if sim > bestSim {
			bestSim = sim
			best = cat.Name
		}
	}
	if bestSim >= remapSimilarity {
		return best, true
	}
	return "", false
}
