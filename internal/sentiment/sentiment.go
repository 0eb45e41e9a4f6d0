// Package sentiment provides a fixed whitelist of sentiment labels,
// validation of the optional sentiment feed, per-speaker aggregation, and
// the escalation heuristic consumed by tone-based rules.
package sentiment

import (
	"math"
	"strings"

	"github.com/ScorePipe/ScorePipe/internal/models"
)

// ---- Whitelist ----

// AllLabels is the hard-coded set of accepted sentiment labels.
var AllLabels = map[string]bool{
	"positive": true,
	"neutral":  true,
	"negative": true,
}

// Labels recognized as hostile tones for tone-based rules. Feeds may use
// finer-grained labels; anything outside the whitelist is normalized here
// before being dropped.
var hostileAliases = map[string]string{
	"angry":      "negative",
	"frustrated": "negative",
	"hostile":    "negative",
	"annoyed":    "negative",
	"happy":      "positive",
	"satisfied":  "positive",
	"calm":       "neutral",
}

// ---- Public API ----

// Feed is a validated, cleaned sentiment feed for one evaluation run.
type Feed struct {
	entries []models.SentimentEntry
}

// NewFeed validates and normalizes raw sentiment entries. Entries with
// unknown speakers, unrecognized labels, or inverted time ranges are
// dropped; scores are clamped to [0,1]. A nil/empty input yields an empty
// feed, which dependent rules treat as indeterminate.
func NewFeed(entries []models.SentimentEntry) Feed {
	var cleaned []models.SentimentEntry
	for _, e := range entries {
		if !models.IsValidSpeaker(e.Speaker) {
			continue
		}
		if e.End < e.Start || e.Start < 0 {
			continue
		}
		label := strings.TrimSpace(strings.ToLower(e.Sentiment))
		if alias, ok := hostileAliases[label]; ok {
			label = alias
		}
		if !AllLabels[label] {
			continue
		}
		e.Sentiment = label
		if e.Score != nil {
			v := clamp(*e.Score)
			e.Score = &v
		}
		cleaned = append(cleaned, e)
	}
	return Feed{entries: cleaned}
}

// Empty reports whether the feed carries no usable entries.
func (f Feed) Empty() bool {
	return len(f.entries) == 0
}

// Entries returns the cleaned entries in input order.
func (f Feed) Entries() []models.SentimentEntry {
	return f.entries
}

// ForSpeaker returns the entries attributed to one speaker, in input order.
func (f Feed) ForSpeaker(sp models.Speaker) []models.SentimentEntry {
	var out []models.SentimentEntry
	for _, e := range f.entries {
		if e.Speaker == sp {
			out = append(out, e)
		}
	}
	return out
}

// Dominant returns the most frequent label for a speaker, or "" when the
// speaker has no entries. Ties resolve in severity order negative >
// neutral > positive so a mixed feed never hides hostility.
func (f Feed) Dominant(sp models.Speaker) string {
	counts := map[string]int{}
	for _, e := range f.ForSpeaker(sp) {
		counts[e.Sentiment]++
	}
	if len(counts) == 0 {
		return ""
	}
	best := ""
	for _, label := range []string{"negative", "neutral", "positive"} {
		if counts[label] > 0 && (best == "" || counts[label] > counts[best]) {
			best = label
		}
	}
	return best
}

// Overall returns the dominant label across all speakers, or "" for an
// empty feed.
func (f Feed) Overall() string {
	counts := map[string]int{}
	for _, e := range f.entries {
		counts[e.Sentiment]++
	}
	if len(counts) == 0 {
		return ""
	}
	best := ""
	for _, label := range []string{"negative", "neutral", "positive"} {
		if counts[label] > 0 && (best == "" || counts[label] > counts[best]) {
			best = label
		}
	}
	return best
}

// HasLabel reports whether the speaker ever shows the given label.
func (f Feed) HasLabel(sp models.Speaker, label string) bool {
	label = strings.TrimSpace(strings.ToLower(label))
	if alias, ok := hostileAliases[label]; ok {
		label = alias
	}
	for _, e := range f.ForSpeaker(sp) {
		if e.Sentiment == label {
			return true
		}
	}
	return false
}

// Escalation reports whether a negative customer entry is answered by a
// negative agent entry that starts at or after it. Agents are expected to
// de-escalate; matching hostility fails tone-based rules.
func (f Feed) Escalation() bool {
	for _, cust := range f.entries {
		if cust.Speaker != models.SpeakerCustomer || cust.Sentiment != "negative" {
			continue
		}
		for _, ag := range f.entries {
			if ag.Speaker != models.SpeakerAgent || ag.Sentiment != "negative" {
				continue
			}
			if ag.Start >= cust.Start {
				return true
			}
		}
	}
	return false
}

// ---- helpers ----

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	// Round to 4 decimal places to avoid floating point drift.
	return math.Round(v*10000) / 10000
}
