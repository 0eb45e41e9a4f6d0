// Package classifier adapts the external zero-temperature classifier into
// the evaluation pipeline.
//
// This file builds the canonical request payload. Field order is fixed
// (alphabetical by JSON key) and all collections are sorted, so the same
// evaluation always serializes to the same bytes — a prerequisite for
// reproducible classifier calls.
package classifier

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/ScorePipe/ScorePipe/internal/models"
	"github.com/ScorePipe/ScorePipe/internal/sentiment"
)

// Transcript summary compression bounds.
const (
	maxSummarySegmentChars = 200
	maxSummaryChars        = 4000
)

// ToneFlags are the boolean tone signals included in the request payload.
type ToneFlags struct {
	Available        bool `json:"available"`
	AgentNegative    bool `json:"agent_negative"`
	CustomerNegative bool `json:"customer_negative"`
	Escalation       bool `json:"escalation"`
}

// ToneFlagsFromFeed derives the payload tone flags from the sentiment feed.
func ToneFlagsFromFeed(feed sentiment.Feed) ToneFlags {
	if feed.Empty() {
		return ToneFlags{}
	}
	return ToneFlags{
		Available:        true,
		AgentNegative:    feed.HasLabel(models.SpeakerAgent, "negative"),
		CustomerNegative: feed.HasLabel(models.SpeakerCustomer, "negative"),
		Escalation:       feed.Escalation(),
	}
}

// requestCategory is one category entry of the request payload.
type requestCategory struct {
	Levels []string `json:"levels"`
	Name   string   `json:"name"`
	RuleID string   `json:"rule_id,omitempty"`
}

// requestRule is one deterministic rule result of the request payload.
type requestRule struct {
	Category string `json:"category"`
	Passed   string `json:"passed"`
	RuleID   string `json:"rule_id"`
	Severity string `json:"severity"`
}

// Request is the canonical classifier request. JSON keys are emitted in
// alphabetical order and the slices are sorted deterministically.
type Request struct {
	Categories   []requestCategory `json:"categories"`
	EvaluationID string            `json:"evaluation_id"`
	RuleResults  []requestRule     `json:"rule_results"`
	Summary      string            `json:"summary"`
	Tone         ToneFlags         `json:"tone"`
}

// BuildRequest assembles the canonical payload from structured inputs.
func BuildRequest(evaluationID string, categories []models.ClassifierCategory, ruleResults map[string][]models.RuleEvaluationResult, feed sentiment.Feed, segments []models.TranscriptSegment) Request {
	req := Request{
		EvaluationID: evaluationID,
		Summary:      summarizeTranscript(segments),
		Tone:         ToneFlagsFromFeed(feed),
	}

	for _, cat := range categories {
		req.Categories = append(req.Categories, requestCategory{
			Levels: cat.Levels,
			Name:   cat.Name,
			RuleID: cat.LinkedRuleID,
		})
	}
	sort.Slice(req.Categories, func(i, j int) bool {
		return req.Categories[i].Name < req.Categories[j].Name
	})

	for category, list := range ruleResults {
		for _, r := range list {
			req.RuleResults = append(req.RuleResults, requestRule{
				Category: category,
				Passed:   string(r.Passed),
				RuleID:   r.RuleID,
				Severity: string(r.Severity),
			})
		}
	}
	sort.Slice(req.RuleResults, func(i, j int) bool {
		if req.RuleResults[i].Category != req.RuleResults[j].Category {
			return req.RuleResults[i].Category < req.RuleResults[j].Category
		}
		return req.RuleResults[i].RuleID < req.RuleResults[j].RuleID
	})

	return req
}

// CanonicalJSON serializes the request with stable bytes.
func (r Request) CanonicalJSON() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to serialize classifier request: %w", err)
	}
	return string(b), nil
}

// Seed derives the content-addressed generation seed from the evaluation
// id (FNV-64a, masked to stay positive).
func Seed(evaluationID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(evaluationID))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

// summarizeTranscript compresses the transcript into a bounded
// speaker-prefixed summary.
func summarizeTranscript(segments []models.TranscriptSegment) string {
	var b strings.Builder
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if len(text) > maxSummarySegmentChars {
			text = text[:maxSummarySegmentChars] + "…"
		}
		line := fmt.Sprintf("[%s] %s\n", seg.Speaker, text)
		if b.Len()+len(line) > maxSummaryChars {
			b.WriteString("…\n")
			break
		}
		b.WriteString(line)
	}
	return b.String()
}
