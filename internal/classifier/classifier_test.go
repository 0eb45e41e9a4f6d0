package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/openai/openai-go"

	"github.com/ScorePipe/ScorePipe/internal/models"
	"github.com/ScorePipe/ScorePipe/internal/sentiment"
)

func fptr(v float64) *float64 { return &v }

func testCategories() []models.ClassifierCategory {
	return []models.ClassifierCategory{
		{Name: "compliance", Levels: []string{"violation", "acceptable", "exemplary"}, LinkedRuleID: "no-guarantees"},
		{Name: "greeting_quality", Levels: []string{"poor", "fair", "good"}},
	}
}

func testRuleResults() map[string][]models.RuleEvaluationResult {
	return map[string][]models.RuleEvaluationResult{
		"compliance": {
			{RuleID: "no-guarantees", Category: "compliance", Severity: models.SeverityCritical, Passed: models.PassTrue},
		},
		"greeting_quality": {
			{RuleID: "greeting-present", Category: "greeting_quality", Severity: models.SeverityMajor, Passed: models.PassTrue},
		},
	}
}

func testSegments() []models.TranscriptSegment {
	return []models.TranscriptSegment{
		{Speaker: models.SpeakerAgent, Text: "Hello, this is Sam.", Start: fptr(0), End: fptr(3)},
	}
}

func validResponse(req Request) string {
	grades := map[string]string{}
	for _, cat := range req.Categories {
		grades[cat.Name] = cat.Levels[len(cat.Levels)-1]
	}
	b, _ := json.Marshal(map[string]any{
		"evaluation_id": req.EvaluationID,
		"grades":        grades,
		"temperature":   0,
		"top_p":         0,
	})
	return string(b)
}

func TestCanonicalJSONIsStable(t *testing.T) {
	build := func() string {
		req := BuildRequest("eval-1", testCategories(), testRuleResults(), sentiment.Feed{}, testSegments())
		payload, err := req.CanonicalJSON()
		if err != nil {
			t.Fatalf("CanonicalJSON() error: %v", err)
		}
		return payload
	}
	first := build()
	for i := 0; i < 20; i++ {
		if again := build(); again != first {
			t.Fatalf("payload bytes diverged on run %d:\n%s\nvs\n%s", i, again, first)
		}
	}
}

func TestSeedIsStableAndPositive(t *testing.T) {
	a := Seed("eval-1")
	if a != Seed("eval-1") {
		t.Error("seed must be a pure function of the evaluation id")
	}
	if a < 0 {
		t.Errorf("seed = %d, want non-negative", a)
	}
	if a == Seed("eval-2") {
		t.Error("different evaluation ids should almost surely derive different seeds")
	}
}

func TestParseAndValidateAccepts(t *testing.T) {
	req := BuildRequest("eval-1", testCategories(), testRuleResults(), sentiment.Feed{}, testSegments())
	grades, err := parseAndValidate(validResponse(req), req)
	if err != nil {
		t.Fatalf("parseAndValidate() error: %v", err)
	}
	if grades["compliance"] != "exemplary" || grades["greeting_quality"] != "good" {
		t.Errorf("grades = %v", grades)
	}
}

func TestParseAndValidateRejections(t *testing.T) {
	req := BuildRequest("eval-1", testCategories(), testRuleResults(), sentiment.Feed{}, testSegments())
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "grading complete!"},
		{"missing fields", `{"evaluation_id":"eval-1","grades":{"compliance":"acceptable","greeting_quality":"fair"}}`},
		{"id mismatch", `{"evaluation_id":"other","grades":{"compliance":"acceptable","greeting_quality":"fair"},"temperature":0,"top_p":0}`},
		{"nonzero temperature", `{"evaluation_id":"eval-1","grades":{"compliance":"acceptable","greeting_quality":"fair"},"temperature":0.7,"top_p":0}`},
		{"unknown level", `{"evaluation_id":"eval-1","grades":{"compliance":"amazing","greeting_quality":"fair"},"temperature":0,"top_p":0}`},
		{"missing category", `{"evaluation_id":"eval-1","grades":{"compliance":"acceptable"},"temperature":0,"top_p":0}`},
		{"extra category", `{"evaluation_id":"eval-1","grades":{"compliance":"acceptable","greeting_quality":"fair","tone":"fair"},"temperature":0,"top_p":0}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseAndValidate(tc.raw, req); err == nil {
				t.Fatal("parseAndValidate() accepted an off-contract response")
			}
		})
	}
}

func TestRemapNearMissCategoryName(t *testing.T) {
	req := BuildRequest("eval-1", testCategories(), testRuleResults(), sentiment.Feed{}, testSegments())
	raw := `{"evaluation_id":"eval-1","grades":{"compliance":"acceptable","Greeting Quality":"fair"},"temperature":0,"top_p":0}`
	grades, err := parseAndValidate(raw, req)
	if err != nil {
		t.Fatalf("parseAndValidate() error: %v", err)
	}
	if grades["greeting_quality"] != "fair" {
		t.Errorf("remapped grade = %q, want fair", grades["greeting_quality"])
	}
}

func TestRemapCollisionFailsValidation(t *testing.T) {
	req := BuildRequest("eval-1", testCategories(), testRuleResults(), sentiment.Feed{}, testSegments())
	raw := `{"evaluation_id":"eval-1","grades":{"greeting_quality":"fair","Greeting Quality":"good"},"temperature":0,"top_p":0}`
	if _, err := parseAndValidate(raw, req); err == nil {
		t.Fatal("two names collapsing onto one category must fail validation")
	}
}

func TestDeterministicGrades(t *testing.T) {
	categories := testCategories()

	// A failed rule forces the worst level.
	failed := map[string][]models.RuleEvaluationResult{
		"compliance": {{RuleID: "no-guarantees", Passed: models.PassFalse, Severity: models.SeverityCritical}},
	}
	grades := deterministicGrades(categories, failed)
	if grades[0].Level != "violation" || grades[0].LevelIndex != 0 {
		t.Errorf("failed category grade = %+v, want worst level", grades[0])
	}
	// No determinate signal lands on the middle level.
	if grades[1].Level != "fair" || grades[1].LevelIndex != 1 {
		t.Errorf("unsignaled category grade = %+v, want middle level", grades[1])
	}

	// All passing earns the best level.
	grades = deterministicGrades(categories, testRuleResults())
	if grades[0].Level != "exemplary" {
		t.Errorf("passing category grade = %+v, want best level", grades[0])
	}
}

func TestApplyCriticalOverrides(t *testing.T) {
	categories := testCategories()
	ruleResults := map[string][]models.RuleEvaluationResult{
		"compliance": {{RuleID: "no-guarantees", Passed: models.PassFalse, Severity: models.SeverityCritical}},
	}
	out := Outcome{Grades: []models.CategoryGrade{
		{Category: "compliance", Level: "exemplary", LevelIndex: 2},
		{Category: "greeting_quality", Level: "good", LevelIndex: 2},
	}}

	applyCriticalOverrides(&out, categories, ruleResults)
	if out.Grades[0].Level != "violation" || out.Grades[0].LevelIndex != 0 {
		t.Errorf("linked grade = %+v, want forced worst level", out.Grades[0])
	}
	if out.Grades[1].Level != "good" {
		t.Errorf("unlinked grade = %+v, want untouched", out.Grades[1])
	}
	if len(out.Overrides) != 1 {
		t.Fatalf("recorded %d overrides, want 1", len(out.Overrides))
	}
	ov := out.Overrides[0]
	if ov.Category != "compliance" || ov.RuleID != "no-guarantees" || ov.ForcedLevel != "violation" || ov.PreviousLevel != "exemplary" {
		t.Errorf("override = %+v", ov)
	}
}

// scriptedClient returns canned responses per attempt.
type scriptedClient struct {
	responses []string
	errs      []error
	calls     int
	lastSeed  int64
}

func (c *scriptedClient) GenerateDeterministic(_ context.Context, _ []openai.ChatCompletionMessageParamUnion, seed int64) (string, error) {
	i := c.calls
	c.calls++
	c.lastSeed = seed
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return "", fmt.Errorf("no scripted response for attempt %d", i+1)
}

func (c *scriptedClient) Embed(context.Context, string) ([]float64, error) {
	return nil, fmt.Errorf("not scripted")
}

func TestGradeAcceptsValidResponse(t *testing.T) {
	req := BuildRequest("eval-1", testCategories(), testRuleResults(), sentiment.Feed{}, testSegments())
	client := &scriptedClient{responses: []string{validResponse(req)}}
	adapter := NewAdapter(client)

	out := adapter.Grade(context.Background(), "eval-1", testCategories(), testRuleResults(), sentiment.Feed{}, testSegments())
	if !out.UsedClassifier || out.Fallback {
		t.Fatalf("provenance = %+v, want classifier-backed", out)
	}
	if out.SchemaInvalid {
		t.Error("valid response must not flag SchemaInvalid")
	}
	if len(out.Grades) != 2 {
		t.Fatalf("got %d grades, want 2", len(out.Grades))
	}
	if client.lastSeed != Seed("eval-1") {
		t.Errorf("seed = %d, want %d", client.lastSeed, Seed("eval-1"))
	}
}

func TestGradeRetriesThenFallsBack(t *testing.T) {
	client := &scriptedClient{responses: []string{"garbage", "more garbage", "still garbage"}}
	adapter := NewAdapter(client, WithBackoffBase(time.Millisecond))

	out := adapter.Grade(context.Background(), "eval-1", testCategories(), testRuleResults(), sentiment.Feed{}, testSegments())
	if client.calls != DefaultMaxAttempts {
		t.Errorf("made %d attempts, want %d", client.calls, DefaultMaxAttempts)
	}
	if !out.Fallback || out.UsedClassifier {
		t.Fatalf("provenance = %+v, want fallback", out)
	}
	if !out.SchemaInvalid {
		t.Error("invalid responses must flag SchemaInvalid")
	}
	if len(out.Grades) != 2 {
		t.Fatalf("fallback produced %d grades, want 2", len(out.Grades))
	}
}

func TestGradeRecoversOnRetry(t *testing.T) {
	req := BuildRequest("eval-1", testCategories(), testRuleResults(), sentiment.Feed{}, testSegments())
	client := &scriptedClient{responses: []string{"garbage", validResponse(req)}}
	adapter := NewAdapter(client, WithBackoffBase(time.Millisecond))

	out := adapter.Grade(context.Background(), "eval-1", testCategories(), testRuleResults(), sentiment.Feed{}, testSegments())
	if !out.UsedClassifier {
		t.Fatal("second attempt was valid, classifier grades expected")
	}
	// The schema violation on attempt one still marks the run.
	if !out.SchemaInvalid {
		t.Error("first invalid response must flag SchemaInvalid")
	}
}

func TestGradeNilClientUsesFallback(t *testing.T) {
	adapter := NewAdapter(nil)
	out := adapter.Grade(context.Background(), "eval-1", testCategories(), testRuleResults(), sentiment.Feed{}, testSegments())
	if !out.Fallback {
		t.Fatal("nil client must take the deterministic fallback")
	}
	if out.SchemaInvalid {
		t.Error("no response was seen, SchemaInvalid must stay false")
	}
}

func TestGradeOverridesClassifierVerdict(t *testing.T) {
	categories := testCategories()
	ruleResults := map[string][]models.RuleEvaluationResult{
		"compliance": {{RuleID: "no-guarantees", Passed: models.PassFalse, Severity: models.SeverityCritical}},
	}
	req := BuildRequest("eval-1", categories, ruleResults, sentiment.Feed{}, testSegments())
	// Classifier grades compliance generously despite the critical failure.
	raw := `{"evaluation_id":"eval-1","grades":{"compliance":"exemplary","greeting_quality":"good"},"temperature":0,"top_p":0}`
	if _, err := parseAndValidate(raw, req); err != nil {
		t.Fatalf("fixture response invalid: %v", err)
	}
	client := &scriptedClient{responses: []string{raw}}
	adapter := NewAdapter(client)

	out := adapter.Grade(context.Background(), "eval-1", categories, ruleResults, sentiment.Feed{}, testSegments())
	if !out.UsedClassifier {
		t.Fatal("classifier response should have been accepted")
	}
	for _, g := range out.Grades {
		if g.Category == "compliance" && g.Level != "violation" {
			t.Errorf("compliance grade = %q, want overridden to violation", g.Level)
		}
	}
	if len(out.Overrides) != 1 {
		t.Errorf("recorded %d overrides, want 1", len(out.Overrides))
	}
}

func TestGradeNoCategories(t *testing.T) {
	adapter := NewAdapter(nil)
	out := adapter.Grade(context.Background(), "eval-1", nil, nil, sentiment.Feed{}, nil)
	if len(out.Grades) != 0 || out.Fallback || out.UsedClassifier {
		t.Errorf("empty category set should short-circuit, got %+v", out)
	}
}
