// Package detection matches behavior definitions against transcript
// segments using exact, fuzzy, phonetic and embedding-similarity
// strategies, evaluates the behavior's compliance policy, and merges
// everything into one DetectionResult per behavior.
package detection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/ScorePipe/ScorePipe/internal/models"
	"github.com/ScorePipe/ScorePipe/internal/textmatch"
)

// Default matching thresholds.
const (
	// DefaultFuzzyThreshold is the minimum normalized edit-distance ratio
	// for a fuzzy match.
	DefaultFuzzyThreshold = 0.85
	// DefaultSemanticThreshold is the minimum cosine similarity for a
	// semantic match.
	DefaultSemanticThreshold = 0.78
)

// Embedder produces embedding vectors for text. *genai.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Opts holds configuration for the detection engine.
type Opts struct {
	FuzzyThreshold    float64
	SemanticThreshold float64
	EnablePhonetic    bool
	Embedder          Embedder
}

// Option configures the detection engine.
type Option func(*Opts)

// WithFuzzyThreshold overrides the fuzzy similarity threshold.
func WithFuzzyThreshold(t float64) Option {
	return func(o *Opts) { o.FuzzyThreshold = t }
}

// WithSemanticThreshold overrides the semantic similarity threshold.
func WithSemanticThreshold(t float64) Option {
	return func(o *Opts) { o.SemanticThreshold = t }
}

// WithPhonetic enables the simplified phonetic comparison fallback.
func WithPhonetic(enabled bool) Option {
	return func(o *Opts) { o.EnablePhonetic = enabled }
}

// WithEmbedder sets the embedding provider for semantic matching. Without
// one, semantic and hybrid behaviors fall back to exact matching only.
func WithEmbedder(e Embedder) Option {
	return func(o *Opts) { o.Embedder = e }
}

// Engine detects behaviors in transcripts. Engines are safe for concurrent
// use; the embedding cache allows concurrent read/insert.
type Engine struct {
	fuzzyThreshold    float64
	semanticThreshold float64
	phonetic          bool
	embedder          Embedder

	mu    sync.RWMutex
	cache map[string][]float64 // embedding vectors keyed by text hash
}

// NewEngine creates a detection engine with the given options.
func NewEngine(opts ...Option) *Engine {
	cfg := Opts{
		FuzzyThreshold:    DefaultFuzzyThreshold,
		SemanticThreshold: DefaultSemanticThreshold,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if cfg.SemanticThreshold <= 0 {
		cfg.SemanticThreshold = DefaultSemanticThreshold
	}
	return &Engine{
		fuzzyThreshold:    cfg.FuzzyThreshold,
		semanticThreshold: cfg.SemanticThreshold,
		phonetic:          cfg.EnablePhonetic,
		embedder:          cfg.Embedder,
		cache:             make(map[string][]float64),
	}
}

// strategyOutcome is one matching strategy's verdict for a behavior.
type strategyOutcome struct {
	ran        bool
	detected   bool
	matchType  models.MatchType
	similarity float64
	matched    string
	evidence   []models.Evidence
	firstAt    *float64
}

// Detect runs the behavior's configured strategies over the transcript and
// returns the merged, compliance-checked detection record.
func (e *Engine) Detect(ctx context.Context, segments []models.TranscriptSegment, behavior models.BehaviorDefinition) models.DetectionResult {
	var exact, semantic strategyOutcome

	switch behavior.DetectionMode {
	case models.DetectionExact:
		exact = e.exactPass(segments, behavior)
	case models.DetectionSemantic:
		semantic = e.semanticPass(ctx, segments, behavior)
	case models.DetectionHybrid:
		exact = e.exactPass(segments, behavior)
		semantic = e.semanticPass(ctx, segments, behavior)
	default:
		exact = e.exactPass(segments, behavior)
	}

	result := aggregate(behavior, segments, exact, semantic)
	applyCompliance(&result, behavior, firstEvidenceAt(exact, semantic))
	slog.Debug("detection.Detect: behavior evaluated",
		"behavior", behavior.ID, "detected", result.Detected,
		"match_type", result.MatchType, "confidence", result.Confidence)
	return result
}

// patterns returns the phrases searched for exact matching: the examples,
// or the behavior name when none are given.
func patterns(behavior models.BehaviorDefinition) []string {
	if len(behavior.Examples) > 0 {
		return behavior.Examples
	}
	return []string{behavior.Name}
}

// exactPass searches every segment for the behavior patterns: normalized
// substring first, then fuzzy ratio, then the optional phonetic fallback.
func (e *Engine) exactPass(segments []models.TranscriptSegment, behavior models.BehaviorDefinition) strategyOutcome {
	out := strategyOutcome{ran: true, matchType: models.MatchNone}
	for _, pattern := range patterns(behavior) {
		for i := range segments {
			seg := segments[i]
			if textmatch.Contains(seg.Text, pattern) {
				recordMatch(&out, models.MatchExact, 1.0, seg, pattern)
				continue
			}
			if ok, sim, window := textmatch.FuzzyContains(seg.Text, pattern, e.fuzzyThreshold); ok {
				recordMatch(&out, models.MatchFuzzy, sim, seg, window)
				continue
			}
			if e.phonetic && phoneticWindowMatch(seg.Text, pattern) {
				recordMatch(&out, models.MatchFuzzy, e.fuzzyThreshold, seg, pattern)
			}
		}
	}
	return out
}

// semanticPass embeds the behavior description plus examples and each
// utterance, comparing by cosine similarity. Embedding failures disable
// the strategy for this behavior instead of failing the evaluation.
func (e *Engine) semanticPass(ctx context.Context, segments []models.TranscriptSegment, behavior models.BehaviorDefinition) strategyOutcome {
	out := strategyOutcome{matchType: models.MatchNone}
	if e.embedder == nil {
		return out
	}
	query := behavior.Description
	if len(behavior.Examples) > 0 {
		query += " " + strings.Join(behavior.Examples, " ")
	}
	queryVec, err := e.embed(ctx, query)
	if err != nil {
		slog.Warn("detection.semanticPass: query embedding failed, skipping semantic matching", "behavior", behavior.ID, "error", err)
		return out
	}
	out.ran = true
	for i := range segments {
		seg := segments[i]
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		segVec, err := e.embed(ctx, seg.Text)
		if err != nil {
			slog.Warn("detection.semanticPass: segment embedding failed", "behavior", behavior.ID, "error", err)
			continue
		}
		if sim := cosine(queryVec, segVec); sim >= e.semanticThreshold {
			recordMatch(&out, models.MatchSemantic, sim, seg, "")
		}
	}
	return out
}

// embed returns the embedding for text, caching by content hash for the
// lifetime of the engine.
func (e *Engine) embed(ctx context.Context, text string) ([]float64, error) {
	key := hashText(text)
	e.mu.RLock()
	vec, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return vec, nil
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.cache[key] = vec
	e.mu.Unlock()
	return vec, nil
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// recordMatch folds one segment match into the strategy outcome, keeping
// the highest similarity as the headline match.
func recordMatch(out *strategyOutcome, mt models.MatchType, sim float64, seg models.TranscriptSegment, pattern string) {
	start := seg.StartSeconds()
	out.evidence = append(out.evidence, models.Evidence{
		Text:    seg.Text,
		Speaker: seg.Speaker,
		Start:   start,
		End:     seg.EndSeconds(),
		Pattern: pattern,
	})
	if out.firstAt == nil || start < *out.firstAt {
		at := start
		out.firstAt = &at
	}
	if !out.detected || sim > out.similarity {
		out.detected = true
		out.similarity = sim
		out.matchType = mt
		out.matched = seg.Text
	}
}

// phoneticWindowMatch slides a window of the pattern's word count across
// the segment comparing phonetic codes.
func phoneticWindowMatch(text, pattern string) bool {
	words := strings.Fields(textmatch.Normalize(text))
	span := len(strings.Fields(textmatch.Normalize(pattern)))
	if span == 0 || len(words) < span {
		return false
	}
	for i := 0; i+span <= len(words); i++ {
		if textmatch.PhoneticEquals(strings.Join(words[i:i+span], " "), pattern) {
			return true
		}
	}
	return false
}

// firstEvidenceAt returns the earliest evidence time across strategies.
func firstEvidenceAt(exact, semantic strategyOutcome) *float64 {
	at := exact.firstAt
	if semantic.firstAt != nil && (at == nil || *semantic.firstAt < *at) {
		at = semantic.firstAt
	}
	return at
}

// cosine computes cosine similarity of two vectors, 0 for mismatched or
// zero-magnitude input.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
