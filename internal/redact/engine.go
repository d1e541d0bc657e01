package redact

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"

	cloakotel "github.com/dativo-io/cloak/internal/otel"
)

var tracer = cloakotel.Tracer("github.com/dativo-io/cloak/internal/redact")

// DefaultScoreThreshold is the minimum confidence for a span to survive
// when the caller does not supply one.
const DefaultScoreThreshold = 0.4

// Detector supplies candidate spans for a document. Implementations must be
// safe for concurrent use: the engine shares a single instance across all
// requests and never mutates it.
type Detector interface {
	Detect(ctx context.Context, text, language string) ([]Span, error)
}

// DetectorError marks a failure to obtain candidate spans. The request
// fails as a whole; degrading to rule-only redaction would risk returning
// partially redacted PII.
type DetectorError struct{ Err error }

func (e *DetectorError) Error() string { return "detector: " + e.Err.Error() }
func (e *DetectorError) Unwrap() error { return e.Err }

// Request carries one document through the pipeline.
type Request struct {
	Text           string
	Language       string
	Rules          []Rule
	Operator       Operator
	ScoreThreshold float64
}

// Result is the redacted document plus the occurrence manifest, ordered by
// original document position.
type Result struct {
	Text     string         `json:"text"`
	Entities []EntityRecord `json:"entities"`
}

// Engine runs the full pipeline: detector and rule spans are merged,
// resolved to a non-overlapping set, labeled consistently within the
// request, and spliced into the document. Engines hold no mutable state
// and may serve concurrent requests.
type Engine struct {
	detector Detector
	presets  []Rule
	language string
}

// Option configures an Engine.
type Option func(*Engine)

// WithPresetRules adds operator-configured rules evaluated ahead of the
// per-request rules on every call.
func WithPresetRules(rules []Rule) Option {
	return func(e *Engine) { e.presets = rules }
}

// WithDefaultLanguage sets the language passed to the detector when the
// request omits one. Defaults to "en".
func WithDefaultLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// NewEngine creates an Engine backed by the given detector.
func NewEngine(detector Detector, opts ...Option) *Engine {
	e := &Engine{detector: detector, language: "en"}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Anonymize redacts req.Text and returns the rewritten document with one
// manifest entry per surviving occurrence. A detector failure fails the
// whole request; no partially redacted text is ever returned.
func (e *Engine) Anonymize(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "redact.anonymize")
	defer span.End()

	language := req.Language
	if language == "" {
		language = e.language
	}
	threshold := req.ScoreThreshold

	detected, err := e.detector.Detect(ctx, req.Text, language)
	if err != nil {
		return nil, &DetectorError{Err: err}
	}

	candidates := make([]Span, 0, len(detected))
	for _, s := range detected {
		if !s.valid(len(req.Text)) || s.Score < threshold {
			continue
		}
		s.Origin = OriginDetector
		candidates = append(candidates, s)
	}
	candidates = append(candidates, EvaluateRules(req.Text, e.presets, threshold)...)
	candidates = append(candidates, EvaluateRules(req.Text, req.Rules, threshold)...)

	resolved := Resolve(candidates)
	for i := 1; i < len(resolved); i++ {
		if resolved[i-1].End > resolved[i].Start {
			return nil, fmt.Errorf("overlap resolver produced overlapping spans at %d and %d",
				resolved[i-1].Start, resolved[i].Start)
		}
	}

	lb := newLabeler(ReplacementPolicy{
		Operator: req.Operator,
		ByType:   replacementsByType(e.presets, req.Rules),
	})

	entities := make([]EntityRecord, 0, len(resolved))
	replacements := make([]string, len(resolved))
	for i, sp := range resolved {
		original := req.Text[sp.Start:sp.End]
		label := lb.assign(sp, original)
		replacements[i] = label
		entities = append(entities, EntityRecord{
			Type:     sp.EntityType,
			Original: original,
			Label:    label,
			Score:    round3(sp.Score),
		})
	}

	span.SetAttributes(
		attribute.Int("redact.candidates", len(candidates)),
		attribute.Int("redact.entities", len(entities)),
		attribute.Bool("redact.pii_detected", len(entities) > 0),
	)

	return &Result{
		Text:     Rewrite(req.Text, resolved, replacements),
		Entities: entities,
	}, nil
}

// replacementsByType collects the fixed per-type replacements declared on
// rules. Request rules win over presets for the same target type.
func replacementsByType(presets, rules []Rule) map[string]string {
	byType := make(map[string]string)
	for _, r := range presets {
		if r.TargetType != "" && r.Replacement != "" {
			byType[r.TargetType] = r.Replacement
		}
	}
	for _, r := range rules {
		if r.TargetType != "" && r.Replacement != "" {
			byType[r.TargetType] = r.Replacement
		}
	}
	return byType
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
