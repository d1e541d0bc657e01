// Package detector implements the candidate-span detection boundary for the
// redaction engine. The built-in Analyzer runs a registry of regex
// recognizers in the Presidio style: per-pattern base scores, context-word
// boosting, and hard checksum gates for IBANs and card numbers.
//
// The registry is assembled once at startup (embedded defaults, optional
// operator pattern file, entity filters) and is read-only afterwards, so a
// single Analyzer is safe to share across concurrent requests.
package detector

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	cloakotel "github.com/dativo-io/cloak/internal/otel"
	"github.com/dativo-io/cloak/internal/redact"
	"github.com/dativo-io/cloak/patterns"
)

var tracer = cloakotel.Tracer("github.com/dativo-io/cloak/internal/detector")

const (
	// ContextSimilarityFactor is the score boost applied when a context
	// word appears near a match. Matches Presidio's default.
	ContextSimilarityFactor = 0.35

	// ContextWindowChars is how far before and after a match to look for
	// context words.
	ContextWindowChars = 100
)

// Analyzer detects PII candidate spans using compiled recognizers.
type Analyzer struct {
	recognizers []recognizer
}

// Option configures an Analyzer via the functional options pattern.
type Option func(*analyzerConfig)

type analyzerConfig struct {
	patternFile      string
	extraRecognizers []RecognizerConfig
	enabledEntities  []string
	disabledEntities []string
}

// WithPatternFile layers recognizers from an operator patterns.yaml on top
// of the embedded defaults. A missing file is silently skipped.
func WithPatternFile(path string) Option {
	return func(c *analyzerConfig) { c.patternFile = path }
}

// WithRecognizers layers additional recognizer definitions on top of the
// defaults and the pattern file.
func WithRecognizers(recs []RecognizerConfig) Option {
	return func(c *analyzerConfig) { c.extraRecognizers = recs }
}

// WithEnabledEntities sets a whitelist of entity types. When non-empty,
// only recognizers with a matching supported_entity stay active.
func WithEnabledEntities(entities []string) Option {
	return func(c *analyzerConfig) { c.enabledEntities = entities }
}

// WithDisabledEntities sets a blacklist of entity types to exclude.
func WithDisabledEntities(entities []string) Option {
	return func(c *analyzerConfig) { c.disabledEntities = entities }
}

// New creates an Analyzer. Without options it compiles the embedded default
// recognizers; options layer operator overrides and filters on top.
func New(opts ...Option) (*Analyzer, error) {
	var cfg analyzerConfig
	for _, o := range opts {
		o(&cfg)
	}

	defaults, err := DefaultRecognizers()
	if err != nil {
		return nil, fmt.Errorf("loading default recognizers: %w", err)
	}

	var fileRecs []RecognizerConfig
	if cfg.patternFile != "" {
		rf, err := LoadRecognizerFile(cfg.patternFile)
		if err != nil {
			return nil, fmt.Errorf("loading pattern file: %w", err)
		}
		if rf != nil {
			fileRecs = rf.Recognizers
		}
	}

	merged := MergeRecognizers(defaults, fileRecs, cfg.extraRecognizers)
	merged = FilterByEntities(merged, cfg.enabledEntities, cfg.disabledEntities)

	compiled, err := compileRecognizers(merged)
	if err != nil {
		return nil, fmt.Errorf("compiling recognizers: %w", err)
	}

	return &Analyzer{recognizers: compiled}, nil
}

// MustNew is like New but panics on error. Useful for zero-config startup
// where the embedded defaults are expected to always compile.
func MustNew(opts ...Option) *Analyzer {
	a, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("detector.New: %v", err))
	}
	return a
}

// DefaultRecognizers returns the built-in recognizers parsed from the
// embedded pii_default.yaml. This is the first layer in the merge chain.
func DefaultRecognizers() ([]RecognizerConfig, error) {
	rf, err := ParseRecognizerFile(patterns.DefaultYAML())
	if err != nil {
		return nil, fmt.Errorf("parsing embedded recognizers: %w", err)
	}
	return rf.Recognizers, nil
}

// RecognizerInfo summarizes an active recognizer for introspection surfaces
// (the /v1/patterns endpoint and the patterns CLI command).
type RecognizerInfo struct {
	Name         string `json:"name"`
	Entity       string `json:"entity"`
	PatternCount int    `json:"pattern_count"`
	Validation   string `json:"validation,omitempty"`
}

// Recognizers lists the active recognizers.
func (a *Analyzer) Recognizers() []RecognizerInfo {
	infos := make([]RecognizerInfo, 0, len(a.recognizers))
	for _, r := range a.recognizers {
		infos = append(infos, RecognizerInfo{
			Name:         r.name,
			Entity:       r.entity,
			PatternCount: len(r.patterns),
			Validation:   r.validation,
		})
	}
	return infos
}

// Detect returns every raw candidate span found in text. Scores are the
// pattern base score plus any context boost, capped at 1.0; threshold
// filtering is the engine's job, not the detector's.
func (a *Analyzer) Detect(ctx context.Context, text, language string) ([]redact.Span, error) {
	_, span := tracer.Start(ctx, "detector.detect")
	defer span.End()

	var spans []redact.Span
	for _, rec := range a.recognizers {
		contextWords := rec.contextWordsFor(language)

		for _, p := range rec.patterns {
			for _, m := range p.regex.FindAllStringIndex(text, -1) {
				value := text[m[0]:m[1]]
				if !passesValidation(rec.validation, value) {
					continue
				}
				spans = append(spans, redact.Span{
					EntityType: rec.entity,
					Start:      m[0],
					End:        m[1],
					Score:      boostScore(text, m[0], p.score, contextWords),
					Origin:     redact.OriginDetector,
				})
			}
		}

		if rec.denyList != nil {
			for _, m := range rec.denyList.FindAllStringIndex(text, -1) {
				spans = append(spans, redact.Span{
					EntityType: rec.entity,
					Start:      m[0],
					End:        m[1],
					Score:      rec.denyScore,
					Origin:     redact.OriginDetector,
				})
			}
		}
	}

	span.SetAttributes(attribute.Int("detector.candidates", len(spans)))
	return spans, nil
}

// contextWordsFor returns the recognizer's context words for a language,
// falling back to English.
func (r *recognizer) contextWordsFor(language string) []string {
	if words, ok := r.context[language]; ok {
		return words
	}
	return r.context["en"]
}

// boostScore raises the base score by ContextSimilarityFactor when any
// context word appears within ContextWindowChars of the match, capped at 1.
func boostScore(text string, position int, baseScore float64, contextWords []string) float64 {
	if len(contextWords) == 0 {
		return baseScore
	}
	start := position - ContextWindowChars
	if start < 0 {
		start = 0
	}
	end := position + ContextWindowChars
	if end > len(text) {
		end = len(text)
	}
	window := strings.ToLower(text[start:end])

	for _, cw := range contextWords {
		if strings.Contains(window, strings.ToLower(cw)) {
			boosted := baseScore + ContextSimilarityFactor
			if boosted > 1.0 {
				return 1.0
			}
			return boosted
		}
	}
	return baseScore
}
