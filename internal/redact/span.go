// Package redact implements the post-detection redaction pipeline: rule
// evaluation, overlap resolution, consistent per-request labeling, and
// offset-safe rewriting of the document.
//
// All pipeline state (candidate spans, label map, counters) is local to one
// Anonymize call. The label map is never persisted or exposed, so the
// transformation is one-way: given only the redacted text, the original
// values cannot be recovered.
package redact

// Origin identifies which stage produced a candidate span.
type Origin string

// Candidate span origins.
const (
	OriginDetector Origin = "detector"
	OriginRule     Origin = "rule"
)

// Span is a half-open byte range [Start, End) in the document, tagged with
// an entity type and a confidence score in [0, 1]. Spans are never mutated
// by the pipeline, only filtered.
type Span struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
	Origin     Origin  `json:"origin,omitempty"`
}

// Len returns the span length in bytes.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether two spans share at least one byte.
func (s Span) Overlaps(o Span) bool { return s.Start < o.End && s.End > o.Start }

// valid reports whether the span fits inside a document of n bytes.
func (s Span) valid(n int) bool { return s.Start >= 0 && s.Start <= s.End && s.End <= n }
