package redact

import (
	"fmt"
	"regexp"

	"github.com/rs/zerolog/log"
)

// DefaultPatternScore is assigned to pattern-rule matches when the rule does
// not declare its own score. Literal-rule matches are always scored 1.0.
const DefaultPatternScore = 0.85

// Rule is a caller-supplied matcher that synthesizes spans without
// statistical inference. Exactly one of Find or Pattern selects the kind:
//
//   - literal rule: Find is matched case-insensitively; spans get score 1.0.
//   - pattern rule: Pattern is compiled as a regular expression; spans get
//     Score (DefaultPatternScore when unset).
//
// Replacement optionally fixes the substitution for the rule's target type
// (see ReplacementPolicy). A rule with neither kind set, or with an empty
// match target, contributes no spans and is never an error.
type Rule struct {
	Find        string  `json:"find,omitempty" yaml:"find,omitempty"`
	Pattern     string  `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	TargetType  string  `json:"target_type" yaml:"target_type"`
	Score       float64 `json:"score,omitempty" yaml:"score,omitempty"`
	Replacement string  `json:"replacement,omitempty" yaml:"replacement,omitempty"`
}

// RuleResult is the outcome of evaluating a single rule. A skipped rule
// carries the reason and zero spans; it never aborts the batch.
type RuleResult struct {
	Spans   []Span
	Skipped string
}

// EvaluateRule executes one rule against text. Malformed rules (missing
// target type, no match target, invalid regex) come back as skipped results
// so a bad rule cannot fail the request or affect other rules. Matches
// scoring below threshold are dropped here.
func EvaluateRule(text string, r Rule, threshold float64) RuleResult {
	if r.TargetType == "" {
		return RuleResult{Skipped: "missing target_type"}
	}

	switch {
	case r.Find != "":
		// QuoteMeta guarantees the literal compiles; matches are
		// case-insensitive and non-overlapping, as with any regexp scan.
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(r.Find))
		return RuleResult{Spans: matchSpans(text, re, r.TargetType, 1.0, threshold)}

	case r.Pattern != "":
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return RuleResult{Skipped: fmt.Sprintf("invalid pattern: %v", err)}
		}
		score := r.Score
		if score == 0 {
			score = DefaultPatternScore
		}
		return RuleResult{Spans: matchSpans(text, re, r.TargetType, score, threshold)}

	default:
		return RuleResult{Skipped: "rule has neither find nor pattern"}
	}
}

// EvaluateRules runs every rule independently and returns the union of
// their spans. Skipped rules are logged at debug level and absorbed.
func EvaluateRules(text string, rules []Rule, threshold float64) []Span {
	var spans []Span
	for i, r := range rules {
		res := EvaluateRule(text, r, threshold)
		if res.Skipped != "" {
			log.Debug().
				Int("rule_index", i).
				Str("target_type", r.TargetType).
				Str("reason", res.Skipped).
				Msg("custom_rule_skipped")
			continue
		}
		spans = append(spans, res.Spans...)
	}
	return spans
}

func matchSpans(text string, re *regexp.Regexp, entityType string, score, threshold float64) []Span {
	if score < threshold {
		return nil
	}
	var spans []Span
	for _, m := range re.FindAllStringIndex(text, -1) {
		spans = append(spans, Span{
			EntityType: entityType,
			Start:      m[0],
			End:        m[1],
			Score:      score,
			Origin:     OriginRule,
		})
	}
	return spans
}
