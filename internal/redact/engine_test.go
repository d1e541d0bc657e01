package redact

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDetector struct {
	spans []Span
	err   error
}

func (s *stubDetector) Detect(ctx context.Context, text, language string) ([]Span, error) {
	return s.spans, s.err
}

func TestAnonymizeRepeatedEntitySharesLabel(t *testing.T) {
	text := "John Smith called John Smith"
	det := &stubDetector{spans: []Span{
		{EntityType: "PERSON", Start: 0, End: 10, Score: 0.9},
		{EntityType: "PERSON", Start: 18, End: 28, Score: 0.9},
	}}
	engine := NewEngine(det)

	res, err := engine.Anonymize(context.Background(), Request{
		Text:           text,
		Operator:       OperatorLabel,
		ScoreThreshold: 0.4,
	})
	require.NoError(t, err)

	assert.Equal(t, "<Name_1> called <Name_1>", res.Text)
	require.Len(t, res.Entities, 2)
	assert.Equal(t, "<Name_1>", res.Entities[0].Label)
	assert.Equal(t, "<Name_1>", res.Entities[1].Label)
	assert.Equal(t, "John Smith", res.Entities[0].Original)
	assert.Equal(t, 0.9, res.Entities[0].Score)
}

func TestAnonymizeMaskPreservesSpanLength(t *testing.T) {
	text := "Call 07123 456789"
	det := &stubDetector{spans: []Span{
		{EntityType: "PHONE_NUMBER", Start: 5, End: 17, Score: 0.9},
	}}
	engine := NewEngine(det)

	res, err := engine.Anonymize(context.Background(), Request{
		Text:           text,
		Operator:       OperatorMask,
		ScoreThreshold: 0.4,
	})
	require.NoError(t, err)

	assert.Equal(t, "Call "+strings.Repeat("*", 12), res.Text)
	assert.Len(t, res.Text, len(text))
}

func TestAnonymizeRedactPreservesLayout(t *testing.T) {
	text := "id: AB123456C."
	det := &stubDetector{spans: []Span{
		{EntityType: "UK_NINO", Start: 4, End: 13, Score: 0.8},
	}}
	engine := NewEngine(det)

	res, err := engine.Anonymize(context.Background(), Request{
		Text:           text,
		Operator:       OperatorRedact,
		ScoreThreshold: 0.4,
	})
	require.NoError(t, err)
	assert.Equal(t, "id:          .", res.Text)
	assert.Len(t, res.Text, len(text))
}

func TestAnonymizeMalformedRuleIsIsolated(t *testing.T) {
	text := "token SECRET-42 appears here"
	engine := NewEngine(&stubDetector{})

	res, err := engine.Anonymize(context.Background(), Request{
		Text: text,
		Rules: []Rule{
			{Pattern: `[broken`, TargetType: "BROKEN"},
			{Find: "SECRET-42", TargetType: "TOKEN"},
		},
		Operator:       OperatorLabel,
		ScoreThreshold: 0.4,
	})
	require.NoError(t, err)

	require.Len(t, res.Entities, 1)
	assert.Equal(t, "TOKEN", res.Entities[0].Type)
	assert.Equal(t, "token <TOKEN_1> appears here", res.Text)
}

func TestAnonymizeHashStableAcrossCalls(t *testing.T) {
	text := "mail test@example.com now"
	det := &stubDetector{spans: []Span{
		{EntityType: "EMAIL_ADDRESS", Start: 5, End: 21, Score: 1.0},
	}}
	engine := NewEngine(det)
	req := Request{Text: text, Operator: OperatorHash, ScoreThreshold: 0.4}

	first, err := engine.Anonymize(context.Background(), req)
	require.NoError(t, err)
	second, err := engine.Anonymize(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Text, second.Text)
	require.Len(t, first.Entities, 1)
	assert.Len(t, first.Entities[0].Label, 12)
	assert.NotContains(t, first.Text, "test@example.com")
}

func TestAnonymizeDetectorFailureFailsRequest(t *testing.T) {
	engine := NewEngine(&stubDetector{err: errors.New("model not loaded")})

	res, err := engine.Anonymize(context.Background(), Request{
		Text:           "Jane Doe lives at 10 Downing Street",
		Rules:          []Rule{{Find: "Jane Doe", TargetType: "PERSON"}},
		Operator:       OperatorLabel,
		ScoreThreshold: 0.4,
	})

	// No rule-only fallback: partially redacted text must never escape.
	require.Error(t, err)
	assert.Nil(t, res)
	var de *DetectorError
	assert.ErrorAs(t, err, &de)
}

func TestAnonymizeThresholdFiltersDetectorSpans(t *testing.T) {
	text := "maybe Bob, surely alice@example.com"
	det := &stubDetector{spans: []Span{
		{EntityType: "PERSON", Start: 6, End: 9, Score: 0.3},
		{EntityType: "EMAIL_ADDRESS", Start: 18, End: 35, Score: 1.0},
	}}
	engine := NewEngine(det)

	res, err := engine.Anonymize(context.Background(), Request{
		Text:           text,
		Operator:       OperatorLabel,
		ScoreThreshold: 0.4,
	})
	require.NoError(t, err)

	require.Len(t, res.Entities, 1)
	assert.Equal(t, "EMAIL_ADDRESS", res.Entities[0].Type)
	assert.Contains(t, res.Text, "Bob")
	for _, e := range res.Entities {
		assert.GreaterOrEqual(t, e.Score, 0.4)
	}
}

func TestAnonymizeManifestInDocumentOrder(t *testing.T) {
	text := "zz alice bob carol"
	det := &stubDetector{spans: []Span{
		{EntityType: "PERSON", Start: 13, End: 18, Score: 0.9},
		{EntityType: "PERSON", Start: 3, End: 8, Score: 0.7},
		{EntityType: "PERSON", Start: 9, End: 12, Score: 0.8},
	}}
	engine := NewEngine(det)

	res, err := engine.Anonymize(context.Background(), Request{
		Text:           text,
		Operator:       OperatorLabel,
		ScoreThreshold: 0.4,
	})
	require.NoError(t, err)

	require.Len(t, res.Entities, 3)
	assert.Equal(t, "alice", res.Entities[0].Original)
	assert.Equal(t, "bob", res.Entities[1].Original)
	assert.Equal(t, "carol", res.Entities[2].Original)
	assert.Equal(t, "zz <Name_1> <Name_2> <Name_3>", res.Text)
}

func TestAnonymizeInvalidDetectorSpansDropped(t *testing.T) {
	text := "short"
	det := &stubDetector{spans: []Span{
		{EntityType: "X", Start: 0, End: 99, Score: 0.9},
		{EntityType: "X", Start: -1, End: 3, Score: 0.9},
		{EntityType: "X", Start: 3, End: 2, Score: 0.9},
	}}
	engine := NewEngine(det)

	res, err := engine.Anonymize(context.Background(), Request{
		Text:           text,
		Operator:       OperatorLabel,
		ScoreThreshold: 0.4,
	})
	require.NoError(t, err)
	assert.Equal(t, text, res.Text)
	assert.Empty(t, res.Entities)
}

func TestAnonymizeEmptyText(t *testing.T) {
	engine := NewEngine(&stubDetector{})
	res, err := engine.Anonymize(context.Background(), Request{
		Text:           "",
		Operator:       OperatorLabel,
		ScoreThreshold: 0.4,
	})
	require.NoError(t, err)
	assert.Equal(t, "", res.Text)
	assert.Empty(t, res.Entities)
}

func TestAnonymizeDeterministic(t *testing.T) {
	text := "Bob met Bob at bob@example.com, card 4111111111111111"
	det := &stubDetector{spans: []Span{
		{EntityType: "PERSON", Start: 0, End: 3, Score: 0.85},
		{EntityType: "PERSON", Start: 8, End: 11, Score: 0.85},
		{EntityType: "EMAIL_ADDRESS", Start: 15, End: 30, Score: 1.0},
		{EntityType: "CREDIT_CARD", Start: 37, End: 53, Score: 1.0},
	}}
	engine := NewEngine(det)
	req := Request{
		Text:           text,
		Rules:          []Rule{{Find: "bob", TargetType: "NICKNAME"}},
		Operator:       OperatorLabel,
		ScoreThreshold: 0.4,
	}

	first, err := engine.Anonymize(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := engine.Anonymize(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAnonymizeRuleReplacementAppliesPerType(t *testing.T) {
	text := "agent Smith and agent Brown"
	engine := NewEngine(&stubDetector{})

	res, err := engine.Anonymize(context.Background(), Request{
		Text: text,
		Rules: []Rule{
			{Find: "Smith", TargetType: "AGENT", Replacement: "[AGENT]"},
			{Find: "Brown", TargetType: "AGENT"},
		},
		Operator:       OperatorLabel,
		ScoreThreshold: 0.4,
	})
	require.NoError(t, err)

	// The fixed replacement is bound to the entity type, so both
	// occurrences of the type use it.
	assert.Equal(t, "agent [AGENT] and agent [AGENT]", res.Text)
}

func TestAnonymizeRuleMaskSentinel(t *testing.T) {
	text := "pin 9876 end"
	engine := NewEngine(&stubDetector{})

	res, err := engine.Anonymize(context.Background(), Request{
		Text:           text,
		Rules:          []Rule{{Pattern: `\b\d{4}\b`, TargetType: "PIN", Replacement: MaskSentinel}},
		Operator:       OperatorLabel,
		ScoreThreshold: 0.4,
	})
	require.NoError(t, err)
	assert.Equal(t, "pin **** end", res.Text)
}

func TestAnonymizePresetRulesApply(t *testing.T) {
	engine := NewEngine(&stubDetector{}, WithPresetRules([]Rule{
		{Find: "Project Aurora", TargetType: "PROJECT"},
	}))

	res, err := engine.Anonymize(context.Background(), Request{
		Text:           "Project Aurora ships soon",
		Operator:       OperatorLabel,
		ScoreThreshold: 0.4,
	})
	require.NoError(t, err)
	assert.Equal(t, "<PROJECT_1> ships soon", res.Text)
}
