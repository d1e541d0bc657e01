package redact

// Rewrite splices replacements into text. spans must be sorted by start
// ascending and pairwise non-overlapping; replacements[i] substitutes
// spans[i]. Application runs right-to-left so each splice, whatever its
// length, leaves the byte offsets of spans not yet applied intact.
func Rewrite(text string, spans []Span, replacements []string) string {
	out := []byte(text)
	for i := len(spans) - 1; i >= 0; i-- {
		sp := spans[i]
		out = append(out[:sp.Start], append([]byte(replacements[i]), out[sp.End:]...)...)
	}
	return string(out)
}
