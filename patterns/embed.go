// Package patterns provides the embedded default recognizer definitions.
// The YAML uses the Presidio-compatible recognizer format with the Cloak
// validation extension (luhn, iban).
package patterns

import _ "embed"

//go:embed pii_default.yaml
var defaultYAML []byte

// DefaultYAML returns the embedded default PII recognizer definitions.
func DefaultYAML() []byte { return defaultYAML }
