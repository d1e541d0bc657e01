package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Operator is the default replacement strategy applied when no per-type
// override exists.
type Operator string

// Supported operators.
const (
	OperatorLabel  Operator = "label"  // <Name_1> style numbered tokens
	OperatorRedact Operator = "redact" // same-length run of spaces
	OperatorMask   Operator = "mask"   // same-length run of '*'
	OperatorHash   Operator = "hash"   // first 12 hex chars of SHA-256
)

// MaskSentinel in a per-type replacement map masks the original with '*'
// instead of substituting a fixed string.
const MaskSentinel = "mask"

// ParseOperator validates s and returns the Operator. Empty defaults to
// OperatorLabel; "replace" is accepted as a legacy alias for it.
func ParseOperator(s string) (Operator, error) {
	switch s {
	case "", "label", "replace":
		return OperatorLabel, nil
	case "redact":
		return OperatorRedact, nil
	case "mask":
		return OperatorMask, nil
	case "hash":
		return OperatorHash, nil
	default:
		return "", fmt.Errorf("unknown operator %q", s)
	}
}

// ReplacementPolicy governs how the labeler resolves a span's replacement.
// ByType maps an entity type to a fixed replacement string or MaskSentinel;
// Operator applies when no per-type entry matches.
type ReplacementPolicy struct {
	Operator Operator
	ByType   map[string]string
}

// EntityRecord is one manifest entry per surviving occurrence, carrying the
// final resolved label. Records are emitted in document order.
type EntityRecord struct {
	Type     string  `json:"type"`
	Original string  `json:"original"`
	Label    string  `json:"label"`
	Score    float64 `json:"score"`
}

// labelKey is the per-request identity of an occurrence: two spans with the
// same entity type and the same lower-cased, trimmed text are "the same"
// entity and share a replacement.
type labelKey struct {
	entityType string
	normalized string
}

// labeler assigns request-scoped replacements. The first sighting of a key
// resolves and records the replacement; later sightings reuse it. Counters
// advance only on first sightings, one sequence per entity type.
type labeler struct {
	policy   ReplacementPolicy
	counters map[string]int
	labels   map[labelKey]string
}

func newLabeler(policy ReplacementPolicy) *labeler {
	return &labeler{
		policy:   policy,
		counters: make(map[string]int),
		labels:   make(map[labelKey]string),
	}
}

func (l *labeler) assign(sp Span, original string) string {
	key := labelKey{sp.EntityType, strings.ToLower(strings.TrimSpace(original))}
	if repl, ok := l.labels[key]; ok {
		return repl
	}
	repl := l.resolve(sp.EntityType, original)
	l.labels[key] = repl
	return repl
}

// resolve picks the replacement for a first sighting. Order: per-type mask
// sentinel, per-type fixed string, then the default operator.
func (l *labeler) resolve(entityType, original string) string {
	if fixed, ok := l.policy.ByType[entityType]; ok && fixed != "" {
		if fixed == MaskSentinel {
			return strings.Repeat("*", len(original))
		}
		return fixed
	}

	switch l.policy.Operator {
	case OperatorRedact:
		return strings.Repeat(" ", len(original))
	case OperatorMask:
		return strings.Repeat("*", len(original))
	case OperatorHash:
		sum := sha256.Sum256([]byte(original))
		return hex.EncodeToString(sum[:])[:12]
	default: // OperatorLabel
		l.counters[entityType]++
		return fmt.Sprintf("<%s_%d>", FriendlyName(entityType), l.counters[entityType])
	}
}

// friendlyNames maps detector entity types to the short labels used in
// numbered replacement tokens, e.g. PERSON -> <Name_1>.
var friendlyNames = map[string]string{
	"PERSON":            "Name",
	"PHONE_NUMBER":      "Phone",
	"EMAIL_ADDRESS":     "Email",
	"LOCATION":          "Location",
	"DATE_TIME":         "Date",
	"CREDIT_CARD":       "Card_No",
	"IBAN_CODE":         "IBAN",
	"IP_ADDRESS":        "IP",
	"URL":               "URL",
	"AGE":               "Age",
	"NRP":               "NRP",
	"CRYPTO":            "Crypto",
	"MEDICAL_LICENSE":   "Med_ID",
	"US_BANK_NUMBER":    "Account_No",
	"US_DRIVER_LICENSE": "Driving_Licence",
	"US_ITIN":           "Tax_ID",
	"US_PASSPORT":       "Passport",
	"US_SSN":            "SSN",
	"UK_NHS":            "NHS_No",
	"UK_NINO":           "NI_No",
	"UK_POSTCODE":       "Postcode",
	"UK_SORT_CODE":      "Sort_Code",
	"IN_PAN":            "PAN",
	"IN_AADHAAR":        "Aadhaar",
	"SG_NRIC_FIN":       "NRIC",
	"AU_ABN":            "ABN",
	"AU_ACN":            "ACN",
	"AU_TFN":            "TFN",
	"AU_MEDICARE":       "Medicare",
}

// FriendlyName maps a known entity type to its short human label, falling
// back to the raw entity type string for unknown types.
func FriendlyName(entityType string) string {
	if n, ok := friendlyNames[entityType]; ok {
		return n
	}
	return entityType
}
