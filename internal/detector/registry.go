package detector

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// RecognizerFile is the top-level YAML structure for a recognizer config
// file, mirroring Presidio's recognizer registry format.
type RecognizerFile struct {
	Recognizers []RecognizerConfig `yaml:"recognizers"`
}

// RecognizerConfig describes one recognizer: an entity type plus the regex
// patterns, deny list, and context words that detect it.
type RecognizerConfig struct {
	Name               string            `yaml:"name" json:"name"`
	SupportedEntity    string            `yaml:"supported_entity" json:"supported_entity"`
	Enabled            *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Patterns           []PatternConfig   `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	SupportedLanguages []LanguageContext `yaml:"supported_languages,omitempty" json:"supported_languages,omitempty"`
	DenyList           []string          `yaml:"deny_list,omitempty" json:"deny_list,omitempty"`
	DenyListScore      float64           `yaml:"deny_list_score,omitempty" json:"deny_list_score,omitempty"`
	// Validation names a hard gate applied to every match: "luhn" or "iban".
	Validation string `yaml:"validation,omitempty" json:"validation,omitempty"`
}

// PatternConfig is a single regex pattern within a recognizer.
type PatternConfig struct {
	Name  string  `yaml:"name" json:"name"`
	Regex string  `yaml:"regex" json:"regex"`
	Score float64 `yaml:"score" json:"score"`
}

// LanguageContext holds context words for a specific language.
type LanguageContext struct {
	Language string   `yaml:"language" json:"language"`
	Context  []string `yaml:"context,omitempty" json:"context,omitempty"`
}

// isEnabled returns true if the recognizer is enabled (defaults to true when nil).
func (r *RecognizerConfig) isEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// ParseRecognizerFile parses recognizer YAML bytes into a RecognizerFile.
func ParseRecognizerFile(data []byte) (*RecognizerFile, error) {
	var rf RecognizerFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing recognizer YAML: %w", err)
	}
	return &rf, nil
}

// LoadRecognizerFile reads and parses a recognizer YAML file from disk.
// Returns nil (not an error) if the file does not exist, so callers can
// treat a missing operator config as a no-op.
func LoadRecognizerFile(path string) (*RecognizerFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading recognizer file %s: %w", path, err)
	}
	return ParseRecognizerFile(data)
}

// MergeRecognizers layers recognizer lists: later layers override earlier
// ones by matching on the recognizer Name; new recognizers are appended.
func MergeRecognizers(layers ...[]RecognizerConfig) []RecognizerConfig {
	index := make(map[string]int)
	var merged []RecognizerConfig

	for _, layer := range layers {
		for _, rc := range layer {
			if idx, exists := index[rc.Name]; exists {
				merged[idx] = rc
			} else {
				index[rc.Name] = len(merged)
				merged = append(merged, rc)
			}
		}
	}

	return merged
}

// FilterByEntities applies enabled/disabled entity filters. When
// enabledEntities is non-empty only matching recognizers survive
// (whitelist); anything in disabledEntities is then removed (blacklist).
func FilterByEntities(recognizers []RecognizerConfig, enabledEntities, disabledEntities []string) []RecognizerConfig {
	result := recognizers

	if len(enabledEntities) > 0 {
		allowed := make(map[string]bool, len(enabledEntities))
		for _, e := range enabledEntities {
			allowed[e] = true
		}
		var filtered []RecognizerConfig
		for _, r := range result {
			if allowed[r.SupportedEntity] {
				filtered = append(filtered, r)
			}
		}
		result = filtered
	}

	if len(disabledEntities) > 0 {
		blocked := make(map[string]bool, len(disabledEntities))
		for _, e := range disabledEntities {
			blocked[e] = true
		}
		var filtered []RecognizerConfig
		for _, r := range result {
			if !blocked[r.SupportedEntity] {
				filtered = append(filtered, r)
			}
		}
		result = filtered
	}

	return result
}

// compiledPattern pairs a compiled regex with its base score.
type compiledPattern struct {
	name  string
	regex *regexp.Regexp
	score float64
}

// recognizer is the compiled, ready-to-match form of a RecognizerConfig.
type recognizer struct {
	name       string
	entity     string
	patterns   []compiledPattern
	denyList   *regexp.Regexp // case-insensitive alternation, nil when empty
	denyScore  float64
	context    map[string][]string // language -> context words
	validation string
}

// compileRecognizers converts configs into runtime recognizers. Disabled
// recognizers are skipped; an invalid regex or validation name is an error
// because registry files are operator input, not caller input.
func compileRecognizers(configs []RecognizerConfig) ([]recognizer, error) {
	var recs []recognizer
	for _, rc := range configs {
		if !rc.isEnabled() {
			continue
		}
		if rc.SupportedEntity == "" {
			return nil, fmt.Errorf("recognizer %q has no supported_entity", rc.Name)
		}
		switch rc.Validation {
		case "", validationLuhn, validationIBAN:
		default:
			return nil, fmt.Errorf("recognizer %q: unknown validation %q", rc.Name, rc.Validation)
		}

		rec := recognizer{
			name:       rc.Name,
			entity:     rc.SupportedEntity,
			denyScore:  rc.DenyListScore,
			context:    make(map[string][]string),
			validation: rc.Validation,
		}
		if rec.denyScore == 0 {
			rec.denyScore = 1.0
		}

		for _, p := range rc.Patterns {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q in recognizer %q: %w", p.Name, rc.Name, err)
			}
			rec.patterns = append(rec.patterns, compiledPattern{name: p.Name, regex: re, score: p.Score})
		}

		if len(rc.DenyList) > 0 {
			quoted := make([]string, len(rc.DenyList))
			for i, term := range rc.DenyList {
				quoted[i] = regexp.QuoteMeta(term)
			}
			re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
			if err != nil {
				return nil, fmt.Errorf("compiling deny list in recognizer %q: %w", rc.Name, err)
			}
			rec.denyList = re
		}

		for _, lc := range rc.SupportedLanguages {
			rec.context[lc.Language] = lc.Context
		}

		recs = append(recs, rec)
	}
	return recs, nil
}
