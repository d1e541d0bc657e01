package redact

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// rulesFileSchema validates operator-provided preset rules files. Unlike
// per-request rules, which are isolated and skipped when malformed, a bad
// preset file is an operator error and fails startup.
const rulesFileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Cloak preset rules",
  "type": "object",
  "required": ["rules"],
  "additionalProperties": false,
  "properties": {
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["target_type"],
        "additionalProperties": false,
        "properties": {
          "find": {"type": "string", "minLength": 1},
          "pattern": {"type": "string", "minLength": 1},
          "target_type": {"type": "string", "minLength": 1},
          "score": {"type": "number", "minimum": 0, "maximum": 1},
          "replacement": {"type": "string"}
        }
      }
    }
  }
}`

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRulesFile reads a YAML (or JSON, which is valid YAML) rules file and
// validates it against the preset rules schema before decoding.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file %s: %w", path, err)
	}
	if err := validateRulesSchema(data); err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
	}
	return rf.Rules, nil
}

// validateRulesSchema checks YAML bytes against rulesFileSchema. The YAML is
// converted to JSON first because gojsonschema operates on JSON.
func validateRulesSchema(yamlBytes []byte) error {
	var raw interface{}
	if err := yaml.Unmarshal(yamlBytes, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	jsonBytes, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return fmt.Errorf("converting YAML to JSON: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(rulesFileSchema),
		gojsonschema.NewBytesLoader(jsonBytes),
	)
	if err != nil {
		return fmt.Errorf("running schema validation: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// normalizeYAML converts map[interface{}]interface{} trees produced by YAML
// decoding into map[string]interface{} so they can be JSON-marshaled.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return m
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return v
	}
}
