package redact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRulesFileValid(t *testing.T) {
	path := writeRulesFile(t, `
rules:
  - find: "Project Aurora"
    target_type: PROJECT
    replacement: "[PROJECT]"
  - pattern: '[A-Z]{3}-\d{4}'
    target_type: CASE_REF
    score: 0.9
`)
	rules, err := LoadRulesFile(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "Project Aurora", rules[0].Find)
	assert.Equal(t, "[PROJECT]", rules[0].Replacement)
	assert.Equal(t, "CASE_REF", rules[1].TargetType)
	assert.Equal(t, 0.9, rules[1].Score)
}

func TestLoadRulesFileRejectsMissingTargetType(t *testing.T) {
	path := writeRulesFile(t, `
rules:
  - find: "secret"
`)
	_, err := LoadRulesFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")
}

func TestLoadRulesFileRejectsUnknownField(t *testing.T) {
	path := writeRulesFile(t, `
rules:
  - find: "secret"
    target_type: SECRET
    severity: high
`)
	_, err := LoadRulesFile(path)
	require.Error(t, err)
}

func TestLoadRulesFileRejectsOutOfRangeScore(t *testing.T) {
	path := writeRulesFile(t, `
rules:
  - pattern: '\d+'
    target_type: NUMBER
    score: 1.5
`)
	_, err := LoadRulesFile(path)
	require.Error(t, err)
}

func TestLoadRulesFileMissing(t *testing.T) {
	_, err := LoadRulesFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadRulesFileMalformedYAML(t *testing.T) {
	path := writeRulesFile(t, "rules: [unclosed")
	_, err := LoadRulesFile(path)
	require.Error(t, err)
}
