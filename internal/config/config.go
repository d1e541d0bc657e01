// Package config holds operator-level configuration for a Cloak
// installation: data directory, detection defaults, API keys, rate limits,
// and audit retention. Values come from env vars with the CLOAK_ prefix
// (e.g. CLOAK_SCORE_THRESHOLD) or a cloak.config.yaml file; env wins.
//
// Per-request knobs (operator, score_threshold, custom rules) belong to the
// API request body, not this package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the CLOAK_ prefix and a YAML
// field in cloak.config.yaml.
const (
	KeyDataDir            = "data_dir"
	KeyScoreThreshold     = "score_threshold"
	KeyDefaultLanguage    = "default_language"
	KeyCORSOrigins        = "cors_origins"
	KeyPatternFile        = "pattern_file"
	KeyRulesFile          = "rules_file"
	KeyAPIKeys            = "api_keys"
	KeyGlobalRPM          = "global_rpm"
	KeyCallerRPM          = "caller_rpm"
	KeyAuditEnabled       = "audit_enabled"
	KeyAuditRetentionDays = "audit_retention_days"
)

// Defaults.
const (
	DefaultScoreThreshold = 0.4
	DefaultLanguage       = "en"
	DefaultGlobalRPM      = 600
	DefaultCallerRPM      = 120
	DefaultRetentionDays  = 90
)

// Config holds resolved operator-level configuration for a Cloak process.
type Config struct {
	DataDir            string   // base directory for state (~/.cloak)
	ScoreThreshold     float64  // default minimum confidence when a request omits one
	DefaultLanguage    string   // language passed to the detector by default
	CORSOrigins        []string // allowed CORS origins; ["*"] for any
	PatternFile        string   // optional recognizer YAML layered over the embedded defaults
	RulesFile          string   // optional preset rules applied to every request
	APIKeys            string   // comma-separated key or key:caller entries; empty disables auth
	GlobalRPM          int      // total requests/minute across all callers
	CallerRPM          int      // per-caller requests/minute
	AuditEnabled       bool     // write per-request audit records
	AuditRetentionDays int      // prune audit records older than this
}

// Load resolves configuration from env vars and an optional config file.
// cfgFile overrides the default search locations when non-empty.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLOAK")
	v.AutomaticEnv()

	home, _ := os.UserHomeDir()
	v.SetDefault(KeyDataDir, filepath.Join(home, ".cloak"))
	v.SetDefault(KeyScoreThreshold, DefaultScoreThreshold)
	v.SetDefault(KeyDefaultLanguage, DefaultLanguage)
	v.SetDefault(KeyCORSOrigins, "*")
	v.SetDefault(KeyGlobalRPM, DefaultGlobalRPM)
	v.SetDefault(KeyCallerRPM, DefaultCallerRPM)
	v.SetDefault(KeyAuditEnabled, true)
	v.SetDefault(KeyAuditRetentionDays, DefaultRetentionDays)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("cloak.config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home != "" {
			v.AddConfigPath(filepath.Join(home, ".cloak"))
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	cfg := &Config{
		DataDir:            v.GetString(KeyDataDir),
		ScoreThreshold:     v.GetFloat64(KeyScoreThreshold),
		DefaultLanguage:    v.GetString(KeyDefaultLanguage),
		CORSOrigins:        splitList(v.GetString(KeyCORSOrigins)),
		PatternFile:        v.GetString(KeyPatternFile),
		RulesFile:          v.GetString(KeyRulesFile),
		APIKeys:            v.GetString(KeyAPIKeys),
		GlobalRPM:          v.GetInt(KeyGlobalRPM),
		CallerRPM:          v.GetInt(KeyCallerRPM),
		AuditEnabled:       v.GetBool(KeyAuditEnabled),
		AuditRetentionDays: v.GetInt(KeyAuditRetentionDays),
	}

	if cfg.ScoreThreshold < 0 || cfg.ScoreThreshold > 1 {
		return nil, fmt.Errorf("score_threshold %v out of range [0,1]", cfg.ScoreThreshold)
	}

	return cfg, nil
}

// AuditDBPath returns the full path to the audit SQLite database.
func (c *Config) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// ParseAPIKeys returns a map of key -> caller name from a comma-separated
// list where each entry is "key" or "key:caller".
func ParseAPIKeys(s string) map[string]string {
	m := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		caller := "default"
		if idx := strings.Index(part, ":"); idx > 0 {
			caller = strings.TrimSpace(part[idx+1:])
			part = strings.TrimSpace(part[:idx])
		}
		m[part] = caller
	}
	return m
}

// splitList splits a comma-separated string, trimming whitespace.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
