// Package config loads and validates the IDS runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/synapse-ids/ids/internal/logging"
)

var validate = validator.New()

// Config holds all IDS configuration.
type Config struct {
	Name    string `yaml:"name" validate:"required"`
	Version string `yaml:"version" validate:"required"`

	Paths    PathsConfig    `yaml:"paths"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Gate     GateConfig     `yaml:"gate"`
	Updater  UpdaterConfig  `yaml:"updater"`
	Healer   HealerConfig   `yaml:"healer"`
	Decision DecisionConfig `yaml:"decision"`
	Session  SessionConfig  `yaml:"session"`

	Logging LoggingConfig `yaml:"logging"`
}

// PathsConfig locates the durable files the registry plane owns.
type PathsConfig struct {
	RepoRoot      string            `yaml:"repo_root" validate:"required"`
	RegistryFile  string            `yaml:"registry_file" validate:"required"`
	AuditLog      string            `yaml:"audit_log" validate:"required"`
	HealingLog    string            `yaml:"healing_log" validate:"required"`
	BackupDir     string            `yaml:"backup_dir" validate:"required"`
	LockFile      string            `yaml:"lock_file" validate:"required"`
	SessionsDir   string            `yaml:"sessions_dir" validate:"required"`
	MetricsDir    string            `yaml:"metrics_dir" validate:"required"`
	CategoryRoots map[string]string `yaml:"category_roots"`
}

// BreakerConfig are the circuit-breaker defaults (spec.md §9).
type BreakerConfig struct {
	FailureThreshold int   `yaml:"failure_threshold" validate:"gt=0"`
	SuccessThreshold int   `yaml:"success_threshold" validate:"gt=0"`
	ResetTimeoutMs   int64 `yaml:"reset_timeout_ms" validate:"gt=0"`
}

// GateConfig is the verification-gate timeout default.
type GateConfig struct {
	TimeoutMs int64 `yaml:"gate_timeout_ms" validate:"gt=0"`
}

// UpdaterConfig are the registry updater defaults.
type UpdaterConfig struct {
	DebounceMs     int64 `yaml:"debounce_ms" validate:"gte=0"`
	LockStaleMs    int64 `yaml:"lock_stale_ms" validate:"gt=0"`
	LockRetries    int   `yaml:"lock_retries" validate:"gt=0"`
	AuditRotateMiB int64 `yaml:"audit_rotate_mib" validate:"gt=0"`
}

// HealerConfig are the self-healer defaults.
type HealerConfig struct {
	Backups               int `yaml:"healer_backups" validate:"gt=0"`
	StaleVerificationDays int `yaml:"stale_verification_days" validate:"gt=0"`
}

// DecisionConfig are the decision-engine defaults.
type DecisionConfig struct {
	CacheTTLSeconds      int64   `yaml:"cache_ttl_seconds" validate:"gt=0"`
	RelevanceThreshold   float64 `yaml:"relevance_threshold" validate:"gte=0,lte=1"`
	ReuseThreshold       float64 `yaml:"reuse_threshold" validate:"gte=0,lte=1"`
	AdaptMinScore        float64 `yaml:"adapt_min_score" validate:"gte=0,lte=1"`
	AdaptImpactThreshold float64 `yaml:"adapt_impact_threshold" validate:"gte=0,lte=1"`
	KeywordWeight        float64 `yaml:"keyword_weight" validate:"gte=0,lte=1"`
	PurposeWeight        float64 `yaml:"purpose_weight" validate:"gte=0,lte=1"`
	MaxKeywords          int     `yaml:"max_keywords" validate:"gt=0"`
	MinKeywordLen        int     `yaml:"min_keyword_len" validate:"gt=0"`
	MaxResults           int     `yaml:"max_results" validate:"gt=0"`
}

// SessionConfig are the session-store defaults.
type SessionConfig struct {
	StaleHours    int `yaml:"session_stale_hours" validate:"gt=0"`
	MaxTitleChars int `yaml:"max_title_chars" validate:"gt=0"`
}

// DefaultConfig returns the default configuration, matching every
// default value enumerated in spec.md §9.
func DefaultConfig() *Config {
	return &Config{
		Name:    "synapse-ids",
		Version: "1.0.0",

		Paths: PathsConfig{
			RepoRoot:     ".",
			RegistryFile: ".ids/registry.json",
			AuditLog:     ".ids/audit.jsonl",
			HealingLog:   ".ids/registry-healing-log.jsonl",
			BackupDir:    ".ids/backups",
			LockFile:     ".ids/registry.lock",
			SessionsDir:  ".ids/sessions",
			MetricsDir:   ".ids/metrics",
			CategoryRoots: map[string]string{
				"tasks":      "tasks",
				"templates":  "templates",
				"scripts":    "scripts",
				"modules":    "modules",
				"agents":     "agents",
				"checklists": "checklists",
				"data":       "data",
			},
		},

		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			ResetTimeoutMs:   30_000,
		},

		Gate: GateConfig{
			TimeoutMs: 2_000,
		},

		Updater: UpdaterConfig{
			DebounceMs:     100,
			LockStaleMs:    10_000,
			LockRetries:    3,
			AuditRotateMiB: 5,
		},

		Healer: HealerConfig{
			Backups:               10,
			StaleVerificationDays: 7,
		},

		Decision: DecisionConfig{
			CacheTTLSeconds:      300,
			RelevanceThreshold:   0.4,
			ReuseThreshold:       0.9,
			AdaptMinScore:        0.6,
			AdaptImpactThreshold: 0.30,
			KeywordWeight:        0.6,
			PurposeWeight:        0.4,
			MaxKeywords:          15,
			MinKeywordLen:        3,
			MaxResults:           20,
		},

		Session: SessionConfig{
			StaleHours:    24,
			MaxTitleChars: 50,
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
			Format:    "json",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults
// if the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.BootDebug("loading config from: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		logging.BootError("failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logging.BootError("failed to parse config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	logging.Boot("config loaded: repo_root=%s registry=%s", cfg.Paths.RepoRoot, cfg.Paths.RegistryFile)

	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if root := os.Getenv("IDS_REPO_ROOT"); root != "" {
		c.Paths.RepoRoot = root
	}
	if path := os.Getenv("IDS_REGISTRY_FILE"); path != "" {
		c.Paths.RegistryFile = path
	}
	if path := os.Getenv("IDS_SESSIONS_DIR"); path != "" {
		c.Paths.SessionsDir = path
	}
	if debug := os.Getenv("IDS_DEBUG"); debug == "1" || debug == "true" {
		c.Logging.DebugMode = true
	}
}

// ResetTimeout returns the breaker reset timeout as a duration.
func (c *BreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(c.ResetTimeoutMs) * time.Millisecond
}

// Timeout returns the gate timeout as a duration.
func (c *GateConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Debounce returns the updater debounce window as a duration.
func (c *UpdaterConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// LockStale returns the lock staleness threshold as a duration.
func (c *UpdaterConfig) LockStale() time.Duration {
	return time.Duration(c.LockStaleMs) * time.Millisecond
}

// AuditRotateBytes returns the audit-log rotation threshold in bytes.
func (c *UpdaterConfig) AuditRotateBytes() int64 {
	return c.AuditRotateMiB * 1024 * 1024
}

// CacheTTL returns the decision-analysis cache TTL as a duration.
func (c *DecisionConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// StaleVerification returns the stale-verification threshold as a duration.
func (c *HealerConfig) StaleVerification() time.Duration {
	return time.Duration(c.StaleVerificationDays) * 24 * time.Hour
}

// StaleAge returns the session staleness threshold as a duration.
func (c *SessionConfig) StaleAge() time.Duration {
	return time.Duration(c.StaleHours) * time.Hour
}

// Validate sanity-checks the configuration via struct-tag rules, plus
// the one cross-field rule no tag expresses: adapt_min_score must sit
// strictly below reuse_threshold or ADAPT can never be reached.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Decision.AdaptMinScore >= c.Decision.ReuseThreshold {
		return fmt.Errorf("decision.adapt_min_score must be below decision.reuse_threshold")
	}
	return nil
}
