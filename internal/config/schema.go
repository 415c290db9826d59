// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for the tool kernel.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" or "5m" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level configuration structure.
type Config struct {
	// Auth toggles role-based permission checks on tool calls.
	Auth AuthConfig `yaml:"auth"`

	// Audit controls the JSONL audit trail.
	Audit AuditConfig `yaml:"audit"`

	// Exec tunes the tool executor.
	Exec ExecConfig `yaml:"exec"`

	// Confirm tunes the side-effect confirmation gate.
	Confirm ConfirmConfig `yaml:"confirm"`

	// Session tunes the session store.
	Session SessionConfig `yaml:"session"`

	// Cache controls the idempotent response cache.
	Cache CacheConfig `yaml:"cache"`

	// Sweep controls background maintenance schedules.
	Sweep SweepConfig `yaml:"sweep"`

	// BundlesFile is an optional YAML file of extra workflow bundles,
	// loaded alongside the builtins.
	BundlesFile string `yaml:"bundles_file,omitempty"`
}

// AuthConfig controls permission enforcement.
type AuthConfig struct {
	// Enabled turns on role checks. When false every call is allowed and
	// decisions are still computed for visibility.
	Enabled bool `yaml:"enabled"`
}

// AuditConfig controls the audit trail.
type AuditConfig struct {
	// Enabled turns the audit log on. On by default.
	Enabled bool `yaml:"enabled"`

	// Dir is the directory for daily JSONL audit files.
	Dir string `yaml:"dir"`
}

// ExecConfig tunes tool dispatch.
type ExecConfig struct {
	// MaxParallel bounds concurrent tool calls in parallel execution.
	MaxParallel int `yaml:"max_parallel"`

	// DefaultTimeout bounds each provider invocation.
	DefaultTimeout Duration `yaml:"default_timeout"`

	// ToolTimeouts overrides the timeout per tool name.
	ToolTimeouts map[string]Duration `yaml:"tool_timeouts,omitempty"`

	// RetryAttempts retries retryable query failures. <= 1 disables.
	RetryAttempts int `yaml:"retry_attempts"`

	// RateLimit caps dispatched calls per second. Zero disables.
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the limiter burst size.
	RateBurst int `yaml:"rate_burst"`
}

// ConfirmConfig tunes the confirmation gate.
type ConfirmConfig struct {
	// TTL is how long a proposed action stays confirmable.
	TTL Duration `yaml:"ttl"`
}

// SessionConfig tunes the session store.
type SessionConfig struct {
	// DefaultRole is assigned to sessions created without an identity.
	DefaultRole string `yaml:"default_role"`

	// MaxIdle is the idle time after which a session is pruned.
	MaxIdle Duration `yaml:"max_idle"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Enabled turns idempotency-key response caching on.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// MaxAge is how long cached responses are kept.
	MaxAge Duration `yaml:"max_age"`
}

// SweepConfig controls background maintenance.
type SweepConfig struct {
	// Enabled starts the maintenance scheduler.
	Enabled bool `yaml:"enabled"`

	// ActionSchedule is the cron line for expiring pending actions.
	ActionSchedule string `yaml:"action_schedule,omitempty"`

	// SessionSchedule is the cron line for pruning idle sessions.
	SessionSchedule string `yaml:"session_schedule,omitempty"`

	// CacheSchedule is the cron line for pruning the response cache.
	CacheSchedule string `yaml:"cache_schedule,omitempty"`
}

// Default returns the configuration used when no file is supplied:
// permissive auth, audit on, conservative execution limits.
func Default() Config {
	return Config{
		Auth:  AuthConfig{Enabled: false},
		Audit: AuditConfig{Enabled: true, Dir: "audit"},
		Exec: ExecConfig{
			MaxParallel:    4,
			DefaultTimeout: Duration(30 * time.Second),
			RetryAttempts:  0,
		},
		Confirm: ConfirmConfig{TTL: Duration(5 * time.Minute)},
		Session: SessionConfig{
			DefaultRole: "analyst",
			MaxIdle:     Duration(2 * time.Hour),
		},
		Cache: CacheConfig{
			Enabled: false,
			Path:    "cache.db",
			MaxAge:  Duration(24 * time.Hour),
		},
		Sweep: SweepConfig{Enabled: true},
	}
}
