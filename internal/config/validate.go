package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// knownRoles are the roles a session default may name.
var knownRoles = map[string]struct{}{
	"analyst":   {},
	"engineer":  {},
	"executive": {},
	"admin":     {},
}

// Validate checks the structural validity of a Config: non-negative
// limits, a known default role, a usable audit directory setting, and
// parseable sweep schedules. All problems are reported at once.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Exec.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("config: exec.max_parallel must be >= 0, got %d", cfg.Exec.MaxParallel))
	}
	if cfg.Exec.DefaultTimeout < 0 {
		errs = append(errs, errors.New("config: exec.default_timeout must be positive"))
	}
	if cfg.Exec.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("config: exec.retry_attempts must be >= 0, got %d", cfg.Exec.RetryAttempts))
	}
	if cfg.Exec.RateLimit < 0 {
		errs = append(errs, errors.New("config: exec.rate_limit must be >= 0"))
	}

	if cfg.Confirm.TTL < 0 {
		errs = append(errs, errors.New("config: confirm.ttl must be positive"))
	}

	if cfg.Session.DefaultRole != "" {
		if _, ok := knownRoles[cfg.Session.DefaultRole]; !ok {
			errs = append(errs, fmt.Errorf("config: unknown session.default_role %q", cfg.Session.DefaultRole))
		}
	}
	if cfg.Session.MaxIdle < 0 {
		errs = append(errs, errors.New("config: session.max_idle must be positive"))
	}

	if cfg.Audit.Enabled && cfg.Audit.Dir == "" {
		errs = append(errs, errors.New("config: audit.dir is required when audit is enabled"))
	}
	if cfg.Cache.Enabled && cfg.Cache.Path == "" {
		errs = append(errs, errors.New("config: cache.path is required when cache is enabled"))
	}

	errs = append(errs, validateSchedules(cfg.Sweep)...)

	return errors.Join(errs...)
}

func validateSchedules(sweep SweepConfig) []error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	var errs []error
	for _, s := range []struct {
		field string
		expr  string
	}{
		{"sweep.action_schedule", sweep.ActionSchedule},
		{"sweep.session_schedule", sweep.SessionSchedule},
		{"sweep.cache_schedule", sweep.CacheSchedule},
	} {
		if s.expr == "" {
			continue
		}
		if _, err := parser.Parse(s.expr); err != nil {
			errs = append(errs, fmt.Errorf("config: %s %q: %w", s.field, s.expr, err))
		}
	}
	return errs
}
