package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "toolplane.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return path
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  enabled: true
exec:
  max_parallel: 8
  default_timeout: 45s
  tool_timeouts:
    fit_decline_curve: 2m
  retry_attempts: 3
confirm:
  ttl: 10m
session:
  default_role: engineer
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.Auth.Enabled {
		t.Fatal("auth.enabled not applied")
	}
	if cfg.Exec.MaxParallel != 8 || cfg.Exec.RetryAttempts != 3 {
		t.Fatalf("exec = %+v", cfg.Exec)
	}
	if cfg.Exec.DefaultTimeout.Std() != 45*time.Second {
		t.Fatalf("default_timeout = %v, want 45s", cfg.Exec.DefaultTimeout.Std())
	}
	if cfg.Exec.ToolTimeouts["fit_decline_curve"].Std() != 2*time.Minute {
		t.Fatalf("tool_timeouts = %v", cfg.Exec.ToolTimeouts)
	}
	if cfg.Confirm.TTL.Std() != 10*time.Minute {
		t.Fatalf("confirm.ttl = %v", cfg.Confirm.TTL.Std())
	}
	if cfg.Session.DefaultRole != "engineer" {
		t.Fatalf("default_role = %q", cfg.Session.DefaultRole)
	}

	// Untouched sections keep their defaults.
	if !cfg.Audit.Enabled || cfg.Audit.Dir != "audit" {
		t.Fatalf("audit defaults lost: %+v", cfg.Audit)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TOOLPLANE_AUDIT_DIR", "/var/log/toolplane")

	path := writeConfig(t, `
audit:
  enabled: true
  dir: ${TOOLPLANE_AUDIT_DIR}
cache:
  enabled: true
  path: ${TOOLPLANE_CACHE_PATH:-state/cache.db}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audit.Dir != "/var/log/toolplane" {
		t.Fatalf("audit.dir = %q", cfg.Audit.Dir)
	}
	if cfg.Cache.Path != "state/cache.db" {
		t.Fatalf("cache.path = %q, want the ${VAR:-default} fallback", cfg.Cache.Path)
	}
}

func TestLoad_UnresolvedVariable(t *testing.T) {
	path := writeConfig(t, "audit:\n  dir: ${TOOLPLANE_NO_SUCH_VAR}\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unresolved variable: TOOLPLANE_NO_SUCH_VAR") {
		t.Fatalf("expected unresolved-variable error, got %v", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "confirm:\n  ttl: soon\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("expected duration parse error, got %v", err)
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Exec.MaxParallel = -1
	cfg.Session.DefaultRole = "wizard"
	cfg.Audit.Dir = ""
	cfg.Sweep.ActionSchedule = "every minute"

	err := Validate(&cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"exec.max_parallel",
		"default_role",
		"audit.dir",
		"sweep.action_schedule",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("default config must validate, got %v", err)
	}
	if cfg.Auth.Enabled {
		t.Fatal("auth must default to disabled")
	}
	if !cfg.Audit.Enabled {
		t.Fatal("audit must default to enabled")
	}
}
