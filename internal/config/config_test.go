package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/wolfpack/internal/config"
)

func writeConfig(t *testing.T, home, body string) {
	t.Helper()
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(config.ConfigPath(home), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoad_FromWolfpackHome(t *testing.T) {
	home := filepath.Join(t.TempDir(), "wp")
	writeConfig(t, home, "bind_addr: 0.0.0.0:9000\nstorage:\n  driver: sqlite\n  path: data/game.db\nmax_events_per_user: 10\n")
	t.Setenv("WOLFPACK_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BindAddr != "0.0.0.0:9000" {
		t.Fatalf("expected bind_addr from file, got %q", cfg.BindAddr)
	}
	if cfg.Storage.Driver != config.DriverSQLite {
		t.Fatalf("expected sqlite driver, got %q", cfg.Storage.Driver)
	}
	if got, want := cfg.DBPath(), filepath.Join(home, "data", "game.db"); got != want {
		t.Fatalf("expected db path %q, got %q", want, got)
	}
	if cfg.MaxEventsPerUser != 10 {
		t.Fatalf("expected max_events_per_user=10, got %d", cfg.MaxEventsPerUser)
	}
	if cfg.FirstRun {
		t.Fatalf("expected FirstRun=false when config.yaml exists")
	}
}

func TestLoad_FirstRunWhenNoConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("HOME", home)
	t.Setenv("WOLFPACK_HOME", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.FirstRun {
		t.Fatalf("expected FirstRun=true when config.yaml missing")
	}
	if cfg.HomeDir != filepath.Join(home, ".wolfpack") {
		t.Fatalf("unexpected home dir %q", cfg.HomeDir)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "{}\n")
	t.Setenv("WOLFPACK_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:18790" {
		t.Fatalf("expected default bind_addr, got %q", cfg.BindAddr)
	}
	if cfg.Storage.Driver != config.DriverMemory {
		t.Fatalf("expected memory driver by default, got %q", cfg.Storage.Driver)
	}
	if cfg.Sweep.Schedule != "*/5 * * * *" {
		t.Fatalf("expected default sweep schedule, got %q", cfg.Sweep.Schedule)
	}
	if cfg.MaxEventsPerUser != 50 {
		t.Fatalf("expected max_events_per_user=50, got %d", cfg.MaxEventsPerUser)
	}
	if cfg.Auth.TokenTTLHours != 168 || cfg.Auth.BcryptCost != 10 {
		t.Fatalf("unexpected auth defaults: %+v", cfg.Auth)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.RequestsPerMinute != 120 {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
}

func TestLoad_EnvOverridesConfig(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "bind_addr: 127.0.0.1:1\nlog_level: debug\n")
	t.Setenv("WOLFPACK_HOME", home)
	t.Setenv("WOLFPACK_BIND_ADDR", "127.0.0.1:2")
	t.Setenv("WOLFPACK_LOG_LEVEL", "WARN")
	t.Setenv("WOLFPACK_STORAGE_DRIVER", "sqlite")
	t.Setenv("WOLFPACK_DB_PATH", "/tmp/override.db")
	t.Setenv("WOLFPACK_JWT_SECRET", "from-env-secret")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:2" {
		t.Fatalf("expected env bind_addr, got %q", cfg.BindAddr)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected normalized log level warn, got %q", cfg.LogLevel)
	}
	if cfg.DBPath() != "/tmp/override.db" {
		t.Fatalf("expected absolute db path kept, got %q", cfg.DBPath())
	}
	if cfg.Auth.JWTSecret != "from-env-secret" {
		t.Fatalf("expected env jwt secret, got %q", cfg.Auth.JWTSecret)
	}
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "storage:\n  driver: mongo\n")
	t.Setenv("WOLFPACK_HOME", home)

	_, err := config.Load()
	if err == nil || !strings.Contains(err.Error(), "storage.driver") {
		t.Fatalf("expected storage.driver error, got %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "bind_addr: [unterminated\n")
	t.Setenv("WOLFPACK_HOME", home)

	if _, err := config.Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFingerprint_ChangesWithConfig(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "{}\n")
	t.Setenv("WOLFPACK_HOME", home)

	a, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	b := a
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("expected stable fingerprint")
	}
	b.Matchmaking.Limit = 3
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("expected fingerprint to change with matchmaking limit")
	}
	if !strings.HasPrefix(a.Fingerprint(), "cfg-") {
		t.Fatalf("unexpected fingerprint format %q", a.Fingerprint())
	}
}

func TestLoad_ScoringOverridesKeepExplicitZero(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "scoring:\n  deadline_penalty: 0\n  completion_base: 80\n")
	t.Setenv("WOLFPACK_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scoring.DeadlinePenalty == nil || *cfg.Scoring.DeadlinePenalty != 0 {
		t.Fatalf("deadline_penalty: 0 was dropped: %v", cfg.Scoring.DeadlinePenalty)
	}
	if cfg.Scoring.CompletionBase == nil || *cfg.Scoring.CompletionBase != 80 {
		t.Fatalf("completion_base = %v, want 80", cfg.Scoring.CompletionBase)
	}
	if cfg.Scoring.BudgetPenalty != nil {
		t.Fatalf("unset budget_penalty should stay nil")
	}
	if got, want := cfg.Scoring.String(), "80,-,0,-,-,-,-,-,-,-"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
