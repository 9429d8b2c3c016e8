package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/wolfpack/internal/otel"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

type StorageConfig struct {
	// Driver is "memory" (default, state lost on restart) or "sqlite".
	Driver string `yaml:"driver"`
	// Path of the SQLite database. Relative paths resolve against HomeDir.
	Path string `yaml:"path"`
}

type AuthConfig struct {
	// JWTSecret signs access tokens. Empty means a random key is generated
	// once and kept in <home>/jwt.key.
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
	BcryptCost    int    `yaml:"bcrypt_cost"`
	Issuer        string `yaml:"issuer"`
}

// CORSConfig holds CORS settings for the storefront SPA.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// RateLimitConfig holds per-client token bucket settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// ScoringConfig overrides the Wolf Math constants. Unset fields keep the
// defaults; an explicit 0 switches a bonus or penalty off.
type ScoringConfig struct {
	CompletionBase   *int     `yaml:"completion_base,omitempty"`
	DeadlineBonus    *int     `yaml:"deadline_bonus,omitempty"`
	DeadlinePenalty  *int     `yaml:"deadline_penalty,omitempty"`
	BudgetBonus      *int     `yaml:"budget_bonus,omitempty"`
	BudgetPenalty    *int     `yaml:"budget_penalty,omitempty"`
	GrindStatStep    *float64 `yaml:"grind_stat_step,omitempty"`
	GrindStatCap     *float64 `yaml:"grind_stat_cap,omitempty"`
	KillBonusPerKill *int     `yaml:"kill_bonus_per_kill,omitempty"`
	KillBonusCap     *int     `yaml:"kill_bonus_cap,omitempty"`
	StatCap          *float64 `yaml:"stat_cap,omitempty"`
}

// String lists the set overrides in field order; unset fields print as "-".
func (s ScoringConfig) String() string {
	show := func(v any) string {
		switch p := v.(type) {
		case *int:
			if p != nil {
				return strconv.Itoa(*p)
			}
		case *float64:
			if p != nil {
				return strconv.FormatFloat(*p, 'g', -1, 64)
			}
		}
		return "-"
	}
	return strings.Join([]string{
		show(s.CompletionBase), show(s.DeadlineBonus), show(s.DeadlinePenalty),
		show(s.BudgetBonus), show(s.BudgetPenalty), show(s.GrindStatStep),
		show(s.GrindStatCap), show(s.KillBonusPerKill), show(s.KillBonusCap),
		show(s.StatCap),
	}, ",")
}

type MatchmakingConfig struct {
	IncludeMembers bool `yaml:"include_members"`
	// Limit truncates ranked results. 0 means no limit.
	Limit int `yaml:"limit"`
}

type SweepConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	Storage     StorageConfig     `yaml:"storage"`
	Auth        AuthConfig        `yaml:"auth"`
	CORS        CORSConfig        `yaml:"cors"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Telemetry   otel.Config       `yaml:"telemetry"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Matchmaking MatchmakingConfig `yaml:"matchmaking"`
	Sweep       SweepConfig       `yaml:"sweep"`

	// MaxEventsPerUser caps each user's activity feed; oldest entries drop.
	MaxEventsPerUser int `yaml:"max_events_per_user"`

	// MaxBodyBytes bounds JSON request bodies. Larger bodies get 413.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// Bounded drain timeout (seconds) for graceful shutdown.
	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds"`

	FirstRun bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// DBPath resolves the SQLite path against the home directory.
func (c Config) DBPath() string {
	p := c.Storage.Path
	if p == "" {
		p = "wolfpack.db"
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.HomeDir, p)
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|driver=%s|db=%s|cors=%v|origins=%v|rl=%v/%d/%d|scoring=%s|mm=%+v|sweep=%v/%s|events=%d",
		c.BindAddr, c.LogLevel, c.Storage.Driver, c.Storage.Path,
		c.CORS.Enabled, c.CORS.AllowedOrigins,
		c.RateLimit.Enabled, c.RateLimit.RequestsPerMinute, c.RateLimit.BurstSize,
		c.Scoring.String(), c.Matchmaking, c.Sweep.Enabled, c.Sweep.Schedule, c.MaxEventsPerUser)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		BindAddr: "127.0.0.1:18790",
		LogLevel: "info",
		Storage: StorageConfig{
			Driver: DriverMemory,
			Path:   "wolfpack.db",
		},
		Auth: AuthConfig{
			TokenTTLHours: 24 * 7,
			BcryptCost:    10,
			Issuer:        "wolfpack",
		},
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         3600,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 120,
			BurstSize:         20,
		},
		Telemetry: otel.Config{
			Exporter:    "none",
			ServiceName: "wolfpack",
			SampleRate:  1.0,
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Schedule: "*/5 * * * *",
		},
		MaxEventsPerUser:    50,
		MaxBodyBytes:        64 << 10,
		DrainTimeoutSeconds: 5,
	}
}

func HomeDir() string {
	if override := os.Getenv("WOLFPACK_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".wolfpack")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create wolfpack home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.FirstRun = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18790"
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverMemory
	}
	if cfg.Auth.TokenTTLHours <= 0 {
		cfg.Auth.TokenTTLHours = 24 * 7
	}
	if cfg.Auth.BcryptCost <= 0 {
		cfg.Auth.BcryptCost = 10
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "wolfpack"
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.BurstSize <= 0 {
		cfg.RateLimit.BurstSize = 20
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "wolfpack"
	}
	if strings.TrimSpace(cfg.Sweep.Schedule) == "" {
		cfg.Sweep.Schedule = "*/5 * * * *"
	}
	if cfg.MaxEventsPerUser <= 0 {
		cfg.MaxEventsPerUser = 50
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	if cfg.DrainTimeoutSeconds <= 0 {
		cfg.DrainTimeoutSeconds = 5
	}
	if cfg.Matchmaking.Limit < 0 {
		cfg.Matchmaking.Limit = 0
	}
}

func validate(cfg Config) error {
	switch cfg.Storage.Driver {
	case DriverMemory, DriverSQLite:
	default:
		return fmt.Errorf("storage.driver %q: must be %q or %q", cfg.Storage.Driver, DriverMemory, DriverSQLite)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level %q: must be debug, info, warn or error", cfg.LogLevel)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("WOLFPACK_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("WOLFPACK_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("WOLFPACK_STORAGE_DRIVER"); raw != "" {
		cfg.Storage.Driver = raw
	}
	if raw := os.Getenv("WOLFPACK_DB_PATH"); raw != "" {
		cfg.Storage.Path = raw
	}
	if raw := os.Getenv("WOLFPACK_JWT_SECRET"); raw != "" {
		cfg.Auth.JWTSecret = raw
	}
	if raw := os.Getenv("WOLFPACK_DRAIN_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.DrainTimeoutSeconds = v
		}
	}
}
