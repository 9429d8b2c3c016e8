package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/wolfpack/internal/auth"
	"github.com/basket/wolfpack/internal/config"
	"github.com/basket/wolfpack/internal/cron"
	"github.com/basket/wolfpack/internal/persistence"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return true
		}
	}
	return false
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkCatalog,
		checkDatabase,
		checkSigningKey,
		checkPermissions,
		checkSweep,
		checkBindAddr,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.FirstRun {
		return CheckResult{Name: "Config", Status: "WARN", Message: "config.yaml missing, using defaults", Detail: config.ConfigPath(cfg.HomeDir)}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir), Detail: cfg.Fingerprint()}
}

func checkCatalog(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Catalog", Status: "SKIP", Message: "Config missing"}
	}
	cat, err := config.LoadCatalog(cfg.HomeDir)
	if err != nil {
		return CheckResult{
			Name:    "Catalog",
			Status:  "FAIL",
			Message: fmt.Sprintf("catalog.yaml rejected: %v", err),
			Detail:  "The built-in catalog is served until the file is fixed",
		}
	}
	if _, statErr := os.Stat(config.CatalogPath(cfg.HomeDir)); os.IsNotExist(statErr) {
		return CheckResult{Name: "Catalog", Status: "PASS", Message: "Built-in catalog", Detail: cat.Version}
	}
	return CheckResult{
		Name:    "Catalog",
		Status:  "PASS",
		Message: fmt.Sprintf("%d cards, %d tasks, %d candidates", len(cat.Cards), len(cat.Tasks), len(cat.Candidates)),
		Detail:  cat.Version,
	}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	}
	if cfg.Storage.Driver != config.DriverSQLite {
		return CheckResult{Name: "Database", Status: "WARN", Message: "In-memory storage: state is lost on restart"}
	}

	store, err := persistence.OpenSQLite(cfg.DBPath())
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Connection failed: %v", err)}
	}
	defer store.Close()

	version, checksum, err := store.SchemaVersion(ctx)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Query failed: %v", err)}
	}
	n, err := store.Count(ctx)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Query failed: %v", err)}
	}
	return CheckResult{
		Name:    "Database",
		Status:  "PASS",
		Message: fmt.Sprintf("Schema v%d, %d users", version, n),
		Detail:  fmt.Sprintf("path=%s checksum=%s", cfg.DBPath(), checksum),
	}
}

func checkSigningKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Signing Key", Status: "SKIP", Message: "Config missing"}
	}
	if cfg.Auth.JWTSecret != "" {
		if len(cfg.Auth.JWTSecret) < 32 {
			return CheckResult{Name: "Signing Key", Status: "WARN", Message: "auth.jwt_secret is shorter than 32 bytes"}
		}
		return CheckResult{Name: "Signing Key", Status: "PASS", Message: "Using auth.jwt_secret"}
	}
	path := auth.KeyPath(cfg.HomeDir)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return CheckResult{Name: "Signing Key", Status: "WARN", Message: "No signing key yet; one is generated on first serve", Detail: path}
	}
	if err != nil {
		return CheckResult{Name: "Signing Key", Status: "FAIL", Message: fmt.Sprintf("Stat failed: %v", err)}
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o077 != 0 {
		return CheckResult{
			Name:    "Signing Key",
			Status:  "WARN",
			Message: fmt.Sprintf("%s is readable by others (%o)", filepath.Base(path), info.Mode().Perm()),
			Detail:  "chmod 600 " + path,
		}
	}
	return CheckResult{Name: "Signing Key", Status: "PASS", Message: "Key file present", Detail: path}
}

func checkPermissions(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}

	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)

	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkSweep(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Overdue Sweep", Status: "SKIP", Message: "Config missing"}
	}
	if !cfg.Sweep.Enabled {
		return CheckResult{Name: "Overdue Sweep", Status: "WARN", Message: "Disabled: overdue tasks are never flagged"}
	}
	next, err := cron.NextRunTime(cfg.Sweep.Schedule, time.Now())
	if err != nil {
		return CheckResult{Name: "Overdue Sweep", Status: "FAIL", Message: fmt.Sprintf("Invalid schedule %q: %v", cfg.Sweep.Schedule, err)}
	}
	return CheckResult{
		Name:    "Overdue Sweep",
		Status:  "PASS",
		Message: fmt.Sprintf("Schedule %q", cfg.Sweep.Schedule),
		Detail:  "next run " + next.Format(time.RFC3339),
	}
}

func checkBindAddr(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Bind Address", Status: "SKIP", Message: "Config missing"}
	}
	if _, _, err := net.SplitHostPort(cfg.BindAddr); err != nil {
		return CheckResult{Name: "Bind Address", Status: "FAIL", Message: fmt.Sprintf("Invalid bind_addr %q: %v", cfg.BindAddr, err)}
	}

	// A running server holds the port, so a failed listen is only a warning.
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.BindAddr)
	if err != nil {
		return CheckResult{
			Name:    "Bind Address",
			Status:  "WARN",
			Message: fmt.Sprintf("%s unavailable (server already running?)", cfg.BindAddr),
			Detail:  err.Error(),
		}
	}
	ln.Close()
	return CheckResult{Name: "Bind Address", Status: "PASS", Message: fmt.Sprintf("%s is free", cfg.BindAddr)}
}
