package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/wolfpack/internal/audit"
	"github.com/basket/wolfpack/internal/auth"
	"github.com/basket/wolfpack/internal/bus"
	"github.com/basket/wolfpack/internal/config"
	"github.com/basket/wolfpack/internal/cron"
	"github.com/basket/wolfpack/internal/engine"
	"github.com/basket/wolfpack/internal/gateway"
	otelPkg "github.com/basket/wolfpack/internal/otel"
	"github.com/basket/wolfpack/internal/persistence"
	"github.com/basket/wolfpack/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

SERVER (default):
  %s [-quiet]                 Serve the Wolfpack API

SUBCOMMANDS:
  %s status                   Show server health status (/healthz)
  %s doctor [-json]           Run diagnostic checks
  %s board -email <addr>      Render a member's Kanban board (sqlite storage)

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  WOLFPACK_HOME             Data directory (default: ~/.wolfpack)
  WOLFPACK_BIND_ADDR        Listen address override
  WOLFPACK_STORAGE_DRIVER   memory or sqlite
  WOLFPACK_JWT_SECRET       Token signing secret
`)
}

func main() {
	quiet := flag.Bool("quiet", false, "write logs to the log file only")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		case "board":
			os.Exit(runBoardCommand(ctx, args[1:], os.Stdout))
		case "serve":
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// Audit comes up before the logger so logger failures are audited too.
	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, *quiet)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir, "config_hash", cfg.Fingerprint())

	if cfg.FirstRun {
		if err := writeDefaultConfig(cfg); err != nil {
			fatalStartup(logger, "E_CONFIG_WRITE", err)
		}
		logger.Info("config.yaml written with defaults", "path", config.ConfigPath(cfg.HomeDir))
	}
	if host, _, err := net.SplitHostPort(cfg.BindAddr); err == nil {
		h := strings.TrimSpace(strings.ToLower(host))
		loopback := h == "127.0.0.1" || h == "localhost" || h == "::1"
		if !loopback && wildcardOrigins(cfg.CORS.AllowedOrigins) {
			logger.Warn("cors allows any origin on a non-loopback bind; set cors.allowed_origins to the storefront domain", "bind_addr", cfg.BindAddr)
		}
	}

	eventBus := bus.New()

	// No-op when disabled.
	otelProvider, err := otelPkg.Init(ctx, cfg.Telemetry)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_METRICS", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	if sq, ok := store.(*persistence.SQLiteStore); ok {
		audit.SetDB(sq.DB())
		defer audit.SetDB(nil)
	}
	logger.Info("startup phase", "phase", "store_opened", "driver", cfg.Storage.Driver)

	key, err := auth.LoadOrCreateKey(cfg.HomeDir, cfg.Auth.JWTSecret)
	if err != nil {
		fatalStartup(logger, "E_SIGNING_KEY", err)
	}
	tokens := auth.NewTokens(key, cfg.Auth.Issuer, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)

	catalog, err := config.LoadCatalog(cfg.HomeDir)
	if err != nil {
		logger.Error("catalog.yaml rejected; serving built-in catalog", "error", err)
	}
	catalogs := config.NewCatalogHolder(cfg.HomeDir, catalog)

	eng := engine.New(engine.Config{
		Store:       store,
		Catalog:     catalogs,
		Tokens:      tokens,
		Bus:         eventBus,
		Logger:      logger,
		Tracer:      otelProvider.Tracer,
		Metrics:     metrics,
		Rules:       engine.RulesFromConfig(cfg.Scoring),
		BcryptCost:  cfg.Auth.BcryptCost,
		MaxEvents:   cfg.MaxEventsPerUser,
		Matchmaking: cfg.Matchmaking,
	})
	seeded, err := eng.SeedCandidates(ctx)
	if err != nil {
		fatalStartup(logger, "E_SEED_CANDIDATES", err)
	}
	logger.Info("startup phase", "phase", "catalog_loaded", "catalog_version", catalogs.Get().Version, "candidates", seeded)

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go func() {
		for ev := range confWatcher.Events() {
			if !ev.IsCatalog() {
				logger.Info("config.yaml changed; restart to apply", "path", ev.Path, "op", ev.Op.String())
				continue
			}
			cat, err := catalogs.Reload()
			if err != nil {
				logger.Error("catalog.yaml reload rejected; retaining previous catalog", "error", err)
				continue
			}
			n, err := eng.SeedCandidates(ctx)
			if err != nil {
				logger.Error("reseed candidates failed", "error", err)
				continue
			}
			logger.Info("catalog.yaml hot-reloaded", "catalog_version", cat.Version, "candidates", n)
		}
	}()

	gw, err := gateway.New(gateway.Config{
		Engine:            eng,
		Bus:               eventBus,
		Logger:            logger,
		Tracer:            otelProvider.Tracer,
		Metrics:           metrics,
		CORS:              cfg.CORS,
		RateLimit:         cfg.RateLimit,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		ConfigFingerprint: cfg.Fingerprint(),
	})
	if err != nil {
		fatalStartup(logger, "E_GATEWAY_INIT", err)
	}
	gw.RateLimiter().StartEviction(ctx, 5*time.Minute, 30*time.Minute)

	server := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	lc := &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
	ln, err := lc.Listen(ctx, "tcp", cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			fatalStartup(logger, "E_LISTENER_BIND", fmt.Errorf("%w\n\n  %s", err, portOccupantHint(cfg.BindAddr)))
		}
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if cfg.Sweep.Enabled {
		sweeper, err := cron.NewScheduler(cron.Config{
			Sweeper:  eng,
			Schedule: cfg.Sweep.Schedule,
			Logger:   logger,
		})
		if err != nil {
			fatalStartup(logger, "E_SWEEP_SCHEDULE", err)
		}
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}
	logger.Info("startup phase", "phase", "ready")

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	// Stop intake, then let in-flight requests and streams drain.
	drainTimeout := time.Duration(cfg.DrainTimeoutSeconds) * time.Second
	if drainTimeout <= 0 {
		drainTimeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("drain timed out; closing remaining connections", "error", err)
		_ = server.Close()
	}
	logger.Info("shutdown complete")
}

// openStore opens the configured storage driver.
func openStore(cfg config.Config) (persistence.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		return persistence.OpenSQLite(cfg.DBPath())
	case config.DriverMemory, "":
		return persistence.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func writeDefaultConfig(cfg config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := "# Wolfpack configuration. Changes require a restart; catalog.yaml reloads live.\n"
	return os.WriteFile(config.ConfigPath(cfg.HomeDir), append([]byte(header), data...), 0o644)
}

func wildcardOrigins(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record(context.Background(), audit.DecisionFatal, "runtime.startup", reasonCode, message)

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func isAddrInUse(err error) bool {
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return errors.Is(sysErr.Err, syscall.EADDRINUSE)
	}
	return strings.Contains(err.Error(), "address already in use")
}

func portOccupantHint(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("Another process is using %s. Stop it first or change bind_addr in config.yaml.", addr)
	}
	// Try lsof to identify the occupying process (macOS/Linux).
	out, err := execCommand("lsof", "-ti", ":"+port)
	if err == nil && strings.TrimSpace(out) != "" {
		pids := strings.TrimSpace(out)
		return fmt.Sprintf("Port %s is occupied by PID %s. Kill it with: kill %s", port, pids, pids)
	}
	return fmt.Sprintf("Port %s is already in use. Stop the existing process or change bind_addr in config.yaml.", port)
}

func execCommand(name string, args ...string) (string, error) {
	cmd := execCommandFunc(name, args...)
	out, err := cmd.Output()
	return string(out), err
}

var execCommandFunc = newExecCommand

func newExecCommand(name string, args ...string) *exec.Cmd {
	return exec.Command(name, args...)
}
