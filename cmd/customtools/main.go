// customtools is a console toolbox for operating fleets of managed switches:
// bulk command runs, configuration backups, MAC address tracing, and
// interactive sessions, all over one shared SSH connection pool.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/Payhn/CustomTools/internal/backup"
	"github.com/Payhn/CustomTools/internal/bulk"
	"github.com/Payhn/CustomTools/internal/config"
	"github.com/Payhn/CustomTools/internal/credentials"
	"github.com/Payhn/CustomTools/internal/fdb"
	"github.com/Payhn/CustomTools/internal/health"
	"github.com/Payhn/CustomTools/internal/history"
	"github.com/Payhn/CustomTools/internal/inventory"
	"github.com/Payhn/CustomTools/internal/lookup"
	"github.com/Payhn/CustomTools/internal/matcher"
	"github.com/Payhn/CustomTools/internal/menu"
	"github.com/Payhn/CustomTools/internal/metrics"
	"github.com/Payhn/CustomTools/internal/sessionlog"
	"github.com/Payhn/CustomTools/internal/update"
	"github.com/Payhn/CustomTools/pkg/sshutil"
)

// Version and BuildDate are set via ldflags during build.
// Example: -ldflags="-X main.Version=1.3.0 -X main.BuildDate=2026-02-11"
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	flags := flag.NewFlagSet("customtools", flag.ExitOnError)
	configPath := flags.String("config", "", "configuration file (default: customtools.yaml in the working directory)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	command := flags.Arg(0)
	if command == "version" {
		fmt.Printf("customtools %s (built %s, %s)\n", Version, BuildDate, runtime.Version())
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	metrics.SetBuildInfo(Version, runtime.Version())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "":
		return runMenu(ctx, cfg, logger)
	case "bulk":
		return runBulk(ctx, cfg, logger, flags.Args()[1:])
	case "update":
		return runUpdateCheck(ctx, cfg, logger)
	case "history":
		return runHistory(ctx, cfg, logger)
	default:
		return fmt.Errorf("unknown command %q (expected bulk, update, history, or version)", command)
	}
}

// runMenu wires every tool onto one shared pool and hands control to the
// interactive menu.
func runMenu(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pool, err := buildPool(cfg, logger)
	if errors.Is(err, credentials.ErrTemplateCreated) {
		fmt.Println(err)
		return nil
	}
	if err != nil {
		return err
	}

	logWriter := sessionlog.New(cfg.Bulk.LogDir, sessionlog.WithLogger(logger))

	bulkRunner, err := bulk.New(&bulk.PoolProvider{Pool: pool}, logWriter,
		bulk.WithLogger(logger),
		bulk.WithCommandTimeout(cfg.Bulk.CommandTimeout),
		bulk.WithConcurrency(cfg.Bulk.Concurrency),
		bulk.WithEvents(menu.NewConsoleEvents(os.Stdout)),
	)
	if err != nil {
		return fmt.Errorf("creating bulk runner: %w", err)
	}

	backupRunner, err := backup.New(&backup.PoolSource{Pool: pool}, cfg.Backup.Dir,
		backup.WithLogger(logger),
		backup.WithSaveCommand(cfg.Backup.SaveCommand),
		backup.WithRemotePath(cfg.Backup.RemotePath),
		backup.WithTimeout(cfg.Backup.Timeout),
		backup.WithProgress(backupProgress(os.Stdout)),
	)
	if err != nil {
		return fmt.Errorf("creating backup runner: %w", err)
	}

	searcher, err := fdb.New(&fdb.PoolProvider{Pool: pool},
		fdb.WithLogger(logger),
		fdb.WithCacheTTL(cfg.FDB.CacheTTL),
	)
	if err != nil {
		return fmt.Errorf("creating fdb searcher: %w", err)
	}

	deps := menu.Deps{
		Version:      Version,
		Config:       cfg,
		Pool:         pool,
		Searcher:     searcher,
		Bulk:         bulkRunner,
		Backup:       backupRunner,
		Shell:        poolShell(pool),
		OUI:          loadOUI(cfg, logger),
		Inventory:    loadInventory(cfg, logger),
		UpdateNotice: checkForUpdate(ctx, cfg, logger),
	}

	var store *history.Store
	if cfg.History.Path != "" {
		store, err = history.Open(cfg.History.Path, history.WithLogger(logger))
		if err != nil {
			logger.Warn("run history disabled", slog.String("error", err.Error()))
			store = nil
		} else {
			defer store.Close()
			deps.History = store
			if err := store.Cleanup(ctx, cfg.History.Retention); err != nil {
				logger.Warn("history cleanup failed", slog.String("error", err.Error()))
			}
		}
	}

	if cfg.Server.Port > 0 {
		healthServer := health.New(cfg.Server.Port, health.WithLogger(logger))
		if store != nil {
			healthServer.RegisterChecker("history", store.Ping)
		}
		if notice := deps.UpdateNotice; notice != "" {
			healthServer.RegisterNotice("update", func(context.Context) (string, bool) {
				return notice, true
			})
		}
		if err := healthServer.Start(); err != nil {
			return fmt.Errorf("starting health server: %w", err)
		}
		defer shutdownHealth(healthServer, logger)

		go trackPoolGauge(ctx, pool)
	}

	m, err := menu.New(deps)
	if err != nil {
		return fmt.Errorf("creating menu: %w", err)
	}

	logger.Info("customtools starting",
		slog.String("version", Version),
		slog.String("build_date", BuildDate),
		slog.String("go_version", runtime.Version()),
	)

	// A canceled context is the signal-triggered exit path; the menu has
	// already said goodbye by the time Run returns.
	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runBulk executes one unattended run from CSV inputs and exits non-zero
// when any device or command failed.
func runBulk(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	flags := flag.NewFlagSet("customtools bulk", flag.ExitOnError)
	devicesFile := flags.String("devices", cfg.Bulk.DevicesFile, "devices CSV with a hostname column")
	commandsFile := flags.String("commands", cfg.Bulk.CommandsFile, "commands CSV with a command column")
	match := flags.String("match", "", "space-separated patterns selecting devices")
	exclude := flags.String("exclude", "", "space-separated patterns excluding devices")
	useRegex := flags.Bool("regex", false, "treat patterns as regular expressions instead of globs")
	quiet := flags.Bool("quiet", false, "only print the final summary")
	if err := flags.Parse(args); err != nil {
		return err
	}

	targets, err := inventory.LoadDevices(*devicesFile)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}
	commands, err := inventory.LoadCommands(*commandsFile)
	if err != nil {
		return fmt.Errorf("loading commands: %w", err)
	}

	if *match != "" || *exclude != "" {
		filter, err := matcher.New(matcher.Config{
			Includes: strings.Fields(*match),
			Excludes: strings.Fields(*exclude),
			UseRegex: *useRegex,
		})
		if err != nil {
			return fmt.Errorf("building device filter: %w", err)
		}
		before := len(targets)
		targets = filter.Apply(targets)
		logger.Info("device filter applied",
			slog.String("filter", filter.String()),
			slog.Int("matched", len(targets)),
			slog.Int("loaded", before),
		)
		if len(targets) == 0 {
			return errors.New("device filter matched no devices")
		}
	}

	for _, warning := range preflightTargets(ctx, cfg, logger, targets) {
		fmt.Printf("Warning: %s\n", warning)
	}

	pool, err := buildPool(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := pool.CloseAll(); err != nil {
			logger.Warn("closing connections", slog.String("error", err.Error()))
		}
	}()

	opts := []bulk.Option{
		bulk.WithLogger(logger),
		bulk.WithCommandTimeout(cfg.Bulk.CommandTimeout),
		bulk.WithConcurrency(cfg.Bulk.Concurrency),
	}
	if !*quiet {
		opts = append(opts, bulk.WithEvents(menu.NewConsoleEvents(os.Stdout)))
	}

	writer := sessionlog.New(cfg.Bulk.LogDir, sessionlog.WithLogger(logger))
	runner, err := bulk.New(&bulk.PoolProvider{Pool: pool}, writer, opts...)
	if err != nil {
		return fmt.Errorf("creating bulk runner: %w", err)
	}

	summary, err := runner.Run(ctx, targets, commands)
	if summary != nil {
		fmt.Printf("\n%s", summary.Summary())
		recordHistory(ctx, cfg, logger, summary)
	}
	if err != nil {
		return err
	}
	if summary.HasFailures() {
		return fmt.Errorf("run finished with %d connection failure(s) and %d command error(s)",
			summary.ConnectionFailures, summary.Errors)
	}
	return nil
}

// runUpdateCheck queries the release feed once and prints the result. The
// explicit command works even when the automatic startup check is disabled.
func runUpdateCheck(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Update.URL == "" {
		return errors.New("no release feed configured")
	}

	checker := update.New(cfg.Update.URL, cfg.Update.CacheFile, Version,
		update.WithLogger(logger),
		update.WithCacheTTL(cfg.Update.CacheTTL),
	)

	status, err := checker.Check(ctx)
	if err != nil {
		return fmt.Errorf("checking for updates: %w", err)
	}

	fmt.Println(status.Summary())
	return nil
}

// runHistory lists recent bulk runs from the history store.
func runHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.History.Path == "" {
		return errors.New("run history is not configured")
	}

	store, err := history.Open(cfg.History.Path, history.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer store.Close()

	runs, err := store.Recent(ctx, 20)
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet")
		return nil
	}

	for _, run := range runs {
		fmt.Printf("%s  %s  %d device(s)  %d command(s)  %d ok  %d error(s)\n",
			run.StartedAt.Format("2006-01-02 15:04"), run.ID,
			run.Devices, run.Commands, run.Successes, run.Errors)
	}
	return nil
}

// buildPool assembles the shared connection pool from the resolved config,
// falling back to the credentials file for the device login.
func buildPool(cfg *config.Config, logger *slog.Logger) (*sshutil.Pool, error) {
	base, err := sshConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []sshutil.PoolOption{sshutil.WithPoolLogger(logger)}
	if cfg.SSH.DialRetryWindow > 0 {
		opts = append(opts, sshutil.WithDialBackoff(cfg.SSH.DialRetryWindow))
	}
	if cfg.SSH.CircuitBreaker {
		opts = append(opts, sshutil.WithCircuitBreaker())
	}

	return sshutil.NewPool(base, opts...)
}

// sshConfig maps the application config onto the SSH base config. When the
// login is not configured, the credentials file supplies it, and a missing
// file yields a template plus ErrTemplateCreated.
func sshConfig(cfg *config.Config, logger *slog.Logger) (*sshutil.Config, error) {
	user, password := cfg.SSH.User, cfg.SSH.Password
	if user == "" || password == "" {
		path := cfg.CredentialsFile
		if path == "" {
			path = credentials.DefaultFile
		}

		creds, err := credentials.LoadOrCreate(path)
		if err != nil {
			return nil, err
		}
		if user == "" {
			user = creds.Username
		}
		if password == "" {
			password = creds.Password
		}
		logger.Debug("device login loaded from credentials file", slog.String("path", path))
	}

	return &sshutil.Config{
		User:                  user,
		Password:              password,
		Port:                  cfg.SSH.Port,
		Timeout:               cfg.SSH.Timeout,
		KeepaliveInterval:     cfg.SSH.KeepaliveInterval,
		KnownHostsFile:        cfg.SSH.KnownHostsFile,
		StrictHostKeyChecking: cfg.SSH.StrictHostKeyChecking,
		LegacyAlgorithms:      cfg.SSH.LegacyAlgorithms,
	}, nil
}

// poolShell attaches the local terminal to an interactive shell on target.
// The connection stays pooled after the shell ends.
func poolShell(pool *sshutil.Pool) menu.Shell {
	return func(ctx context.Context, target string) error {
		conn, err := pool.Acquire(ctx, target)
		if err != nil {
			return err
		}
		defer pool.Release(target)

		client := conn.Client()
		if client == nil {
			return fmt.Errorf("connection to %s does not support interactive sessions", target)
		}
		return client.Shell(ctx, os.Stdin, os.Stdout, os.Stderr)
	}
}

// loadOUI reads the vendor prefix database. Searches work without it, just
// without the vendor gate.
func loadOUI(cfg *config.Config, logger *slog.Logger) *fdb.OUIDatabase {
	if cfg.FDB.OUIFile == "" {
		return nil
	}

	db, err := fdb.LoadOUIDatabase(cfg.FDB.OUIFile)
	if err != nil {
		logger.Warn("OUI database unavailable, vendor matching disabled",
			slog.String("path", cfg.FDB.OUIFile),
			slog.String("error", err.Error()),
		)
		return nil
	}

	logger.Debug("OUI database loaded",
		slog.String("path", cfg.FDB.OUIFile),
		slog.Int("prefixes", db.Len()),
	)
	return db
}

// loadInventory reads the optional asset sheet used to enrich FDB matches.
func loadInventory(cfg *config.Config, logger *slog.Logger) *fdb.Inventory {
	if cfg.FDB.InventoryFile == "" {
		return nil
	}

	inv, err := fdb.LoadInventory(cfg.FDB.InventoryFile)
	if err != nil {
		logger.Warn("inventory unavailable, device enrichment disabled",
			slog.String("path", cfg.FDB.InventoryFile),
			slog.String("error", err.Error()),
		)
		return nil
	}

	logger.Debug("inventory loaded",
		slog.String("path", cfg.FDB.InventoryFile),
		slog.Int("devices", inv.Len()),
	)
	return inv
}

// preflightTargets forward-resolves hostname targets so typos in the devices
// file surface before any connection attempt. Advisory only: resolution
// failures become warnings and an unusable resolver skips the check.
func preflightTargets(ctx context.Context, cfg *config.Config, logger *slog.Logger, targets []string) []string {
	resolver, err := lookup.New(cfg.Lookup.Resolver, lookup.WithLogger(logger))
	if err != nil {
		logger.Debug("dns preflight skipped", slog.String("error", err.Error()))
		return nil
	}
	return resolver.Preflight(ctx, targets)
}

// checkForUpdate runs the startup version check and renders the menu banner
// line. Feed failures never block startup.
func checkForUpdate(ctx context.Context, cfg *config.Config, logger *slog.Logger) string {
	if cfg.Update.Disabled || cfg.Update.URL == "" {
		return ""
	}

	checker := update.New(cfg.Update.URL, cfg.Update.CacheFile, Version,
		update.WithLogger(logger),
		update.WithCacheTTL(cfg.Update.CacheTTL),
	)

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status, err := checker.Check(checkCtx)
	if err != nil {
		logger.Debug("startup update check skipped", slog.String("error", err.Error()))
		return ""
	}

	for _, tool := range status.Tools {
		if tool.Outdated {
			return fmt.Sprintf("Update available: %s %s (running %s)", tool.Name, tool.Latest, tool.Current)
		}
	}
	return ""
}

// recordHistory persists the summary when a history store is configured.
// The write survives cancellation so interrupted runs still show up.
func recordHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger, summary *bulk.RunSummary) {
	if cfg.History.Path == "" {
		return
	}

	store, err := history.Open(cfg.History.Path, history.WithLogger(logger))
	if err != nil {
		logger.Warn("run history disabled", slog.String("error", err.Error()))
		return
	}
	defer store.Close()

	if err := store.RecordRun(context.WithoutCancel(ctx), summary); err != nil {
		logger.Warn("recording run history failed", slog.String("error", err.Error()))
	}
}

// backupProgress prints one line per finished device backup.
func backupProgress(w io.Writer) func(int, int, backup.Result) {
	return func(index, total int, res backup.Result) {
		if res.Err != nil {
			fmt.Fprintf(w, "[%d/%d] %s: %v\n", index, total, res.Target, res.Err)
			return
		}
		fmt.Fprintf(w, "[%d/%d] %s saved to %s (%d bytes)\n", index, total, res.Target, res.ArtifactPath, res.Size)
	}
}

// trackPoolGauge keeps the active connection gauge current while metrics are
// being exported.
func trackPoolGauge(ctx context.Context, pool *sshutil.Pool) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.PoolConnectionsActive.Set(float64(len(pool.ActiveTargets())))
		}
	}
}

func shutdownHealth(server *health.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("health server shutdown error", slog.String("error", err.Error()))
	}
}

func setupLogger(level, format string) *slog.Logger {
	logLevel := parseLogLevel(level)

	// Menu and progress output own stdout; diagnostics go to stderr.
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}

	return slog.New(handler)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
