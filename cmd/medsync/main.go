// medsync keeps a local SQLite copy of a user's medication records in sync
// with a MongoDB backend using last-write-wins conflict resolution.
//
// Usage:
//
//	medsync init                           # interactive first-run wizard
//	medsync daemon [--config <path>]       # poll and sync until stopped
//	medsync sync-once [--config <path>]    # single full sync then exit
//	medsync sync-collection <name>         # sync one collection then exit
//	medsync status                         # show config, daemon, and local state
//	medsync login <owner-id> / logout      # manage the local session
//	medsync install / uninstall [--purge]  # manage the background daemon
//	medsync version                        # print version
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/njoerd114/medsync/internal/auth"
	"github.com/njoerd114/medsync/internal/config"
	"github.com/njoerd114/medsync/internal/remote"
	"github.com/njoerd114/medsync/internal/state"
	syncp "github.com/njoerd114/medsync/internal/sync"
	"github.com/njoerd114/medsync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

var (
	cfgPath string
	verbose bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	defaultCfg, _ := config.DefaultPath()

	root := &cobra.Command{
		Use:           "medsync",
		Short:         "Sync medication records between this device and MongoDB",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", defaultCfg, "path to config.yaml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)
	root.AddCommand(
		newDaemonCmd(),
		newSyncOnceCmd(),
		newSyncCollectionCmd(),
		newStatusCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newInitCmd(),
		newInstallCmd(),
		newUninstallCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "medsync", version)
			},
		},
	)
	return root
}

// --- Logging -----------------------------------------------------------------

// newLogger builds the process logger: a text handler on stderr, teed into a
// rotating file when lc is set, and forwarded to OpenTelemetry. The returned
// closer flushes the log file.
func newLogger(lc *config.LogConfig, verbose bool) (*slog.Logger, func()) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	closer := func() {}
	if lc != nil {
		file := &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, file)
		closer = func() { _ = file.Close() }
	}

	text := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(telemetry.NewLogHandler(text, nil)), closer
}

// --- Wiring ------------------------------------------------------------------

// app holds everything a sync command needs. Close releases it.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	local  *state.Store
	remote *remote.Store
	engine *syncp.Engine
	orch   *syncp.Orchestrator

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openLocal opens the state DB at the configured or default path.
func openLocal(cfg *config.Config) (*state.Store, string, error) {
	dbPath := ""
	if cfg != nil {
		dbPath = cfg.StatePath
	}
	if dbPath == "" {
		var err error
		if dbPath, err = state.DefaultDBPath(); err != nil {
			return nil, "", fmt.Errorf("resolving state DB path: %w", err)
		}
	}
	store, err := state.Open(dbPath)
	if err != nil {
		return nil, dbPath, fmt.Errorf("opening state DB at %q: %w", dbPath, err)
	}
	return store, dbPath, nil
}

// newApp loads config, starts telemetry, opens both stores, and builds the
// sync engine.
func newApp(ctx context.Context) (_ *app, err error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w\n\nRun 'medsync init' to create one", cfgPath, err)
	}

	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// --- Telemetry (optional) ------------------------------------------------

	if telCfg, ok := telemetry.FromConfig(cfg.Telemetry, version); ok {
		shutdownTel, telErr := telemetry.Setup(ctx, telCfg)
		if telErr != nil {
			slog.Error("telemetry setup failed, continuing without telemetry", "error", telErr)
		} else {
			a.closers = append(a.closers, func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					a.log.Error("telemetry shutdown error", "error", err)
				}
			})
		}
	}

	// --- Logger --------------------------------------------------------------

	logger, closeLog := newLogger(cfg.Log, verbose)
	slog.SetDefault(logger)
	a.log = logger
	a.closers = append(a.closers, closeLog)
	logger.Info("config loaded",
		"database", cfg.Remote.Database,
		"poll_interval", cfg.PollInterval,
		"max_concurrency", cfg.MaxConcurrency,
	)

	// --- Local store ---------------------------------------------------------

	local, dbPath, err := openLocal(cfg)
	if err != nil {
		return nil, err
	}
	a.local = local
	a.closers = append(a.closers, func() {
		if err := local.Close(); err != nil {
			logger.Error("closing state DB", "error", err)
		}
	})
	logger.Info("state DB opened", "path", dbPath)

	// --- Remote store --------------------------------------------------------

	rs, err := remote.Open(ctx, remote.Options{
		URI:      cfg.Remote.URI,
		Database: cfg.Remote.Database,
		Timeout:  cfg.Remote.Timeout,
		Attempts: cfg.PushAttempts,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w\n\nCheck remote.uri in your config file", err)
	}
	a.remote = rs
	a.closers = append(a.closers, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rs.Close(closeCtx); err != nil {
			logger.Error("closing remote store", "error", err)
		}
	})
	if err := rs.EnsureIndexes(ctx); err != nil {
		logger.Warn("could not ensure remote indexes", "error", err)
	}

	// --- Sync engine ---------------------------------------------------------

	a.orch = syncp.NewOrchestrator(
		auth.NewResolver(local, cfg.OwnerID, logger),
		syncp.LocalSet{
			Medications:   local.Medications,
			Schedules:     local.Schedules,
			AdherenceLogs: local.AdherenceLogs,
			Refills:       local.Refills,
			Reports:       local.Reports,
		},
		syncp.RemoteSet{
			Medications:   rs.Medications,
			Schedules:     rs.Schedules,
			AdherenceLogs: rs.AdherenceLogs,
			Refills:       rs.Refills,
			Reports:       rs.Reports,
		},
		syncp.NewScopeCache(),
		syncp.Options{
			MaxConcurrency:  cfg.MaxConcurrency,
			AdherenceWindow: cfg.AdherenceWindow,
		},
		logger,
	)
	a.engine = syncp.NewEngine(a.orch, cfg.PollInterval, logger)
	return a, nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
