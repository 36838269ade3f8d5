package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/njoerd114/medsync/internal/auth"
	"github.com/njoerd114/medsync/internal/config"
	"github.com/njoerd114/medsync/internal/model"
	"github.com/njoerd114/medsync/internal/remote"
	"github.com/njoerd114/medsync/internal/setup"
)

// --- status ------------------------------------------------------------------

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: "setup",
		Short:   "Show config, daemon, session, and local record counts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "medsync status")
			fmt.Fprintln(out, "──────────────")

			// Config state.
			var cfg *config.Config
			if _, err := os.Stat(cfgPath); err == nil {
				loaded, loadErr := config.Load(cfgPath)
				if loadErr == nil {
					cfg = loaded
					fmt.Fprintf(out, "  Config:    %s ✓\n", cfgPath)
					fmt.Fprintf(out, "  Remote:    %s\n", cfg.Remote.Database)
					fmt.Fprintf(out, "  Poll:      %s\n", cfg.PollInterval)
				} else {
					fmt.Fprintf(out, "  Config:    %s (invalid: %v)\n", cfgPath, loadErr)
				}
			} else {
				fmt.Fprintf(out, "  Config:    not found (%s)\n", cfgPath)
			}

			// Daemon state.
			if svc, err := newService(); err == nil && svc.IsLoaded() {
				fmt.Fprintln(out, "  Daemon:    running")
			} else {
				fmt.Fprintln(out, "  Daemon:    not running")
			}

			// State DB.
			store, dbPath, err := openLocal(cfg)
			if err != nil {
				fmt.Fprintf(out, "  State DB:  unavailable (%v)\n", err)
				return nil
			}
			defer store.Close()

			if info, statErr := os.Stat(dbPath); statErr == nil {
				fmt.Fprintf(out, "  State DB:  %s (%s)\n", dbPath, humanSize(info.Size()))
			}

			fallback := ""
			if cfg != nil {
				fallback = cfg.OwnerID
			}
			quiet := slog.New(slog.DiscardHandler)
			if owner, ok := auth.NewResolver(store, fallback, quiet).CurrentOwnerID(cmd.Context()); ok {
				fmt.Fprintf(out, "  Owner:     %s\n", owner)
			} else {
				fmt.Fprintln(out, "  Owner:     not signed in")
			}

			counts, err := store.Counts(cmd.Context())
			if err != nil {
				return fmt.Errorf("counting local records: %w", err)
			}
			fmt.Fprintln(out, "  Records:")
			for _, c := range model.AllCollections {
				fmt.Fprintf(out, "    %-16s %d\n", c, counts[c])
			}
			return nil
		},
	}
}

// --- session -----------------------------------------------------------------

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "login <owner-id>",
		GroupID: "setup",
		Short:   "Sign in as owner-id on this device",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := strings.TrimSpace(args[0])
			if owner == "" {
				return fmt.Errorf("owner id must not be empty")
			}
			store, _, err := openLocal(loadConfigIfPresent())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetSession(cmd.Context(), owner); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", owner)
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "logout",
		GroupID: "setup",
		Short:   "Sign out; local records are kept",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := openLocal(loadConfigIfPresent())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.ClearSession(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

// loadConfigIfPresent returns the config when it loads, or nil so callers
// fall back to defaults.
func loadConfigIfPresent() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil
	}
	return cfg
}

// --- init / install ----------------------------------------------------------

func newService() (*setup.Service, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	return setup.NewService(home, cfgPath)
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "init",
		GroupID: "setup",
		Short:   "Interactive first-run wizard",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			var installer setup.Installer
			if svc, err := newService(); err == nil {
				if _, pathErr := svc.UnitPath(); pathErr == nil {
					installer = svc
				}
			}

			wiz := setup.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout(), cfgPath, remote.Ping, installer, logger)
			return wiz.Run(ctx)
		},
	}
}

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "install",
		GroupID: "setup",
		Short:   "Install and start the background daemon",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.Load(cfgPath); err != nil {
				return fmt.Errorf("loading config from %q: %w\n\nRun 'medsync init' first", cfgPath, err)
			}
			svc, err := newService()
			if err != nil {
				return err
			}
			if err := svc.Install(); err != nil {
				return err
			}
			path, _ := svc.UnitPath()
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Daemon installed (%s)\n  Logs: %s\n", path, svc.LogDir())
			return nil
		},
	}
}

func newUninstallCmd() *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:     "uninstall",
		GroupID: "setup",
		Short:   "Stop the daemon and remove its service definition",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			svc, err := newService()
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "Uninstalling medsync...")
			if err := svc.Uninstall(); err != nil {
				fmt.Fprintf(out, "  ⚠ %v\n", err)
			} else {
				fmt.Fprintln(out, "  ✓ Daemon removed")
			}

			if purge {
				if err := svc.PurgeUserData(); err != nil {
					fmt.Fprintf(out, "  ⚠ %v\n", err)
				} else {
					fmt.Fprintln(out, "  ✓ Config, local database, and logs purged")
				}
			} else {
				fmt.Fprintln(out, "")
				fmt.Fprintln(out, "  Config and local database preserved.")
				fmt.Fprintln(out, "  Run with --purge to also remove them.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "also remove config, local database, and logs")
	return cmd
}
