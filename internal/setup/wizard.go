package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/njoerd114/medsync/internal/config"
)

// PingFunc checks that the MongoDB deployment at uri is reachable.
type PingFunc func(ctx context.Context, uri, database string) error

// Installer installs the background daemon. Implemented by [Service].
type Installer interface {
	Install() error
	LogDir() string
}

// Wizard guides the user through first-run configuration and daemon install.
type Wizard struct {
	prompt     *Prompter
	logger     *slog.Logger
	w          io.Writer
	configPath string
	ping       PingFunc
	installer  Installer
}

// NewWizard creates a Wizard that writes its config to configPath. A nil
// installer skips the daemon step.
func NewWizard(r io.Reader, w io.Writer, configPath string, ping PingFunc, installer Installer, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt:     NewPrompter(r, w),
		logger:     logger,
		w:          w,
		configPath: configPath,
		ping:       ping,
		installer:  installer,
	}
}

// Run executes the interactive setup wizard. It walks the user through the
// account, the MongoDB connection, the poll interval, and config file
// creation, then offers to install the daemon.
func (wiz *Wizard) Run(ctx context.Context) error {
	fmt.Fprintf(wiz.w, "\nWelcome to medsync setup!\n")
	fmt.Fprintf(wiz.w, "This wizard writes %s.\n\n", wiz.configPath)

	if _, statErr := os.Stat(wiz.configPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", wiz.configPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return wiz.offerDaemonInstall()
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	// Step 1: Account.
	fmt.Fprintf(wiz.w, "Step 1/4: Account\n")
	ownerID := wiz.prompt.String("Owner ID", "")
	fmt.Fprintf(wiz.w, "\n")

	// Step 2: Remote store.
	fmt.Fprintf(wiz.w, "Step 2/4: MongoDB Connection\n")
	uri := wiz.prompt.String("Connection URI", "mongodb://localhost:27017")
	database := wiz.prompt.String("Database", config.DefaultDatabase)

	if wiz.ping != nil {
		fmt.Fprintf(wiz.w, "  Connecting to MongoDB...")
		pingCtx, cancel := context.WithTimeout(ctx, config.DefaultRemoteTimeout)
		err := wiz.ping(pingCtx, uri, database)
		cancel()
		if err != nil {
			fmt.Fprintf(wiz.w, " failed\n")
			return fmt.Errorf("cannot reach MongoDB: %w\n\n  Check the URI, then try again", err)
		}
		fmt.Fprintf(wiz.w, " ok\n")
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 3: Poll interval.
	fmt.Fprintf(wiz.w, "Step 3/4: Poll Interval\n")
	pollInterval := wiz.prompt.Duration("How often to sync", config.DefaultPollInterval, 10*time.Second, time.Hour)
	fmt.Fprintf(wiz.w, "\n")

	// Step 4: Write config.
	fmt.Fprintf(wiz.w, "Step 4/4: Save Configuration\n")

	cfg := &config.Config{
		OwnerID: ownerID,
		Remote: config.RemoteConfig{
			URI:      uri,
			Database: database,
		},
		PollInterval: pollInterval,
	}
	if err := cfg.Write(wiz.configPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	wiz.logger.Debug("config written", "path", wiz.configPath)
	fmt.Fprintf(wiz.w, "  Config written to %s\n\n", wiz.configPath)

	return wiz.offerDaemonInstall()
}

// offerDaemonInstall asks the user whether to install as a background daemon.
func (wiz *Wizard) offerDaemonInstall() error {
	if wiz.installer == nil {
		return nil
	}
	if !wiz.prompt.Confirm("Install as background daemon (starts on login)?", true) {
		fmt.Fprintf(wiz.w, "\n  Skipping daemon install.\n")
		fmt.Fprintf(wiz.w, "  You can run manually with: %s daemon\n", BinaryName)
		fmt.Fprintf(wiz.w, "  Or install later with:     %s install\n\n", BinaryName)
		return nil
	}

	if err := wiz.installer.Install(); err != nil {
		return fmt.Errorf("installing daemon: %w", err)
	}
	fmt.Fprintf(wiz.w, "  Daemon installed and running\n")

	fmt.Fprintf(wiz.w, "\nSetup complete! medsync is syncing in the background.\n")
	fmt.Fprintf(wiz.w, "  Config:  %s\n", wiz.configPath)
	fmt.Fprintf(wiz.w, "  Logs:    %s\n", wiz.installer.LogDir())
	fmt.Fprintf(wiz.w, "  Status:  %s status\n", BinaryName)
	fmt.Fprintf(wiz.w, "  Remove:  %s uninstall\n\n", BinaryName)

	return nil
}
