package setup

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
)

//go:embed launchd.plist.tmpl
var launchdTemplate string

//go:embed systemd.service.tmpl
var systemdTemplate string

const (
	// BinaryName is the name of the medsync binary.
	BinaryName = "medsync"

	// LaunchdLabel is the launchd job label on macOS.
	LaunchdLabel = "com.github.njoerd114.medsync"

	// SystemdUnit is the systemd user unit name on Linux.
	SystemdUnit = "medsync.service"
)

// unitData holds template values for the service definition.
type unitData struct {
	Label      string
	BinaryPath string
	ConfigPath string
	LogDir     string
}

// Service installs medsync as a per-user background daemon: a launchd agent
// on macOS or a systemd user unit on Linux.
type Service struct {
	GOOS       string
	HomeDir    string
	BinaryPath string
	ConfigPath string

	// run executes service manager commands. Replaced in tests.
	run func(name string, args ...string) ([]byte, error)
}

// NewService describes the daemon for the running binary and the given
// config file.
func NewService(homeDir, configPath string) (*Service, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving current executable path: %w", err)
	}
	// Resolve symlinks so the unit points at the actual binary.
	self, err = filepath.EvalSymlinks(self)
	if err != nil {
		return nil, fmt.Errorf("resolving executable symlinks: %w", err)
	}
	return &Service{
		GOOS:       runtime.GOOS,
		HomeDir:    homeDir,
		BinaryPath: self,
		ConfigPath: configPath,
		run:        runCommand,
	}, nil
}

func runCommand(name string, args ...string) ([]byte, error) {
	//nolint:gosec // fixed service manager binaries
	return exec.Command(name, args...).CombinedOutput()
}

// UnitPath returns where the service definition is written.
func (s *Service) UnitPath() (string, error) {
	switch s.GOOS {
	case "darwin":
		return filepath.Join(s.HomeDir, "Library", "LaunchAgents", LaunchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(s.HomeDir, ".config", "systemd", "user", SystemdUnit), nil
	default:
		return "", fmt.Errorf("daemon install is not supported on %s", s.GOOS)
	}
}

// LogDir returns the directory the daemon logs to.
func (s *Service) LogDir() string {
	if s.GOOS == "darwin" {
		return filepath.Join(s.HomeDir, "Library", "Logs", BinaryName)
	}
	return filepath.Join(s.HomeDir, ".local", "state", BinaryName)
}

// Render returns the service definition for s.
func (s *Service) Render() ([]byte, error) {
	src := systemdTemplate
	if s.GOOS == "darwin" {
		src = launchdTemplate
	}
	tmpl, err := template.New("unit").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parsing service template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, unitData{
		Label:      LaunchdLabel,
		BinaryPath: s.BinaryPath,
		ConfigPath: s.ConfigPath,
		LogDir:     s.LogDir(),
	})
	if err != nil {
		return nil, fmt.Errorf("executing service template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the service definition, creates the log directory, and
// starts the daemon. An already running daemon is restarted.
func (s *Service) Install() error {
	dest, err := s.UnitPath()
	if err != nil {
		return err
	}
	unit, err := s.Render()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
	}
	if err := os.WriteFile(dest, unit, 0o644); err != nil {
		return fmt.Errorf("writing service definition to %s: %w", dest, err)
	}
	if err := os.MkdirAll(s.LogDir(), 0o755); err != nil {
		return fmt.Errorf("creating log directory %s: %w", s.LogDir(), err)
	}

	if s.GOOS == "darwin" {
		_ = s.unload(dest) // ignore error if not loaded
		return s.exec("launchctl", "load", dest)
	}
	if err := s.exec("systemctl", "--user", "daemon-reload"); err != nil {
		return err
	}
	return s.exec("systemctl", "--user", "enable", "--now", SystemdUnit)
}

// Uninstall stops the daemon and removes the service definition.
func (s *Service) Uninstall() error {
	dest, err := s.UnitPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return nil // nothing installed
	}
	if err := s.unload(dest); err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", dest, err)
	}
	if s.GOOS == "linux" {
		return s.exec("systemctl", "--user", "daemon-reload")
	}
	return nil
}

// IsLoaded reports whether the service manager knows the daemon as running.
func (s *Service) IsLoaded() bool {
	switch s.GOOS {
	case "darwin":
		_, err := s.run("launchctl", "list", LaunchdLabel)
		return err == nil
	case "linux":
		_, err := s.run("systemctl", "--user", "is-active", "--quiet", SystemdUnit)
		return err == nil
	default:
		return false
	}
}

func (s *Service) unload(dest string) error {
	if s.GOOS == "darwin" {
		return s.exec("launchctl", "unload", dest)
	}
	return s.exec("systemctl", "--user", "disable", "--now", SystemdUnit)
}

func (s *Service) exec(name string, args ...string) error {
	if output, err := s.run(name, args...); err != nil {
		return fmt.Errorf("%s %s: %s: %w", name, strings.Join(args, " "), strings.TrimSpace(string(output)), err)
	}
	return nil
}

// PurgeUserData removes config, local database, and log files.
func (s *Service) PurgeUserData() error {
	dirs := []string{
		filepath.Join(s.HomeDir, ".config", BinaryName),
		filepath.Join(s.HomeDir, ".local", "share", BinaryName),
		s.LogDir(),
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("removing %s: %w", dir, err)
		}
	}
	return nil
}
