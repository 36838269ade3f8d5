// Package config loads and validates the medsync YAML configuration.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDatabase        = "medsync"
	DefaultRemoteTimeout   = 10 * time.Second
	DefaultPollInterval    = 5 * time.Minute
	DefaultPushAttempts    = 3
	DefaultMaxConcurrency  = 4
	DefaultAdherenceWindow = 720 * time.Hour
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// OwnerID is the signed-in user used when no session or MEDSYNC_OWNER_ID
	// is present. Optional.
	OwnerID string `yaml:"owner_id,omitempty"`

	// StatePath overrides the SQLite database location. Defaults to
	// ~/.local/share/medsync/local.db.
	StatePath string `yaml:"state_path,omitempty"`

	// Remote configures the MongoDB backend.
	Remote RemoteConfig `yaml:"remote"`

	// PollInterval controls how often the daemon runs a full sync.
	// Minimum 10s, maximum 1h. Defaults to 5m if unset.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PushAttempts is the number of tries per remote call. 1..10, default 3.
	PushAttempts int `yaml:"push_attempts"`

	// MaxConcurrency bounds how many collections sync in parallel after
	// Medications. 1..16, default 4.
	MaxConcurrency int `yaml:"max_concurrency"`

	// AdherenceWindow limits adherence logs to those scheduled within this
	// duration of now. Defaults to 720h. A negative value syncs all history.
	AdherenceWindow time.Duration `yaml:"adherence_window"`

	// Log routes logs to a rotating file in addition to stderr.
	// Omit the block to log to stderr only.
	Log *LogConfig `yaml:"log,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// RemoteConfig holds the MongoDB connection settings.
type RemoteConfig struct {
	// URI is the MongoDB connection string (e.g. "mongodb://localhost:27017").
	URI string `yaml:"uri"`

	// Database is the database holding the collections. Defaults to "medsync".
	Database string `yaml:"database"`

	// Timeout bounds each remote call. 1s..2m, default 10s.
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig holds rotating log file settings.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "medsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/medsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "medsync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks required fields and fills defaults.
func (c *Config) validate() error {
	if err := c.Remote.validate(); err != nil {
		return err
	}

	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollInterval < 10*time.Second {
		return fmt.Errorf("poll_interval %v is too short (minimum 10s)", c.PollInterval)
	}
	if c.PollInterval > time.Hour {
		return fmt.Errorf("poll_interval %v is too long (maximum 1h)", c.PollInterval)
	}

	if c.PushAttempts == 0 {
		c.PushAttempts = DefaultPushAttempts
	}
	if c.PushAttempts < 1 || c.PushAttempts > 10 {
		return fmt.Errorf("push_attempts %d must be between 1 and 10", c.PushAttempts)
	}

	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.MaxConcurrency < 1 || c.MaxConcurrency > 16 {
		return fmt.Errorf("max_concurrency %d must be between 1 and 16", c.MaxConcurrency)
	}

	if c.AdherenceWindow == 0 {
		c.AdherenceWindow = DefaultAdherenceWindow
	}

	if c.Log != nil {
		if c.Log.File == "" {
			return fmt.Errorf("log.file is required when log is configured")
		}
		if c.Log.MaxSizeMB == 0 {
			c.Log.MaxSizeMB = 10
		}
		if c.Log.MaxBackups == 0 {
			c.Log.MaxBackups = 3
		}
		if c.Log.MaxAgeDays == 0 {
			c.Log.MaxAgeDays = 28
		}
		if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
			return fmt.Errorf("log rotation limits must not be negative")
		}
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

func (r *RemoteConfig) validate() error {
	if r.URI == "" {
		return fmt.Errorf("remote.uri is required")
	}
	u, err := url.Parse(r.URI)
	if err != nil || (u.Scheme != "mongodb" && u.Scheme != "mongodb+srv") || u.Host == "" {
		return fmt.Errorf("remote.uri must be a mongodb:// or mongodb+srv:// connection string")
	}

	if r.Database == "" {
		r.Database = DefaultDatabase
	}

	if r.Timeout == 0 {
		r.Timeout = DefaultRemoteTimeout
	}
	if r.Timeout < time.Second || r.Timeout > 2*time.Minute {
		return fmt.Errorf("remote.timeout %v must be between 1s and 2m", r.Timeout)
	}
	return nil
}

// configFile mirrors Config with durations rendered as strings, which is
// the form Load accepts.
type configFile struct {
	OwnerID         string           `yaml:"owner_id,omitempty"`
	StatePath       string           `yaml:"state_path,omitempty"`
	Remote          remoteFile       `yaml:"remote"`
	PollInterval    string           `yaml:"poll_interval"`
	PushAttempts    int              `yaml:"push_attempts"`
	MaxConcurrency  int              `yaml:"max_concurrency"`
	AdherenceWindow string           `yaml:"adherence_window"`
	Log             *LogConfig       `yaml:"log,omitempty"`
	Telemetry       *TelemetryConfig `yaml:"telemetry,omitempty"`
}

type remoteFile struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
	Timeout  string `yaml:"timeout"`
}

// Write validates c and saves it to path as YAML, creating parent
// directories. The file is readable by the owner only since the remote URI
// may carry credentials.
func (c *Config) Write(path string) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	out := configFile{
		OwnerID:   c.OwnerID,
		StatePath: c.StatePath,
		Remote: remoteFile{
			URI:      c.Remote.URI,
			Database: c.Remote.Database,
			Timeout:  c.Remote.Timeout.String(),
		},
		PollInterval:    c.PollInterval.String(),
		PushAttempts:    c.PushAttempts,
		MaxConcurrency:  c.MaxConcurrency,
		AdherenceWindow: c.AdherenceWindow.String(),
		Log:             c.Log,
		Telemetry:       c.Telemetry,
	}

	var buf bytes.Buffer
	buf.WriteString("# medsync configuration\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}
