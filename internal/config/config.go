// Package config handles loading and validation of CustomTools configuration.
//
// Configuration is resolved in three layers: built-in defaults, an optional
// customtools.yaml or customtools.toml file, then CUSTOMTOOLS_* environment
// overrides. Later layers win.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Configuration defaults.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultSSHPort           = 22
	DefaultSSHTimeout        = 10 * time.Second
	DefaultKeepaliveInterval = 15 * time.Second

	DefaultDevicesFile    = "switches.csv"
	DefaultCommandsFile   = "commands.csv"
	DefaultLogDir         = "Logs"
	DefaultCommandTimeout = 30 * time.Second
	DefaultConcurrency    = 1

	DefaultBackupDir        = "Backups"
	DefaultSaveCommand      = "save configuration"
	DefaultBackupRemotePath = "/config/primary.cfg"
	DefaultBackupTimeout    = 60 * time.Second

	DefaultOUIFile     = "macdatabase.txt"
	DefaultFDBCacheTTL = 15 * time.Minute

	DefaultUpdateURL      = "https://raw.githubusercontent.com/Payhn/CustomTools/main/versions.json"
	DefaultUpdateCacheTTL = 24 * time.Hour

	DefaultHistoryPath      = "customtools.db"
	DefaultHistoryRetention = 90 * 24 * time.Hour
	DefaultCredentialsFile  = "credentials.txt"
)

// Config holds the resolved application configuration.
type Config struct {
	// Logging configuration
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text

	// CredentialsFile is the fallback username/password file consulted
	// when SSH.User or SSH.Password is not set.
	CredentialsFile string

	SSH     SSHConfig
	Bulk    BulkConfig
	Backup  BackupConfig
	FDB     FDBConfig
	Lookup  LookupConfig
	Update  UpdateConfig
	History HistoryConfig
	Server  ServerConfig
}

// SSHConfig holds connection settings shared by every tool.
type SSHConfig struct {
	User                  string
	Password              string
	Port                  int
	Timeout               time.Duration
	KeepaliveInterval     time.Duration
	KnownHostsFile        string
	StrictHostKeyChecking bool

	// DialRetryWindow bounds transparent dial retries with backoff.
	// Zero disables retries (single attempt per dial).
	DialRetryWindow time.Duration

	// CircuitBreaker trips dialing to a target after repeated failures.
	CircuitBreaker bool

	// LegacyAlgorithms also offers deprecated SSH algorithms, for old
	// switch firmware the modern defaults cannot reach.
	LegacyAlgorithms bool
}

// BulkConfig holds bulk command run settings.
type BulkConfig struct {
	DevicesFile    string
	CommandsFile   string
	LogDir         string
	CommandTimeout time.Duration
	Concurrency    int
}

// BackupConfig holds configuration backup settings.
type BackupConfig struct {
	Dir         string
	SaveCommand string
	RemotePath  string
	Timeout     time.Duration
}

// FDBConfig holds MAC search settings.
type FDBConfig struct {
	OUIFile       string
	InventoryFile string // optional asset inventory CSV
	CacheTTL      time.Duration
}

// LookupConfig holds self-lookup settings.
type LookupConfig struct {
	// Resolver is the DNS server in host:port form. Empty means the
	// servers from /etc/resolv.conf.
	Resolver string
}

// UpdateConfig holds version check settings.
type UpdateConfig struct {
	URL       string
	CacheFile string
	CacheTTL  time.Duration
	Disabled  bool
}

// HistoryConfig holds run history settings.
type HistoryConfig struct {
	// Path is the SQLite database file. Empty disables history.
	Path string

	// Retention bounds how long runs are kept. Zero keeps everything.
	Retention time.Duration
}

// ServerConfig holds health/metrics server settings.
type ServerConfig struct {
	// Port for the health/metrics endpoints. Zero disables the server.
	Port int
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
		CredentialsFile: DefaultCredentialsFile,
		SSH: SSHConfig{
			Port:              DefaultSSHPort,
			Timeout:           DefaultSSHTimeout,
			KeepaliveInterval: DefaultKeepaliveInterval,
		},
		Bulk: BulkConfig{
			DevicesFile:    DefaultDevicesFile,
			CommandsFile:   DefaultCommandsFile,
			LogDir:         DefaultLogDir,
			CommandTimeout: DefaultCommandTimeout,
			Concurrency:    DefaultConcurrency,
		},
		Backup: BackupConfig{
			Dir:         DefaultBackupDir,
			SaveCommand: DefaultSaveCommand,
			RemotePath:  DefaultBackupRemotePath,
			Timeout:     DefaultBackupTimeout,
		},
		FDB: FDBConfig{
			OUIFile:  DefaultOUIFile,
			CacheTTL: DefaultFDBCacheTTL,
		},
		Update: UpdateConfig{
			URL:      DefaultUpdateURL,
			CacheTTL: DefaultUpdateCacheTTL,
		},
		History: HistoryConfig{
			Path:      DefaultHistoryPath,
			Retention: DefaultHistoryRetention,
		},
	}
}

// DefaultConfigPaths lists the file names probed in the working directory
// when no config path is given explicitly.
var DefaultConfigPaths = []string{
	"customtools.yaml",
	"customtools.yml",
	"customtools.toml",
}

// findConfigFile returns the first default config file that exists,
// or empty when none does.
func findConfigFile() string {
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load resolves the effective configuration.
//
// path names the config file; when empty, CUSTOMTOOLS_CONFIG is consulted,
// then the default file names in the working directory. Running without a
// config file is fine: defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = getEnv("CUSTOMTOOLS_CONFIG")
	}
	if path == "" {
		path = findConfigFile()
	}

	cfg := Default()

	var errs []string
	if path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		errs = append(errs, fileCfg.apply(cfg)...)
		slog.Debug("loaded configuration file", slog.String("path", path))
	}

	errs = append(errs, applyEnvOverrides(cfg)...)
	errs = append(errs, validateConfig(cfg)...)

	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return cfg, nil
}
