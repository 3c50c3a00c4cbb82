package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for config files whose extension is not
// .yaml, .yml, or .toml.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// FileConfig represents the configuration file structure. The same shape
// decodes from YAML and TOML; the file extension selects the parser.
// Boolean fields use pointers to distinguish unset from false.
type FileConfig struct {
	Logging *FileLoggingConfig `yaml:"logging,omitempty" toml:"logging,omitempty"`
	SSH     *FileSSHConfig     `yaml:"ssh,omitempty" toml:"ssh,omitempty"`
	Bulk    *FileBulkConfig    `yaml:"bulk,omitempty" toml:"bulk,omitempty"`
	Backup  *FileBackupConfig  `yaml:"backup,omitempty" toml:"backup,omitempty"`
	FDB     *FileFDBConfig     `yaml:"fdb,omitempty" toml:"fdb,omitempty"`
	Lookup  *FileLookupConfig  `yaml:"lookup,omitempty" toml:"lookup,omitempty"`
	Update  *FileUpdateConfig  `yaml:"update,omitempty" toml:"update,omitempty"`
	History *FileHistoryConfig `yaml:"history,omitempty" toml:"history,omitempty"`
	Server  *FileServerConfig  `yaml:"server,omitempty" toml:"server,omitempty"`

	CredentialsFile string `yaml:"credentials_file,omitempty" toml:"credentials_file,omitempty"`
}

// FileLoggingConfig holds logging settings.
type FileLoggingConfig struct {
	Level  string `yaml:"level,omitempty" toml:"level,omitempty"`   // debug, info, warn, error
	Format string `yaml:"format,omitempty" toml:"format,omitempty"` // json, text
}

// FileSSHConfig holds SSH connection settings.
// Durations use Go duration strings (e.g. "10s", "1m").
type FileSSHConfig struct {
	User                  string `yaml:"user,omitempty" toml:"user,omitempty"`
	Password              string `yaml:"password,omitempty" toml:"password,omitempty"`
	Port                  int    `yaml:"port,omitempty" toml:"port,omitempty"`
	Timeout               string `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	KeepaliveInterval     string `yaml:"keepalive_interval,omitempty" toml:"keepalive_interval,omitempty"`
	KnownHostsFile        string `yaml:"known_hosts_file,omitempty" toml:"known_hosts_file,omitempty"`
	StrictHostKeyChecking *bool  `yaml:"strict_host_key_checking,omitempty" toml:"strict_host_key_checking,omitempty"`
	DialRetryWindow       string `yaml:"dial_retry_window,omitempty" toml:"dial_retry_window,omitempty"`
	CircuitBreaker        *bool  `yaml:"circuit_breaker,omitempty" toml:"circuit_breaker,omitempty"`
	LegacyAlgorithms      *bool  `yaml:"legacy_algorithms,omitempty" toml:"legacy_algorithms,omitempty"`
}

// FileBulkConfig holds bulk run settings.
type FileBulkConfig struct {
	DevicesFile    string `yaml:"devices_file,omitempty" toml:"devices_file,omitempty"`
	CommandsFile   string `yaml:"commands_file,omitempty" toml:"commands_file,omitempty"`
	LogDir         string `yaml:"log_dir,omitempty" toml:"log_dir,omitempty"`
	CommandTimeout string `yaml:"command_timeout,omitempty" toml:"command_timeout,omitempty"`
	Concurrency    int    `yaml:"concurrency,omitempty" toml:"concurrency,omitempty"`
}

// FileBackupConfig holds configuration backup settings.
type FileBackupConfig struct {
	Dir         string `yaml:"dir,omitempty" toml:"dir,omitempty"`
	SaveCommand string `yaml:"save_command,omitempty" toml:"save_command,omitempty"`
	RemotePath  string `yaml:"remote_path,omitempty" toml:"remote_path,omitempty"`
	Timeout     string `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
}

// FileFDBConfig holds MAC search settings.
type FileFDBConfig struct {
	OUIFile       string `yaml:"oui_file,omitempty" toml:"oui_file,omitempty"`
	InventoryFile string `yaml:"inventory_file,omitempty" toml:"inventory_file,omitempty"`
	CacheTTL      string `yaml:"cache_ttl,omitempty" toml:"cache_ttl,omitempty"`
}

// FileLookupConfig holds self-lookup settings.
type FileLookupConfig struct {
	Resolver string `yaml:"resolver,omitempty" toml:"resolver,omitempty"` // host:port
}

// FileUpdateConfig holds version check settings.
type FileUpdateConfig struct {
	URL       string `yaml:"url,omitempty" toml:"url,omitempty"`
	CacheFile string `yaml:"cache_file,omitempty" toml:"cache_file,omitempty"`
	CacheTTL  string `yaml:"cache_ttl,omitempty" toml:"cache_ttl,omitempty"`
	Disabled  *bool  `yaml:"disabled,omitempty" toml:"disabled,omitempty"`
}

// FileHistoryConfig holds run history settings.
type FileHistoryConfig struct {
	Path      string `yaml:"path,omitempty" toml:"path,omitempty"`
	Retention string `yaml:"retention,omitempty" toml:"retention,omitempty"`
	Disabled  *bool  `yaml:"disabled,omitempty" toml:"disabled,omitempty"`
}

// FileServerConfig holds health/metrics server settings.
type FileServerConfig struct {
	Port int `yaml:"port,omitempty" toml:"port,omitempty"`
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnvVars replaces ${VAR} patterns with environment variable
// values. Supports ${VAR:-default} syntax for default values.
func InterpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 3 {
			defaultValue = groups[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// interpolateEnvVars interpolates environment variables in every string
// field that may carry a secret or site-specific value.
func (c *FileConfig) interpolateEnvVars() {
	if c.Logging != nil {
		c.Logging.Level = InterpolateEnvVars(c.Logging.Level)
		c.Logging.Format = InterpolateEnvVars(c.Logging.Format)
	}

	if c.SSH != nil {
		c.SSH.User = InterpolateEnvVars(c.SSH.User)
		c.SSH.Password = InterpolateEnvVars(c.SSH.Password)
		c.SSH.KnownHostsFile = InterpolateEnvVars(c.SSH.KnownHostsFile)
	}

	if c.Bulk != nil {
		c.Bulk.DevicesFile = InterpolateEnvVars(c.Bulk.DevicesFile)
		c.Bulk.CommandsFile = InterpolateEnvVars(c.Bulk.CommandsFile)
		c.Bulk.LogDir = InterpolateEnvVars(c.Bulk.LogDir)
	}

	if c.Backup != nil {
		c.Backup.Dir = InterpolateEnvVars(c.Backup.Dir)
		c.Backup.SaveCommand = InterpolateEnvVars(c.Backup.SaveCommand)
		c.Backup.RemotePath = InterpolateEnvVars(c.Backup.RemotePath)
	}

	if c.FDB != nil {
		c.FDB.OUIFile = InterpolateEnvVars(c.FDB.OUIFile)
		c.FDB.InventoryFile = InterpolateEnvVars(c.FDB.InventoryFile)
	}

	if c.Lookup != nil {
		c.Lookup.Resolver = InterpolateEnvVars(c.Lookup.Resolver)
	}

	if c.Update != nil {
		c.Update.URL = InterpolateEnvVars(c.Update.URL)
		c.Update.CacheFile = InterpolateEnvVars(c.Update.CacheFile)
	}

	if c.History != nil {
		c.History.Path = InterpolateEnvVars(c.History.Path)
	}

	c.CredentialsFile = InterpolateEnvVars(c.CredentialsFile)
}

// LoadFile reads and parses a configuration file. The extension selects the
// parser: .yaml/.yml or .toml. Environment variables in ${VAR} format are
// interpolated after parsing.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing TOML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s (want .yaml, .yml, or .toml)", ErrUnsupportedFormat, filepath.Ext(path))
	}

	cfg.interpolateEnvVars()

	return &cfg, nil
}

// apply overlays file values onto cfg. Unset fields leave cfg untouched.
// Returns validation errors for malformed values (may be empty).
func (c *FileConfig) apply(cfg *Config) []string {
	var errs []string

	if c.Logging != nil {
		if c.Logging.Level != "" {
			cfg.LogLevel = strings.ToLower(c.Logging.Level)
		}
		if c.Logging.Format != "" {
			cfg.LogFormat = strings.ToLower(c.Logging.Format)
		}
	}

	if c.SSH != nil {
		if c.SSH.User != "" {
			cfg.SSH.User = c.SSH.User
		}
		if c.SSH.Password != "" {
			cfg.SSH.Password = c.SSH.Password
		}
		if c.SSH.Port > 0 {
			cfg.SSH.Port = c.SSH.Port
		}
		applyDuration(&cfg.SSH.Timeout, c.SSH.Timeout, "ssh.timeout", &errs)
		applyDuration(&cfg.SSH.KeepaliveInterval, c.SSH.KeepaliveInterval, "ssh.keepalive_interval", &errs)
		if c.SSH.KnownHostsFile != "" {
			cfg.SSH.KnownHostsFile = c.SSH.KnownHostsFile
		}
		if c.SSH.StrictHostKeyChecking != nil {
			cfg.SSH.StrictHostKeyChecking = *c.SSH.StrictHostKeyChecking
		}
		applyDuration(&cfg.SSH.DialRetryWindow, c.SSH.DialRetryWindow, "ssh.dial_retry_window", &errs)
		if c.SSH.CircuitBreaker != nil {
			cfg.SSH.CircuitBreaker = *c.SSH.CircuitBreaker
		}
		if c.SSH.LegacyAlgorithms != nil {
			cfg.SSH.LegacyAlgorithms = *c.SSH.LegacyAlgorithms
		}
	}

	if c.Bulk != nil {
		if c.Bulk.DevicesFile != "" {
			cfg.Bulk.DevicesFile = c.Bulk.DevicesFile
		}
		if c.Bulk.CommandsFile != "" {
			cfg.Bulk.CommandsFile = c.Bulk.CommandsFile
		}
		if c.Bulk.LogDir != "" {
			cfg.Bulk.LogDir = c.Bulk.LogDir
		}
		applyDuration(&cfg.Bulk.CommandTimeout, c.Bulk.CommandTimeout, "bulk.command_timeout", &errs)
		if c.Bulk.Concurrency > 0 {
			cfg.Bulk.Concurrency = c.Bulk.Concurrency
		}
	}

	if c.Backup != nil {
		if c.Backup.Dir != "" {
			cfg.Backup.Dir = c.Backup.Dir
		}
		if c.Backup.SaveCommand != "" {
			cfg.Backup.SaveCommand = c.Backup.SaveCommand
		}
		if c.Backup.RemotePath != "" {
			cfg.Backup.RemotePath = c.Backup.RemotePath
		}
		applyDuration(&cfg.Backup.Timeout, c.Backup.Timeout, "backup.timeout", &errs)
	}

	if c.FDB != nil {
		if c.FDB.OUIFile != "" {
			cfg.FDB.OUIFile = c.FDB.OUIFile
		}
		if c.FDB.InventoryFile != "" {
			cfg.FDB.InventoryFile = c.FDB.InventoryFile
		}
		applyDuration(&cfg.FDB.CacheTTL, c.FDB.CacheTTL, "fdb.cache_ttl", &errs)
	}

	if c.Lookup != nil && c.Lookup.Resolver != "" {
		cfg.Lookup.Resolver = c.Lookup.Resolver
	}

	if c.Update != nil {
		if c.Update.URL != "" {
			cfg.Update.URL = c.Update.URL
		}
		if c.Update.CacheFile != "" {
			cfg.Update.CacheFile = c.Update.CacheFile
		}
		applyDuration(&cfg.Update.CacheTTL, c.Update.CacheTTL, "update.cache_ttl", &errs)
		if c.Update.Disabled != nil {
			cfg.Update.Disabled = *c.Update.Disabled
		}
	}

	if c.History != nil {
		if c.History.Path != "" {
			cfg.History.Path = c.History.Path
		}
		applyDuration(&cfg.History.Retention, c.History.Retention, "history.retention", &errs)
		if c.History.Disabled != nil && *c.History.Disabled {
			cfg.History.Path = ""
		}
	}

	if c.Server != nil && c.Server.Port > 0 && c.Server.Port <= 65535 {
		cfg.Server.Port = c.Server.Port
	}

	if c.CredentialsFile != "" {
		cfg.CredentialsFile = c.CredentialsFile
	}

	return errs
}

// applyDuration parses a Go duration string into dst when set, recording a
// validation error for malformed or negative values.
func applyDuration(dst *time.Duration, s, field string, errs *[]string) {
	if s == "" {
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q (use format like 30s, 5m)", field, s))
		return
	}
	if d < 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be non-negative, got %q", field, s))
		return
	}
	*dst = d
}
