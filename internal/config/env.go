package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides merges CUSTOMTOOLS_* environment variables into cfg.
// Environment variables always take precedence over file values.
// Returns a list of validation errors (may be empty).
func applyEnvOverrides(cfg *Config) []string {
	var errs []string

	if v := getEnv("CUSTOMTOOLS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := getEnv("CUSTOMTOOLS_LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}

	if v := getEnv("CUSTOMTOOLS_SSH_USER"); v != "" {
		cfg.SSH.User = v
	}
	// Password supports the _FILE suffix for Docker secrets.
	if v := getEnvOrFile("CUSTOMTOOLS_SSH_PASSWORD", "CUSTOMTOOLS_SSH_PASSWORD_FILE"); v != "" {
		cfg.SSH.Password = v
	}
	if v := getEnv("CUSTOMTOOLS_SSH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port >= 1 && port <= 65535 {
			cfg.SSH.Port = port
		} else {
			errs = append(errs, fmt.Sprintf("CUSTOMTOOLS_SSH_PORT: invalid port %q", v))
		}
	}
	envDuration(&cfg.SSH.Timeout, "CUSTOMTOOLS_SSH_TIMEOUT", &errs)
	envDuration(&cfg.SSH.KeepaliveInterval, "CUSTOMTOOLS_SSH_KEEPALIVE_INTERVAL", &errs)
	if v := getEnv("CUSTOMTOOLS_SSH_KNOWN_HOSTS_FILE"); v != "" {
		cfg.SSH.KnownHostsFile = v
	}
	if v := getEnv("CUSTOMTOOLS_SSH_STRICT_HOST_KEY_CHECKING"); v != "" {
		cfg.SSH.StrictHostKeyChecking = parseBool(v, cfg.SSH.StrictHostKeyChecking)
	}
	envDuration(&cfg.SSH.DialRetryWindow, "CUSTOMTOOLS_SSH_DIAL_RETRY_WINDOW", &errs)
	if v := getEnv("CUSTOMTOOLS_SSH_CIRCUIT_BREAKER"); v != "" {
		cfg.SSH.CircuitBreaker = parseBool(v, cfg.SSH.CircuitBreaker)
	}
	if v := getEnv("CUSTOMTOOLS_SSH_LEGACY_ALGORITHMS"); v != "" {
		cfg.SSH.LegacyAlgorithms = parseBool(v, cfg.SSH.LegacyAlgorithms)
	}

	if v := getEnv("CUSTOMTOOLS_DEVICES_FILE"); v != "" {
		cfg.Bulk.DevicesFile = v
	}
	if v := getEnv("CUSTOMTOOLS_COMMANDS_FILE"); v != "" {
		cfg.Bulk.CommandsFile = v
	}
	if v := getEnv("CUSTOMTOOLS_LOG_DIR"); v != "" {
		cfg.Bulk.LogDir = v
	}
	envDuration(&cfg.Bulk.CommandTimeout, "CUSTOMTOOLS_COMMAND_TIMEOUT", &errs)
	if v := getEnv("CUSTOMTOOLS_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			cfg.Bulk.Concurrency = n
		} else {
			errs = append(errs, fmt.Sprintf("CUSTOMTOOLS_CONCURRENCY: must be a positive integer, got %q", v))
		}
	}

	if v := getEnv("CUSTOMTOOLS_BACKUP_DIR"); v != "" {
		cfg.Backup.Dir = v
	}
	if v := getEnv("CUSTOMTOOLS_BACKUP_SAVE_COMMAND"); v != "" {
		cfg.Backup.SaveCommand = v
	}
	if v := getEnv("CUSTOMTOOLS_BACKUP_REMOTE_PATH"); v != "" {
		cfg.Backup.RemotePath = v
	}

	if v := getEnv("CUSTOMTOOLS_OUI_FILE"); v != "" {
		cfg.FDB.OUIFile = v
	}
	if v := getEnv("CUSTOMTOOLS_INVENTORY_FILE"); v != "" {
		cfg.FDB.InventoryFile = v
	}
	envDuration(&cfg.FDB.CacheTTL, "CUSTOMTOOLS_FDB_CACHE_TTL", &errs)

	if v := getEnv("CUSTOMTOOLS_LOOKUP_RESOLVER"); v != "" {
		cfg.Lookup.Resolver = v
	}

	if v := getEnv("CUSTOMTOOLS_UPDATE_URL"); v != "" {
		cfg.Update.URL = v
	}
	if v := getEnv("CUSTOMTOOLS_UPDATE_DISABLED"); v != "" {
		cfg.Update.Disabled = parseBool(v, cfg.Update.Disabled)
	}

	if v := getEnv("CUSTOMTOOLS_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	envDuration(&cfg.History.Retention, "CUSTOMTOOLS_HISTORY_RETENTION", &errs)
	if v := getEnv("CUSTOMTOOLS_HISTORY_DISABLED"); v != "" {
		if parseBool(v, false) {
			cfg.History.Path = ""
		}
	}

	if v := getEnv("CUSTOMTOOLS_HEALTH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port >= 1 && port <= 65535 {
			cfg.Server.Port = port
		} else {
			errs = append(errs, fmt.Sprintf("CUSTOMTOOLS_HEALTH_PORT: invalid port %q", v))
		}
	}

	if v := getEnv("CUSTOMTOOLS_CREDENTIALS_FILE"); v != "" {
		cfg.CredentialsFile = v
	}

	return errs
}

// envDuration parses a Go duration environment variable into dst when set,
// recording a validation error for malformed or negative values.
func envDuration(dst *time.Duration, key string, errs *[]string) {
	v := getEnv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q (use format like 30s, 5m)", key, v))
		return
	}
	if d < 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be non-negative, got %q", key, v))
		return
	}
	*dst = d
}
