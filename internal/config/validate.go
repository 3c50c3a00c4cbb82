package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError collects every problem found in a resolved configuration,
// so operators can fix them all in one pass instead of replaying Load.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid configuration: " + e.Errors[0]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "invalid configuration (%d problems)", len(e.Errors))
	for _, p := range e.Errors {
		b.WriteString("\n  - ")
		b.WriteString(p)
	}
	return b.String()
}

// validateConfig cross-checks the configuration after defaults, file, and
// environment have all been applied. Range errors on individual environment
// variables are reported earlier, with the variable name, by applyEnvOverrides.
func validateConfig(cfg *Config) []string {
	var problems []string

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log level: invalid value %q (must be debug, info, warn, or error)", cfg.LogLevel))
	}

	switch cfg.LogFormat {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("log format: invalid value %q (must be json or text)", cfg.LogFormat))
	}

	if cfg.SSH.Port < 1 || cfg.SSH.Port > 65535 {
		problems = append(problems, fmt.Sprintf("ssh port: must be between 1 and 65535, got %d", cfg.SSH.Port))
	}

	if cfg.SSH.Timeout < 0 {
		problems = append(problems, "ssh timeout: must not be negative")
	}

	if cfg.SSH.StrictHostKeyChecking && cfg.SSH.KnownHostsFile == "" {
		problems = append(problems, "ssh: strict host key checking requires a known_hosts file")
	}

	if cfg.Bulk.Concurrency < 1 {
		problems = append(problems, fmt.Sprintf("bulk concurrency: must be at least 1, got %d", cfg.Bulk.Concurrency))
	}

	if cfg.Bulk.CommandTimeout < time.Second {
		problems = append(problems, "bulk command timeout: must be at least 1s")
	}

	if cfg.FDB.CacheTTL < time.Second {
		problems = append(problems, "fdb cache ttl: must be at least 1s")
	}

	if !cfg.Update.Disabled && cfg.Update.URL == "" {
		problems = append(problems, "update url: required unless update checks are disabled")
	}

	if cfg.History.Retention < 0 {
		problems = append(problems, "history retention: must not be negative")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server port: must be between 0 and 65535, got %d", cfg.Server.Port))
	}

	return problems
}
