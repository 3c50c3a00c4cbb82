package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeTempConfig(t, "tools.yaml", `
ssh:
  user: admin
  circuit_breaker: true
fdb:
  cache_ttl: 5m
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}

	if cfg.SSH == nil || cfg.SSH.User != "admin" {
		t.Errorf("SSH.User = %+v, want admin", cfg.SSH)
	}
	if cfg.SSH.CircuitBreaker == nil || !*cfg.SSH.CircuitBreaker {
		t.Error("SSH.CircuitBreaker: want true")
	}
	if cfg.FDB == nil || cfg.FDB.CacheTTL != "5m" {
		t.Errorf("FDB.CacheTTL = %+v, want 5m", cfg.FDB)
	}
}

func TestLoadFile_TOML(t *testing.T) {
	path := writeTempConfig(t, "tools.toml", `
[ssh]
user = "admin"
timeout = "20s"

[bulk]
concurrency = 8
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}

	if cfg.SSH == nil || cfg.SSH.User != "admin" {
		t.Errorf("SSH.User = %+v, want admin", cfg.SSH)
	}
	if cfg.SSH.Timeout != "20s" {
		t.Errorf("SSH.Timeout = %q, want 20s", cfg.SSH.Timeout)
	}
	if cfg.Bulk == nil || cfg.Bulk.Concurrency != 8 {
		t.Errorf("Bulk.Concurrency = %+v, want 8", cfg.Bulk)
	}
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	path := writeTempConfig(t, "tools.ini", "[ssh]\nuser=admin\n")

	_, err := LoadFile(path)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("LoadFile() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("LoadFile() error = nil, want read error")
	}
}

func TestLoadFile_Interpolation(t *testing.T) {
	t.Setenv("SWITCH_PASSWORD", "hunter2")
	t.Setenv("UNSET_FOR_TEST", "")

	path := writeTempConfig(t, "tools.yaml", `
ssh:
  user: ${UNSET_FOR_TEST:-fallback-user}
  password: ${SWITCH_PASSWORD}
bulk:
  log_dir: ${UNSET_FOR_TEST}
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}

	if cfg.SSH.User != "fallback-user" {
		t.Errorf("SSH.User = %q, want default fallback", cfg.SSH.User)
	}
	if cfg.SSH.Password != "hunter2" {
		t.Errorf("SSH.Password = %q, want interpolated value", cfg.SSH.Password)
	}
	if cfg.Bulk.LogDir != "" {
		t.Errorf("Bulk.LogDir = %q, want empty for unset var", cfg.Bulk.LogDir)
	}
}

func TestInterpolateEnvVars(t *testing.T) {
	t.Setenv("CT_TEST_VALUE", "resolved")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain string", "no-vars-here", "no-vars-here"},
		{"set variable", "${CT_TEST_VALUE}", "resolved"},
		{"set variable with default", "${CT_TEST_VALUE:-other}", "resolved"},
		{"unset variable", "${CT_TEST_ABSENT}", ""},
		{"unset variable with default", "${CT_TEST_ABSENT:-fallback}", "fallback"},
		{"embedded", "prefix-${CT_TEST_VALUE}-suffix", "prefix-resolved-suffix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InterpolateEnvVars(tt.input); got != tt.want {
				t.Errorf("InterpolateEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFileConfig_ApplyReportsBadDurations(t *testing.T) {
	fc := &FileConfig{
		SSH:  &FileSSHConfig{Timeout: "fast"},
		Bulk: &FileBulkConfig{CommandTimeout: "-5s"},
	}

	cfg := Default()
	errs := fc.apply(cfg)

	if len(errs) != 2 {
		t.Fatalf("apply() returned %d errors, want 2: %v", len(errs), errs)
	}
	// Bad values leave the defaults in place.
	if cfg.SSH.Timeout != DefaultSSHTimeout {
		t.Errorf("SSH.Timeout = %v, want default %v", cfg.SSH.Timeout, DefaultSSHTimeout)
	}
	if cfg.Bulk.CommandTimeout != DefaultCommandTimeout {
		t.Errorf("Bulk.CommandTimeout = %v, want default %v", cfg.Bulk.CommandTimeout, DefaultCommandTimeout)
	}
}

func TestFileConfig_ApplyDuration(t *testing.T) {
	fc := &FileConfig{
		SSH: &FileSSHConfig{KeepaliveInterval: "0s"},
	}

	cfg := Default()
	if errs := fc.apply(cfg); len(errs) != 0 {
		t.Fatalf("apply() errors: %v", errs)
	}

	// Zero is a valid setting (disables keepalives), distinct from unset.
	if cfg.SSH.KeepaliveInterval != 0 {
		t.Errorf("SSH.KeepaliveInterval = %v, want 0", cfg.SSH.KeepaliveInterval)
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	if got := findConfigFile(); got != "" {
		t.Errorf("findConfigFile() = %q, want empty in bare dir", got)
	}

	if err := os.WriteFile("customtools.toml", []byte(""), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	if got := findConfigFile(); got != "customtools.toml" {
		t.Errorf("findConfigFile() = %q, want customtools.toml", got)
	}

	// YAML takes precedence when both exist.
	if err := os.WriteFile("customtools.yaml", []byte(""), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	if got := findConfigFile(); got != "customtools.yaml" {
		t.Errorf("findConfigFile() = %q, want customtools.yaml", got)
	}
}
