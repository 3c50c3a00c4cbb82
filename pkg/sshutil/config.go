package sshutil

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied by the Config getters when fields are left zero.
const (
	// DefaultSSHPort is the IANA-assigned SSH port.
	DefaultSSHPort = 22

	// DefaultSSHTimeout bounds connection establishment. Network gear on a
	// management VLAN either answers quickly or not at all.
	DefaultSSHTimeout = 10 * time.Second

	// DefaultKeepaliveInterval paces liveness probes on idle connections.
	DefaultKeepaliveInterval = 15 * time.Second
)

// Config holds the settings for one SSH endpoint.
//
// When used with [Pool], Host is left empty on the base config and filled
// in per device via [Config.WithHost].
type Config struct {
	// Host names the device, as a hostname or IP address.
	// Required for a direct [Client]; supplied per target by [Pool].
	Host string

	// Port overrides the SSH port. Zero means DefaultSSHPort.
	Port int

	// User authenticates the session (required).
	User string

	// At least one of KeyFile, KeyData, or Password must be set.

	// KeyFile points at a private key on disk.
	KeyFile string

	// KeyData carries a private key inline, for setups that inject the
	// key through the environment or a mounted secret instead of a path.
	KeyData string

	// KeyPassphrase decrypts KeyFile or KeyData when the key is encrypted.
	KeyPassphrase string

	// Password enables password and keyboard-interactive authentication.
	// Most managed switches only offer password authentication, so unlike
	// typical server fleets this is a first-class option here.
	Password string

	// Timeout bounds connection establishment, TCP dial and SSH handshake
	// together. Zero means DefaultSSHTimeout.
	Timeout time.Duration

	// KeepaliveInterval paces liveness probes on the open connection.
	// Zero means DefaultKeepaliveInterval. Negative disables the probes,
	// for firmware that mishandles global requests.
	KeepaliveInterval time.Duration

	// KnownHostsFile is the path to a known_hosts file used to verify host
	// keys when StrictHostKeyChecking is enabled.
	KnownHostsFile string

	// StrictHostKeyChecking rejects devices whose host key is absent from
	// KnownHostsFile. Off by default: switch fleets get reimaged and
	// re-keyed often enough that pinning is an operator decision.
	StrictHostKeyChecking bool

	// LegacyAlgorithms additionally offers deprecated key exchanges,
	// ciphers, and host key algorithms during the handshake. Needed for
	// old switch firmware that never learned the modern set.
	LegacyAlgorithms bool
}

// Validate reports every problem with the config in a single error, so a
// bad deployment surfaces all of its mistakes in one run.
func (c *Config) Validate() error {
	var problems []string

	if c.Host == "" {
		problems = append(problems, "host must be set")
	}
	if c.User == "" {
		problems = append(problems, "user must be set")
	}
	if c.KeyFile == "" && c.KeyData == "" && c.Password == "" {
		problems = append(problems, "no authentication configured: set KeyFile, KeyData, or Password")
	}
	if c.Port < 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range 0-65535", c.Port))
	}
	if c.Timeout < 0 {
		problems = append(problems, "negative timeout")
	}
	if c.StrictHostKeyChecking && c.KnownHostsFile == "" {
		problems = append(problems, "strict host key checking requires a known_hosts file")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("ssh config: %s", strings.Join(problems, "; "))
}

// ValidateBase checks everything Validate checks except the host, which a
// pool supplies per target at acquire time.
func (c *Config) ValidateBase() error {
	clone := *c
	clone.Host = "-"
	return clone.Validate()
}

// WithHost returns a copy of the config with Host set to the given target.
func (c *Config) WithHost(host string) *Config {
	clone := *c
	clone.Host = host
	return &clone
}

// Address returns the dial target in host:port form, bracketing IPv6 hosts.
func (c *Config) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// GetTimeout resolves the effective connection timeout.
func (c *Config) GetTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultSSHTimeout
	}
	return c.Timeout
}

// GetKeepaliveInterval resolves the effective keepalive interval.
// Zero means keepalives are disabled.
func (c *Config) GetKeepaliveInterval() time.Duration {
	switch {
	case c.KeepaliveInterval < 0:
		return 0
	case c.KeepaliveInterval == 0:
		return DefaultKeepaliveInterval
	}
	return c.KeepaliveInterval
}

// LoadConfig builds a validated Config from environment variables named
// {prefix}{setting}. Secret-bearing settings also accept a _FILE variant
// pointing at a mounted file, which wins over the direct value.
//
// Settings: HOST, PORT, USER, KEY_FILE, KEY_DATA, KEY_PASSPHRASE, PASSWORD,
// TIMEOUT and KEEPALIVE_INTERVAL (whole seconds), KNOWN_HOSTS_FILE,
// STRICT_HOST_KEY_CHECKING, and LEGACY_ALGORITHMS ("true" enables).
func LoadConfig(prefix string) (*Config, error) {
	cfg := &Config{
		Host:           os.Getenv(prefix + "HOST"),
		User:           os.Getenv(prefix + "USER"),
		KeyFile:        getEnvOrFile(prefix+"KEY_FILE", prefix+"KEY_FILE_FILE"),
		KeyData:        getEnvOrFile(prefix+"KEY_DATA", prefix+"KEY_DATA_FILE"),
		KeyPassphrase:  getEnvOrFile(prefix+"KEY_PASSPHRASE", prefix+"KEY_PASSPHRASE_FILE"),
		Password:       getEnvOrFile(prefix+"PASSWORD", prefix+"PASSWORD_FILE"),
		KnownHostsFile: os.Getenv(prefix + "KNOWN_HOSTS_FILE"),
		Port:           DefaultSSHPort,
	}

	if v := os.Getenv(prefix + "PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %sPORT value %q: %w", prefix, v, err)
		}
		cfg.Port = port
	}

	timeout, err := envSeconds(prefix + "TIMEOUT")
	if err != nil {
		return nil, err
	}
	cfg.Timeout = timeout

	keepalive, err := envSeconds(prefix + "KEEPALIVE_INTERVAL")
	if err != nil {
		return nil, err
	}
	cfg.KeepaliveInterval = keepalive

	cfg.StrictHostKeyChecking = envBool(prefix + "STRICT_HOST_KEY_CHECKING")
	cfg.LegacyAlgorithms = envBool(prefix + "LEGACY_ALGORITHMS")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envSeconds reads key as a whole number of seconds. Unset means zero.
func envSeconds(key string) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return time.Duration(n) * time.Second, nil
}

// envBool treats "true" in any case as true and anything else as false.
func envBool(key string) bool {
	return strings.EqualFold(os.Getenv(key), "true")
}

// getEnvOrFile reads a secret from fileKey's path when set, falling back to
// the direct environment value. File contents are trimmed of surrounding
// whitespace, which covers the trailing newline mounted secrets carry.
func getEnvOrFile(directKey, fileKey string) string {
	path := os.Getenv(fileKey)
	if path == "" {
		return os.Getenv(directKey)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return os.Getenv(directKey)
	}
	return strings.TrimSpace(string(content))
}
