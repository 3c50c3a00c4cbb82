package sshutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Sentinel errors for SSH operations.
var (
	// ErrNotConnected is returned when an operation needs a live connection
	// and the client has none.
	ErrNotConnected = errors.New("ssh client is not connected")

	// ErrAlreadyConnected is returned by Connect on a connected client.
	ErrAlreadyConnected = errors.New("ssh client is already connected")

	// ErrAuthenticationFailed is returned when the device rejects every
	// configured authentication method.
	ErrAuthenticationFailed = errors.New("ssh authentication failed")

	// ErrConnectionTimeout is returned when the device does not answer
	// within the configured timeout.
	ErrConnectionTimeout = errors.New("ssh connection timed out")
)

// Client is one SSH connection to one device. Commands run in fresh
// sessions over the shared transport, and an optional keepalive loop probes
// the connection between commands.
type Client struct {
	config *Config
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *ssh.Client
	cancel context.CancelFunc // stops the keepalive loop
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithLogger sets a custom logger for the SSH client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient validates config and returns an unconnected client.
func NewClient(config *Config, opts ...ClientOption) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{
		config: config,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Target returns the host this client is configured for.
func (c *Client) Target() string {
	return c.config.Host
}

// Connect dials the device and completes the SSH handshake.
// Returns ErrAlreadyConnected when a connection is already up.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return ErrAlreadyConnected
	}

	sshConfig, err := c.buildSSHConfig()
	if err != nil {
		return fmt.Errorf("building SSH config: %w", err)
	}

	c.logger.Debug("connecting to device",
		slog.String("host", c.config.Host),
		slog.Int("port", c.config.Port),
		slog.String("user", c.config.User),
	)

	conn, err := c.dial(ctx, sshConfig)
	if err != nil {
		return err
	}
	c.conn = conn

	if interval := c.config.GetKeepaliveInterval(); interval > 0 {
		keepaliveCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		go c.keepalive(keepaliveCtx, interval)
	}

	c.logger.Info("SSH connection established",
		slog.String("host", c.config.Host),
		slog.Int("port", c.config.Port),
	)

	return nil
}

// dial opens the TCP connection and runs the SSH handshake, bounding both
// with the configured timeout. Hung firmware daemons accept the TCP
// connection and then go silent, so the handshake needs its own deadline.
func (c *Client) dial(ctx context.Context, sshConfig *ssh.ClientConfig) (*ssh.Client, error) {
	timeout := c.config.GetTimeout()
	addr := c.config.Address()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	netConn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrConnectionTimeout, addr)
		}
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	_ = netConn.SetDeadline(time.Now().Add(timeout))

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, sshConfig)
	if err != nil {
		_ = netConn.Close()
		if isAuthError(err) {
			return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %s: handshake stalled", ErrConnectionTimeout, addr)
		}
		return nil, fmt.Errorf("SSH handshake with %s: %w", addr, err)
	}

	_ = netConn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Close tears the connection down. Safe to call repeatedly.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil

	c.logger.Debug("SSH connection closed",
		slog.String("host", c.config.Host),
	)

	return err
}

// IsConnected reports whether the client currently holds a connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Ping probes the connection by sending an SSH keepalive request.
// A live device answers the request; a dead transport errors out.
// Returns ErrNotConnected if the client never connected or was closed.
func (c *Client) Ping() error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	if _, _, err := conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
		return fmt.Errorf("liveness probe failed: %w", err)
	}

	return nil
}

// GetConnection returns the underlying SSH client for callers that open
// their own channels, such as SFTP and interactive shells. The returned
// connection must not be closed directly; use Client.Close.
func (c *Client) GetConnection() (*ssh.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}

	return c.conn, nil
}

// buildSSHConfig assembles the ssh.ClientConfig for this device.
func (c *Client) buildSSHConfig() (*ssh.ClientConfig, error) {
	authMethods, err := c.buildAuthMethods()
	if err != nil {
		return nil, fmt.Errorf("building auth methods: %w", err)
	}

	hostKeyCallback, err := c.buildHostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("building host key callback: %w", err)
	}

	cfg := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.config.GetTimeout(),
	}

	// Old switch firmware often negotiates only SHA-1 key exchanges or CBC
	// ciphers that current defaults refuse. Offering the deprecated set
	// after the modern one keeps those devices reachable without weakening
	// sessions against devices that speak current algorithms.
	if c.config.LegacyAlgorithms {
		supported := ssh.SupportedAlgorithms()
		insecure := ssh.InsecureAlgorithms()
		cfg.KeyExchanges = append(supported.KeyExchanges, insecure.KeyExchanges...)
		cfg.Ciphers = append(supported.Ciphers, insecure.Ciphers...)
		cfg.MACs = append(supported.MACs, insecure.MACs...)
		cfg.HostKeyAlgorithms = append(supported.HostKeys, insecure.HostKeys...)
		c.logger.Debug("legacy algorithms enabled",
			slog.String("host", c.config.Host),
		)
	}

	return cfg, nil
}

// buildAuthMethods assembles authentication methods from the config.
// Key-based methods are offered before password methods.
func (c *Client) buildAuthMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	signers, err := c.loadSigners()
	if err != nil {
		return nil, err
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	// Switch firmware frequently presents keyboard-interactive instead of
	// plain password auth, so the same password also answers interactive
	// prompts.
	if c.config.Password != "" {
		methods = append(methods,
			ssh.Password(c.config.Password),
			ssh.KeyboardInteractive(promptAnswerer(c.config.Password)),
		)
		c.logger.Debug("added password authentication")
	}

	if len(methods) == 0 {
		return nil, errors.New("no authentication methods configured")
	}

	return methods, nil
}

// loadSigners parses the configured private keys. Key auth is rare on
// switch fleets but preferred where the firmware supports it.
func (c *Client) loadSigners() ([]ssh.Signer, error) {
	var signers []ssh.Signer

	if c.config.KeyFile != "" {
		data, err := os.ReadFile(c.config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading key file %s: %w", c.config.KeyFile, err)
		}

		signer, err := c.parsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parsing key file %s: %w", c.config.KeyFile, err)
		}
		signers = append(signers, signer)

		c.logger.Debug("added key file authentication",
			slog.String("key_file", c.config.KeyFile),
		)
	}

	if c.config.KeyData != "" {
		signer, err := c.parsePrivateKey([]byte(c.config.KeyData))
		if err != nil {
			return nil, fmt.Errorf("parsing key data: %w", err)
		}
		signers = append(signers, signer)

		c.logger.Debug("added key data authentication")
	}

	return signers, nil
}

// promptAnswerer answers every keyboard-interactive question with password.
// Switches only ever ask for the password, whatever the prompt text says.
func promptAnswerer(password string) ssh.KeyboardInteractiveChallenge {
	return func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	}
}

// parsePrivateKey parses a private key, decrypting it when a passphrase is
// configured.
func (c *Client) parsePrivateKey(keyData []byte) (ssh.Signer, error) {
	if c.config.KeyPassphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(c.config.KeyPassphrase))
	}
	return ssh.ParsePrivateKey(keyData)
}

// buildHostKeyCallback returns the host key verifier for this device.
func (c *Client) buildHostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.config.StrictHostKeyChecking {
		if c.config.KnownHostsFile == "" {
			return nil, errors.New("strict host key checking enabled but no known_hosts file configured")
		}

		callback, err := knownhosts.New(c.config.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts file %s: %w", c.config.KnownHostsFile, err)
		}
		return callback, nil
	}

	c.logger.Warn("host key verification disabled - this is insecure",
		slog.String("host", c.config.Host),
	)
	return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // User explicitly requested skip
}

// keepalive probes the connection on a fixed interval until the client is
// closed. A failed probe is logged and left alone; the pool's next Acquire
// discovers the dead transport and redials.
func (c *Client) keepalive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.Ping()
			if errors.Is(err, ErrNotConnected) {
				return
			}
			if err != nil {
				c.logger.Warn("keepalive failed",
					slog.String("host", c.config.Host),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// authFailureMarkers are substrings the ssh package uses in errors that
// mean the device rejected our credentials rather than the connection.
var authFailureMarkers = []string{
	"unable to authenticate",
	"no supported methods",
	"permission denied",
	"publickey",
	"password",
	"keyboard-interactive",
}

// isAuthError reports whether err looks like an authentication failure.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range authFailureMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
