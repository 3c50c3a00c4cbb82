package sshutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/ssh"
)

// CommandResult is the captured outcome of one remote command.
type CommandResult struct {
	// ExitCode is the status the device reported. Firmware that closes
	// the channel without reporting a status is treated as exit code 0.
	ExitCode int

	// Stdout and Stderr hold the full captured output.
	Stdout string
	Stderr string
}

// Run executes a single command on the device in a fresh SSH session and
// captures its output.
//
// A non-zero exit status is not a transport error: the error return is nil
// and the status is available in CommandResult.ExitCode. The error return is
// non-nil only for transport-level failures (no connection, session setup,
// channel loss) and for context cancellation.
//
// On context cancellation or deadline the session is torn down and the
// output captured so far is still returned alongside ctx.Err(), so callers
// can log partial output for commands that timed out.
func (c *Client) Run(ctx context.Context, command string) (*CommandResult, error) {
	sshConn, err := c.GetConnection()
	if err != nil {
		return nil, fmt.Errorf("command needs a connected client: %w", err)
	}

	c.logger.Debug("sending command",
		slog.String("host", c.config.Host),
		slog.String("command", command),
	)

	session, err := sshConn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("opening session on %s: %w", c.config.Host, err)
	}
	defer func() { _ = session.Close() }()

	// Buffers are written by the session goroutine and snapshotted on
	// timeout, so they must be locked.
	var stdout, stderr safeBuffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		// Context canceled or deadline hit - tear down the session and
		// return whatever output the command produced so far.
		_ = session.Close()
		result := &CommandResult{
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
		return result, ctx.Err()

	case err := <-done:
		result := &CommandResult{
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}

		exitCode, runErr := classifyRunError(err)
		result.ExitCode = exitCode

		c.logger.Debug("command finished",
			slog.String("host", c.config.Host),
			slog.String("command", command),
			slog.Int("exit_code", exitCode),
			slog.Int("stdout_bytes", len(result.Stdout)),
			slog.Int("stderr_bytes", len(result.Stderr)),
		)

		return result, runErr
	}
}

// classifyRunError maps a session.Run error to an exit code and a
// transport-level error.
func classifyRunError(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		// The command ran to completion and reported a non-zero status.
		return exitErr.ExitStatus(), nil
	}

	var missingErr *ssh.ExitMissingError
	if errors.As(err, &missingErr) {
		// Some network devices close the channel without sending an exit
		// status. The command ran; treat it as success.
		return 0, nil
	}

	return 0, fmt.Errorf("running command: %w", err)
}

// safeBuffer is a bytes.Buffer safe for concurrent Write and String.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
