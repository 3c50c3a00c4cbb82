package sshutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// PTY geometry used when the local input is not a terminal.
const (
	defaultTermWidth  = 80
	defaultTermHeight = 24
)

// Shell attaches an interactive shell on the device to the given streams.
//
// When in is a local terminal it is switched to raw mode for the duration so
// the device handles echo and line editing, and the remote PTY inherits the
// terminal's size. Shell blocks until the remote shell exits or the context
// is canceled; cancellation tears down the session.
//
// A non-zero exit status from the remote shell is a normal end of session,
// not an error. Like Run, the error return covers transport failures only.
func (c *Client) Shell(ctx context.Context, in io.Reader, out, errw io.Writer) error {
	sshConn, err := c.GetConnection()
	if err != nil {
		return fmt.Errorf("shell needs a connected client: %w", err)
	}

	session, err := sshConn.NewSession()
	if err != nil {
		return fmt.Errorf("opening session on %s: %w", c.config.Host, err)
	}
	defer func() { _ = session.Close() }()

	width, height := defaultTermWidth, defaultTermHeight

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if w, h, err := term.GetSize(int(f.Fd())); err == nil {
			width, height = w, h
		}

		state, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("switching terminal to raw mode: %w", err)
		}
		defer func() { _ = term.Restore(int(f.Fd()), state) }()
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}

	if err := session.RequestPty("xterm-256color", height, width, modes); err != nil {
		return fmt.Errorf("requesting pty: %w", err)
	}

	session.Stdin = in
	session.Stdout = out
	session.Stderr = errw

	if err := session.Shell(); err != nil {
		return fmt.Errorf("starting shell: %w", err)
	}

	c.logger.Debug("interactive shell started",
		slog.String("host", c.config.Host),
	)

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return ctx.Err()

	case err := <-done:
		c.logger.Debug("interactive shell ended",
			slog.String("host", c.config.Host),
		)

		_, runErr := classifyRunError(err)
		return runErr
	}
}
