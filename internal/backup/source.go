package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/Payhn/CustomTools/pkg/sshutil"
)

// Source triggers the on-device configuration save and retrieves the saved
// file. The pool satisfies this through PoolSource; tests substitute fakes.
type Source interface {
	// Run executes command on target and fails on a non-zero exit status.
	Run(ctx context.Context, target, command string) error

	// Fetch downloads the file at remotePath from target.
	Fetch(ctx context.Context, target, remotePath string) ([]byte, error)
}

// PoolSource adapts a connection pool to the Source interface. Commands run
// over the pooled connection; each fetch opens a fresh SFTP subsystem on it.
type PoolSource struct {
	Pool *sshutil.Pool
}

// Run executes the save command on target over its pooled connection.
func (s *PoolSource) Run(ctx context.Context, target, command string) error {
	conn, err := s.Pool.Acquire(ctx, target)
	if err != nil {
		return err
	}
	defer s.Pool.Release(target)

	res, err := conn.Run(ctx, command)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(res.Stdout)
		}
		if msg == "" {
			return fmt.Errorf("command exited with status %d", res.ExitCode)
		}
		return fmt.Errorf("command exited with status %d: %s", res.ExitCode, msg)
	}
	return nil
}

// Fetch downloads remotePath from target over SFTP.
func (s *PoolSource) Fetch(ctx context.Context, target, remotePath string) ([]byte, error) {
	conn, err := s.Pool.Acquire(ctx, target)
	if err != nil {
		return nil, err
	}
	defer s.Pool.Release(target)

	client := conn.Client()
	if client == nil {
		return nil, fmt.Errorf("connection to %s does not support SFTP", target)
	}

	files := sshutil.NewRemoteFiles(client)
	if err := files.Open(ctx); err != nil {
		return nil, fmt.Errorf("opening SFTP session: %w", err)
	}
	defer files.Close()

	// Some firmware builds save to a different path than the documented
	// one. Stat first so that case surfaces as a missing file instead of
	// a bare read error.
	if _, err := files.Stat(remotePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("no saved configuration at %s", remotePath)
		}
		return nil, err
	}

	return files.ReadFile(remotePath)
}
