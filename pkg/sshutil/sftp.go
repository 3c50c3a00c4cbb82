package sshutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// errSFTPNotOpen is returned by RemoteFiles reads before Open succeeds.
var errSFTPNotOpen = errors.New("sftp subsystem not open")

// sftpSession is the slice of *sftp.Client that RemoteFiles needs.
// Tests substitute in-memory fakes through the openSession hook.
type sftpSession interface {
	open(path string) (io.ReadCloser, error)
	stat(path string) (os.FileInfo, error)
	close() error
}

type sftpClientSession struct {
	c *sftp.Client
}

func (s sftpClientSession) open(path string) (io.ReadCloser, error) { return s.c.Open(path) }
func (s sftpClientSession) stat(path string) (os.FileInfo, error)   { return s.c.Stat(path) }
func (s sftpClientSession) close() error                            { return s.c.Close() }

func openSFTP(conn *ssh.Client) (sftpSession, error) {
	c, err := sftp.NewClient(conn)
	if err != nil {
		return nil, err
	}
	return sftpClientSession{c: c}, nil
}

// RemoteFiles reads files off a device over the SFTP subsystem of an
// established SSH connection.
//
// Switch firmware tends to cap concurrent subsystems at one or two, so the
// backup flow opens a RemoteFiles per download and closes it as soon as the
// file is read. Closing a RemoteFiles leaves the SSH connection itself open.
type RemoteFiles struct {
	client *Client
	logger *slog.Logger

	openSession func(*ssh.Client) (sftpSession, error)

	mu   sync.Mutex
	sess sftpSession
}

// RemoteFilesOption configures a RemoteFiles view.
type RemoteFilesOption func(*RemoteFiles)

// WithRemoteFilesLogger sets the logger used for transfer diagnostics.
func WithRemoteFilesLogger(logger *slog.Logger) RemoteFilesOption {
	return func(rf *RemoteFiles) {
		if logger != nil {
			rf.logger = logger
		}
	}
}

// NewRemoteFiles builds a read-only view of the filesystem behind client.
// Nothing touches the wire until Open is called.
func NewRemoteFiles(client *Client, opts ...RemoteFilesOption) *RemoteFiles {
	rf := &RemoteFiles{
		client:      client,
		logger:      slog.Default(),
		openSession: openSFTP,
	}

	for _, opt := range opts {
		opt(rf)
	}

	return rf
}

// Open starts the SFTP subsystem on the underlying connection. The SSH
// client must already be connected. Opening an open view is a no-op.
//
// sftp has no context support of its own, so cancellation is only honored
// before the subsystem request goes out.
func (rf *RemoteFiles) Open(ctx context.Context) error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.sess != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := rf.client.GetConnection()
	if err != nil {
		return fmt.Errorf("sftp needs a connected client: %w", err)
	}

	sess, err := rf.openSession(conn)
	if err != nil {
		return fmt.Errorf("starting sftp subsystem on %s: %w", rf.client.Target(), err)
	}
	rf.sess = sess

	rf.logger.Debug("sftp subsystem open", slog.String("target", rf.client.Target()))
	return nil
}

// Close shuts the SFTP subsystem down, keeping the SSH connection alive.
// Safe to call repeatedly and before Open.
func (rf *RemoteFiles) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.sess == nil {
		return nil
	}

	err := rf.sess.close()
	rf.sess = nil

	rf.logger.Debug("sftp subsystem closed", slog.String("target", rf.client.Target()))
	return err
}

func (rf *RemoteFiles) session() (sftpSession, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.sess == nil {
		return nil, errSFTPNotOpen
	}
	return rf.sess, nil
}

// ReadFile returns the full contents of path on the device. Switch
// configuration files run to a few hundred kilobytes at most, so the whole
// file is buffered.
func (rf *RemoteFiles) ReadFile(path string) ([]byte, error) {
	sess, err := rf.session()
	if err != nil {
		return nil, err
	}

	f, err := sess.open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	rf.logger.Debug("remote file read",
		slog.String("target", rf.client.Target()),
		slog.String("path", path),
		slog.Int("bytes", len(data)),
	)
	return data, nil
}

// Stat reports size and modification time for path on the device. A missing
// path satisfies errors.Is(err, fs.ErrNotExist).
func (rf *RemoteFiles) Stat(path string) (os.FileInfo, error) {
	sess, err := rf.session()
	if err != nil {
		return nil, err
	}

	info, err := sess.stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return info, nil
}
