package sshutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// fakeSession serves canned file contents in place of a live SFTP client.
type fakeSession struct {
	files  map[string]string
	closed int
}

func (f *fakeSession) open(path string) (io.ReadCloser, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader([]byte(data))), nil
}

func (f *fakeSession) stat(path string) (os.FileInfo, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return fileInfoStub{name: path, size: int64(len(data))}, nil
}

func (f *fakeSession) close() error {
	f.closed++
	return nil
}

type fileInfoStub struct {
	name string
	size int64
}

func (fi fileInfoStub) Name() string       { return fi.name }
func (fi fileInfoStub) Size() int64        { return fi.size }
func (fi fileInfoStub) Mode() os.FileMode  { return 0o644 }
func (fi fileInfoStub) ModTime() time.Time { return time.Time{} }
func (fi fileInfoStub) IsDir() bool        { return false }
func (fi fileInfoStub) Sys() any           { return nil }

// openRemoteFiles wires a RemoteFiles view to a fake session over a client
// that looks connected. Returns the view, the fake, and an open counter.
func openRemoteFiles(t *testing.T, files map[string]string) (*RemoteFiles, *fakeSession, *int) {
	t.Helper()

	client := testClient(&Config{Host: "10.40.8.21", User: "admin", Password: "x"})
	client.conn = &ssh.Client{}

	fake := &fakeSession{files: files}
	opens := 0

	rf := NewRemoteFiles(client)
	rf.openSession = func(*ssh.Client) (sftpSession, error) {
		opens++
		return fake, nil
	}

	if err := rf.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return rf, fake, &opens
}

func TestRemoteFiles_ReadFile(t *testing.T) {
	rf, fake, _ := openRemoteFiles(t, map[string]string{
		"/config/primary.cfg": "vlan 12\nname uplink\n",
	})

	data, err := rf.ReadFile("/config/primary.cfg")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got, want := string(data), "vlan 12\nname uplink\n"; got != want {
		t.Errorf("ReadFile() = %q, want %q", got, want)
	}

	if err := rf.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if fake.closed != 1 {
		t.Errorf("session closed %d times, want 1", fake.closed)
	}
}

func TestRemoteFiles_ReadFileMissing(t *testing.T) {
	rf, _, _ := openRemoteFiles(t, map[string]string{})

	_, err := rf.ReadFile("/config/primary.cfg")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile() error = %v, want fs.ErrNotExist", err)
	}
}

func TestRemoteFiles_Stat(t *testing.T) {
	rf, _, _ := openRemoteFiles(t, map[string]string{
		"/config/primary.cfg": "0123456789",
	})

	info, err := rf.Stat("/config/primary.cfg")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size() != 10 {
		t.Errorf("Size() = %d, want 10", info.Size())
	}

	if _, err := rf.Stat("/config/secondary.cfg"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat() on missing path error = %v, want fs.ErrNotExist", err)
	}
}

func TestRemoteFiles_ReadBeforeOpen(t *testing.T) {
	rf := NewRemoteFiles(testClient(&Config{Host: "10.40.8.21", User: "admin", Password: "x"}))

	if _, err := rf.ReadFile("/config/primary.cfg"); !errors.Is(err, errSFTPNotOpen) {
		t.Errorf("ReadFile() error = %v, want %v", err, errSFTPNotOpen)
	}
	if _, err := rf.Stat("/config/primary.cfg"); !errors.Is(err, errSFTPNotOpen) {
		t.Errorf("Stat() error = %v, want %v", err, errSFTPNotOpen)
	}
}

func TestRemoteFiles_OpenRequiresConnectedClient(t *testing.T) {
	rf := NewRemoteFiles(testClient(&Config{Host: "10.40.8.21", User: "admin", Password: "x"}))

	err := rf.Open(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Open() error = %v, want %v", err, ErrNotConnected)
	}
}

func TestRemoteFiles_OpenIdempotent(t *testing.T) {
	rf, _, opens := openRemoteFiles(t, nil)

	if err := rf.Open(context.Background()); err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	if *opens != 1 {
		t.Errorf("subsystem opened %d times, want 1", *opens)
	}
}

func TestRemoteFiles_OpenCanceled(t *testing.T) {
	client := testClient(&Config{Host: "10.40.8.21", User: "admin", Password: "x"})
	client.conn = &ssh.Client{}

	rf := NewRemoteFiles(client)
	rf.openSession = func(*ssh.Client) (sftpSession, error) {
		t.Fatal("openSession called despite canceled context")
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rf.Open(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Open() error = %v, want context.Canceled", err)
	}
}

func TestRemoteFiles_CloseWithoutOpen(t *testing.T) {
	rf := NewRemoteFiles(testClient(&Config{Host: "10.40.8.21", User: "admin", Password: "x"}))

	if err := rf.Close(); err != nil {
		t.Errorf("Close() before Open error = %v", err)
	}
	if err := rf.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestRemoteFiles_CloseTwiceClosesSessionOnce(t *testing.T) {
	rf, fake, _ := openRemoteFiles(t, nil)

	if err := rf.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := rf.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if fake.closed != 1 {
		t.Errorf("session closed %d times, want 1", fake.closed)
	}
}

func TestWithRemoteFilesLogger(t *testing.T) {
	client := testClient(&Config{Host: "10.40.8.21", User: "admin", Password: "x"})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rf := NewRemoteFiles(client, WithRemoteFilesLogger(logger))
	if rf.logger != logger {
		t.Error("WithRemoteFilesLogger() not applied")
	}

	rf = NewRemoteFiles(client, WithRemoteFilesLogger(nil))
	if rf.logger == nil {
		t.Error("WithRemoteFilesLogger(nil) cleared the default logger")
	}
}
