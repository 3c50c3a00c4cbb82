// Package sessionlog writes per-device artifacts for bulk command runs.
//
// Every device in a run gets its own timestamped text file under
// <root>/<device>/, readable without tooling and byte-compatible with the
// logs the previous generation of this tool produced, so existing grep and
// audit scripts keep working.
package sessionlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Payhn/CustomTools/internal/bulk"
)

// DefaultRoot is where session logs land when no directory is configured.
const DefaultRoot = "Logs"

const (
	timestampFormat = "2006-01-02 15:04:05"
	clockFormat     = "15:04:05"
	fileStampFormat = "20060102_150405"

	// maxNameAttempts bounds the suffix search when several sessions for the
	// same device start within one second.
	maxNameAttempts = 100
)

var (
	banner  = strings.Repeat("=", 80)
	divider = strings.Repeat("-", 80)

	targetSanitizer = strings.NewReplacer("/", "_", "\\", "_", ":", "_")
)

// Writer persists session records as per-device log files.
type Writer struct {
	root   string
	logger *slog.Logger

	// now stamps artifacts for records without a start time; swapped out
	// in tests.
	now func() time.Time
}

// Option is a functional option for configuring the Writer.
type Option func(*Writer)

// WithLogger sets a custom logger for the writer.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a Writer rooted at dir. An empty dir falls back to DefaultRoot.
func New(dir string, opts ...Option) *Writer {
	w := &Writer{
		root:   dir,
		logger: slog.Default(),
		now:    time.Now,
	}
	if w.root == "" {
		w.root = DefaultRoot
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Root returns the directory session logs are written under.
func (w *Writer) Root() string {
	return w.root
}

// Write renders the session record into a new artifact file and returns its
// path. The file is synced to disk before the path is returned; a returned
// path always names a durable artifact.
func (w *Writer) Write(rec *bulk.SessionRecord) (string, error) {
	dir := filepath.Join(w.root, sanitizeTarget(rec.Target))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating log directory %s: %w", dir, err)
	}

	f, path, err := w.createArtifact(dir, rec.StartTime)
	if err != nil {
		return "", err
	}

	if _, err := f.WriteString(renderArtifact(rec)); err != nil {
		f.Close()
		return "", fmt.Errorf("writing session log %s: %w", path, err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("syncing session log %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing session log %s: %w", path, err)
	}

	w.logger.Debug("session log written",
		slog.String("target", rec.Target),
		slog.String("path", path),
	)

	return path, nil
}

// createArtifact opens a fresh file stamped with the session start time, so
// the name identifies when the session began rather than when the log landed
// on disk. The name gets a suffix when another session for the same device
// claimed the same second.
func (w *Writer) createArtifact(dir string, start time.Time) (*os.File, string, error) {
	if start.IsZero() {
		start = w.now()
	}
	stamp := start.Format(fileStampFormat)
	name := stamp + ".txt"

	for attempt := 2; attempt <= maxNameAttempts; attempt++ {
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !os.IsExist(err) {
			return nil, "", fmt.Errorf("creating session log %s: %w", path, err)
		}
		name = fmt.Sprintf("%s_%d.txt", stamp, attempt)
	}

	return nil, "", fmt.Errorf("creating session log in %s: too many name collisions", dir)
}

// renderArtifact produces the full text of a session log: a banner header,
// one block per command, and a footer with the tally. Timeouts count as
// errors in the footer while keeping their own status in the per-command
// block.
func renderArtifact(rec *bulk.SessionRecord) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s\n", banner)
	sb.WriteString("BulkCommands Session Log\n")
	fmt.Fprintf(&sb, "Switch: %s\n", rec.Target)
	fmt.Fprintf(&sb, "Session Start: %s\n", rec.StartTime.Format(timestampFormat))
	fmt.Fprintf(&sb, "%s\n\n", banner)

	if rec.ConnectError != "" {
		fmt.Fprintf(&sb, "Connection Error: %s\n\n", rec.ConnectError)
	}

	for _, res := range rec.Results {
		fmt.Fprintf(&sb, "[%s] Executing: %s\n", res.StartedAt.Format(clockFormat), res.Command)
		fmt.Fprintf(&sb, "%s\n", divider)
		sb.WriteString(res.Output)
		if res.ErrorText != "" {
			fmt.Fprintf(&sb, "\nERROR: %s", res.ErrorText)
		}
		fmt.Fprintf(&sb, "\n%s\n", divider)
		fmt.Fprintf(&sb, "Execution Time: %.2fs\n", res.Duration.Seconds())
		fmt.Fprintf(&sb, "Status: %s\n\n", res.Status)
	}

	fmt.Fprintf(&sb, "%s\n", banner)
	fmt.Fprintf(&sb, "Session End: %s\n", rec.EndTime.Format(timestampFormat))
	fmt.Fprintf(&sb, "Total Commands: %d | Successful: %d | Errors: %d\n",
		rec.CommandCount(), rec.SuccessCount(), rec.ErrorCount())
	fmt.Fprintf(&sb, "%s\n", banner)

	return sb.String()
}

// sanitizeTarget makes a device identifier safe to use as a directory name.
func sanitizeTarget(target string) string {
	return targetSanitizer.Replace(target)
}
