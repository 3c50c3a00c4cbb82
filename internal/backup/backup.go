// Package backup downloads switch configuration files. Each device first
// receives a configuration save command over SSH, then the saved file is
// pulled over SFTP into a timestamped artifact under a per-device directory.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Payhn/CustomTools/internal/metrics"
)

const (
	// DefaultDir is where backups land when no directory is configured.
	DefaultDir = "Backups"

	// DefaultSaveCommand persists the running configuration on the device
	// before the download.
	DefaultSaveCommand = "save configuration"

	// DefaultRemotePath is the configuration file fetched from the device.
	DefaultRemotePath = "/config/primary.cfg"

	// DefaultTimeout bounds the save plus download for a single device.
	DefaultTimeout = 60 * time.Second

	fileStampFormat = "20060102_150405"

	// maxNameAttempts bounds the suffix search when several backups of the
	// same device start within one second.
	maxNameAttempts = 100
)

// ErrNoTargets is returned when a run is started with an empty device list.
var ErrNoTargets = errors.New("no targets provided")

var targetSanitizer = strings.NewReplacer("/", "_", "\\", "_", ":", "_")

// Result records the backup outcome for one device.
type Result struct {
	// Target is the device the backup ran against.
	Target string

	// ArtifactPath is the local file the configuration was written to.
	// Empty when the backup failed.
	ArtifactPath string

	// Size is the downloaded configuration size in bytes.
	Size int64

	// Duration is the elapsed time for the save and download.
	Duration time.Duration

	// Err is the failure, if any. A set Err means no artifact was written.
	Err error
}

// RunSummary holds the complete result of a backup run.
type RunSummary struct {
	// StartTime is when the run started.
	StartTime time.Time

	// EndTime is when the run completed.
	EndTime time.Time

	// Devices is the number of devices the run targeted.
	Devices int

	// Succeeded is the number of devices with a written artifact.
	Succeeded int

	// Failed is the number of devices whose backup failed.
	Failed int

	// Results holds one entry per device that was started, in input order.
	Results []Result
}

// add folds a device result into the run totals.
func (s *RunSummary) add(res Result) {
	s.Results = append(s.Results, res)
	if res.Err != nil {
		s.Failed++
		return
	}
	s.Succeeded++
}

// Duration returns the total run duration.
func (s *RunSummary) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// HasFailures returns true if any device backup failed.
func (s *RunSummary) HasFailures() bool {
	return s.Failed > 0
}

// Summary returns a human-readable summary of the run.
func (s *RunSummary) Summary() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Backup run complete in %s\n", s.Duration().Round(time.Millisecond))
	fmt.Fprintf(&sb, "  Devices: %d\n", s.Devices)
	fmt.Fprintf(&sb, "  Succeeded: %d\n", s.Succeeded)
	fmt.Fprintf(&sb, "  Failed: %d\n", s.Failed)

	for _, res := range s.Results {
		if res.Err != nil {
			fmt.Fprintf(&sb, "    - %s: %v\n", res.Target, res.Err)
		}
	}

	return sb.String()
}

// Runner backs up device configurations one device at a time, continuing
// past failures so one unreachable switch never blocks the rest of the run.
type Runner struct {
	source      Source
	dir         string
	saveCommand string
	remotePath  string
	timeout     time.Duration
	logger      *slog.Logger
	progress    func(index, total int, res Result)

	// now stamps artifact filenames; swapped out in tests.
	now func() time.Time
}

// Option is a functional option for configuring the Runner.
type Option func(*Runner)

// WithLogger sets a custom logger for the runner.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSaveCommand overrides the on-device configuration save command.
func WithSaveCommand(command string) Option {
	return func(r *Runner) {
		if command != "" {
			r.saveCommand = command
		}
	}
}

// WithRemotePath overrides the configuration file downloaded from devices.
func WithRemotePath(remotePath string) Option {
	return func(r *Runner) {
		if remotePath != "" {
			r.remotePath = remotePath
		}
	}
}

// WithTimeout bounds the save plus download per device. Zero or negative
// values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithProgress registers a callback invoked after each device completes.
func WithProgress(fn func(index, total int, res Result)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.progress = fn
		}
	}
}

// New creates a Runner that stores artifacts under dir. An empty dir falls
// back to DefaultDir.
func New(source Source, dir string, opts ...Option) (*Runner, error) {
	if source == nil {
		return nil, errors.New("backup source is required")
	}

	r := &Runner{
		source:      source,
		dir:         dir,
		saveCommand: DefaultSaveCommand,
		remotePath:  DefaultRemotePath,
		timeout:     DefaultTimeout,
		logger:      slog.Default(),
		now:         time.Now,
	}
	if r.dir == "" {
		r.dir = DefaultDir
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Run backs up every target in order and returns the summary.
//
// Devices appear in the summary in input order. When the context is canceled
// mid-run, no further devices are started and the partial summary is returned
// together with the context error.
func (r *Runner) Run(ctx context.Context, targets []string) (*RunSummary, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	summary := &RunSummary{
		StartTime: time.Now(),
		Devices:   len(targets),
		Results:   make([]Result, 0, len(targets)),
	}

	r.logger.Info("starting backup run",
		slog.Int("devices", len(targets)),
		slog.String("remote_path", r.remotePath),
		slog.Duration("device_timeout", r.timeout),
	)

	for i, target := range targets {
		if ctx.Err() != nil {
			break
		}

		res := r.backupDevice(ctx, target)
		summary.add(res)
		r.recordMetrics(res)

		if r.progress != nil {
			r.progress(i+1, len(targets), res)
		}
	}

	summary.EndTime = time.Now()

	r.logger.Info("backup run complete",
		slog.Int("devices", summary.Devices),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", summary.Duration()),
	)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// backupDevice performs the save, download, and local write for one device.
func (r *Runner) backupDevice(ctx context.Context, target string) Result {
	start := time.Now()

	res := Result{Target: target}
	res.ArtifactPath, res.Size, res.Err = r.attempt(ctx, target)
	res.Duration = time.Since(start)

	if res.Err != nil {
		r.logger.Warn("backup failed",
			slog.String("target", target),
			slog.String("error", res.Err.Error()),
		)
		return res
	}

	r.logger.Info("backup written",
		slog.String("target", target),
		slog.String("path", res.ArtifactPath),
		slog.Int64("bytes", res.Size),
	)
	return res
}

func (r *Runner) attempt(ctx context.Context, target string) (string, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.source.Run(ctx, target, r.saveCommand); err != nil {
		return "", 0, fmt.Errorf("saving configuration: %w", err)
	}

	data, err := r.source.Fetch(ctx, target, r.remotePath)
	if err != nil {
		return "", 0, fmt.Errorf("downloading %s: %w", r.remotePath, err)
	}

	artifact, err := r.writeArtifact(target, data)
	if err != nil {
		return "", 0, err
	}
	return artifact, int64(len(data)), nil
}

// writeArtifact stores the downloaded configuration as a fresh timestamped
// file, suffixing the name when a backup of the same device already claimed
// the current second. The file is synced to disk before the path is returned.
func (r *Runner) writeArtifact(target string, data []byte) (string, error) {
	dir := filepath.Join(r.dir, sanitizeTarget(target))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup directory %s: %w", dir, err)
	}

	stamp := r.now().Format(fileStampFormat)
	base := path.Base(r.remotePath)
	name := stamp + "_" + base

	for attempt := 2; attempt <= maxNameAttempts; attempt++ {
		artifact := filepath.Join(dir, name)
		f, err := os.OpenFile(artifact, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			if err := writeAndSync(f, artifact, data); err != nil {
				return "", err
			}
			return artifact, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("creating backup file %s: %w", artifact, err)
		}
		name = fmt.Sprintf("%s_%d_%s", stamp, attempt, base)
	}

	return "", fmt.Errorf("creating backup file in %s: too many name collisions", dir)
}

func writeAndSync(f *os.File, artifact string, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing backup file %s: %w", artifact, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing backup file %s: %w", artifact, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing backup file %s: %w", artifact, err)
	}
	return nil
}

func (r *Runner) recordMetrics(res Result) {
	if res.Err != nil {
		metrics.BackupsTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.BackupsTotal.WithLabelValues("success").Inc()
	metrics.BackupDuration.Observe(res.Duration.Seconds())
}

// sanitizeTarget makes a device identifier safe to use as a directory name.
func sanitizeTarget(target string) string {
	return targetSanitizer.Replace(target)
}
