package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Payhn/CustomTools/internal/metrics"
)

// DefaultCommandTimeout bounds a single command execution when no explicit
// timeout is configured.
const DefaultCommandTimeout = 30 * time.Second

// ErrInputInvalid is returned when a run is started with an empty device or
// command list.
var ErrInputInvalid = errors.New("input invalid")

// Runner executes an ordered command sequence on an ordered device list.
//
// The runner:
//  1. Acquires a connection per device from the provider (reusing pooled ones)
//  2. Executes every command in order, continuing past failures
//  3. Classifies each command as Success, Error, or Timeout
//  4. Writes one session log artifact per device
//  5. Aggregates everything into a RunSummary
//
// A failing command never stops the remaining commands on its device, and an
// unreachable device never stops the remaining devices.
type Runner struct {
	provider ConnectionProvider
	writer   SessionWriter
	logger   *slog.Logger
	events   Events

	commandTimeout time.Duration
	concurrency    int
	allowEmpty     bool
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

// WithCommandTimeout bounds each command execution. Zero or negative values
// are ignored.
func WithCommandTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.commandTimeout = d
		}
	}
}

// WithEvents registers a progress listener for the run.
func WithEvents(events Events) Option {
	return func(r *Runner) {
		if events != nil {
			r.events = events
		}
	}
}

// WithConcurrency allows up to n devices to run in parallel. Commands on a
// single device always execute sequentially.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithAllowEmptyCommands permits runs with an empty command list. Each device
// then produces a session record with zero results instead of the run failing
// with ErrInputInvalid.
func WithAllowEmptyCommands() Option {
	return func(r *Runner) {
		r.allowEmpty = true
	}
}

// New creates a Runner backed by the given connection provider.
//
// The writer may be nil, in which case no session logs are written.
func New(provider ConnectionProvider, writer SessionWriter, opts ...Option) (*Runner, error) {
	if provider == nil {
		return nil, errors.New("connection provider is required")
	}

	r := &Runner{
		provider:       provider,
		writer:         writer,
		logger:         slog.Default(),
		events:         nopEvents{},
		commandTimeout: DefaultCommandTimeout,
		concurrency:    1,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Run executes commands on every target in order and returns the summary.
//
// Devices appear in the summary in input order, one SessionRecord per device
// that was started. When the context is canceled mid-run, the command in
// flight is recorded as an Error, no further commands or devices are started,
// and the partial summary is returned together with the context error.
func (r *Runner) Run(ctx context.Context, targets, commands []string) (*RunSummary, error) {
	// Step 1: Validate input. allowEmpty only waives the command check; a
	// run with no devices is always a mistake.
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no devices provided", ErrInputInvalid)
	}
	if len(commands) == 0 && !r.allowEmpty {
		return nil, fmt.Errorf("%w: no commands provided", ErrInputInvalid)
	}

	summary := NewRunSummary(len(targets))

	r.logger.Info("starting bulk run",
		slog.String("run_id", summary.RunID),
		slog.Int("devices", len(targets)),
		slog.Int("commands", len(commands)),
		slog.Duration("command_timeout", r.commandTimeout),
	)

	// Step 2: Process every device
	if r.concurrency > 1 {
		r.runParallel(ctx, summary, targets, commands)
	} else {
		r.runSequential(ctx, summary, targets, commands)
	}

	summary.Complete()

	// Record metrics
	r.recordMetrics(summary)

	r.logger.Info("bulk run complete",
		slog.String("run_id", summary.RunID),
		slog.Int("devices", summary.Devices),
		slog.Int("connection_failures", summary.ConnectionFailures),
		slog.Int("commands", summary.TotalCommands),
		slog.Int("successful", summary.Successes),
		slog.Int("errors", summary.Errors),
		slog.Duration("duration", summary.Duration()),
	)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (r *Runner) runSequential(ctx context.Context, summary *RunSummary, targets, commands []string) {
	for i, target := range targets {
		if ctx.Err() != nil {
			return
		}
		rec, logErr := r.runDevice(ctx, i+1, len(targets), target, commands)
		summary.AddRecord(rec)
		if logErr != nil {
			summary.LogErrors = append(summary.LogErrors, logErr)
		}
	}
}

type deviceOutcome struct {
	rec    *SessionRecord
	logErr error
}

func (r *Runner) runParallel(ctx context.Context, summary *RunSummary, targets, commands []string) {
	outcomes := make([]deviceOutcome, len(targets))

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)

	for i, target := range targets {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			rec, logErr := r.runDevice(ctx, i+1, len(targets), target, commands)
			outcomes[i] = deviceOutcome{rec: rec, logErr: logErr}
			return nil
		})
	}

	// Each goroutine records its outcome in place and never returns an error.
	_ = g.Wait()

	// Fold records back in input order.
	for _, out := range outcomes {
		if out.rec == nil {
			continue
		}
		summary.AddRecord(out.rec)
		if out.logErr != nil {
			summary.LogErrors = append(summary.LogErrors, out.logErr)
		}
	}
}

// runDevice executes the full command sequence on one device and returns its
// session record plus any session log write error.
func (r *Runner) runDevice(ctx context.Context, idx, total int, target string, commands []string) (*SessionRecord, error) {
	rec := &SessionRecord{
		Target:    target,
		StartTime: time.Now(),
		Results:   make([]ExecutionResult, 0, len(commands)),
	}

	r.events.DeviceStarted(idx, total, target)

	conn, err := r.provider.Acquire(ctx, target)
	if err != nil {
		rec.ConnectError = err.Error()
		rec.EndTime = time.Now()

		r.logger.Warn("device unreachable",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		r.events.DeviceSkipped(idx, total, target, err)

		return rec, r.writeArtifact(rec)
	}
	defer r.provider.Release(target)

	for ci, command := range commands {
		if ctx.Err() != nil {
			break
		}

		res := r.execute(ctx, conn, command)
		rec.Results = append(rec.Results, res)

		r.logger.Debug("command finished",
			slog.String("target", target),
			slog.String("command", command),
			slog.String("status", string(res.Status)),
			slog.Duration("duration", res.Duration),
		)
		r.events.CommandCompleted(idx, ci+1, len(commands), target, res)
	}

	rec.EndTime = time.Now()

	logErr := r.writeArtifact(rec)
	r.events.DeviceCompleted(idx, total, target, rec)

	return rec, logErr
}

// execute runs one command under the per-command timeout and classifies the
// outcome. Output captured before a failure is preserved on the result.
func (r *Runner) execute(ctx context.Context, conn Conn, command string) ExecutionResult {
	res := ExecutionResult{
		Command:   command,
		StartedAt: time.Now(),
	}

	cmdCtx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	out, err := conn.Run(cmdCtx, command)
	cancel()

	res.Duration = time.Since(res.StartedAt)
	if out != nil {
		res.Output = out.Stdout
		res.ErrorText = out.Stderr
		res.ExitCode = out.ExitCode
	}

	// Only transport failures change the status. Error text a device prints
	// while the transport succeeds is output, not a failure.
	switch {
	case err == nil:
		res.Status = StatusSuccess
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		res.Status = StatusTimeout
		res.ErrorText = appendErrorText(res.ErrorText, "command execution timed out")
	case ctx.Err() != nil:
		res.Status = StatusError
		res.ErrorText = appendErrorText(res.ErrorText, "command canceled")
	default:
		res.Status = StatusError
		res.ErrorText = appendErrorText(res.ErrorText, err.Error())
	}

	return res
}

func (r *Runner) writeArtifact(rec *SessionRecord) error {
	if r.writer == nil {
		return nil
	}

	path, err := r.writer.Write(rec)
	if err != nil {
		r.logger.Error("writing session log",
			slog.String("target", rec.Target),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("writing session log for %s: %w", rec.Target, err)
	}

	rec.ArtifactPath = path
	return nil
}

// recordMetrics updates Prometheus metrics based on the run summary.
func (r *Runner) recordMetrics(summary *RunSummary) {
	status := "success"
	if summary.HasFailures() {
		status = "error"
	}

	metrics.BulkRunsTotal.WithLabelValues(status).Inc()
	metrics.BulkRunDuration.Observe(summary.Duration().Seconds())
	metrics.DevicesProcessed.Set(float64(len(summary.Records)))
	metrics.CommandsExecuted.Set(float64(summary.TotalCommands))

	for _, rec := range summary.Records {
		if rec.ConnectError != "" {
			metrics.ConnectFailuresTotal.WithLabelValues(rec.Target).Inc()
		}
		for _, res := range rec.Results {
			metrics.CommandsTotal.WithLabelValues(strings.ToLower(string(res.Status))).Inc()
			metrics.CommandDuration.Observe(res.Duration.Seconds())
		}
	}

	if len(summary.LogErrors) > 0 {
		metrics.LogWriteFailuresTotal.Add(float64(len(summary.LogErrors)))
	}
}

func appendErrorText(existing, msg string) string {
	if existing == "" {
		return msg
	}
	return existing + "\n" + msg
}
