// Package bulk implements the core logic for executing ordered command
// sequences across fleets of network devices over pooled SSH connections.
package bulk

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the outcome of a single command execution.
type Status string

const (
	// StatusSuccess indicates the command ran to completion and the transport
	// reported no error. Device-level errors printed to the terminal do not
	// change the status; only the transport outcome counts.
	StatusSuccess Status = "Success"
	// StatusError indicates a transport or session failure.
	StatusError Status = "Error"
	// StatusTimeout indicates the per-command wait bound elapsed before the
	// command completed.
	StatusTimeout Status = "Timeout"
)

// ExecutionResult records a single command execution on a device.
// It is immutable once appended to a SessionRecord.
type ExecutionResult struct {
	// Command is the exact command text sent to the device.
	Command string

	// Output is the captured output of the command.
	Output string

	// ErrorText holds stderr output or the transport error message.
	ErrorText string

	// ExitCode is the remote exit status when the transport reported one.
	ExitCode int

	// StartedAt is the wall-clock time the command began.
	StartedAt time.Time

	// Duration is the elapsed execution time.
	Duration time.Duration

	// Status classifies the outcome.
	Status Status
}

// SessionRecord aggregates the command results for one device in one run.
type SessionRecord struct {
	// Target is the device the session ran against.
	Target string

	// StartTime is when the device session began.
	StartTime time.Time

	// EndTime is when the device session finished.
	EndTime time.Time

	// Results holds per-command outcomes in execution order.
	Results []ExecutionResult

	// ConnectError is set when the device could not be reached.
	// Results is empty in that case.
	ConnectError string

	// ArtifactPath is the session log written for this device, if any.
	ArtifactPath string
}

// CommandCount returns the number of commands executed on the device.
func (r *SessionRecord) CommandCount() int {
	return len(r.Results)
}

// SuccessCount returns the number of commands that completed successfully.
func (r *SessionRecord) SuccessCount() int {
	count := 0
	for _, res := range r.Results {
		if res.Status == StatusSuccess {
			count++
		}
	}
	return count
}

// ErrorCount returns the number of commands that did not succeed.
// Timeouts keep their distinct status but tally as errors.
func (r *SessionRecord) ErrorCount() int {
	count := 0
	for _, res := range r.Results {
		if res.Status == StatusError || res.Status == StatusTimeout {
			count++
		}
	}
	return count
}

// RunSummary holds the complete result of a bulk run.
type RunSummary struct {
	// RunID uniquely identifies the run.
	RunID string

	// StartTime is when the run started.
	StartTime time.Time

	// EndTime is when the run completed.
	EndTime time.Time

	// Devices is the number of devices the run targeted.
	Devices int

	// ConnectionFailures is the number of devices that could not be reached.
	ConnectionFailures int

	// TotalCommands is the number of command executions across all devices.
	TotalCommands int

	// Successes is the number of commands that completed successfully.
	Successes int

	// Errors is the number of commands that failed or timed out.
	Errors int

	// Records holds one session record per device, in input order.
	Records []*SessionRecord

	// LogErrors collects session log write failures. A failed log write
	// never aborts the run.
	LogErrors []error
}

// NewRunSummary creates a RunSummary with a fresh run ID and the start time
// set to now.
func NewRunSummary(devices int) *RunSummary {
	return &RunSummary{
		RunID:     uuid.New().String(),
		StartTime: time.Now(),
		Devices:   devices,
		Records:   make([]*SessionRecord, 0, devices),
	}
}

// Complete marks the summary as complete with the end time set to now.
func (s *RunSummary) Complete() {
	s.EndTime = time.Now()
}

// Duration returns the total run duration.
func (s *RunSummary) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// AddRecord folds a device session into the run totals.
func (s *RunSummary) AddRecord(rec *SessionRecord) {
	s.Records = append(s.Records, rec)
	if rec.ConnectError != "" {
		s.ConnectionFailures++
	}
	s.TotalCommands += rec.CommandCount()
	s.Successes += rec.SuccessCount()
	s.Errors += rec.ErrorCount()
}

// HasFailures returns true if any device was unreachable or any command
// did not succeed.
func (s *RunSummary) HasFailures() bool {
	return s.ConnectionFailures > 0 || s.Errors > 0
}

// Summary returns a human-readable summary of the run.
func (s *RunSummary) Summary() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Bulk run complete in %s\n", s.Duration().Round(time.Millisecond))
	fmt.Fprintf(&sb, "  Devices: %d\n", s.Devices)
	fmt.Fprintf(&sb, "  Connection failures: %d\n", s.ConnectionFailures)
	fmt.Fprintf(&sb, "  Commands executed: %d\n", s.TotalCommands)
	fmt.Fprintf(&sb, "  Successful: %d\n", s.Successes)
	fmt.Fprintf(&sb, "  Errors: %d\n", s.Errors)

	if len(s.LogErrors) > 0 {
		fmt.Fprintf(&sb, "  Log write failures: %d\n", len(s.LogErrors))
		for _, err := range s.LogErrors {
			fmt.Fprintf(&sb, "    - %v\n", err)
		}
	}

	return sb.String()
}
