package menu

import (
	"fmt"
	"io"
	"sync"

	"github.com/Payhn/CustomTools/internal/bulk"
)

// ConsoleEvents prints bulk run progress lines as devices and commands
// finish. A mutex keeps lines whole when the runner executes devices in
// parallel.
type ConsoleEvents struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleEvents creates a ConsoleEvents writing to w.
func NewConsoleEvents(w io.Writer) *ConsoleEvents {
	return &ConsoleEvents{w: w}
}

// DeviceStarted implements bulk.Events.
func (e *ConsoleEvents) DeviceStarted(deviceIndex, deviceCount int, target string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.w, "\n[%d/%d] Processing: %s\n", deviceIndex, deviceCount, target)
}

// DeviceSkipped implements bulk.Events.
func (e *ConsoleEvents) DeviceSkipped(_, _ int, _ string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.w, "  Connection failed: %v\n", err)
}

// CommandCompleted implements bulk.Events.
func (e *ConsoleEvents) CommandCompleted(_, commandIndex, commandCount int, _ string, result bulk.ExecutionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.w, "  [%d/%d] %s... %s\n", commandIndex, commandCount, result.Command, result.Status)
}

// DeviceCompleted implements bulk.Events.
func (e *ConsoleEvents) DeviceCompleted(_, _ int, _ string, record *bulk.SessionRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if record.ArtifactPath != "" {
		fmt.Fprintf(e.w, "  Logged to: %s\n", record.ArtifactPath)
	}
}
