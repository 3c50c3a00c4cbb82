package bulk

// Events receives progress notifications while a run is in flight. The menu
// uses it to print per-command progress lines. Implementations must be safe
// for concurrent use when the runner executes devices in parallel.
//
// Device and command indexes are 1-based.
type Events interface {
	// DeviceStarted fires when a device session begins, before any command.
	DeviceStarted(deviceIndex, deviceCount int, target string)

	// DeviceSkipped fires when a device could not be reached.
	DeviceSkipped(deviceIndex, deviceCount int, target string, err error)

	// CommandCompleted fires after each command with its result.
	CommandCompleted(deviceIndex, commandIndex, commandCount int, target string, result ExecutionResult)

	// DeviceCompleted fires after the last command on a device.
	DeviceCompleted(deviceIndex, deviceCount int, target string, record *SessionRecord)
}

// nopEvents discards all notifications.
type nopEvents struct{}

func (nopEvents) DeviceStarted(int, int, string)                          {}
func (nopEvents) DeviceSkipped(int, int, string, error)                   {}
func (nopEvents) CommandCompleted(int, int, int, string, ExecutionResult) {}
func (nopEvents) DeviceCompleted(int, int, string, *SessionRecord)        {}
