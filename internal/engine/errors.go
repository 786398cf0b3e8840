package engine

import "errors"

// Domain errors for the engine package. Check with errors.Is.
var (
	// ErrScriptNotFound is returned when a script file does not exist.
	ErrScriptNotFound = errors.New("engine: script not found")

	// ErrInvalidScriptName is returned for empty names and names that
	// would escape the script directory.
	ErrInvalidScriptName = errors.New("engine: invalid script name")

	// ErrNotCompiled is returned by Execute before a successful Compile.
	ErrNotCompiled = errors.New("engine: no compiled script")

	// ErrStopTimeout is returned when a worker does not exit within the stop timeout.
	ErrStopTimeout = errors.New("engine: stop timed out")

	// ErrRunNotFound is returned when a run ID does not exist.
	ErrRunNotFound = errors.New("engine: run not found")

	// ErrInvalidCommand is returned for malformed MQTT engine commands.
	ErrInvalidCommand = errors.New("engine: invalid command")
)
