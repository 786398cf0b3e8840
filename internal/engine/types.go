package engine

import (
	"time"

	"github.com/nerrad567/gray-logic-dmx/internal/script"
)

// RunStatus is the lifecycle state of a script run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed" // reached end of program
	StatusStopped   RunStatus = "stopped"   // cancelled by Stop or shutdown
	StatusFailed    RunStatus = "failed"    // fatal statement, transmit or driver error
)

// Trigger types recorded on each run.
const (
	TriggerAPI       = "api"
	TriggerMQTT      = "mqtt"
	TriggerAutostart = "autostart"
	TriggerCLI       = "cli"
)

// Trigger describes what started a run.
type Trigger struct {
	Type   string `json:"type"`
	Source string `json:"source,omitempty"` // e.g. request ID, MQTT topic
}

// Run is one execution of a compiled script.
type Run struct {
	ID            string     `json:"id"`
	Script        string     `json:"script"`
	TriggerType   string     `json:"trigger_type"`
	TriggerSource *string    `json:"trigger_source,omitempty"`
	Status        RunStatus  `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Statements    int64      `json:"statements"`
	Frames        int64      `json:"frames"`
	Retries       int64      `json:"retries"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Status is a snapshot of the engine for the control surface.
type Status struct {
	Running   bool          `json:"running"`
	Script    string        `json:"script,omitempty"`
	RunID     string        `json:"run_id,omitempty"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Driver    string        `json:"driver"`
	Stats     *script.Stats `json:"stats,omitempty"`
	LastRun   *Run          `json:"last_run,omitempty"`
}

// ScriptInfo describes a script file in the script directory.
type ScriptInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}
