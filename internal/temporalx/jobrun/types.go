// Package jobrun adapts this engine's replay executor to run behind a
// Temporal workflow/activity pair, so an operator can choose Temporal as
// the tick-driving backend instead of (or alongside) the polling
// scheduler (§6.3 storage_backend is independent of this; this is a
// distinct "who calls the executor" choice the corpus's Temporal
// integration already models end to end).
package jobrun

import "time"

const (
	WorkflowName = "instance_tick"
	ActivityTick = "instance_tick"
	SignalResume = "instance_resume"
)

// TickResult is one executor pass's outcome, reported back to the
// workflow so it can decide whether to sleep, continue, or return.
type TickResult struct {
	InstanceID string     `json:"instance_id"`
	Status     string     `json:"status"` // engine.RuntimeStatus string value
	WaitUntil  *time.Time `json:"wait_until,omitempty"`
}
