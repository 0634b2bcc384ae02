package engine

import (
	"encoding/json"
	"time"
)

// WorkSet is the batch of pending state mutations produced by one replay
// pass (§3.3 Execute/Commit, §4.1 step 4-5). It is committed to the store
// in a single CAS update keyed on the instance's expected version.
type WorkSet struct {
	// NewHistory entries this pass appended: pending schedules/timers/
	// waiters (status=scheduled) plus any external events that were
	// consumed synchronously against an already-pending queue payload
	// (status=succeeded).
	NewHistory []HistoryEntry `json:"new_history,omitempty"`

	// NewAwaitedEvents are appended to the instance's awaited_events FIFO
	// this pass (§3.1, I5): one entry per WaitForEvent call that had to
	// register a waiter rather than consume a pending payload.
	NewAwaitedEvents []AwaitedEvent `json:"new_awaited_events,omitempty"`

	// ConsumedEventCounts records, per event name, how many payloads this
	// pass popped synchronously off the instance's event_queues (§4.2.4:
	// a WaitForEvent call that found a payload already pending). The store
	// must drop that many entries off the front of each named queue when
	// committing, or a later WaitForEvent call would see the same payload
	// twice.
	ConsumedEventCounts map[string]int `json:"consumed_event_counts,omitempty"`

	// MinExecuteAfter, if set, advances execute_after no later than this
	// instant (CreateTimer arms a wake no earlier than fire_at).
	MinExecuteAfter *time.Time `json:"min_execute_after,omitempty"`

	// FiredTimers lists the child ids of already-scheduled timer history
	// entries that this pass found due (current replay clock >= fire_at)
	// and resolved synchronously (§4.2.3: "When the timer fires, the entry
	// is marked succeeded"). Unlike a fresh CreateTimer call, a due timer
	// has no new history entry of its own to append — the store must flip
	// the existing entry named here from scheduled to succeeded on commit.
	FiredTimers []string `json:"fired_timers,omitempty"`

	// Completed, Result and Error are set only when the user function
	// returned or threw a non-suspension error this pass (§4.1 step 4).
	// A suspending pass leaves all three zero-valued.
	Completed bool                `json:"completed,omitempty"`
	Result    json.RawMessage     `json:"result,omitempty"`
	Error     *OrchestrationError `json:"error,omitempty"`
}

// IsSuspension reports whether this work set represents a suspension
// (pending actions only, no completion) rather than a terminal pass.
func (w *WorkSet) IsSuspension() bool {
	return w != nil && !w.Completed
}
