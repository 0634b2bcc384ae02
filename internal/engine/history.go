package engine

import (
	"encoding/json"
	"time"
)

// HistoryKind is the kind of a suspending call an orchestrator made (§3.2).
type HistoryKind string

const (
	HistoryKindActivity        HistoryKind = "activity"
	HistoryKindSubOrchestrator HistoryKind = "sub_orchestrator"
	HistoryKindTimer           HistoryKind = "timer"
	HistoryKindExternalEvent   HistoryKind = "external_event"
)

// HistoryStatus is a history entry's lifecycle state (I2: scheduled ->
// {succeeded, failed}, never back).
type HistoryStatus string

const (
	HistoryScheduled HistoryStatus = "scheduled"
	HistorySucceeded HistoryStatus = "succeeded"
	HistoryFailed    HistoryStatus = "failed"
)

// HistoryEntry is one durable row in an instance's history: a single
// suspending call and its outcome (§3.2).
type HistoryEntry struct {
	ChildInstanceID string      `json:"child_instance_id"`
	Kind            HistoryKind `json:"kind"`

	FunctionName string          `json:"function_name,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`

	FireAt *time.Time `json:"fire_at,omitempty"`

	EventName string `json:"event_name,omitempty"`

	Status HistoryStatus `json:"status"`

	Result json.RawMessage     `json:"result,omitempty"`
	Error  *OrchestrationError `json:"error,omitempty"`

	InitiatedAt time.Time  `json:"initiated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AwaitedEvent is one slot in the FIFO order replay will consume events
// in (§3.1 awaited_events, §4.2.4).
type AwaitedEvent struct {
	Name   string `json:"name"`
	SlotID string `json:"slot_id"`
}

// RuntimeStatus is the client-facing status enum (§6.2), derived from an
// instance record rather than stored directly.
type RuntimeStatus string

const (
	StatusPending    RuntimeStatus = "Pending"
	StatusRunning    RuntimeStatus = "Running"
	StatusCompleted  RuntimeStatus = "Completed"
	StatusFailed     RuntimeStatus = "Failed"
	StatusTerminated RuntimeStatus = "Terminated"
)

// InstanceRecord is one orchestration or activity invocation (§3.1).
type InstanceRecord struct {
	InstanceID       string `json:"instance_id"`
	FunctionName     string `json:"function_name"`
	Input            json.RawMessage `json:"input"`
	ParentInstanceID string `json:"parent_instance_id,omitempty"`

	ExecuteAfter time.Time `json:"execute_after"`

	// History preserves insertion order; child ids are unique per parent.
	// There is no separate index: FindHistory looks an entry up by scanning
	// this slice.
	History []HistoryEntry `json:"history"`

	EventQueues   map[string][]json.RawMessage `json:"event_queues,omitempty"`
	AwaitedEvents []AwaitedEvent               `json:"awaited_events,omitempty"`

	IsCompleted     bool                `json:"is_completed"`
	CompletedResult json.RawMessage     `json:"completed_result,omitempty"`
	CompletedError  *OrchestrationError `json:"completed_error,omitempty"`

	Version int64 `json:"version"`

	LeaseOwner     string     `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FindHistory returns the history entry for a child id, if any (I4/I2).
func (r *InstanceRecord) FindHistory(childInstanceID string) (*HistoryEntry, bool) {
	if r == nil {
		return nil, false
	}
	for i := range r.History {
		if r.History[i].ChildInstanceID == childInstanceID {
			return &r.History[i], true
		}
	}
	return nil, false
}

// NextHistoryAt returns the history entry at a given ordinal position, used
// by the replay executor to detect determinism violations (§7, §11 P11):
// the nth context call this pass must match the nth history entry by id.
func (r *InstanceRecord) NextHistoryAt(ordinal int) (*HistoryEntry, bool) {
	if r == nil || ordinal < 0 || ordinal >= len(r.History) {
		return nil, false
	}
	return &r.History[ordinal], true
}

// HasLease reports whether the record currently carries a non-expired lease
// as of "now" (I3: lease_owner/lease_expires_at are both set or both null).
func (r *InstanceRecord) HasLease(now time.Time) bool {
	if r == nil || r.LeaseOwner == "" || r.LeaseExpiresAt == nil {
		return false
	}
	return r.LeaseExpiresAt.After(now)
}

// RuntimeStatus derives the client-facing status (§6.2) from the record.
func (r *InstanceRecord) RuntimeStatus() RuntimeStatus {
	if r == nil {
		return StatusPending
	}
	if r.IsCompleted {
		if r.CompletedError != nil {
			if r.CompletedError.Kind == KindTerminated {
				return StatusTerminated
			}
			return StatusFailed
		}
		return StatusCompleted
	}
	if r.LeaseOwner != "" {
		return StatusRunning
	}
	return StatusPending
}

// NewChildInstanceRecord builds the instance record a spawned activity or
// sub-orchestrator call must materialize (§3.1 I4: "For every history entry
// with child kind = orchestrator/activity, a separate instance record
// exists with that child's id and with parent_instance_id = this instance
// id"; §2 data flow: "on a suspension the executor writes a child
// instance"). The caller is responsible for creating it via the store only
// once per entry, e.g. right after committing the parent's work set.
func NewChildInstanceRecord(parentInstanceID string, entry HistoryEntry, now time.Time) *InstanceRecord {
	return &InstanceRecord{
		InstanceID:       entry.ChildInstanceID,
		FunctionName:     entry.FunctionName,
		Input:            entry.Input,
		ParentInstanceID: parentInstanceID,
		ExecuteAfter:     now,
		EventQueues:      map[string][]json.RawMessage{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Clone returns a deep-enough copy for safe mutation by a work set without
// aliasing the caller's slices/maps (used by in-memory store implementations
// that otherwise would hand out live references to committed state).
func (r *InstanceRecord) Clone() *InstanceRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.History = append([]HistoryEntry(nil), r.History...)
	if r.EventQueues != nil {
		out.EventQueues = make(map[string][]json.RawMessage, len(r.EventQueues))
		for k, v := range r.EventQueues {
			out.EventQueues[k] = append([]json.RawMessage(nil), v...)
		}
	}
	out.AwaitedEvents = append([]AwaitedEvent(nil), r.AwaitedEvents...)
	if r.LeaseExpiresAt != nil {
		t := *r.LeaseExpiresAt
		out.LeaseExpiresAt = &t
	}
	if r.CompletedError != nil {
		ce := *r.CompletedError
		out.CompletedError = &ce
	}
	return out
}
