// Package engine defines the durable history model shared by the replay
// executor, the state store, and the client API: instance records, history
// entries, deterministic child ids, and the structured error taxonomy.
package engine

import (
	"errors"
	"fmt"
)

// ErrorKind is the error taxonomy of section 7, not a Go type hierarchy:
// every failure mode the engine can produce is tagged with one of these so
// operators and clients can distinguish "your workflow failed" from
// "the engine had a system-level hiccup and retried".
type ErrorKind string

const (
	KindRegistration    ErrorKind = "registration"
	KindDeterminism     ErrorKind = "determinism"
	KindUser            ErrorKind = "user"
	KindVersionConflict ErrorKind = "version_conflict"
	KindLeaseConflict   ErrorKind = "lease_conflict"
	KindEventPayload    ErrorKind = "event_payload"
	KindStorage         ErrorKind = "storage"
	KindTerminated      ErrorKind = "terminated"
	KindInvalidArgument ErrorKind = "invalid_argument"
)

// OrchestrationError is the structured failure persisted in
// InstanceRecord.CompletedError and in a failed HistoryEntry.Error. It
// round-trips through the store as part of the opaque record blob, so it
// must serialize cleanly with encoding/json.
type OrchestrationError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`

	// Present only for KindDeterminism: the two child ids that diverged and
	// the history entry they were compared against, so an operator can tell
	// which call site drifted instead of just "determinism violation".
	ExpectedChildID string `json:"expected_child_id,omitempty"`
	ActualChildID   string `json:"actual_child_id,omitempty"`
	DivergentKind   string `json:"divergent_kind,omitempty"`
	DivergentFunc   string `json:"divergent_function,omitempty"`
}

func (e *OrchestrationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NewUserError(err error) *OrchestrationError {
	return &OrchestrationError{Kind: KindUser, Message: err.Error()}
}

func NewRegistrationError(functionName string) *OrchestrationError {
	return &OrchestrationError{Kind: KindRegistration, Message: "no handler registered for function_name=" + functionName}
}

func NewTerminationError(reason string) *OrchestrationError {
	return &OrchestrationError{Kind: KindTerminated, Message: reason}
}

func NewDeterminismError(expectedChildID, actualChildID string, entry *HistoryEntry) *OrchestrationError {
	e := &OrchestrationError{
		Kind:            KindDeterminism,
		Message:         "deterministic child id diverged from history on replay",
		ExpectedChildID: expectedChildID,
		ActualChildID:   actualChildID,
	}
	if entry != nil {
		e.DivergentKind = string(entry.Kind)
		e.DivergentFunc = entry.FunctionName
	}
	return e
}

func NewEventPayloadError(eventName string, err error) *OrchestrationError {
	return &OrchestrationError{Kind: KindEventPayload, Message: fmt.Sprintf("event %q payload: %v", eventName, err)}
}

// System-level sentinel errors (§7: version conflict, lease conflict,
// storage error). These never reach user orchestrator code; the scheduler
// and lease manager recover from them internally.
var (
	ErrVersionConflict = errors.New("engine: version conflict")
	ErrLeaseConflict   = errors.New("engine: lease conflict")
	ErrNotFound        = errors.New("engine: instance not found")
	ErrAlreadyExists   = errors.New("engine: instance already exists")
	ErrInputTooLarge   = errors.New("engine: input exceeds max_input_size")
)
