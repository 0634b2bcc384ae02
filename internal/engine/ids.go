package engine

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// rootNamespace seeds the per-parent namespace derivation below. It has no
// meaning beyond being a fixed, arbitrary UUID every host agrees on, the
// same role uuid.NameSpaceURL/NameSpaceOID play for uuid.NewSHA1 callers
// that hash names instead of URLs.
var rootNamespace = uuid.MustParse("6f8f0a5e-6e3e-4a7a-9c1e-0f6a5e8f0a5e")

// parentNamespace derives a stable per-parent UUID so that child ids of
// different parents never collide even if they happen to share a
// function name and input (§3.4).
func parentNamespace(parentInstanceID string) uuid.UUID {
	return uuid.NewSHA1(rootNamespace, []byte(parentInstanceID))
}

// ChildInstanceID derives the deterministic id of a child call (§3.4):
// hashed from (parent_instance_id, function_name_or_event_name,
// serialized_input_or_sequence_tag). Re-running the orchestrator against
// the same history must produce the same id in the same position so
// replay can match history entries to call sites.
func ChildInstanceID(parentInstanceID, name string, payload []byte) string {
	ns := parentNamespace(parentInstanceID)
	data := make([]byte, 0, len(name)+1+len(payload))
	data = append(data, []byte(name)...)
	data = append(data, 0)
	data = append(data, payload...)
	return uuid.NewSHA1(ns, data).String()
}

// OrdinalChildInstanceID derives the deterministic id for a call with no
// payload to hash (timers, event waits): an incrementing per-parent
// ordinal is mixed into the hash input instead (§3.4).
func OrdinalChildInstanceID(parentInstanceID, name string, ordinal int) string {
	var ordBytes [8]byte
	binary.BigEndian.PutUint64(ordBytes[:], uint64(ordinal))
	return ChildInstanceID(parentInstanceID, name, ordBytes[:])
}

// NewRootInstanceID generates a fresh root instance id for StartNew calls
// that don't supply one explicitly.
func NewRootInstanceID() string {
	return uuid.NewString()
}
