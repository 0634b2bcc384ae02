package engine

import (
	"encoding/json"
	"testing"
)

func TestFindHistory(t *testing.T) {
	rec := &InstanceRecord{History: []HistoryEntry{
		{ChildInstanceID: "a", Status: HistorySucceeded},
		{ChildInstanceID: "b", Status: HistoryScheduled},
	}}
	entry, ok := rec.FindHistory("b")
	if !ok || entry.ChildInstanceID != "b" {
		t.Fatalf("expected to find entry b")
	}
	if _, ok := rec.FindHistory("missing"); ok {
		t.Fatalf("expected no entry for missing id")
	}
}

func TestNextHistoryAt(t *testing.T) {
	rec := &InstanceRecord{History: []HistoryEntry{
		{ChildInstanceID: "a"},
		{ChildInstanceID: "b"},
	}}
	if e, ok := rec.NextHistoryAt(1); !ok || e.ChildInstanceID != "b" {
		t.Fatalf("expected entry at ordinal 1 to be b")
	}
	if _, ok := rec.NextHistoryAt(2); ok {
		t.Fatalf("expected no entry past end of history")
	}
}

func TestRuntimeStatus(t *testing.T) {
	cases := []struct {
		name string
		rec  *InstanceRecord
		want RuntimeStatus
	}{
		{"pending", &InstanceRecord{}, StatusPending},
		{"running", &InstanceRecord{LeaseOwner: "host-1"}, StatusRunning},
		{"completed", &InstanceRecord{IsCompleted: true}, StatusCompleted},
		{"failed", &InstanceRecord{IsCompleted: true, CompletedError: &OrchestrationError{Kind: KindUser}}, StatusFailed},
		{"terminated", &InstanceRecord{IsCompleted: true, CompletedError: &OrchestrationError{Kind: KindTerminated}}, StatusTerminated},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.rec.RuntimeStatus(); got != c.want {
				t.Fatalf("expected %q, got %q", c.want, got)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	rec := &InstanceRecord{
		History:       []HistoryEntry{{ChildInstanceID: "a"}},
		EventQueues:   map[string][]json.RawMessage{"E": {}},
		AwaitedEvents: []AwaitedEvent{{Name: "E", SlotID: "s1"}},
	}
	clone := rec.Clone()
	clone.History[0].ChildInstanceID = "mutated"
	if rec.History[0].ChildInstanceID == "mutated" {
		t.Fatalf("clone should not alias original history slice")
	}
}
