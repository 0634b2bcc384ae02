package client

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/corewind/durable-orchestrator/internal/engine"
	"github.com/corewind/durable-orchestrator/internal/store/memstore"
)

func TestStartNewGeneratesIDWhenEmpty(t *testing.T) {
	c := New(memstore.New(), 0)
	id, err := c.StartNew(context.Background(), "F", json.RawMessage(`{"x":1}`), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a generated instance id")
	}
}

func TestStartNewHonorsExplicitID(t *testing.T) {
	c := New(memstore.New(), 0)
	id, err := c.StartNew(context.Background(), "F", nil, "custom-id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "custom-id" {
		t.Fatalf("expected explicit instance id to be honored, got %q", id)
	}
}

func TestStartNewEnforcesMaxInputSize(t *testing.T) {
	c := New(memstore.New(), 4)
	_, err := c.StartNew(context.Background(), "F", json.RawMessage(`{"too":"big"}`), "")
	if err == nil {
		t.Fatalf("expected an error for an oversized payload")
	}
	oe, ok := err.(*engine.OrchestrationError)
	if !ok {
		t.Fatalf("expected an *engine.OrchestrationError, got %T", err)
	}
	if oe.Kind != engine.KindInvalidArgument {
		t.Fatalf("expected KindInvalidArgument, got %q", oe.Kind)
	}
}

func TestGetStatusReturnsNilForMissingInstance(t *testing.T) {
	c := New(memstore.New(), 0)
	res, err := c.GetStatus(context.Background(), "missing", false, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil result for missing instance")
	}
}

func TestGetStatusProjectionFlags(t *testing.T) {
	st := memstore.New()
	c := New(st, 0)
	id, err := c.StartNew(context.Background(), "F", json.RawMessage(`"input"`), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := c.GetStatus(context.Background(), id, false, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Input != nil || res.Output != nil || res.History != nil {
		t.Fatalf("expected no projected fields when all flags are false")
	}

	res, err = c.GetStatus(context.Background(), id, true, true, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Input) != `"input"` {
		t.Fatalf("expected input to be projected when show_input is true")
	}
}

func TestRaiseEventEnforcesMaxInputSize(t *testing.T) {
	c := New(memstore.New(), 2)
	err := c.RaiseEvent(context.Background(), "i1", "E", json.RawMessage(`"too big"`))
	if err == nil {
		t.Fatalf("expected an error for an oversized event payload")
	}
}

func TestTerminateMarksInstanceTerminated(t *testing.T) {
	st := memstore.New()
	c := New(st, 0)
	id, err := c.StartNew(context.Background(), "F", nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Terminate(context.Background(), id, "operator requested"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := c.GetStatus(context.Background(), id, false, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RuntimeStatus != engine.StatusTerminated {
		t.Fatalf("expected StatusTerminated, got %q", res.RuntimeStatus)
	}
}

func TestPurgeInstanceHistoryCascade(t *testing.T) {
	st := memstore.New()
	c := New(st, 0)

	childID := "child-1"
	if err := st.SaveState(context.Background(), &engine.InstanceRecord{InstanceID: childID, FunctionName: "F"}, nil); err != nil {
		t.Fatalf("seed child: %v", err)
	}
	parentID, err := c.StartNew(context.Background(), "Parent", nil, "parent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, err := st.GetState(context.Background(), parentID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.History = []engine.HistoryEntry{{ChildInstanceID: childID, Kind: engine.HistoryKindSubOrchestrator, Status: engine.HistorySucceeded}}
	v := rec.Version
	if err := st.SaveState(context.Background(), rec, &v); err != nil {
		t.Fatalf("unexpected error saving updated parent: %v", err)
	}

	n, err := c.PurgeInstanceHistory(context.Background(), parentID, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected cascade purge count 2, got %d", n)
	}
	if res, _ := c.GetStatus(context.Background(), childID, false, false, false); res != nil {
		t.Fatalf("expected the child to be purged")
	}
}
