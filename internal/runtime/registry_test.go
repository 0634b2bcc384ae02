package runtime

import (
	"context"
	"encoding/json"
	"testing"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterOrchestrator("O1", func(ctx *OrchestrationContext) (json.RawMessage, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("unexpected error registering orchestrator: %v", err)
	}
	if err := r.RegisterActivity("A1", func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return input, nil
	}); err != nil {
		t.Fatalf("unexpected error registering activity: %v", err)
	}

	if _, ok := r.GetOrchestrator("O1"); !ok {
		t.Fatalf("expected to find registered orchestrator O1")
	}
	if _, ok := r.GetActivity("A1"); !ok {
		t.Fatalf("expected to find registered activity A1")
	}
	if !r.IsOrchestrator("O1") {
		t.Fatalf("expected O1 to be reported as an orchestrator")
	}
	if r.IsOrchestrator("A1") {
		t.Fatalf("did not expect A1 to be reported as an orchestrator")
	}
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	noopOrch := func(ctx *OrchestrationContext) (json.RawMessage, error) { return nil, nil }
	noopAct := func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) { return nil, nil }

	if err := r.RegisterOrchestrator("X", noopOrch); err != nil {
		t.Fatalf("unexpected error on first registration: %v", err)
	}
	if err := r.RegisterOrchestrator("X", noopOrch); err == nil {
		t.Fatalf("expected error registering duplicate orchestrator name")
	}
	if err := r.RegisterActivity("X", noopAct); err == nil {
		t.Fatalf("expected error registering activity under a name already taken by an orchestrator")
	}

	if err := r.RegisterActivity("Y", noopAct); err != nil {
		t.Fatalf("unexpected error on first activity registration: %v", err)
	}
	if err := r.RegisterActivity("Y", noopAct); err == nil {
		t.Fatalf("expected error registering duplicate activity name")
	}
	if err := r.RegisterOrchestrator("Y", noopOrch); err == nil {
		t.Fatalf("expected error registering orchestrator under a name already taken by an activity")
	}
}

func TestRegistryMissingLookupsReturnFalse(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.GetOrchestrator("missing"); ok {
		t.Fatalf("expected no orchestrator for unregistered name")
	}
	if _, ok := r.GetActivity("missing"); ok {
		t.Fatalf("expected no activity for unregistered name")
	}
	if r.IsOrchestrator("missing") {
		t.Fatalf("expected IsOrchestrator false for unregistered name")
	}
}
