package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// OrchestratorFunc is a registered user orchestrator: ordinary sequential
// code that suspends at each context call (§4.2). It returns the opaque
// result to persist on completion.
type OrchestratorFunc func(ctx *OrchestrationContext) (json.RawMessage, error)

// ActivityFunc is a registered user activity: a plain side-effectful
// function that runs to completion in a single pass (it has no history of
// its own to replay against — its instance record exists only so the
// scheduler/store machinery in §3.1 treats it uniformly with
// orchestrators, per I4).
type ActivityFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Registry is the one dispatch point named in §9 "Dynamic dispatch in
// orchestrator code": function_name -> handler, explicit and process-wide,
// populated at startup and read-only thereafter. Generalizes the teacher's
// job_type -> Handler registry to two handler kinds (orchestrator,
// activity) sharing one namespace.
type Registry struct {
	mu            sync.RWMutex
	orchestrators map[string]OrchestratorFunc
	activities    map[string]ActivityFunc
}

func NewRegistry() *Registry {
	return &Registry{
		orchestrators: make(map[string]OrchestratorFunc),
		activities:    make(map[string]ActivityFunc),
	}
}

// RegisterOrchestrator fails fast on a duplicate name: registration happens
// once at startup, never concurrently with dispatch.
func (r *Registry) RegisterOrchestrator(name string, fn OrchestratorFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orchestrators[name]; exists {
		return fmt.Errorf("runtime: orchestrator %q already registered", name)
	}
	if _, exists := r.activities[name]; exists {
		return fmt.Errorf("runtime: %q already registered as an activity", name)
	}
	r.orchestrators[name] = fn
	return nil
}

func (r *Registry) RegisterActivity(name string, fn ActivityFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.activities[name]; exists {
		return fmt.Errorf("runtime: activity %q already registered", name)
	}
	if _, exists := r.orchestrators[name]; exists {
		return fmt.Errorf("runtime: %q already registered as an orchestrator", name)
	}
	r.activities[name] = fn
	return nil
}

func (r *Registry) GetOrchestrator(name string) (OrchestratorFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.orchestrators[name]
	return fn, ok
}

func (r *Registry) GetActivity(name string) (ActivityFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.activities[name]
	return fn, ok
}

// IsOrchestrator reports whether name is registered as an orchestrator
// (used by the executor to decide replay-vs-direct dispatch).
func (r *Registry) IsOrchestrator(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.orchestrators[name]
	return ok
}
