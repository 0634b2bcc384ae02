// Package scheduler implements the polling loop (§4.3): the process that
// turns ready candidates into executor passes. It is infrastructure only —
// all orchestration semantics live in internal/engine, internal/runtime,
// and internal/executor; the scheduler just wires store, lease, and
// executor together on a ticker, bounding concurrency and draining
// in-flight work on shutdown.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/corewind/durable-orchestrator/internal/engine"
	"github.com/corewind/durable-orchestrator/internal/executor"
	"github.com/corewind/durable-orchestrator/internal/lease"
	platformlog "github.com/corewind/durable-orchestrator/internal/platform/logger"
	"github.com/corewind/durable-orchestrator/internal/store"
	"github.com/corewind/durable-orchestrator/internal/telemetry"
)

// Scheduler is the §4.3 polling loop for one host.
type Scheduler struct {
	store    store.Store
	leases   *lease.Manager
	executor *executor.Executor
	log      *platformlog.Logger
	metrics  *telemetry.Metrics

	pollingInterval time.Duration
	sem             *semaphore.Weighted
	batchSize       int64

	wg sync.WaitGroup
}

// New builds a Scheduler. maxConcurrent bounds the number of instances this
// host will execute at once (§6.3 max_concurrent_instances); pollingInterval
// is §6.3 polling_interval.
func New(st store.Store, leases *lease.Manager, exec *executor.Executor, log *platformlog.Logger, pollingInterval time.Duration, maxConcurrent int) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scheduler{
		store:           st,
		leases:          leases,
		executor:        exec,
		log:             log,
		metrics:         telemetry.Current(),
		pollingInterval: pollingInterval,
		sem:             semaphore.NewWeighted(int64(maxConcurrent)),
		batchSize:       int64(maxConcurrent),
	}
}

// Run blocks, polling on pollingInterval until ctx is canceled. On
// cancellation it waits for in-flight passes to finish before returning
// (§4.4 "Release on scope exit" — every acquired lease must see Release).
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Drain: wait for every in-flight runOne goroutine to release
			// its lease before returning (§4.4 "Release on scope exit").
			s.wg.Wait()
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one poll cycle (§4.3 steps 1-2): fetch candidates, spin up a
// bounded goroutine per candidate that can acquire a semaphore slot without
// blocking the poll loop itself.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	candidates, err := s.store.GetReadyCandidates(ctx, now, int(s.batchSize))
	if err != nil {
		s.log.Warn("poll failed", "error", err)
		return
	}
	for _, c := range candidates {
		if !s.sem.TryAcquire(1) {
			// At capacity; leave the candidate for the next tick.
			continue
		}
		s.wg.Add(1)
		go func(cand store.Candidate) {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.runOne(ctx, cand)
		}(c)
	}
}

// runOne implements §4.3 steps 2-5 for a single candidate: acquire lease,
// load full state, execute, commit, wake parent on completion, release
// lease.
func (s *Scheduler) runOne(ctx context.Context, cand store.Candidate) {
	l, ok, err := s.leases.Acquire(ctx, cand.InstanceID)
	if err != nil {
		s.log.Warn("lease acquire failed", "instance_id", cand.InstanceID, "error", err)
		return
	}
	if !ok {
		return
	}
	s.metrics.LeaseAcquired(ctx)
	defer func() {
		s.metrics.LeaseReleased(ctx)
		if _, err := l.Release(ctx); err != nil {
			s.log.Warn("lease release failed", "instance_id", cand.InstanceID, "error", err)
		}
	}()

	loadCtx, loadSpan := telemetry.StateLoadSpan(ctx, cand.InstanceID)
	loadStart := time.Now()
	record, err := s.store.GetFullState(loadCtx, cand.InstanceID, l.HostID())
	s.metrics.StateLoaded(ctx, time.Since(loadStart))
	telemetry.EndWithError(loadSpan, err)
	loadSpan.End()
	if err != nil {
		if !errors.Is(err, engine.ErrNotFound) {
			s.log.Warn("load failed", "instance_id", cand.InstanceID, "error", err)
		}
		return
	}

	now := time.Now().UTC()
	execStart := time.Now()
	work, err := s.executor.Run(ctx, record, now)
	if err != nil {
		s.log.Error("executor run failed", "instance_id", cand.InstanceID, "error", err)
		return
	}
	s.metrics.FunctionCall(ctx, record.FunctionName, "pass", err == nil, time.Since(execStart))

	saveCtx, saveSpan := telemetry.StateSaveSpan(ctx, cand.InstanceID)
	saveStart := time.Now()
	ok, err = s.store.ApplyWorkSet(saveCtx, cand.InstanceID, record.Version, work)
	s.metrics.StateSaved(ctx, time.Since(saveStart))
	telemetry.EndWithError(saveSpan, err)
	saveSpan.End()
	if err != nil {
		s.log.Warn("apply work set failed", "instance_id", cand.InstanceID, "error", err)
		return
	}
	if !ok {
		// Version conflict: another host (or a prior lease we lost) already
		// advanced this instance. Leave it for the next poll cycle.
		s.log.Warn("work set CAS rejected (stale version)", "instance_id", cand.InstanceID)
		return
	}
	l.UpdateVersion(record.Version + 1)
	s.spawnChildren(ctx, cand.InstanceID, work, now)

	if work.Completed {
		s.metrics.OrchestrationCompleted(ctx, record.FunctionName, work.Error == nil, time.Since(record.CreatedAt))
		if record.ParentInstanceID != "" {
			s.wakeParent(ctx, record, work)
		}
	}
}

// spawnChildren materializes the child instance row for every freshly
// scheduled activity/sub-orchestrator history entry in work (§2 data flow:
// "on a suspension the executor writes a child instance"; §3.1 I4: every
// such history entry has a matching instance record with parent_instance_id
// set to the caller). Without this, a history entry recorded as scheduled
// never becomes a row GetReadyCandidates can find, and the call suspends
// forever. A create-only SaveState is idempotent against a duplicate spawn
// attempt (engine.ErrAlreadyExists), which is all this needs: a given
// history entry only ever appears in work.NewHistory once, the first pass
// that suspends on it.
func (s *Scheduler) spawnChildren(ctx context.Context, parentInstanceID string, work *engine.WorkSet, now time.Time) {
	for _, h := range work.NewHistory {
		if h.Kind != engine.HistoryKindActivity && h.Kind != engine.HistoryKindSubOrchestrator {
			continue
		}
		child := engine.NewChildInstanceRecord(parentInstanceID, h, now)
		if err := s.store.SaveState(ctx, child, nil); err != nil && !errors.Is(err, engine.ErrAlreadyExists) {
			s.log.Error("spawn child failed", "parent_instance_id", parentInstanceID, "child_instance_id", h.ChildInstanceID, "function_name", h.FunctionName, "error", err)
		}
	}
}

// wakeParent implements §4.3 step 5 / §3.3 "Child completion": once a
// child instance completes, its parent's matching history entry must
// transition so the parent is re-examined on its next poll. Retries a
// bounded number of times on transient failure; a failure here is not
// fatal to the child's own completion, which is already durable.
func (s *Scheduler) wakeParent(ctx context.Context, child *engine.InstanceRecord, work *engine.WorkSet) {
	status := engine.HistorySucceeded
	if work.Error != nil {
		status = engine.HistoryFailed
	}
	const maxAttempts = 5
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		woke, err := s.store.WakeParent(ctx, child.ParentInstanceID, child.InstanceID, status, work.Result, work.Error)
		if err == nil {
			if woke {
				s.log.Info("parent woken", "parent_instance_id", child.ParentInstanceID, "child_instance_id", child.InstanceID)
			}
			return
		}
		lastErr = err
		time.Sleep(50 * time.Millisecond * time.Duration(attempt+1))
	}
	s.log.Error("wake parent failed after retries", "parent_instance_id", child.ParentInstanceID, "child_instance_id", child.InstanceID, "error", lastErr)
}
