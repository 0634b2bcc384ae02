// Package lease implements the lease manager (§4.4): a scoped claim on an
// instance that prevents two hosts from replaying it concurrently, layered
// on top of the store's version-CAS rather than replacing it (§9 Open
// Questions: leases are coarse mutual exclusion, version-CAS is the
// canonical durability primitive).
package lease

import (
	"context"
	"sync"
	"time"

	platformlog "github.com/corewind/durable-orchestrator/internal/platform/logger"
	"github.com/corewind/durable-orchestrator/internal/store"
)

// Manager issues and renews leases for one host against a shared store.
type Manager struct {
	store           store.Store
	hostID          string
	leaseDuration   time.Duration
	renewalInterval time.Duration
	log             *platformlog.Logger
}

func NewManager(st store.Store, hostID string, leaseDuration, renewalInterval time.Duration, log *platformlog.Logger) *Manager {
	return &Manager{
		store:           st,
		hostID:          hostID,
		leaseDuration:   leaseDuration,
		renewalInterval: renewalInterval,
		log:             log,
	}
}

// Acquire attempts to claim instanceID (§4.4 TryClaimLease). ok is false
// (with a nil error) when another host holds a live lease — the scheduler
// should simply skip the candidate and move on (§4.3 step 2).
func (m *Manager) Acquire(ctx context.Context, instanceID string) (*Lease, bool, error) {
	res, err := m.store.TryClaimLease(ctx, instanceID, m.hostID, m.leaseDuration)
	if err != nil {
		return nil, false, err
	}
	if !res.Success {
		return nil, false, nil
	}

	leaseCtx, cancel := context.WithCancel(context.Background())
	l := &Lease{
		manager:    m,
		instanceID: instanceID,
		version:    res.NewVersion,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go l.renewLoop(leaseCtx)
	return l, true, nil
}

// Lease is a scoped claim (§4.4 "Release on scope exit"). Callers must
// defer Release on every exit path, including panics and cancellation, so
// a crashed or canceled executor never leaves a lease held past its
// instance's actual work — though even an un-released lease still heals
// itself via TTL expiry (§4.4 Failover).
type Lease struct {
	manager    *Manager
	instanceID string

	mu      sync.Mutex
	version int64

	cancel context.CancelFunc
	done   chan struct{}
}

// renewLoop refreshes the lease at roughly the configured cadence
// (§5 "Renewals must precede lease expiry ... approximately half the
// lease duration" is the caller's responsibility when choosing
// renewalInterval; this loop just executes on that cadence until told to
// stop or until a renewal is rejected).
func (l *Lease) renewLoop(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.manager.renewalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v := l.CurrentVersion()
			ok, err := l.manager.store.RenewLease(ctx, l.instanceID, l.manager.hostID, l.manager.leaseDuration, v)
			if err != nil {
				if l.manager.log != nil {
					l.manager.log.Warn("lease renew failed", "instance_id", l.instanceID, "error", err)
				}
				continue
			}
			if !ok {
				if l.manager.log != nil {
					l.manager.log.Warn("lease lost on renew", "instance_id", l.instanceID, "host_id", l.manager.hostID)
				}
				return
			}
			l.setVersion(v + 1)
		}
	}
}

// UpdateVersion tells the lease about the instance's version after a
// commit outside the lease's own renewal (e.g. a successful ApplyWorkSet),
// so the next renewal's expected-version CAS doesn't spuriously fail.
func (l *Lease) UpdateVersion(v int64) { l.setVersion(v) }

func (l *Lease) CurrentVersion() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// HostID returns the id this lease was claimed under, for callers (the
// scheduler) that need to prove lease ownership on a subsequent
// GetFullState call (§4.5).
func (l *Lease) HostID() string { return l.manager.hostID }

func (l *Lease) setVersion(v int64) {
	l.mu.Lock()
	l.version = v
	l.mu.Unlock()
}

// Release stops renewal and releases the lease (§4.4 ReleaseLease).
func (l *Lease) Release(ctx context.Context) (bool, error) {
	l.cancel()
	<-l.done
	return l.manager.store.ReleaseLease(ctx, l.instanceID, l.manager.hostID, l.CurrentVersion())
}
