// Package gormstore implements store.Store over gorm.io/gorm, selecting a
// dialector (postgres, sqlite, or mysql) by the storage_backend
// configuration option (§6.3) — one code path exercising all three real
// backends the way gorm.io/driver/* is meant to be used.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/corewind/durable-orchestrator/internal/engine"
	"github.com/corewind/durable-orchestrator/internal/store"
)

// Backend selects the gorm dialector (§6.3 storage_backend).
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
	BackendMySQL    Backend = "mysql"
)

type GormStore struct {
	db *gorm.DB
}

// Open dials the selected backend and migrates the instance table.
func Open(backend Backend, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch backend {
	case BackendPostgres:
		dialector = postgres.Open(dsn)
	case BackendSQLite:
		dialector = sqlite.Open(dsn)
	case BackendMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("gormstore: unknown storage_backend %q", backend)
	}
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&instanceModel{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func New(db *gorm.DB) *GormStore { return &GormStore{db: db} }

func (s *GormStore) SaveState(ctx context.Context, record *engine.InstanceRecord, expectedVersion *int64) error {
	m, err := fromRecord(record)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	if expectedVersion == nil {
		m.Version = 0
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.UpdatedAt = now
		if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return engine.ErrAlreadyExists
			}
			return err
		}
		return nil
	}

	m.Version = *expectedVersion + 1
	m.UpdatedAt = now
	res := s.db.WithContext(ctx).
		Model(&instanceModel{}).
		Where("instance_id = ? AND version = ?", record.InstanceID, *expectedVersion).
		Updates(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return engine.ErrVersionConflict
	}
	return nil
}

func (s *GormStore) GetState(ctx context.Context, instanceID string) (*engine.InstanceRecord, error) {
	var m instanceModel
	err := s.db.WithContext(ctx).Where("instance_id = ?", instanceID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toRecord(&m)
}

func (s *GormStore) GetReadyCandidates(ctx context.Context, now time.Time, max int) ([]store.Candidate, error) {
	var rows []instanceModel
	q := s.db.WithContext(ctx).
		Select("instance_id", "function_name", "execute_after", "version", "lease_owner", "lease_expires_at").
		Where("is_completed = ?", false).
		Where("execute_after <= ?", now).
		Where("lease_owner = ? OR lease_expires_at <= ?", "", now).
		Order("execute_after ASC")
	if max > 0 {
		q = q.Limit(max)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.Candidate, 0, len(rows))
	for _, m := range rows {
		out = append(out, store.Candidate{
			InstanceID:     m.InstanceID,
			FunctionName:   m.FunctionName,
			ExecuteAfter:   m.ExecuteAfter,
			Version:        m.Version,
			LeaseOwner:     m.LeaseOwner,
			LeaseExpiresAt: m.LeaseExpiresAt,
		})
	}
	return out, nil
}

// TryClaimLease is a single-row CAS under FOR UPDATE (§4.4): the lock
// scopes the claimability check and the write into one atomic step the
// same way the teacher's ClaimNextRunnable locks a candidate row before
// updating it, generalized here to a plain lease claim rather than a
// combined claim+load.
func (s *GormStore) TryClaimLease(ctx context.Context, instanceID, hostID string, duration time.Duration) (*store.LeaseResult, error) {
	var result store.LeaseResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m instanceModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("instance_id = ?", instanceID).
			First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.ErrNotFound
		}
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		claimable := m.LeaseOwner == "" || (m.LeaseExpiresAt != nil && !m.LeaseExpiresAt.After(now))
		if !claimable {
			result = store.LeaseResult{Success: false, Reason: "lease held", NewVersion: m.Version}
			return nil
		}
		exp := now.Add(duration)
		res := tx.Model(&instanceModel{}).
			Where("instance_id = ? AND version = ?", instanceID, m.Version).
			Updates(map[string]interface{}{
				"lease_owner":      hostID,
				"lease_expires_at": exp,
				"version":          m.Version + 1,
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			result = store.LeaseResult{Success: false, Reason: "version conflict", NewVersion: m.Version}
			return nil
		}
		result = store.LeaseResult{Success: true, NewVersion: m.Version + 1}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *GormStore) RenewLease(ctx context.Context, instanceID, hostID string, duration time.Duration, expectedVersion int64) (bool, error) {
	now := time.Now().UTC()
	exp := now.Add(duration)
	res := s.db.WithContext(ctx).
		Model(&instanceModel{}).
		Where("instance_id = ? AND lease_owner = ? AND version = ?", instanceID, hostID, expectedVersion).
		Updates(map[string]interface{}{
			"lease_expires_at": exp,
			"version":          expectedVersion + 1,
			"updated_at":       now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) ReleaseLease(ctx context.Context, instanceID, hostID string, expectedVersion int64) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&instanceModel{}).
		Where("instance_id = ? AND lease_owner = ? AND version = ?", instanceID, hostID, expectedVersion).
		Updates(map[string]interface{}{
			"lease_owner":      "",
			"lease_expires_at": nil,
			"version":          expectedVersion + 1,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) GetFullState(ctx context.Context, instanceID, expectedLeaseOwner string) (*engine.InstanceRecord, error) {
	var m instanceModel
	err := s.db.WithContext(ctx).Where("instance_id = ?", instanceID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.LeaseOwner != expectedLeaseOwner {
		return nil, engine.ErrLeaseConflict
	}
	return toRecord(&m)
}

func (s *GormStore) ApplyWorkSet(ctx context.Context, instanceID string, expectedVersion int64, work *engine.WorkSet) (bool, error) {
	var applied bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m instanceModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("instance_id = ? AND version = ?", instanceID, expectedVersion).
			First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if m.IsCompleted {
			return nil
		}
		rec, err := toRecord(&m)
		if err != nil {
			return err
		}

		rec.History = append(rec.History, work.NewHistory...)
		rec.AwaitedEvents = append(rec.AwaitedEvents, work.NewAwaitedEvents...)
		if len(work.FiredTimers) > 0 {
			firedAt := time.Now().UTC()
			for _, childID := range work.FiredTimers {
				if entry, found := rec.FindHistory(childID); found && entry.Status == engine.HistoryScheduled {
					entry.Status = engine.HistorySucceeded
					entry.CompletedAt = &firedAt
				}
			}
		}
		for name, n := range work.ConsumedEventCounts {
			q := rec.EventQueues[name]
			if n > len(q) {
				n = len(q)
			}
			rec.EventQueues[name] = q[n:]
		}
		if work.MinExecuteAfter != nil && work.MinExecuteAfter.Before(rec.ExecuteAfter) {
			rec.ExecuteAfter = *work.MinExecuteAfter
		}
		if work.Completed {
			rec.IsCompleted = true
			rec.CompletedResult = work.Result
			rec.CompletedError = work.Error
		}
		rec.Version = expectedVersion + 1
		rec.UpdatedAt = time.Now().UTC()

		next, err := fromRecord(rec)
		if err != nil {
			return err
		}
		res := tx.Model(&instanceModel{}).
			Where("instance_id = ? AND version = ?", instanceID, expectedVersion).
			Updates(next)
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected > 0
		return nil
	})
	return applied, err
}

// RaiseEvent implements the atomic deliver-or-enqueue of §4.2.4/§4.5 under
// a row lock held for the whole read-modify-write; the version-guarded
// update is not retried.
func (s *GormStore) RaiseEvent(ctx context.Context, instanceID, eventName string, payload []byte) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m instanceModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("instance_id = ?", instanceID).
			First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.ErrNotFound
		}
		if err != nil {
			return err
		}
		if m.IsCompleted {
			// §9 Open Questions: silently no-op against a completed instance.
			return nil
		}
		rec, err := toRecord(&m)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		delivered := false
		for i, w := range rec.AwaitedEvents {
			if w.Name != eventName {
				continue
			}
			rec.AwaitedEvents = append(rec.AwaitedEvents[:i], rec.AwaitedEvents[i+1:]...)
			if entry, found := rec.FindHistory(w.SlotID); found && entry.Status == engine.HistoryScheduled {
				entry.Status = engine.HistorySucceeded
				entry.Result = append([]byte(nil), payload...)
				entry.CompletedAt = &now
			}
			rec.ExecuteAfter = now
			delivered = true
			break
		}
		if !delivered {
			if rec.EventQueues == nil {
				rec.EventQueues = map[string][]jsonRawMessage{}
			}
			rec.EventQueues[eventName] = append(rec.EventQueues[eventName], append([]byte(nil), payload...))
		}
		rec.Version = m.Version + 1
		rec.UpdatedAt = now

		next, err := fromRecord(rec)
		if err != nil {
			return err
		}
		return tx.Model(&instanceModel{}).
			Where("instance_id = ? AND version = ?", instanceID, m.Version).
			Updates(next).Error
	})
}

func (s *GormStore) WakeParent(ctx context.Context, parentInstanceID, childInstanceID string, status engine.HistoryStatus, result []byte, errv *engine.OrchestrationError) (bool, error) {
	var woke bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m instanceModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("instance_id = ?", parentInstanceID).
			First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.ErrNotFound
		}
		if err != nil {
			return err
		}
		if m.IsCompleted {
			return nil
		}
		rec, err := toRecord(&m)
		if err != nil {
			return err
		}
		entry, found := rec.FindHistory(childInstanceID)
		if !found {
			return nil
		}
		if entry.Status != engine.HistoryScheduled {
			woke = true
			return nil
		}
		now := time.Now().UTC()
		entry.Status = status
		if result != nil {
			entry.Result = append([]byte(nil), result...)
		}
		entry.Error = errv
		entry.CompletedAt = &now
		rec.ExecuteAfter = now
		rec.Version = m.Version + 1
		rec.UpdatedAt = now

		next, err := fromRecord(rec)
		if err != nil {
			return err
		}
		res := tx.Model(&instanceModel{}).
			Where("instance_id = ? AND version = ?", parentInstanceID, m.Version).
			Updates(next)
		if res.Error != nil {
			return res.Error
		}
		woke = res.RowsAffected > 0
		return nil
	})
	return woke, err
}

func (s *GormStore) Terminate(ctx context.Context, instanceID, reason string) error {
	res := s.db.WithContext(ctx).
		Model(&instanceModel{}).
		Where("instance_id = ? AND is_completed = ?", instanceID, false)
	errJSON, err := jsonMarshalOrchestrationError(engine.NewTerminationError(reason))
	if err != nil {
		return err
	}
	r := res.Updates(map[string]interface{}{
		"is_completed":    true,
		"completed_error": errJSON,
		"updated_at":      time.Now().UTC(),
	})
	return r.Error
}

func (s *GormStore) Purge(ctx context.Context, instanceID string, cascade bool) (int, error) {
	if !cascade {
		res := s.db.WithContext(ctx).Where("instance_id = ?", instanceID).Delete(&instanceModel{})
		return int(res.RowsAffected), res.Error
	}

	total := 0
	var m instanceModel
	err := s.db.WithContext(ctx).Where("instance_id = ?", instanceID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	rec, err := toRecord(&m)
	if err != nil {
		return 0, err
	}
	for _, h := range rec.History {
		if h.Kind == engine.HistoryKindActivity || h.Kind == engine.HistoryKindSubOrchestrator {
			n, err := s.Purge(ctx, h.ChildInstanceID, true)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	res := s.db.WithContext(ctx).Where("instance_id = ?", instanceID).Delete(&instanceModel{})
	if res.Error != nil {
		return total, res.Error
	}
	return total + int(res.RowsAffected), nil
}

func (s *GormStore) Count(ctx context.Context, filter store.ListFilter) (int, error) {
	var n int64
	err := applyFilter(s.db.WithContext(ctx).Model(&instanceModel{}), filter).Count(&n).Error
	return int(n), err
}

func (s *GormStore) List(ctx context.Context, filter store.ListFilter) ([]store.Candidate, error) {
	var rows []instanceModel
	q := applyFilter(s.db.WithContext(ctx).Model(&instanceModel{}), filter)
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.Candidate, 0, len(rows))
	for _, m := range rows {
		out = append(out, store.Candidate{
			InstanceID:     m.InstanceID,
			FunctionName:   m.FunctionName,
			ExecuteAfter:   m.ExecuteAfter,
			Version:        m.Version,
			LeaseOwner:     m.LeaseOwner,
			LeaseExpiresAt: m.LeaseExpiresAt,
		})
	}
	return out, nil
}

func applyFilter(q *gorm.DB, filter store.ListFilter) *gorm.DB {
	if filter.FunctionName != "" {
		q = q.Where("function_name = ?", filter.FunctionName)
	}
	if filter.ParentInstanceID != "" {
		q = q.Where("parent_instance_id = ?", filter.ParentInstanceID)
	}
	if filter.OnlyCompleted {
		q = q.Where("is_completed = ?", true)
	}
	if filter.OnlyPending {
		q = q.Where("is_completed = ?", false)
	}
	return q
}

type jsonRawMessage = []byte

func jsonMarshalOrchestrationError(e *engine.OrchestrationError) ([]byte, error) {
	return json.Marshal(e)
}
