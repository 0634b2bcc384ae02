package gormstore

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/corewind/durable-orchestrator/internal/engine"
)

// instanceModel is the gorm row backing the state store contract (§4.5,
// §6.1): the eleven fields of §3.1 plus history, split across typed
// columns where it helps indexing (execute_after, is_completed, lease_*,
// version) and collapsed into datatypes.JSON blobs where the field is
// itself a nested structure the store never queries into directly
// (history, event_queues, awaited_events, completed_result/error).
type instanceModel struct {
	InstanceID       string `gorm:"column:instance_id;primaryKey;size:255"`
	FunctionName     string `gorm:"column:function_name;size:255;not null"`
	ParentInstanceID string `gorm:"column:parent_instance_id;size:255;index"`

	Input datatypes.JSON `gorm:"column:input"`

	ExecuteAfter time.Time `gorm:"column:execute_after;index:idx_poll,priority:1"`
	IsCompleted  bool      `gorm:"column:is_completed;index:idx_poll,priority:2"`

	History       datatypes.JSON `gorm:"column:history"`
	EventQueues   datatypes.JSON `gorm:"column:event_queues"`
	AwaitedEvents datatypes.JSON `gorm:"column:awaited_events"`

	CompletedResult datatypes.JSON `gorm:"column:completed_result"`
	CompletedError  datatypes.JSON `gorm:"column:completed_error"`

	Version int64 `gorm:"column:version;not null"`

	LeaseOwner     string     `gorm:"column:lease_owner;size:255;index:idx_lease,priority:1"`
	LeaseExpiresAt *time.Time `gorm:"column:lease_expires_at;index:idx_lease,priority:2"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (instanceModel) TableName() string { return "orchestration_instances" }

func fromRecord(rec *engine.InstanceRecord) (*instanceModel, error) {
	history, err := json.Marshal(rec.History)
	if err != nil {
		return nil, err
	}
	eventQueues, err := json.Marshal(rec.EventQueues)
	if err != nil {
		return nil, err
	}
	awaited, err := json.Marshal(rec.AwaitedEvents)
	if err != nil {
		return nil, err
	}
	var completedError datatypes.JSON
	if rec.CompletedError != nil {
		b, err := json.Marshal(rec.CompletedError)
		if err != nil {
			return nil, err
		}
		completedError = b
	}
	return &instanceModel{
		InstanceID:       rec.InstanceID,
		FunctionName:     rec.FunctionName,
		ParentInstanceID: rec.ParentInstanceID,
		Input:            datatypes.JSON(rec.Input),
		ExecuteAfter:     rec.ExecuteAfter,
		IsCompleted:      rec.IsCompleted,
		History:          datatypes.JSON(history),
		EventQueues:       datatypes.JSON(eventQueues),
		AwaitedEvents:    datatypes.JSON(awaited),
		CompletedResult:  datatypes.JSON(rec.CompletedResult),
		CompletedError:   completedError,
		Version:          rec.Version,
		LeaseOwner:       rec.LeaseOwner,
		LeaseExpiresAt:   rec.LeaseExpiresAt,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}, nil
}

func toRecord(m *instanceModel) (*engine.InstanceRecord, error) {
	rec := &engine.InstanceRecord{
		InstanceID:       m.InstanceID,
		FunctionName:     m.FunctionName,
		ParentInstanceID: m.ParentInstanceID,
		Input:            json.RawMessage(m.Input),
		ExecuteAfter:     m.ExecuteAfter,
		IsCompleted:      m.IsCompleted,
		CompletedResult:  json.RawMessage(m.CompletedResult),
		Version:          m.Version,
		LeaseOwner:       m.LeaseOwner,
		LeaseExpiresAt:   m.LeaseExpiresAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if len(m.History) > 0 {
		if err := json.Unmarshal(m.History, &rec.History); err != nil {
			return nil, err
		}
	}
	if len(m.EventQueues) > 0 {
		if err := json.Unmarshal(m.EventQueues, &rec.EventQueues); err != nil {
			return nil, err
		}
	}
	if len(m.AwaitedEvents) > 0 {
		if err := json.Unmarshal(m.AwaitedEvents, &rec.AwaitedEvents); err != nil {
			return nil, err
		}
	}
	if len(m.CompletedError) > 0 {
		var ce engine.OrchestrationError
		if err := json.Unmarshal(m.CompletedError, &ce); err != nil {
			return nil, err
		}
		rec.CompletedError = &ce
	}
	if rec.EventQueues == nil {
		rec.EventQueues = map[string][]json.RawMessage{}
	}
	return rec, nil
}
