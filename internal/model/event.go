// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTaskCreated EventType = "task.created"
	EventTaskUpdated EventType = "task.updated"
	EventTaskDeleted EventType = "task.deleted"
)

// DomainEvent announces a committed state change. EventID is the downstream
// idempotency key; Task is a full snapshot, not a delta, so consumers never
// depend on cross-event ordering.
type DomainEvent struct {
	EventID    string    `json:"event_id"`
	EventType  EventType `json:"event_type"`
	TenantID   string    `json:"tenant_id"`
	EntityID   string    `json:"entity_id"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurred_at"`
	Task       *Task     `json:"task,omitempty"`
}

// NewTaskEvent builds an event from a committed task snapshot.
func NewTaskEvent(eventType EventType, actor string, task *Task) *DomainEvent {
	return &DomainEvent{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		TenantID:   task.TenantID,
		EntityID:   task.TaskID,
		Actor:      actor,
		OccurredAt: time.Now().UTC(),
		Task:       task,
	}
}
