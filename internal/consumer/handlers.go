// internal/consumer/handlers.go
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskhub/internal/model"
	"taskhub/internal/storage"
)

// The downstream concerns write their own records back into the shared table
// under their sort-key prefixes, same single-table shape as the tasks.

// AuditHandler appends an immutable audit trail entry per event.
type AuditHandler struct {
	Store storage.Store
}

type auditEntry struct {
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	TenantID     string    `json:"tenant_id"`
	Actor        string    `json:"actor"`
	Timestamp    time.Time `json:"timestamp"`
	TaskTitle    string    `json:"task_title,omitempty"`
}

func (h *AuditHandler) Name() string { return "audit" }

func (h *AuditHandler) Handle(ctx context.Context, event *model.DomainEvent) error {
	entry := auditEntry{
		Action:       string(event.EventType),
		ResourceType: "TASK",
		ResourceID:   event.EntityID,
		TenantID:     event.TenantID,
		Actor:        event.Actor,
		Timestamp:    event.OccurredAt,
	}
	if event.Task != nil {
		entry.TaskTitle = event.Task.Title
	}

	attrs, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	return h.Store.Put(ctx, storage.Record{
		Key: storage.Key{
			Partition: storage.TenantPartition(event.TenantID),
			Sort: fmt.Sprintf("%s%s#%s",
				storage.SortPrefixAudit,
				event.OccurredAt.UTC().Format(time.RFC3339Nano),
				event.EventID,
			),
		},
		Attributes: attrs,
		Version:    1,
	})
}

// NotificationHandler records an outbound notification per event. Delivery to
// actual channels happens outside this core; the record is the work item.
type NotificationHandler struct {
	Store storage.Store
}

type notificationEntry struct {
	NotificationType string    `json:"notification_type"`
	TaskID           string    `json:"task_id"`
	TenantID         string    `json:"tenant_id"`
	Title            string    `json:"title,omitempty"`
	Channels         []string  `json:"channels"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

func (h *NotificationHandler) Name() string { return "notification" }

func (h *NotificationHandler) Handle(ctx context.Context, event *model.DomainEvent) error {
	entry := notificationEntry{
		NotificationType: string(event.EventType),
		TaskID:           event.EntityID,
		TenantID:         event.TenantID,
		Channels:         []string{"email", "slack"},
		Status:           "PENDING",
		CreatedAt:        time.Now().UTC(),
	}
	if event.Task != nil {
		entry.Title = event.Task.Title
	}

	attrs, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return h.Store.Put(ctx, storage.Record{
		Key: storage.Key{
			Partition: storage.TenantPartition(event.TenantID),
			Sort: fmt.Sprintf("%s%s#%s",
				storage.SortPrefixNotification,
				event.OccurredAt.UTC().Format(time.RFC3339Nano),
				event.EntityID,
			),
		},
		Attributes: attrs,
		Version:    1,
	})
}

// AnalyticsHandler maintains a per-day counter per event type, updated with
// the same conditional-write protocol as tasks.
type AnalyticsHandler struct {
	Store storage.Store
}

type analyticsEntry struct {
	TenantID  string `json:"tenant_id"`
	EventType string `json:"event_type"`
	Date      string `json:"date"`
	Count     int64  `json:"count"`
}

const analyticsRetries = 5

func (h *AnalyticsHandler) Name() string { return "analytics" }

func (h *AnalyticsHandler) Handle(ctx context.Context, event *model.DomainEvent) error {
	date := event.OccurredAt.UTC().Format("2006-01-02")
	key := storage.Key{
		Partition: storage.TenantPartition(event.TenantID),
		Sort:      fmt.Sprintf("%s%s#%s", storage.SortPrefixAnalytics, event.EventType, date),
	}

	for i := 0; i < analyticsRetries; i++ {
		rec, err := h.Store.Get(ctx, key)
		if errors.Is(err, model.ErrNotFound) {
			attrs, err := json.Marshal(analyticsEntry{
				TenantID:  event.TenantID,
				EventType: string(event.EventType),
				Date:      date,
				Count:     1,
			})
			if err != nil {
				return fmt.Errorf("encode analytics entry: %w", err)
			}
			err = h.Store.Put(ctx, storage.Record{Key: key, Attributes: attrs, Version: 1})
			if errors.Is(err, model.ErrConflict) {
				continue // another worker created it first
			}
			return err
		}
		if err != nil {
			return err
		}

		var entry analyticsEntry
		if err := json.Unmarshal(rec.Attributes, &entry); err != nil {
			return fmt.Errorf("decode analytics entry: %w", err)
		}
		entry.Count++
		attrs, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode analytics entry: %w", err)
		}
		err = h.Store.PutIf(ctx, storage.Record{Key: key, Attributes: attrs, Version: rec.Version + 1}, rec.Version)
		if errors.Is(err, model.ErrConflict) {
			continue // lost the race, re-read and retry
		}
		return err
	}
	return fmt.Errorf("analytics counter update for %q kept conflicting", key.Sort)
}
