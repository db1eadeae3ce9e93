// internal/task/engine.go

// Package task implements the tenant-scoped data access engine. Every
// operation takes the tenant explicitly and binds it into the partition key,
// so a cross-tenant key is structurally unreachable rather than checked after
// the fact.
package task

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskhub/internal/model"
	"taskhub/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type Engine struct {
	store  storage.Store
	logger *zap.Logger
}

func NewEngine(store storage.Store, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// ListFilter narrows a listing. Nil fields match everything.
type ListFilter struct {
	Status     *model.Status
	AssignedTo *string
}

// ListResult is one page of tasks plus the continuation token for the next.
type ListResult struct {
	Tasks     []model.Task
	NextToken string
}

// Create generates the task identity and writes version 1. Task IDs are
// UUIDv7: time-ordered so listing follows insertion order, with a random tail
// that spreads concurrent writes within the partition.
func (e *Engine) Create(ctx context.Context, tenantID, createdBy string, fields model.TaskFields) (*model.Task, error) {
	if err := fields.ValidateCreate(); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate task id: %w", err)
	}

	now := time.Now().UTC()
	t := model.Task{
		TenantID:  tenantID,
		TaskID:    id.String(),
		Title:     *fields.Title,
		Status:    model.StatusOpen,
		Priority:  model.PriorityMedium,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	if fields.Description != nil {
		t.Description = *fields.Description
	}
	if fields.Status != nil {
		t.Status = *fields.Status
	}
	if fields.Priority != nil {
		t.Priority = *fields.Priority
	}
	if fields.AssignedTo != nil {
		t.AssignedTo = *fields.AssignedTo
	}

	rec, err := encodeTask(&t)
	if err != nil {
		return nil, err
	}
	if err := e.store.Put(ctx, *rec); err != nil {
		return nil, fmt.Errorf("failed to store task: %w", err)
	}

	e.logger.Info("task created",
		zap.String("tenant_id", tenantID),
		zap.String("task_id", t.TaskID),
	)
	return &t, nil
}

// Get performs a point lookup. The partition half of the key is derived from
// tenantID, so a guessable task id under another tenant resolves to nothing.
func (e *Engine) Get(ctx context.Context, tenantID, taskID string) (*model.Task, error) {
	rec, err := e.store.Get(ctx, storage.TaskKey(tenantID, taskID))
	if err != nil {
		return nil, err
	}
	return decodeTask(rec)
}

// List pages through the tenant's TASK# range in sort-key order. The
// continuation token is opaque to callers; filtered scans keep reading store
// pages until the requested page fills or the range is exhausted.
func (e *Engine) List(ctx context.Context, tenantID string, filter ListFilter, token string, limit int) (*ListResult, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	afterSort, err := decodeToken(token)
	if err != nil {
		return nil, err
	}

	partition := storage.TenantPartition(tenantID)
	result := &ListResult{}
	for {
		page, err := e.store.Query(ctx, partition, storage.SortPrefixTask, afterSort, limit)
		if err != nil {
			return nil, err
		}

		for _, rec := range page.Records {
			t, err := decodeTask(&rec)
			if err != nil {
				return nil, err
			}
			if !filter.matches(t) {
				continue
			}
			result.Tasks = append(result.Tasks, *t)
			if len(result.Tasks) == limit {
				result.NextToken = encodeToken(rec.Key.Sort)
				return result, nil
			}
		}

		if page.NextCursor == "" {
			return result, nil
		}
		afterSort = page.NextCursor
	}
}

// Update applies a conditional write: it proceeds only if the stored version
// still equals expectedVersion, otherwise the caller gets ErrConflict and
// must re-read. There is no implicit merge.
func (e *Engine) Update(ctx context.Context, tenantID, taskID string, expectedVersion int64, fields model.TaskFields) (*model.Task, error) {
	if err := fields.ValidateUpdate(); err != nil {
		return nil, err
	}

	current, err := e.Get(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, model.ErrConflict
	}

	t := *current
	if fields.Title != nil {
		t.Title = *fields.Title
	}
	if fields.Description != nil {
		t.Description = *fields.Description
	}
	if fields.Status != nil {
		t.Status = *fields.Status
	}
	if fields.Priority != nil {
		t.Priority = *fields.Priority
	}
	if fields.AssignedTo != nil {
		t.AssignedTo = *fields.AssignedTo
	}
	t.Version = expectedVersion + 1
	t.UpdatedAt = time.Now().UTC()

	rec, err := encodeTask(&t)
	if err != nil {
		return nil, err
	}
	if err := e.store.PutIf(ctx, *rec, expectedVersion); err != nil {
		return nil, err
	}

	e.logger.Info("task updated",
		zap.String("tenant_id", tenantID),
		zap.String("task_id", taskID),
		zap.Int64("version", t.Version),
	)
	return &t, nil
}

// Delete removes the record unconditionally. Role gating happened at the
// handler layer; the engine trusts that authorization already ran.
func (e *Engine) Delete(ctx context.Context, tenantID, taskID string) error {
	if err := e.store.Delete(ctx, storage.TaskKey(tenantID, taskID)); err != nil {
		return err
	}
	e.logger.Info("task deleted",
		zap.String("tenant_id", tenantID),
		zap.String("task_id", taskID),
	)
	return nil
}

func (f ListFilter) matches(t *model.Task) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.AssignedTo != nil && t.AssignedTo != *f.AssignedTo {
		return false
	}
	return true
}

func encodeTask(t *model.Task) (*storage.Record, error) {
	attrs, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task: %w", err)
	}
	return &storage.Record{
		Key:        storage.TaskKey(t.TenantID, t.TaskID),
		Attributes: attrs,
		Version:    t.Version,
	}, nil
}

func decodeTask(rec *storage.Record) (*model.Task, error) {
	var t model.Task
	if err := json.Unmarshal(rec.Attributes, &t); err != nil {
		return nil, fmt.Errorf("failed to decode task record %q: %w", rec.Key.Sort, err)
	}
	return &t, nil
}

func encodeToken(sortKey string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(sortKey))
}

func decodeToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", &model.ValidationError{Field: "page_token", Message: "invalid continuation token"}
	}
	return string(raw), nil
}
