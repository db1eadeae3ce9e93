// internal/model/task.go
package model

import (
	"fmt"
	"time"
	"unicode/utf8"
)

type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 1000
)

// Task is the domain entity owned exclusively by its tenant. TaskID is
// generated on creation and immutable; Version increments on every mutation.
type Task struct {
	TenantID    string    `json:"tenant_id"`
	TaskID      string    `json:"task_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	AssignedTo  string    `json:"assigned_to,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int64     `json:"version"`
}

// TaskFields carries caller-supplied attributes for create and update.
// Nil pointers on update mean "leave unchanged".
type TaskFields struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *Status   `json:"status,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	AssignedTo  *string   `json:"assigned_to,omitempty"`
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusDone:
		return true
	}
	return false
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ValidateCreate checks the fields for task creation. Title is mandatory.
func (f *TaskFields) ValidateCreate() error {
	if f.Title == nil || *f.Title == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	return f.ValidateUpdate()
}

// ValidateUpdate checks only the fields that are present.
func (f *TaskFields) ValidateUpdate() error {
	if f.Title != nil && *f.Title == "" {
		return &ValidationError{Field: "title", Message: "title cannot be empty"}
	}
	// Limits count characters, not bytes; multi-byte titles get the full 200.
	if f.Title != nil && utf8.RuneCountInString(*f.Title) > maxTitleLen {
		return &ValidationError{Field: "title", Message: fmt.Sprintf("title cannot exceed %d characters", maxTitleLen)}
	}
	if f.Description != nil && utf8.RuneCountInString(*f.Description) > maxDescriptionLen {
		return &ValidationError{Field: "description", Message: fmt.Sprintf("description cannot exceed %d characters", maxDescriptionLen)}
	}
	if f.Status != nil && !f.Status.Valid() {
		return &ValidationError{Field: "status", Message: "status must be one of OPEN, IN_PROGRESS, DONE"}
	}
	if f.Priority != nil && !f.Priority.Valid() {
		return &ValidationError{Field: "priority", Message: "priority must be one of LOW, MEDIUM, HIGH"}
	}
	return nil
}
