// internal/model/errors.go
package model

import "errors"

var (
	// ErrNotFound is returned for a missing record, including records that
	// exist under another tenant's partition.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional write observes a version
	// other than the expected one. The caller must re-read and retry.
	ErrConflict = errors.New("version conflict")

	// ErrStorageUnavailable marks a request-level storage failure that is
	// safe to retry; no partial mutation occurred.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
