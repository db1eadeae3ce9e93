// internal/storage/kv.go
package storage

import (
	"context"
	"fmt"
)

// Key is the composite key of the shared single table. Every entity of every
// tenant lives in the same namespace; Partition confines it to one tenant and
// the Sort prefix carries the entity type.
type Key struct {
	Partition string
	Sort      string
}

// Record is the physical representation of an entity. Attributes is the JSON
// encoding of the typed entity; Version drives conditional writes.
type Record struct {
	Key        Key
	Attributes []byte
	Version    int64
}

// Page is one result window of a prefix query. NextCursor is the sort key to
// resume after; empty means the scan is exhausted.
type Page struct {
	Records    []Record
	NextCursor string
}

// Store is the key-value contract of the storage substrate. The partition is
// a mandatory parameter of every operation; there is no way to issue a query
// without one.
type Store interface {
	// Get performs a point lookup.
	Get(ctx context.Context, key Key) (*Record, error)

	// Put inserts a record. It fails with ErrConflict if the key already
	// exists, so a fresh insert can never clobber a concurrent one.
	Put(ctx context.Context, rec Record) error

	// PutIf overwrites the record only when the stored version equals
	// expectedVersion. Returns model.ErrConflict on mismatch and
	// model.ErrNotFound when the record does not exist.
	PutIf(ctx context.Context, rec Record, expectedVersion int64) error

	// Delete removes the record. Returns model.ErrNotFound when absent.
	Delete(ctx context.Context, key Key) error

	// Query scans records in one partition whose sort key starts with
	// sortPrefix, in sort-key order, starting strictly after afterSort
	// (empty starts from the beginning), returning at most limit records.
	Query(ctx context.Context, partition, sortPrefix, afterSort string, limit int) (*Page, error)

	Close() error
}

// Sort-key prefixes of the entity types sharing the table.
const (
	SortPrefixTask         = "TASK#"
	SortPrefixAudit        = "AUDIT#"
	SortPrefixNotification = "NOTIFICATION#"
	SortPrefixAnalytics    = "ANALYTICS#"
	SortPrefixConsumed     = "CONSUMED#"
)

// TenantPartition builds the partition key for a tenant. All access paths go
// through this, so a record's partition always names the owning tenant.
func TenantPartition(tenantID string) string {
	return fmt.Sprintf("TENANT#%s", tenantID)
}

// TaskKey builds the composite key of one task record.
func TaskKey(tenantID, taskID string) Key {
	return Key{
		Partition: TenantPartition(tenantID),
		Sort:      SortPrefixTask + taskID,
	}
}
