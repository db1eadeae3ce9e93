package consumer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"taskhub/internal/model"
	"taskhub/internal/storage"
)

func TestAuditHandlerWritesTrailEntry(t *testing.T) {
	store := storage.NewMemoryStore()
	h := &AuditHandler{Store: store}
	event := taskEvent()

	require.NoError(t, h.Handle(context.Background(), event))

	page, err := store.Query(context.Background(), storage.TenantPartition("tenant-a"), storage.SortPrefixAudit, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)

	var entry auditEntry
	require.NoError(t, json.Unmarshal(page.Records[0].Attributes, &entry))
	require.Equal(t, string(model.EventTaskCreated), entry.Action)
	require.Equal(t, "t1", entry.ResourceID)
	require.Equal(t, "alice", entry.Actor)
	require.Equal(t, "Setup network", entry.TaskTitle)
}

func TestNotificationHandlerWritesWorkItem(t *testing.T) {
	store := storage.NewMemoryStore()
	h := &NotificationHandler{Store: store}

	require.NoError(t, h.Handle(context.Background(), taskEvent()))

	page, err := store.Query(context.Background(), storage.TenantPartition("tenant-a"), storage.SortPrefixNotification, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)

	var entry notificationEntry
	require.NoError(t, json.Unmarshal(page.Records[0].Attributes, &entry))
	require.Equal(t, "PENDING", entry.Status)
	require.Equal(t, "t1", entry.TaskID)
}

func TestAnalyticsHandlerCountsPerDay(t *testing.T) {
	store := storage.NewMemoryStore()
	h := &AnalyticsHandler{Store: store}
	ctx := context.Background()

	// Three distinct events on the same day share one counter.
	for i := 0; i < 3; i++ {
		require.NoError(t, h.Handle(ctx, taskEvent()))
	}

	page, err := store.Query(ctx, storage.TenantPartition("tenant-a"), storage.SortPrefixAnalytics, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)

	var entry analyticsEntry
	require.NoError(t, json.Unmarshal(page.Records[0].Attributes, &entry))
	require.EqualValues(t, 3, entry.Count)
	require.Equal(t, string(model.EventTaskCreated), entry.EventType)
}

func TestAnalyticsIdempotentAcrossRedelivery(t *testing.T) {
	// End-to-end idempotency: the same event delivered twice through the
	// consumer loop bumps the counter once.
	store := storage.NewMemoryStore()
	c := newTestConsumer(&AnalyticsHandler{Store: store}, store)
	ctx := context.Background()

	event := taskEvent()
	first, _ := delivery(t, event)
	second, _ := delivery(t, event)
	c.process(first)
	c.process(second)

	page, err := store.Query(ctx, storage.TenantPartition("tenant-a"), storage.SortPrefixAnalytics, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)

	var entry analyticsEntry
	require.NoError(t, json.Unmarshal(page.Records[0].Attributes, &entry))
	require.EqualValues(t, 1, entry.Count)
}
