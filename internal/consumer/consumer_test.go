package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"taskhub/internal/model"
	"taskhub/internal/storage"
)

// fakeAck records the acknowledgement outcome of one delivery.
type fakeAck struct {
	mu       sync.Mutex
	acked    bool
	rejected bool
	requeued bool
}

func (f *fakeAck) Ack(_ uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = true
	return nil
}

func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = true
	f.requeued = requeue
	return nil
}

func (f *fakeAck) Reject(_ uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = true
	f.requeued = requeue
	return nil
}

// countingHandler counts Handle invocations and optionally fails.
type countingHandler struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (h *countingHandler) Name() string { return "counting" }

func (h *countingHandler) Handle(_ context.Context, _ *model.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.fail {
		return errors.New("handler boom")
	}
	return nil
}

func (h *countingHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func newTestConsumer(h Handler, store storage.Store) *Consumer {
	return &Consumer{
		handler: h,
		store:   store,
		logger:  zap.NewNop(),
	}
}

func delivery(t *testing.T, event *model.DomainEvent) (amqp.Delivery, *fakeAck) {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	ack := &fakeAck{}
	return amqp.Delivery{Acknowledger: ack, Body: body}, ack
}

func taskEvent() *model.DomainEvent {
	return model.NewTaskEvent(model.EventTaskCreated, "alice", &model.Task{
		TenantID: "tenant-a",
		TaskID:   "t1",
		Title:    "Setup network",
		Version:  1,
	})
}

func TestProcessAcksAndRunsHandlerOnce(t *testing.T) {
	store := storage.NewMemoryStore()
	h := &countingHandler{}
	c := newTestConsumer(h, store)

	msg, ack := delivery(t, taskEvent())
	c.process(msg)

	require.True(t, ack.acked)
	require.False(t, ack.rejected)
	require.Equal(t, 1, h.callCount())
}

func TestProcessSkipsDuplicateDelivery(t *testing.T) {
	store := storage.NewMemoryStore()
	h := &countingHandler{}
	c := newTestConsumer(h, store)

	event := taskEvent()

	// Simulated at-least-once redelivery: same event_id arrives twice.
	first, firstAck := delivery(t, event)
	second, secondAck := delivery(t, event)
	c.process(first)
	c.process(second)

	require.True(t, firstAck.acked)
	require.True(t, secondAck.acked, "duplicates are acked, not redelivered forever")
	require.Equal(t, 1, h.callCount(), "side effect must run exactly once")
}

func TestProcessRejectsUnparsableBody(t *testing.T) {
	store := storage.NewMemoryStore()
	h := &countingHandler{}
	c := newTestConsumer(h, store)

	ack := &fakeAck{}
	c.process(amqp.Delivery{Acknowledger: ack, Body: []byte("not json")})

	require.True(t, ack.rejected)
	require.False(t, ack.requeued, "poison messages go to the DLQ, not back to the queue")
	require.Equal(t, 0, h.callCount())
}

func TestProcessReleasesMarkerOnHandlerFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	h := &countingHandler{fail: true}
	c := newTestConsumer(h, store)

	event := taskEvent()
	msg, ack := delivery(t, event)
	c.process(msg)

	require.True(t, ack.rejected)
	require.False(t, ack.requeued)

	// A DLQ redrive of the same event must get a fresh chance.
	h.fail = false
	redelivered, redeliveredAck := delivery(t, event)
	c.process(redelivered)

	require.True(t, redeliveredAck.acked)
	require.Equal(t, 2, h.callCount())
}

// failingDeleteStore makes the marker release itself fail.
type failingDeleteStore struct {
	storage.Store
}

func (s *failingDeleteStore) Delete(context.Context, storage.Key) error {
	return errors.New("store down")
}

func TestProcessLogsFailedMarkerRelease(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := &countingHandler{fail: true}
	c := &Consumer{
		handler: h,
		store:   &failingDeleteStore{Store: storage.NewMemoryStore()},
		logger:  zap.New(core),
	}

	event := taskEvent()
	msg, ack := delivery(t, event)
	c.process(msg)

	require.True(t, ack.rejected)

	// The stuck marker will make the redrive look like a duplicate; the
	// failure must be loud enough for manual reconciliation.
	entries := logs.FilterMessage("failed to release idempotency marker, redrive will be skipped without manual cleanup").All()
	require.Len(t, entries, 1)
	require.Equal(t, event.EventID, entries[0].ContextMap()["event_id"])
}
