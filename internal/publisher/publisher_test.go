package publisher

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskhub/internal/model"
)

// fakeTransport fails the first failures attempts, then accepts.
type fakeTransport struct {
	mu       sync.Mutex
	failures int
	attempts int
	bodies   [][]byte
}

func (f *fakeTransport) Publish(body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failures {
		return errors.New("transport down")
	}
	f.bodies = append(f.bodies, append([]byte(nil), body...))
	return nil
}

func (f *fakeTransport) delivered() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.bodies...)
}

func (f *fakeTransport) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func testEvent() *model.DomainEvent {
	return model.NewTaskEvent(model.EventTaskCreated, "alice", &model.Task{
		TenantID: "tenant-a",
		TaskID:   "t1",
		Title:    "Setup network",
		Version:  1,
	})
}

func TestPublishDelivers(t *testing.T) {
	transport := &fakeTransport{}
	p := New(transport, zap.NewNop(), 8, 3, time.Second)

	event := testEvent()
	p.Publish(event)
	p.Close()

	bodies := transport.delivered()
	require.Len(t, bodies, 1)

	var got model.DomainEvent
	require.NoError(t, json.Unmarshal(bodies[0], &got))
	require.Equal(t, event.EventID, got.EventID)
	require.Equal(t, model.EventTaskCreated, got.EventType)
	require.Equal(t, "tenant-a", got.TenantID)
	require.NotNil(t, got.Task)
	require.Equal(t, "Setup network", got.Task.Title)
}

func TestPublishRetriesTransientFailure(t *testing.T) {
	transport := &fakeTransport{failures: 2}
	p := New(transport, zap.NewNop(), 8, 5, 50*time.Millisecond)

	p.Publish(testEvent())
	p.Close()

	require.Len(t, transport.delivered(), 1)
	require.Equal(t, 3, transport.attemptCount())
}

func TestPublishGivesUpAfterBoundedAttempts(t *testing.T) {
	transport := &fakeTransport{failures: 1000}
	p := New(transport, zap.NewNop(), 8, 2, 10*time.Millisecond)

	p.Publish(testEvent())
	p.Close()

	// maxAttempts retries on top of the initial attempt, then the event is
	// reported lost instead of blocking forever.
	require.Empty(t, transport.delivered())
	require.Equal(t, 3, transport.attemptCount())
}

func TestCloseDrainsOutbox(t *testing.T) {
	transport := &fakeTransport{}
	p := New(transport, zap.NewNop(), 64, 1, time.Second)

	for i := 0; i < 20; i++ {
		p.Publish(testEvent())
	}
	p.Close()

	require.Len(t, transport.delivered(), 20)
}

func TestConcurrentPublishDuringCloseDoesNotPanic(t *testing.T) {
	// Publishers racing a shutdown must never hit the closed channel; the
	// losers are counted as lost, not panicked.
	for i := 0; i < 50; i++ {
		transport := &fakeTransport{}
		p := New(transport, zap.NewNop(), 4, 1, time.Second)

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					p.Publish(testEvent())
				}
			}()
		}
		p.Close()
		wg.Wait()
	}
}

func TestPublishAfterCloseDoesNotPanic(t *testing.T) {
	transport := &fakeTransport{}
	p := New(transport, zap.NewNop(), 8, 1, time.Second)
	p.Close()

	require.NotPanics(t, func() { p.Publish(testEvent()) })
	require.Empty(t, transport.delivered())
}
