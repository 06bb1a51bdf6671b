package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*Event
	emitErr error
	delay   time.Duration
	done    chan struct{}
}

func newMockEmitter() *mockEventEmitter {
	return &mockEventEmitter{done: make(chan struct{}, 64)}
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *Event) error {
	defer func() {
		if m.done != nil {
			m.done <- struct{}{}
		}
	}()
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

// wait blocks until n emits finished or the deadline passes.
func (m *mockEventEmitter) wait(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-m.done:
		case <-deadline:
			t.Fatalf("timed out after %d of %d emits", i, n)
		}
	}
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	// Should not panic
	EmitAsync(nil, context.Background(), NewEvent(EventSignalCreated, "query_api", nil))
}

func TestEmitAsync_NilEvent(t *testing.T) {
	emitter := newMockEmitter()
	EmitAsync(emitter, context.Background(), nil)

	time.Sleep(10 * time.Millisecond)
	if events := emitter.getEvents(); len(events) != 0 {
		t.Errorf("expected 0 events, got %d", len(events))
	}
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := newMockEmitter()
	event := NewEvent(EventSignalCreated, "adapterA", map[string]any{"id": 1})
	event.Kind = "signal"

	EmitAsync(emitter, context.Background(), event)
	emitter.wait(t, 1)

	events := emitter.getEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EventType != EventSignalCreated {
		t.Errorf("event type = %q, want %q", events[0].EventType, EventSignalCreated)
	}
	if events[0].Source != "adapterA" {
		t.Errorf("event source = %q, want %q", events[0].Source, "adapterA")
	}
}

func TestEmitAsync_UsesBackgroundContext(t *testing.T) {
	emitter := newMockEmitter()
	emitter.delay = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // request context already gone

	EmitAsync(emitter, ctx, NewEvent("test", "test", nil))
	emitter.wait(t, 1)

	if events := emitter.getEvents(); len(events) != 1 {
		t.Errorf("expected 1 event (context.Background used), got %d", len(events))
	}
}

func TestEmitAsync_ErrorIsSwallowed(t *testing.T) {
	emitter := newMockEmitter()
	emitter.emitErr = context.DeadlineExceeded
	EmitAsync(emitter, context.Background(), NewEvent("test", "test", nil))
	emitter.wait(t, 1)
}

func TestEmitAsync_ConcurrentAccess(t *testing.T) {
	emitter := newMockEmitter()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(emitter, context.Background(), NewEvent("test", "test", nil))
		}()
	}
	wg.Wait()
	emitter.wait(t, 10)

	if events := emitter.getEvents(); len(events) != 10 {
		t.Errorf("expected 10 events, got %d", len(events))
	}
}

func TestNewEvent(t *testing.T) {
	before := time.Now().UTC()
	e := NewEvent(EventIngestBatch, "gmail", map[string]int{"inserted": 3})
	if e.CreatedAt.Before(before.Add(-time.Second)) || e.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt = %v, want now in UTC", e.CreatedAt)
	}
	if string(e.Metadata) != `{"inserted":3}` {
		t.Errorf("Metadata = %s", e.Metadata)
	}

	// Unmarshalable metadata is dropped, not fatal.
	e = NewEvent("x", "y", map[string]any{"ch": make(chan int)})
	if e.Metadata != nil {
		t.Errorf("Metadata = %s, want nil", e.Metadata)
	}

	b, err := json.Marshal(NewEvent("x", "y", nil))
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	_ = json.Unmarshal(b, &decoded)
	if _, ok := decoded["metadata"]; ok {
		t.Errorf("empty metadata serialized: %s", b)
	}
	if decoded["eventType"] != "x" {
		t.Errorf("eventType = %v", decoded["eventType"])
	}
}

func TestMulti(t *testing.T) {
	a, b := newMockEmitter(), newMockEmitter()
	b.emitErr = errors.New("kafka down")
	m := Multi(a, nil, b)

	err := m.Emit(context.Background(), NewEvent("x", "y", nil))
	if err == nil || err.Error() != "kafka down" {
		t.Errorf("Emit err = %v, want kafka down", err)
	}
	if len(a.getEvents()) != 1 || len(b.getEvents()) != 1 {
		t.Errorf("fan-out counts = %d, %d", len(a.getEvents()), len(b.getEvents()))
	}

	if err := Multi().Emit(context.Background(), NewEvent("x", "y", nil)); err != nil {
		t.Errorf("empty Multi err = %v", err)
	}
}
