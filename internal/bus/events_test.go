package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var received int32
	eb.On("test.event", func(e Event) {
		atomic.AddInt32(&received, 1)
	})

	eb.Emit(Event{Type: "test.event", EventID: "evt-1", Payload: map[string]any{"key": "value"}})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	eb.On("*", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: "event.a"})
	eb.Emit(Event{Type: "event.b"})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	id := eb.On("test.event", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: "test.event"})
	eb.Off("test.event", id)
	eb.Emit(Event{Type: "test.event"})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestEventBus_OffKeepsOtherHandlers(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var first, second int32
	id := eb.On(EventDeliverySent, func(e Event) { atomic.AddInt32(&first, 1) })
	eb.On(EventDeliverySent, func(e Event) { atomic.AddInt32(&second, 1) })
	eb.Off(EventDeliverySent, id)

	// Registering after removal must not reuse the removed handler's ID.
	third := eb.On(EventDeliverySent, func(e Event) {})
	if third == id {
		t.Fatalf("handler ID %q was reused", id)
	}

	eb.Emit(Event{Type: EventDeliverySent})
	if atomic.LoadInt32(&first) != 0 || atomic.LoadInt32(&second) != 1 {
		t.Errorf("expected only the remaining handler to fire, got first=%d second=%d", first, second)
	}
}

func TestEventBus_NilIsNoop(t *testing.T) {
	var eb *EventBus
	eb.Emit(Event{Type: EventRouted})
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	eb.On("panic", func(e Event) {
		panic("test panic")
	})

	// Should not panic the caller
	eb.Emit(Event{Type: "panic"})
}

func TestEventBus_MultipleHandlers(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	eb.On("test", func(e Event) { atomic.AddInt32(&count, 1) })
	eb.On("test", func(e Event) { atomic.AddInt32(&count, 1) })
	eb.On("test", func(e Event) { atomic.AddInt32(&count, 1) })

	eb.Emit(Event{Type: "test"})

	if atomic.LoadInt32(&count) != 3 {
		t.Errorf("expected 3 handlers called, got %d", count)
	}
}

func TestEventBus_TimestampAutoSet(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var got Event
	eb.On("test", func(e Event) { got = e })

	before := time.Now()
	eb.Emit(Event{Type: "test"})

	if got.Timestamp.Before(before) {
		t.Errorf("timestamp should be auto-set, got %v", got.Timestamp)
	}

	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	eb.Emit(Event{Type: "test", Timestamp: fixed})
	if !got.Timestamp.Equal(fixed) {
		t.Errorf("explicit timestamp must be kept, got %v", got.Timestamp)
	}
}
