package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/domain/shared"
)

type testEvent struct {
	shared.BaseDomainEvent
}

func newTestEvent(eventType string) *testEvent {
	return &testEvent{BaseDomainEvent: shared.NewBaseDomainEvent(eventType, "TestAggregate", uuid.New())}
}

type recordingHandler struct {
	mu      sync.Mutex
	types   []string
	handled []shared.DomainEvent
	err     error
}

func (h *recordingHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, event)
	return h.err
}

func (h *recordingHandler) EventTypes() []string { return h.types }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func TestInMemoryEventBus_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers to subscribers of the event type", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		status := &recordingHandler{}
		other := &recordingHandler{}
		bus.Subscribe(status, bundlesync.EventTypeSyncStatusChanged)
		bus.Subscribe(other, "SomethingElse")

		require.NoError(t, bus.Publish(ctx, newTestEvent(bundlesync.EventTypeSyncStatusChanged)))
		assert.Equal(t, 1, status.count())
		assert.Equal(t, 0, other.count())
	})

	t.Run("handler without types receives everything", func(t *testing.T) {
		bus := NewInMemoryEventBus(nil)
		all := &recordingHandler{}
		bus.Subscribe(all)

		require.NoError(t, bus.Publish(ctx, newTestEvent("A"), newTestEvent("B")))
		assert.Equal(t, 2, all.count())
	})

	t.Run("uses the handler's declared types", func(t *testing.T) {
		bus := NewInMemoryEventBus(nil)
		h := &recordingHandler{types: []string{"A"}}
		bus.Subscribe(h)

		require.NoError(t, bus.Publish(ctx, newTestEvent("A"), newTestEvent("B")))
		assert.Equal(t, 1, h.count())
	})

	t.Run("failing handler is logged and does not stop others", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		bus := NewInMemoryEventBus(zap.New(core))
		failing := &recordingHandler{err: errors.New("boom")}
		ok := &recordingHandler{}
		bus.Subscribe(failing, "A")
		bus.Subscribe(ok, "A")

		require.NoError(t, bus.Publish(ctx, newTestEvent("A")))
		assert.Equal(t, 1, ok.count())
		assert.Equal(t, 1, logs.FilterMessage("Event handler failed").Len())
	})

	t.Run("panicking handler is recovered", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		bus := NewInMemoryEventBus(zap.New(core))
		bus.Subscribe(NewFuncHandler(func(context.Context, shared.DomainEvent) error {
			panic("bad handler")
		}), "A")
		after := &recordingHandler{}
		bus.Subscribe(after, "A")

		require.NoError(t, bus.Publish(ctx, newTestEvent("A")))
		assert.Equal(t, 1, after.count())
		require.Equal(t, 1, logs.Len())
		assert.Contains(t, logs.All()[0].ContextMap()["error"], "bad handler")
	})

	t.Run("stopped bus drops events", func(t *testing.T) {
		bus := NewInMemoryEventBus(nil)
		h := &recordingHandler{}
		bus.Subscribe(h, "A")
		require.NoError(t, bus.Stop(ctx))

		require.NoError(t, bus.Publish(ctx, newTestEvent("A")))
		assert.Equal(t, 0, h.count())

		require.NoError(t, bus.Start(ctx))
		require.NoError(t, bus.Publish(ctx, newTestEvent("A")))
		assert.Equal(t, 1, h.count())
	})
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	var calls int
	fh := NewFuncHandler(func(context.Context, shared.DomainEvent) error {
		calls++
		return nil
	}, "A")
	bus.Subscribe(fh)

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("A")))
	bus.Unsubscribe(fh)
	require.NoError(t, bus.Publish(context.Background(), newTestEvent("A")))

	assert.Equal(t, 1, calls)
}

func TestHandlerRegistry(t *testing.T) {
	t.Run("re-registering widens types without duplicating", func(t *testing.T) {
		r := NewHandlerRegistry()
		h := &recordingHandler{}
		r.Register(h, "A")
		r.Register(h, "B")

		assert.Equal(t, 1, r.Len())
		assert.Len(t, r.GetHandlers("A"), 1)
		assert.Len(t, r.GetHandlers("B"), 1)
		assert.Empty(t, r.GetHandlers("C"))
	})

	t.Run("registering without types makes a handler wildcard", func(t *testing.T) {
		r := NewHandlerRegistry()
		h := &recordingHandler{}
		r.Register(h, "A")
		r.Register(h)

		assert.Len(t, r.GetHandlers("anything"), 1)
	})

	t.Run("preserves registration order", func(t *testing.T) {
		r := NewHandlerRegistry()
		first, second := &recordingHandler{}, &recordingHandler{}
		r.Register(first)
		r.Register(second, "A")

		got := r.GetHandlers("A")
		require.Len(t, got, 2)
		assert.Same(t, first, got[0])
		assert.Same(t, second, got[1])
	})

	t.Run("unregister removes only the target", func(t *testing.T) {
		r := NewHandlerRegistry()
		a, b := &recordingHandler{}, &recordingHandler{}
		r.Register(a, "A")
		r.Register(b, "A")
		r.Unregister(a)

		got := r.GetHandlers("A")
		require.Len(t, got, 1)
		assert.Same(t, b, got[0])
	})
}
