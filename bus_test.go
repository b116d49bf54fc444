package xmsg

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus := NewBusBuilder().Build()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = bus.Shutdown(ctx)
	})
	return bus
}

// errRecorder collects error handler callbacks for assertions.
type errRecorder struct {
	mu    sync.Mutex
	kinds []ErrorKind
}

func (r *errRecorder) handler() ErrorHandler {
	return func(_ *Context, kind ErrorKind) {
		r.mu.Lock()
		r.kinds = append(r.kinds, kind)
		r.mu.Unlock()
	}
}

func (r *errRecorder) recorded() []ErrorKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ErrorKind, len(r.kinds))
	copy(out, r.kinds)
	return out
}

func (r *errRecorder) count(kind ErrorKind) int {
	n := 0
	for _, k := range r.recorded() {
		if k == kind {
			n++
		}
	}
	return n
}

func TestEndpointAddressesUnique(t *testing.T) {
	bus := newTestBus(t)
	seen := make(map[Address]bool)
	for i := 0; i < 50; i++ {
		ep := bus.NewEndpoint("ep").Build()
		require.NotNil(t, ep)
		assert.False(t, seen[ep.Address()])
		seen[ep.Address()] = true
	}
}

func TestCloseUnregisters(t *testing.T) {
	bus := newTestBus(t)
	ep := bus.NewEndpoint("a").Build()
	require.NotNil(t, ep)
	addr := ep.Address()

	assert.True(t, ep.IsConnected())
	assert.NotNil(t, bus.endpoint(addr))

	require.NoError(t, ep.Close())
	assert.False(t, ep.IsConnected())
	assert.Nil(t, bus.endpoint(addr))
	assert.ErrorIs(t, ep.Close(), ErrEndpointClosed)
}

func TestSendToClosedEndpointReportsUnknownRecipient(t *testing.T) {
	bus := newTestBus(t)

	target := bus.NewEndpoint("target").
		Handling(BuildTag(1, 1), func(*Context) { t.Error("closed endpoint must not receive") }).
		Build()
	addr := target.Address()
	require.NoError(t, target.Close())

	rec := &errRecorder{}
	sender := bus.NewEndpoint("sender").
		WithErrorHandling(rec.handler()).
		Build()

	sender.Send("hello", BuildTag(1, 1), []Address{addr})

	require.Eventually(t, func() bool {
		return rec.count(ErrorUnknownRecipient) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNotificationListeners(t *testing.T) {
	bus := newTestBus(t)

	var mu sync.Mutex
	var got []BusNotification
	listener := bus.NewEndpoint("listener").
		NotificationHandling(func(n BusNotification) {
			mu.Lock()
			got = append(got, n)
			mu.Unlock()
		}).
		Build()
	require.NotNil(t, listener)

	peer := bus.NewEndpoint("peer").Build()
	peerAddr := peer.Address()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, n := range got {
			if n.Type == NotificationRegistered && n.Address == peerAddr {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, peer.Close())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, n := range got {
			if n.Type == NotificationUnregistered && n.Address == peerAddr {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestShutdownRejectsFurtherOperations(t *testing.T) {
	bus := NewBusBuilder().Build()

	rec := &errRecorder{}
	ep := bus.NewEndpoint("a").
		WithErrorHandling(rec.handler()).
		Build()
	require.NotNil(t, ep)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Shutdown(ctx))

	ep.Publish("late", BuildTag(1, 1))
	assert.Equal(t, []ErrorKind{ErrorBusShutdown}, rec.recorded())

	assert.Nil(t, bus.NewEndpoint("b").Build(), "building against a dead bus returns nil")

	// Idempotent.
	require.NoError(t, bus.Shutdown(ctx))
}

func TestShutdownNotifiesListeners(t *testing.T) {
	bus := NewBusBuilder().Build()

	var mu sync.Mutex
	sawShutdown := false
	bus.NewEndpoint("listener").
		NotificationHandling(func(n BusNotification) {
			if n.Type == NotificationShutdown {
				mu.Lock()
				sawShutdown = true
				mu.Unlock()
			}
		}).
		Build()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Shutdown(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, sawShutdown)
}

func TestDefaultBus(t *testing.T) {
	bus := NewBusBuilder().Build()
	SetDefaultBus(bus)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = bus.Shutdown(ctx)
		defaultBusMu.Lock()
		defaultBus = nil
		defaultBusMu.Unlock()
	})

	assert.Same(t, bus, DefaultBus())

	ep := NewEndpoint("via-default").Build()
	require.NotNil(t, ep)
	assert.Same(t, bus, ep.bus)

	assert.Panics(t, func() { SetDefaultBus(nil) })
}

func TestObserverReceivesEvents(t *testing.T) {
	bus := newTestBus(t)

	var mu sync.Mutex
	types := make(map[EventType]int)
	bus.AddObserver(ObserverFunc(func(e Event) {
		mu.Lock()
		types[e.Type]++
		mu.Unlock()
	}))

	tag := BuildTag(2, 2)
	sub := bus.NewEndpoint("sub").
		Handling(tag, func(*Context) {}).
		Build()
	sub.Subscribe(tag)

	pub := bus.NewEndpoint("pub").Build()
	pub.Publish("x", tag)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return types[EventPublished] >= 1 && types[EventDelivered] >= 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMetricsSnapshot(t *testing.T) {
	bus := newTestBus(t)

	tag := BuildTag(3, 3)
	delivered := make(chan struct{}, 1)
	sub := bus.NewEndpoint("sub").
		Handling(tag, func(*Context) { delivered <- struct{}{} }).
		Build()
	sub.Subscribe(tag)

	pub := bus.NewEndpoint("pub").Build()
	pub.Publish("x", tag)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery timed out")
	}

	require.Eventually(t, func() bool {
		m := bus.GetMetrics()
		return m.Published == 1 && m.Delivered == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRemoveObserver(t *testing.T) {
	bus := newTestBus(t)
	obs := ObserverFunc(func(Event) {})
	bus.AddObserver(obs)
	bus.RemoveObserver(obs)
}
