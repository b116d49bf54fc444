package xmsg

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Bus is the central router maintaining endpoint registrations,
// subscriptions and the dispatch pipeline. It holds no owning reference to
// endpoints: closing an endpoint unregisters it.
type Bus struct {
	logger     *xlog.Logger
	clock      xclock.Clock
	dispatcher Dispatcher
	// ownedDispatcher is closed on shutdown when the bus created its own.
	ownedDispatcher *LoopDispatcher

	mu        sync.RWMutex
	endpoints map[Address]*Endpoint
	listeners []*Endpoint

	subscriptions *subscriptionTable
	router        *router

	observersMu sync.RWMutex
	observers   []Observer
	pool        *observerPool

	metrics   busMetrics
	closed    atomic.Bool
	closeOnce sync.Once

	defaultInboxCapacity int
}

// busMetrics uses lock-free atomics on the hot path.
type busMetrics struct {
	published atomic.Uint64
	sent      atomic.Uint64
	forwarded atomic.Uint64
	delivered atomic.Uint64
	expired   atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
}

// Metrics is a point-in-time snapshot of bus telemetry.
type Metrics struct {
	Published     uint64
	Sent          uint64
	Forwarded     uint64
	Delivered     uint64
	Expired       uint64
	Dropped       uint64
	Errors        uint64
	EventsDropped uint64
}

// GetMetrics returns current bus metrics.
func (b *Bus) GetMetrics() Metrics {
	return Metrics{
		Published:     b.metrics.published.Load(),
		Sent:          b.metrics.sent.Load(),
		Forwarded:     b.metrics.forwarded.Load(),
		Delivered:     b.metrics.delivered.Load(),
		Expired:       b.metrics.expired.Load(),
		Dropped:       b.metrics.dropped.Load(),
		Errors:        b.metrics.errors.Load(),
		EventsDropped: b.pool.stats().Dropped,
	}
}

func (b *Bus) isClosed() bool { return b.closed.Load() }

// endpoint resolves a registered endpoint by address, or nil.
func (b *Bus) endpoint(addr Address) *Endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.endpoints[addr]
}

// register attaches a freshly built endpoint. Double registration of the
// same address indicates a bug in the bus itself and is fatal.
func (b *Bus) register(ep *Endpoint) bool {
	if b.closed.Load() {
		return false
	}
	b.mu.Lock()
	if _, exists := b.endpoints[ep.Address()]; exists {
		b.mu.Unlock()
		panic(fmt.Sprintf("xmsg: address %s registered twice", ep.Address()))
	}
	b.endpoints[ep.Address()] = ep
	if ep.notifyFn != nil {
		b.listeners = append(b.listeners, ep)
	}
	b.mu.Unlock()

	ep.state.Store(int32(stateRegistered))
	b.notifyAsync(Event{Type: EventRegistered, Sender: ep.Address()})
	b.broadcast(BusNotification{Type: NotificationRegistered, Address: ep.Address()})
	return true
}

// unregister detaches an endpoint and removes its subscriptions.
func (b *Bus) unregister(ep *Endpoint) {
	b.mu.Lock()
	delete(b.endpoints, ep.Address())
	for i, l := range b.listeners {
		if l == ep {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	b.subscriptions.unsubscribeAll(ep.Address())
	b.notifyAsync(Event{Type: EventUnregistered, Sender: ep.Address()})
	b.broadcast(BusNotification{Type: NotificationUnregistered, Address: ep.Address()})
}

// broadcast delivers a lifecycle notification to every listener on the
// router goroutine.
func (b *Bus) broadcast(n BusNotification) {
	b.mu.RLock()
	listeners := make([]*Endpoint, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	if len(listeners) == 0 {
		return
	}
	b.router.submit(func() {
		for _, l := range listeners {
			l.notifyFn(n)
		}
	})
}

// reportError routes a delivery-path failure back to the sender.
func (b *Bus) reportError(sender *Endpoint, ctx *Context, kind ErrorKind) {
	if sender != nil {
		sender.notifyError(ctx, kind)
		return
	}
	b.metrics.errors.Add(1)
}

// AddObserver registers an observer for bus events.
func (b *Bus) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	b.observers = append(b.observers, obs)
	b.observersMu.Unlock()
}

// RemoveObserver removes a previously added observer.
func (b *Bus) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	defer b.observersMu.Unlock()
	for i, o := range b.observers {
		if sameObserver(o, obs) {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			break
		}
	}
}

// sameObserver compares observer identity. Function-backed observers
// compare by code pointer so ObserverFunc values can be removed.
func sameObserver(a, b Observer) bool {
	ra := reflect.ValueOf(a)
	rb := reflect.ValueOf(b)
	if ra.Kind() == reflect.Func || rb.Kind() == reflect.Func {
		return ra.Kind() == rb.Kind() && ra.Pointer() == rb.Pointer()
	}
	if !ra.Comparable() || !rb.Comparable() {
		return false
	}
	return a == b
}

// notifyAsync dispatches an event through the observer pool without
// blocking the caller.
func (b *Bus) notifyAsync(e Event) {
	b.observersMu.RLock()
	if len(b.observers) == 0 {
		b.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.observersMu.RUnlock()

	b.pool.notify(e, observers)
}

// Shutdown marks all endpoints unregistering, drains pending deliveries
// with a best-effort flush bounded by ctx's deadline, then rejects further
// operations. Idempotent.
func (b *Bus) Shutdown(ctx context.Context) error {
	var shutdownErr error

	b.closeOnce.Do(func() {
		b.closed.Store(true)

		b.mu.Lock()
		endpoints := make([]*Endpoint, 0, len(b.endpoints))
		for _, ep := range b.endpoints {
			endpoints = append(endpoints, ep)
		}
		b.mu.Unlock()

		for _, ep := range endpoints {
			ep.state.CompareAndSwap(int32(stateRegistered), int32(stateUnregistering))
		}
		b.broadcast(BusNotification{Type: NotificationShutdown})
		b.notifyAsync(Event{Type: EventShutdown})

		// Flush: everything submitted before stop() is drained by the
		// router before its goroutine exits.
		b.router.stop()
		select {
		case <-b.router.done:
		case <-ctx.Done():
			shutdownErr = ErrShutdownTimeout
		}

		if err := b.pool.close(5 * time.Second); err != nil {
			b.logger.Warn().Err(err).Msg("xmsg: observer pool shutdown timeout")
			if shutdownErr == nil {
				shutdownErr = err
			}
		}
		if b.ownedDispatcher != nil {
			b.ownedDispatcher.Close()
		}

		for _, ep := range endpoints {
			ep.state.Store(int32(stateClosed))
		}
		b.mu.Lock()
		b.endpoints = make(map[Address]*Endpoint)
		b.listeners = nil
		b.mu.Unlock()
	})

	return shutdownErr
}
