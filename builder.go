package xmsg

import (
	"sync"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// BusBuilder constructs Bus instances. All options are optional; defaults
// are suitable for in-process use.
type BusBuilder struct {
	logger        *xlog.Logger
	clock         xclock.Clock
	dispatcher    Dispatcher
	observers     []Observer
	poolWorkers   int
	poolBuffer    int
	queueCapacity int
	inboxCapacity int
}

// NewBusBuilder returns a builder with sensible defaults.
func NewBusBuilder() *BusBuilder {
	return &BusBuilder{}
}

func (bb *BusBuilder) WithLogger(l *xlog.Logger) *BusBuilder {
	bb.logger = l
	return bb
}

func (bb *BusBuilder) WithClock(c xclock.Clock) *BusBuilder {
	bb.clock = c
	return bb
}

// WithDispatcher injects the host's thread-dispatch implementation.
// Defaults to a LoopDispatcher owned (and closed) by the bus.
func (bb *BusBuilder) WithDispatcher(d Dispatcher) *BusBuilder {
	bb.dispatcher = d
	return bb
}

func (bb *BusBuilder) WithObserver(obs ...Observer) *BusBuilder {
	for _, o := range obs {
		if o != nil {
			bb.observers = append(bb.observers, o)
		}
	}
	return bb
}

// WithObserverPool sizes the async observer dispatch pool.
func (bb *BusBuilder) WithObserverPool(workers, bufferSize int) *BusBuilder {
	bb.poolWorkers = workers
	bb.poolBuffer = bufferSize
	return bb
}

// WithQueueCapacity sizes the router's emission queue.
func (bb *BusBuilder) WithQueueCapacity(n int) *BusBuilder {
	if n > 0 {
		bb.queueCapacity = n
	}
	return bb
}

// WithDefaultInboxCapacity bounds endpoint inboxes built without an
// explicit capacity. Zero means unbounded.
func (bb *BusBuilder) WithDefaultInboxCapacity(n int) *BusBuilder {
	bb.inboxCapacity = n
	return bb
}

// Build constructs the bus and starts its router goroutine.
func (bb *BusBuilder) Build() *Bus {
	lg := bb.logger
	if lg == nil {
		lg = xlog.Default()
	}
	clk := bb.clock
	if clk == nil {
		clk = xclock.Default()
	}

	b := &Bus{
		logger:               lg,
		clock:                clk,
		dispatcher:           bb.dispatcher,
		endpoints:            make(map[Address]*Endpoint),
		subscriptions:        newSubscriptionTable(),
		pool:                 newObserverPool(bb.poolWorkers, bb.poolBuffer),
		defaultInboxCapacity: bb.inboxCapacity,
	}
	if b.dispatcher == nil {
		b.ownedDispatcher = NewLoopDispatcher()
		b.dispatcher = b.ownedDispatcher
	}
	b.router = newRouter(b, bb.queueCapacity)

	// Logging observer first for dependable telemetry unless one was
	// supplied externally.
	hasLogging := false
	for _, o := range bb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLogging = true
			break
		}
	}
	if !hasLogging {
		b.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range bb.observers {
		b.AddObserver(o)
	}

	go b.router.run()
	return b
}

var (
	defaultBus   *Bus
	defaultBusMu sync.Mutex
)

// DefaultBus returns the process-wide bus, lazily initializing it with
// default options on first use.
func DefaultBus() *Bus {
	defaultBusMu.Lock()
	defer defaultBusMu.Unlock()
	if defaultBus == nil {
		defaultBus = NewBusBuilder().Build()
	}
	return defaultBus
}

// SetDefaultBus replaces the process-wide default bus.
func SetDefaultBus(b *Bus) {
	if b == nil {
		panic("xmsg: SetDefaultBus called with nil Bus")
	}
	defaultBusMu.Lock()
	defaultBus = b
	defaultBusMu.Unlock()
}

type pendingHandler struct {
	tag      Tag
	catchall bool
	handler  Handler
}

// EndpointBuilder assembles an endpoint with handlers and options.
// Subscriptions are not issued by the builder; the owner subscribes after
// construction.
type EndpointBuilder struct {
	bus             *Bus
	name            string
	handlers        []pendingHandler
	recipientThread ThreadID
	explicitThread  bool
	inbox           bool
	inboxCapacity   int
	disabled        bool
	notifyFn        NotificationHandler
	errFn           ErrorHandler
}

// NewEndpoint starts building an endpoint on the default bus. The name is
// for debugging only.
func NewEndpoint(name string) *EndpointBuilder {
	return DefaultBus().NewEndpoint(name)
}

// NewEndpoint starts building an endpoint attached to this bus.
func (b *Bus) NewEndpoint(name string) *EndpointBuilder {
	return &EndpointBuilder{bus: b, name: name}
}

// Handling adds a message handler for tag. Multiple handlers for the same
// tag are legal; each is invoked in registration order.
func (eb *EndpointBuilder) Handling(tag Tag, fn func(ctx *Context)) *EndpointBuilder {
	return eb.WithHandler(tag, HandlerFunc(fn))
}

// WithHandler registers a custom Handler for tag.
func (eb *EndpointBuilder) WithHandler(tag Tag, h Handler) *EndpointBuilder {
	if h != nil {
		eb.handlers = append(eb.handlers, pendingHandler{tag: tag, handler: h})
	}
	return eb
}

// WithCatchall adds a handler invoked for every delivered message
// regardless of tag.
func (eb *EndpointBuilder) WithCatchall(fn func(ctx *Context)) *EndpointBuilder {
	return eb.WithCatchallHandler(HandlerFunc(fn))
}

// WithCatchallHandler registers a custom catch-all Handler.
func (eb *EndpointBuilder) WithCatchallHandler(h Handler) *EndpointBuilder {
	if h != nil {
		eb.handlers = append(eb.handlers, pendingHandler{catchall: true, handler: h})
	}
	return eb
}

// ReceivingOnAnyThread delivers inline on the router goroutine. Fastest,
// but the receiving code must be thread-safe and quick: it blocks the
// router while handlers run.
func (eb *EndpointBuilder) ReceivingOnAnyThread() *EndpointBuilder {
	eb.recipientThread = AnyThread
	eb.explicitThread = true
	return eb
}

// ReceivingOnThread delivers on the named host thread.
func (eb *EndpointBuilder) ReceivingOnThread(thread ThreadID) *EndpointBuilder {
	eb.recipientThread = thread
	eb.explicitThread = true
	return eb
}

// WithInbox defers deliveries to the endpoint's inbox for synchronous
// draining via ProcessInbox. Forces AnyThread delivery.
func (eb *EndpointBuilder) WithInbox() *EndpointBuilder {
	eb.inbox = true
	return eb
}

// WithInboxCapacity bounds the inbox; when full the oldest entry is
// dropped. Implies WithInbox. Zero means unbounded.
func (eb *EndpointBuilder) WithInboxCapacity(n int) *EndpointBuilder {
	eb.inbox = true
	eb.inboxCapacity = n
	return eb
}

// ThatIsDisabled builds the endpoint in the disabled state.
func (eb *EndpointBuilder) ThatIsDisabled() *EndpointBuilder {
	eb.disabled = true
	return eb
}

// NotificationHandling subscribes the endpoint to peer lifecycle events.
func (eb *EndpointBuilder) NotificationHandling(fn NotificationHandler) *EndpointBuilder {
	eb.notifyFn = fn
	return eb
}

// WithErrorHandling observes delivery-path failures for messages this
// endpoint emits.
func (eb *EndpointBuilder) WithErrorHandling(fn ErrorHandler) *EndpointBuilder {
	eb.errFn = fn
	return eb
}

// Build constructs the endpoint and registers it with the bus. Returns nil
// if the bus has been shut down; this is the only normal-path failure.
func (eb *EndpointBuilder) Build() *Endpoint {
	if eb.bus == nil || eb.bus.isClosed() {
		return nil
	}

	capacity := eb.inboxCapacity
	if capacity == 0 {
		capacity = eb.bus.defaultInboxCapacity
	}
	ep := newEndpoint(eb.name, eb.bus, capacity)
	ep.errFn = eb.errFn
	ep.notifyFn = eb.notifyFn

	for _, p := range eb.handlers {
		if p.catchall {
			ep.registry.registerCatchall(p.handler)
		} else {
			ep.registry.register(p.tag, p.handler)
		}
	}

	switch {
	case eb.inbox:
		ep.EnableInbox()
	case eb.explicitThread:
		ep.recipientThread = eb.recipientThread
	default:
		ep.recipientThread = eb.bus.dispatcher.Current()
	}
	if eb.disabled {
		ep.Disable()
	}

	if !eb.bus.register(ep) {
		return nil
	}
	return ep
}
