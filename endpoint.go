package xmsg

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

type endpointState int32

const (
	stateCreated endpointState = iota
	stateRegistered
	stateUnregistering
	stateClosed
)

// emitParams collects the optional knobs of an emission.
type emitParams struct {
	scope       Scope
	flags       Flags
	annotations []Annotation
	attachment  Attachment
	expiration  time.Time
	delay       time.Duration
}

// EmitOption configures a single Publish, Send or Forward call.
type EmitOption func(*emitParams)

// WithScope declares the delivery reach of the emission. Defaults to
// ScopeProcess.
func WithScope(s Scope) EmitOption {
	return func(p *emitParams) { p.scope = s }
}

// WithFlags sets message flags, preserved on the context for transport
// adapters.
func WithFlags(f Flags) EmitOption {
	return func(p *emitParams) { p.flags = f }
}

// WithAnnotations attaches named string annotations in the given order.
func WithAnnotations(annotations ...Annotation) EmitOption {
	return func(p *emitParams) { p.annotations = append(p.annotations, annotations...) }
}

// WithAttachment attaches a binary byte source to the message.
func WithAttachment(a Attachment) EmitOption {
	return func(p *emitParams) { p.attachment = a }
}

// WithExpiration discards the message once the given time is reached
// before delivery. The zero time means "never".
func WithExpiration(t time.Time) EmitOption {
	return func(p *emitParams) { p.expiration = t }
}

// WithDelay stages the emission in the router's delay queue.
func WithDelay(d time.Duration) EmitOption {
	return func(p *emitParams) { p.delay = d }
}

// Endpoint is the user-facing send/receive object. All public methods are
// safe to call from any goroutine.
type Endpoint struct {
	name    string
	address Address
	bus     *Bus

	registry *handlerRegistry
	errFn    ErrorHandler
	notifyFn NotificationHandler

	state        atomic.Int32
	enabled      atomic.Bool
	inboxEnabled atomic.Bool
	inbox        *inbox

	threadMu        sync.Mutex
	recipientThread ThreadID

	logger *xlog.Logger
	clock  xclock.Clock
}

func newEndpoint(name string, bus *Bus, inboxCapacity int) *Endpoint {
	ep := &Endpoint{
		name:    name,
		address: NewAddress(),
		bus:     bus,
		inbox:   newInbox(inboxCapacity),
		logger:  bus.logger.With(xlog.Str("endpoint", name)),
		clock:   bus.clock,
	}
	ep.registry = newHandlerRegistry(ep.logger)
	ep.enabled.Store(true)
	return ep
}

// Address returns the endpoint's stable opaque identity.
func (e *Endpoint) Address() Address { return e.address }

// Name returns the endpoint's debug name.
func (e *Endpoint) Name() string { return e.name }

// IsConnected reports whether the endpoint is currently registered with
// its bus.
func (e *Endpoint) IsConnected() bool {
	return endpointState(e.state.Load()) == stateRegistered
}

// IsEnabled reports whether the endpoint accepts deliveries.
func (e *Endpoint) IsEnabled() bool { return e.enabled.Load() }

// Enable resumes message delivery and emission.
func (e *Endpoint) Enable() { e.enabled.Store(true) }

// Disable drops incoming messages before dispatch and suppresses outgoing
// emissions. The endpoint keeps its address and subscriptions.
func (e *Endpoint) Disable() { e.enabled.Store(false) }

// Publish emits a message to every subscriber of tag within the emission
// scope. Fire-and-forget: delivery failures surface via the error handler.
func (e *Endpoint) Publish(payload any, tag Tag, opts ...EmitOption) {
	e.emit(payload, tag, nil, opts)
}

// Send emits a message to an explicit, non-empty recipient list. Unknown
// recipients are reported via the error handler without aborting delivery
// to the remaining recipients.
func (e *Endpoint) Send(payload any, tag Tag, recipients []Address, opts ...EmitOption) {
	if len(recipients) == 0 {
		e.logger.Warn().Msg("xmsg: Send requires at least one recipient")
		return
	}
	e.emit(payload, tag, recipients, opts)
}

func (e *Endpoint) emit(payload any, tag Tag, recipients []Address, opts []EmitOption) {
	p := emitParams{scope: ScopeProcess}
	for _, opt := range opts {
		opt(&p)
	}

	now := e.clock.Now()
	senderThread := e.bus.dispatcher.Current()

	var ctx *Context
	if info := TypeOf(payload); info != nil {
		ctx = newContext(payload, info, tag, p.annotations, p.attachment,
			e.address, recipients, p.scope, p.flags, now, p.expiration, senderThread)
	} else {
		ctx = newTaggedContext(tag, payload, p.annotations, p.attachment,
			e.address, recipients, p.scope, p.flags, now, p.expiration, senderThread)
	}

	if !e.IsConnected() {
		e.notifyError(ctx, e.detachedKind())
		return
	}
	if !e.enabled.Load() {
		return
	}

	if len(recipients) > 0 {
		e.bus.metrics.sent.Add(1)
		e.bus.notifyAsync(Event{Type: EventSent, Tag: tag, Sender: e.address, Context: ctx})
	} else {
		e.bus.metrics.published.Add(1)
		e.bus.notifyAsync(Event{Type: EventPublished, Tag: tag, Sender: e.address, Context: ctx})
	}
	e.bus.router.emit(e, ctx, p.delay)
}

// Forward re-emits a received message to new recipients, preserving the
// original context as provenance. The payload is aliased, never copied.
// The forwarded scope may only narrow; widening is clamped with a warning.
func (e *Endpoint) Forward(ctx *Context, recipients []Address, delay time.Duration, opts ...EmitOption) {
	p := emitParams{scope: ctx.Scope()}
	for _, opt := range opts {
		opt(&p)
	}
	if p.scope > ctx.Scope() {
		e.logger.With(
			xlog.Str("requested", p.scope.String()),
			xlog.Str("original", ctx.Scope().String()),
		).Warn().Msg("xmsg: forward scope widened, clamping to original")
		p.scope = ctx.Scope()
	}

	fwd := newForwardContext(ctx, e.address, recipients, p.scope,
		e.clock.Now(), e.bus.dispatcher.Current())

	if !e.IsConnected() {
		e.notifyError(fwd, e.detachedKind())
		return
	}
	if !e.enabled.Load() {
		return
	}

	e.bus.metrics.forwarded.Add(1)
	e.bus.notifyAsync(Event{Type: EventForwarded, Tag: fwd.Tag(), Sender: e.address, Context: fwd})
	e.bus.router.emit(e, fwd, delay)
}

// Subscribe registers interest in tag at the widest scope.
func (e *Endpoint) Subscribe(tag Tag) {
	e.SubscribeInScope(tag, ScopeAll)
}

// SubscribeInScope registers interest in tag for publishes whose scope does
// not exceed mask. Re-subscribing replaces the mask.
func (e *Endpoint) SubscribeInScope(tag Tag, mask Scope) {
	if !e.IsConnected() {
		return
	}
	e.bus.subscriptions.subscribe(tag, e, mask)
}

// Unsubscribe removes the subscription for tag.
func (e *Endpoint) Unsubscribe(tag Tag) {
	e.bus.subscriptions.unsubscribe(tag, e.address)
}

// UnsubscribeAll removes every subscription held by this endpoint.
func (e *Endpoint) UnsubscribeAll() {
	e.bus.subscriptions.unsubscribeAll(e.address)
}

// Register adds a handler for tag. Duplicates are permitted; each fires.
func (e *Endpoint) Register(tag Tag, h Handler) {
	e.registry.register(tag, h)
}

// Unregister removes the first handler matching (tag, identity).
func (e *Endpoint) Unregister(tag Tag, h Handler) {
	e.registry.unregister(tag, h)
}

// RegisterCatchall adds a handler invoked for every delivered message.
func (e *Endpoint) RegisterCatchall(h Handler) {
	e.registry.registerCatchall(h)
}

// EnableInbox switches deliveries from handler dispatch to the deferred
// inbox. The recipient thread is forced to AnyThread: the inbox is the
// deferred thread.
func (e *Endpoint) EnableInbox() {
	e.inboxEnabled.Store(true)
	e.threadMu.Lock()
	e.recipientThread = AnyThread
	e.threadMu.Unlock()
}

// DisableInbox resumes direct handler dispatch. Messages already buffered
// stay in the inbox until processed.
func (e *Endpoint) DisableInbox() {
	e.inboxEnabled.Store(false)
}

// InboxEnabled reports whether deliveries are being deferred.
func (e *Endpoint) InboxEnabled() bool { return e.inboxEnabled.Load() }

// ProcessInbox pops up to maxCount buffered messages (non-positive means
// all) and dispatches them synchronously on the calling goroutine, stopping
// early once deadline passes (zero deadline means none). Returns the number
// of messages dispatched.
func (e *Endpoint) ProcessInbox(maxCount int, deadline time.Time) int {
	processed := 0
	for maxCount <= 0 || processed < maxCount {
		now := e.clock.Now()
		if !deadline.IsZero() && !now.Before(deadline) {
			break
		}
		ctx := e.inbox.pop()
		if ctx == nil {
			break
		}
		if ctx.expired(now) {
			e.bus.metrics.expired.Add(1)
			continue
		}
		faults := e.registry.dispatch(ctx)
		e.afterDispatch(ctx, faults)
		processed++
	}
	return processed
}

// SetRecipientThread selects the thread deliveries are posted to.
// AnyThread means "dispatch inline on the router goroutine". Ignored while
// the inbox is enabled.
func (e *Endpoint) SetRecipientThread(thread ThreadID) {
	if e.inboxEnabled.Load() && thread != AnyThread {
		e.logger.Warn().Msg("xmsg: recipient thread forced to AnyThread while inbox is enabled")
		return
	}
	e.threadMu.Lock()
	e.recipientThread = thread
	e.threadMu.Unlock()
}

// RecipientThread returns the configured delivery thread.
func (e *Endpoint) RecipientThread() ThreadID {
	e.threadMu.Lock()
	defer e.threadMu.Unlock()
	return e.recipientThread
}

// Close unregisters the endpoint from the bus. Subsequent emissions report
// ErrorUnknownSender through the error handler; in-flight deliveries to
// this endpoint are skipped. Idempotent.
func (e *Endpoint) Close() error {
	if !e.state.CompareAndSwap(int32(stateRegistered), int32(stateUnregistering)) {
		return ErrEndpointClosed
	}
	e.bus.unregister(e)
	e.state.Store(int32(stateClosed))
	return nil
}

// receive executes one delivery on the endpoint's affinity thread.
func (e *Endpoint) receive(ctx *Context) {
	// The task may have been queued for a while; re-check expiry first so
	// that a disabled endpoint still keeps expiry metrics consistent.
	if ctx.expired(e.clock.Now()) {
		e.bus.metrics.expired.Add(1)
		e.bus.notifyAsync(Event{Type: EventExpired, Tag: ctx.Tag(), Sender: ctx.Sender(), Recipient: e.address, Context: ctx})
		return
	}
	if !e.IsConnected() || !e.enabled.Load() {
		return
	}

	if e.inboxEnabled.Load() {
		evicted, overflowed := e.inbox.push(ctx)
		if overflowed {
			e.bus.metrics.dropped.Add(1)
			e.bus.notifyAsync(Event{Type: EventDropped, Tag: evicted.Tag(), Sender: evicted.Sender(), Recipient: e.address, Context: evicted, Kind: ErrorInboxOverflow})
			if evicted.Flags().Has(FlagReliable) {
				e.bus.reportError(e.bus.endpoint(evicted.Sender()), evicted, ErrorInboxOverflow)
			}
		}
		return
	}

	start := e.clock.Now()
	faults := e.registry.dispatch(ctx)
	e.afterDispatch(ctx, faults)
	e.bus.notifyAsync(Event{
		Type:      EventDelivered,
		Tag:       ctx.Tag(),
		Sender:    ctx.Sender(),
		Recipient: e.address,
		Context:   ctx,
		Duration:  e.clock.Since(start),
	})
}

func (e *Endpoint) afterDispatch(ctx *Context, faults int) {
	e.bus.metrics.delivered.Add(1)
	if faults > 0 {
		e.bus.metrics.errors.Add(uint64(faults))
		e.bus.notifyAsync(Event{Type: EventHandlerError, Tag: ctx.Tag(), Sender: ctx.Sender(), Recipient: e.address, Context: ctx})
	}
}

// detachedKind classifies an emission from an endpoint that is no longer
// registered: the whole bus went down, or just this endpoint.
func (e *Endpoint) detachedKind() ErrorKind {
	if e.bus.isClosed() {
		return ErrorBusShutdown
	}
	return ErrorUnknownSender
}

// notifyError surfaces a delivery-path failure for a message this endpoint
// emitted.
func (e *Endpoint) notifyError(ctx *Context, kind ErrorKind) {
	e.bus.metrics.errors.Add(1)
	if e.errFn != nil {
		e.errFn(ctx, kind)
		return
	}
	e.logger.With(
		xlog.Str("tag", ctx.Tag().String()),
	).Debug().Err(&MessageError{Kind: kind, Context: ctx}).Msg("xmsg: message error")
}
