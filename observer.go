package xmsg

import (
	"time"

	"github.com/trickstertwo/xlog"
)

// EventType enumerates message and endpoint lifecycle events for the
// Observer pattern.
type EventType string

const (
	EventPublished    EventType = "published"
	EventSent         EventType = "sent"
	EventForwarded    EventType = "forwarded"
	EventDelivered    EventType = "delivered"
	EventExpired      EventType = "expired"
	EventDropped      EventType = "dropped"
	EventHandlerError EventType = "handler_error"
	EventRegistered   EventType = "registered"
	EventUnregistered EventType = "unregistered"
	EventShutdown     EventType = "shutdown"
)

// Event carries telemetry for observers. Message events reference the
// shared delivery context; endpoint events carry only the address.
type Event struct {
	Type      EventType
	Tag       Tag
	Sender    Address
	Recipient Address
	Context   *Context
	Duration  time.Duration
	Kind      ErrorKind

	// Internal: attached for async dispatch.
	observers []Observer
}

// Observer receives bus lifecycle events. Implementations should be
// non-blocking; slow observers only delay other observers, never delivery.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver emits bus events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	lg := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("tag", e.Tag.String()),
		xlog.Str("sender", e.Sender.String()),
	)
	if e.Recipient.IsValid() {
		lg = lg.With(xlog.Str("recipient", e.Recipient.String()))
	}
	if e.Duration > 0 {
		lg = lg.With(xlog.Dur("duration", e.Duration))
	}
	switch e.Type {
	case EventExpired, EventDropped, EventHandlerError:
		lg.Warn().Msg("xmsg event")
	default:
		lg.Debug().Msg("xmsg event")
	}
}

// Breakpoint decides whether a tracer should break on a message. It is the
// observation hook for tracing instrumentation.
type Breakpoint interface {
	// IsEnabled reports whether the breakpoint is armed.
	IsEnabled() bool
	// ShouldBreak inspects the context of an in-flight message.
	ShouldBreak(ctx *Context) bool
}

// BreakpointObserver forwards only those message events whose context trips
// one of the configured breakpoints.
type BreakpointObserver struct {
	Breakpoints []Breakpoint
	Sink        Observer
}

func (o BreakpointObserver) OnEvent(e Event) {
	if o.Sink == nil || e.Context == nil {
		return
	}
	for _, bp := range o.Breakpoints {
		if bp != nil && bp.IsEnabled() && bp.ShouldBreak(e.Context) {
			o.Sink.OnEvent(e)
			return
		}
	}
}

// TagBreakpoint breaks on every message carrying a specific tag.
type TagBreakpoint struct {
	Tag     Tag
	Enabled bool
}

func (b TagBreakpoint) IsEnabled() bool { return b.Enabled }

func (b TagBreakpoint) ShouldBreak(ctx *Context) bool { return ctx.Tag() == b.Tag }
