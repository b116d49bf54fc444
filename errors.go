package xmsg

import (
	"errors"
	"fmt"
)

// ErrorKind classifies delivery-path failures reported back to the sender
// via its error handler. Emission APIs themselves are fire-and-forget.
type ErrorKind uint8

const (
	// ErrorUnknownRecipient: a Send or Forward named an unregistered address.
	ErrorUnknownRecipient ErrorKind = iota + 1
	// ErrorUnknownSender: the emitter is not registered with the bus.
	ErrorUnknownSender
	// ErrorExpired: the message was discarded before any recipient saw it.
	ErrorExpired
	// ErrorInboxOverflow: a reliable message was dropped at a full inbox.
	ErrorInboxOverflow
	// ErrorBusShutdown: the bus rejected the emission.
	ErrorBusShutdown
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorUnknownRecipient:
		return "unknown_recipient"
	case ErrorUnknownSender:
		return "unknown_sender"
	case ErrorExpired:
		return "expired"
	case ErrorInboxOverflow:
		return "inbox_overflow"
	case ErrorBusShutdown:
		return "bus_shutdown"
	}
	return "unknown"
}

// MessageError pairs an error kind with the context that produced it.
type MessageError struct {
	Kind    ErrorKind
	Context *Context
}

func (e *MessageError) Error() string {
	if e.Context != nil {
		return fmt.Sprintf("xmsg: %s (tag %s)", e.Kind, e.Context.Tag())
	}
	return fmt.Sprintf("xmsg: %s", e.Kind)
}

// ErrorHandler observes delivery-path failures for messages emitted by an
// endpoint. Handlers run on the router goroutine and must not block.
type ErrorHandler func(ctx *Context, kind ErrorKind)

var (
	ErrBusShutdown       = errors.New("xmsg: bus is shut down")
	ErrEndpointClosed    = errors.New("xmsg: endpoint is closed")
	ErrShutdownTimeout   = errors.New("xmsg: shutdown drain deadline exceeded")
	ErrObserverPoolStuck = errors.New("xmsg: observer pool shutdown timeout")
)
