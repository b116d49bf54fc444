package xmsg

import "time"

// Annotation is a single named string attached to a message. Annotations
// keep their insertion order for iteration stability.
type Annotation struct {
	Name  string
	Value string
}

// Context is the immutable envelope around one in-flight message. A single
// context is shared by every recipient of an emission; it is never mutated
// after construction, so sharing needs no locks.
type Context struct {
	payload      any
	typeInfo     TypeInfo
	tag          Tag
	annotations  []Annotation
	attachment   Attachment
	expiration   time.Time // zero = never
	timeSent     time.Time
	forwarder    Address
	original     *Context
	sender       Address
	senderThread ThreadID
	recipients   []Address
	scope        Scope
	flags        Flags
}

// newContext builds an originating context for published and sent messages.
// The tag is derived from the payload's type descriptor by the caller.
func newContext(
	payload any,
	typeInfo TypeInfo,
	tag Tag,
	annotations []Annotation,
	attachment Attachment,
	sender Address,
	recipients []Address,
	scope Scope,
	flags Flags,
	timeSent time.Time,
	expiration time.Time,
	senderThread ThreadID,
) *Context {
	return &Context{
		payload:      payload,
		typeInfo:     typeInfo,
		tag:          tag,
		annotations:  annotations,
		attachment:   attachment,
		expiration:   expiration,
		timeSent:     timeSent,
		sender:       sender,
		senderThread: senderThread,
		recipients:   recipients,
		scope:        scope,
		flags:        flags,
	}
}

// newTaggedContext builds an originating context for untyped payloads. The
// explicit tag substitutes for a static type descriptor. TimeSent is set
// unconditionally, same as the typed overload.
func newTaggedContext(
	tag Tag,
	payload any,
	annotations []Annotation,
	attachment Attachment,
	sender Address,
	recipients []Address,
	scope Scope,
	flags Flags,
	timeSent time.Time,
	expiration time.Time,
	senderThread ThreadID,
) *Context {
	return &Context{
		payload:      payload,
		tag:          tag,
		annotations:  annotations,
		attachment:   attachment,
		expiration:   expiration,
		timeSent:     timeSent,
		sender:       sender,
		senderThread: senderThread,
		recipients:   recipients,
		scope:        scope,
		flags:        flags,
	}
}

// newForwardContext builds a context for a forwarded message. The payload
// and type descriptor alias the original; no copy is made.
func newForwardContext(
	original *Context,
	forwarder Address,
	newRecipients []Address,
	newScope Scope,
	timeForwarded time.Time,
	forwarderThread ThreadID,
) *Context {
	return &Context{
		payload:      original.payload,
		typeInfo:     original.typeInfo,
		tag:          original.tag,
		annotations:  original.annotations,
		attachment:   original.attachment,
		expiration:   original.expiration,
		timeSent:     timeForwarded,
		forwarder:    forwarder,
		original:     original,
		sender:       forwarder,
		senderThread: forwarderThread,
		recipients:   newRecipients,
		scope:        newScope,
		flags:        original.flags,
	}
}

// Payload returns the message payload. For forwarded contexts this aliases
// the original payload.
func (c *Context) Payload() any { return c.payload }

// TypeInfo returns the payload's type descriptor, or nil for dynamically
// tagged messages.
func (c *Context) TypeInfo() TypeInfo { return c.typeInfo }

// Tag returns the message tag used as the routing key.
func (c *Context) Tag() Tag { return c.tag }

// Annotations returns the message annotations in insertion order. The
// returned slice must not be modified.
func (c *Context) Annotations() []Annotation { return c.annotations }

// Annotation looks up a single annotation by name.
func (c *Context) Annotation(name string) (string, bool) {
	for _, a := range c.annotations {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Attachment returns the optional binary attachment, or nil.
func (c *Context) Attachment() Attachment { return c.attachment }

// Expiration returns the time after which the message is discarded. The
// zero time means the message never expires.
func (c *Context) Expiration() time.Time { return c.expiration }

// TimeSent returns when the message was emitted (or forwarded).
func (c *Context) TimeSent() time.Time { return c.timeSent }

// Sender returns the address of the endpoint that emitted this context.
// For forwarded contexts this is the forwarder.
func (c *Context) Sender() Address { return c.sender }

// SenderThread returns the thread the message was emitted from.
func (c *Context) SenderThread() ThreadID { return c.senderThread }

// Forwarder returns the forwarding endpoint's address, or NilAddress if
// the message was not forwarded.
func (c *Context) Forwarder() Address { return c.forwarder }

// Original returns the context this one was forwarded from, or nil.
// Forwarding chains preserve the root through repeated Original calls.
func (c *Context) Original() *Context { return c.original }

// IsForwarded reports whether this context wraps an original.
func (c *Context) IsForwarded() bool { return c.original != nil }

// Recipients returns the explicit recipient list. It is empty for
// published messages, which broadcast per subscription.
func (c *Context) Recipients() []Address { return c.recipients }

// Scope returns the delivery reach the message was emitted with.
func (c *Context) Scope() Scope { return c.scope }

// Flags returns the message flags.
func (c *Context) Flags() Flags { return c.flags }

// expired reports whether the message is past its expiration at now.
func (c *Context) expired(now time.Time) bool {
	return !c.expiration.IsZero() && !now.Before(c.expiration)
}
