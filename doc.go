// Package xmsg is an in-process publish/subscribe and point-to-point
// message bus. Independent endpoints exchange typed messages through a
// central router without holding references to one another.
//
// Endpoints are built with the fluent EndpointBuilder and identified by an
// opaque Address. Messages are routed by Tag (a topic/message id pair),
// filtered by Scope and expiration, and delivered on the recipient's
// configured thread, or buffered in a per-endpoint inbox for synchronous
// draining via ProcessInbox.
//
// Delivery order is FIFO per (sender, recipient) pair. No ordering is
// guaranteed across different senders or across different recipients.
package xmsg
