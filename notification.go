package xmsg

// NotificationType enumerates peer lifecycle events broadcast to
// notification listeners.
type NotificationType uint8

const (
	// NotificationRegistered signals that an endpoint joined the bus.
	NotificationRegistered NotificationType = iota + 1
	// NotificationUnregistered signals that an endpoint left the bus.
	NotificationUnregistered
	// NotificationShutdown signals that the bus is shutting down.
	NotificationShutdown
)

func (t NotificationType) String() string {
	switch t {
	case NotificationRegistered:
		return "registered"
	case NotificationUnregistered:
		return "unregistered"
	case NotificationShutdown:
		return "shutdown"
	}
	return "unknown"
}

// BusNotification describes one peer lifecycle event. The address is the
// affected endpoint's, or NilAddress for NotificationShutdown.
type BusNotification struct {
	Type    NotificationType
	Address Address
}

// NotificationHandler observes peer lifecycle events. Handlers run on the
// router goroutine and must be non-blocking.
type NotificationHandler func(n BusNotification)
