// Package prom exports xmsg bus events as Prometheus metrics. Attach the
// observer via BusBuilder.WithObserver or Bus.AddObserver.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/trickstertwo/xmsg"
)

// Observer counts message lifecycle events by type and tag topic.
// Tag message ids are deliberately left out of labels to keep cardinality
// bounded.
type Observer struct {
	events   *prometheus.CounterVec
	delivery prometheus.Histogram
	errors   *prometheus.CounterVec
}

var _ xmsg.Observer = (*Observer)(nil)

// New creates an observer registering its collectors with reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry.
func New(reg prometheus.Registerer) *Observer {
	factory := promauto.With(reg)
	return &Observer{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "xmsg_events_total",
			Help: "Total number of bus lifecycle events, by type.",
		}, []string{"type"}),
		delivery: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "xmsg_delivery_duration_seconds",
			Help:    "Handler dispatch duration per delivered message.",
			Buckets: prometheus.DefBuckets,
		}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "xmsg_message_errors_total",
			Help: "Total number of delivery-path failures, by kind.",
		}, []string{"kind"}),
	}
}

// OnEvent implements xmsg.Observer. It is non-blocking.
func (o *Observer) OnEvent(e xmsg.Event) {
	o.events.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case xmsg.EventDelivered:
		if e.Duration > 0 {
			o.delivery.Observe(e.Duration.Seconds())
		}
	case xmsg.EventDropped:
		if e.Kind != 0 {
			o.errors.WithLabelValues(e.Kind.String()).Inc()
		}
	case xmsg.EventExpired:
		o.errors.WithLabelValues(xmsg.ErrorExpired.String()).Inc()
	}
}
