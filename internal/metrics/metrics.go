// Package metrics provides Prometheus metrics for wampsub.
//
// All Metrics methods are safe to call on a nil receiver, so callers can
// thread an optional *Metrics through without guarding every call site.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "wampsub"

// Label values for the direction label on messages_total.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Contexts for protocol_errors_total.
const (
	ContextSubscribe   = "subscribe"
	ContextUnsubscribe = "unsubscribe"
	ContextSession     = "session"
)

// Metrics holds all Prometheus metrics for wampsub.
type Metrics struct {
	Registry *prometheus.Registry

	messagesTotal       *prometheus.CounterVec
	decodeErrorsTotal   prometheus.Counter
	protocolErrorsTotal *prometheus.CounterVec
	eventsDispatched    prometheus.Counter
	eventsDropped       prometheus.Counter
	subscriptionsActive prometheus.Gauge
	sessionUp           prometheus.Gauge
	handshakeDuration   prometheus.Histogram
}

// New creates a new Metrics instance with a custom Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total protocol messages, by direction and message type.",
		}, []string{"direction", "type"}),

		decodeErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total inbound frames that failed to decode.",
		}),

		protocolErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Total router-reported protocol errors, by request context.",
		}, []string{"context"}),

		eventsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Total events delivered to a registered handler.",
		}),

		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total events dropped for lack of a matching subscription.",
		}),

		subscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_active",
			Help:      "Number of confirmed topic subscriptions.",
		}),

		sessionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_up",
			Help:      "Whether the session has been established (1) or not (0).",
		}),

		handshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Time from dial start until the Hello send completed, in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}

	reg.MustRegister(
		m.messagesTotal,
		m.decodeErrorsTotal,
		m.protocolErrorsTotal,
		m.eventsDispatched,
		m.eventsDropped,
		m.subscriptionsActive,
		m.sessionUp,
		m.handshakeDuration,
	)

	return m
}

// MessageSent records one outbound protocol message.
func (m *Metrics) MessageSent(msgType string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(DirectionSent, msgType).Inc()
}

// MessageReceived records one inbound protocol message.
func (m *Metrics) MessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(DirectionReceived, msgType).Inc()
}

// DecodeError records an inbound frame the codec rejected.
func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrorsTotal.Inc()
}

// ProtocolError records a router-reported Error message.
func (m *Metrics) ProtocolError(context string) {
	if m == nil {
		return
	}
	m.protocolErrorsTotal.WithLabelValues(context).Inc()
}

// EventDispatched records an event delivered to its handler.
func (m *Metrics) EventDispatched() {
	if m == nil {
		return
	}
	m.eventsDispatched.Inc()
}

// EventDropped records an event with no matching subscription.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// SubscriptionConfirmed increments the active subscription gauge.
func (m *Metrics) SubscriptionConfirmed() {
	if m == nil {
		return
	}
	m.subscriptionsActive.Inc()
}

// SubscriptionRemoved decrements the active subscription gauge.
func (m *Metrics) SubscriptionRemoved() {
	if m == nil {
		return
	}
	m.subscriptionsActive.Dec()
}

// ResetSubscriptions zeroes the active subscription gauge when a session
// ends and its table is discarded wholesale.
func (m *Metrics) ResetSubscriptions() {
	if m == nil {
		return
	}
	m.subscriptionsActive.Set(0)
}

// SetSessionUp sets the session establishment gauge.
func (m *Metrics) SetSessionUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.sessionUp.Set(1)
	} else {
		m.sessionUp.Set(0)
	}
}

// ObserveHandshakeDuration records how long the connect sequence took.
func (m *Metrics) ObserveHandshakeDuration(seconds float64) {
	if m == nil {
		return
	}
	m.handshakeDuration.Observe(seconds)
}
