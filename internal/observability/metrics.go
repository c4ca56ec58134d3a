package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the session layer.
// Its methods satisfy the observer interfaces of the room and session packages.
type Metrics struct {
	sessionsActive   prometheus.Gauge
	sessionsTotal    *prometheus.CounterVec
	commandsTotal    *prometheus.CounterVec
	eventsPublished  *prometheus.CounterVec
	eventsDelivered  prometheus.Counter
	deliveryFailures prometheus.Counter
	roomsActive      prometheus.Gauge
}

// NewMetrics registers all collectors with reg under the given namespace.
//
// Precondition: reg must be non-nil; collectors must not already be registered with reg.
// Postcondition: Returns Metrics whose collectors are registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of sessions currently connected.",
		}),
		sessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connects_total",
			Help:      "Connection attempts by outcome.",
		}, []string{"outcome"}),
		commandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "commands_total",
			Help:      "Commands dispatched by command token and result.",
		}, []string{"command", "result"}),
		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "room",
			Name:      "events_published_total",
			Help:      "Events published to room groups by kind.",
		}, []string{"kind"}),
		eventsDelivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "room",
			Name:      "events_delivered_total",
			Help:      "Events enqueued to subscriber outboxes.",
		}),
		deliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "room",
			Name:      "delivery_failures_total",
			Help:      "Events dropped because a subscriber outbox was full or closed.",
		}),
		roomsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "room",
			Name:      "groups_active",
			Help:      "Number of room groups with at least one subscriber.",
		}),
	}
}

// SessionOpened records a successful connect.
func (m *Metrics) SessionOpened() {
	m.sessionsActive.Inc()
	m.sessionsTotal.WithLabelValues("accepted").Inc()
}

// SessionRejected records a connect that ended before the session became active.
func (m *Metrics) SessionRejected(reason string) {
	m.sessionsTotal.WithLabelValues(reason).Inc()
}

// SessionClosed records a disconnect of an active session.
func (m *Metrics) SessionClosed() {
	m.sessionsActive.Dec()
}

// CommandHandled records a dispatched command and whether it reported an error.
func (m *Metrics) CommandHandled(command string, failed bool) {
	result := "ok"
	if failed {
		result = "error"
	}
	m.commandsTotal.WithLabelValues(command, result).Inc()
}

// EventPublished records one publish and how many outboxes accepted it.
func (m *Metrics) EventPublished(kind string, delivered, failed int) {
	m.eventsPublished.WithLabelValues(kind).Inc()
	m.eventsDelivered.Add(float64(delivered))
	m.deliveryFailures.Add(float64(failed))
}

// GroupsChanged records the current number of live room groups.
func (m *Metrics) GroupsChanged(n int) {
	m.roomsActive.Set(float64(n))
}

// Handler exposes the collectors registered with g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
