// Package metrics collects and exposes Prometheus metrics for the coordinator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is shared by the API layer and the signaling hub.
type Collector struct {
	bookingOutcomes *prometheus.CounterVec
	wsConnections   prometheus.Gauge
	activeRooms     prometheus.Gauge
	relayedMessages *prometheus.CounterVec
	joinsDenied     *prometheus.CounterVec
}

// NewCollector registers all coordinator metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		bookingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telecare_booking_outcomes_total",
			Help: "Booking attempts by outcome (created, conflict, rejected, error).",
		}, []string{"outcome"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telecare_ws_connections",
			Help: "Currently open authenticated WebSocket connections.",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telecare_rooms_active",
			Help: "Rooms with at least one member.",
		}),
		relayedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telecare_relayed_messages_total",
			Help: "Negotiation messages relayed, by kind.",
		}, []string{"kind"}),
		joinsDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telecare_joins_denied_total",
			Help: "Room join attempts denied, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		c.bookingOutcomes,
		c.wsConnections,
		c.activeRooms,
		c.relayedMessages,
		c.joinsDenied,
	)

	return c
}

func (c *Collector) RecordBooking(outcome string) {
	c.bookingOutcomes.WithLabelValues(outcome).Inc()
}

func (c *Collector) ConnectionOpened() { c.wsConnections.Inc() }
func (c *Collector) ConnectionClosed() { c.wsConnections.Dec() }
func (c *Collector) RoomOpened()       { c.activeRooms.Inc() }
func (c *Collector) RoomClosed()       { c.activeRooms.Dec() }

func (c *Collector) RecordRelay(kind string) {
	c.relayedMessages.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordJoinDenied(reason string) {
	c.joinsDenied.WithLabelValues(reason).Inc()
}

// SetupMetricsRoute returns the /metrics handler for reg.
func SetupMetricsRoute(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
