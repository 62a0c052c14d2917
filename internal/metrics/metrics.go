// Package metrics holds the Prometheus collectors shared by the client and
// the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conchat",
		Name:      "messages_appended_total",
		Help:      "Messages appended to a room log, by type.",
	}, []string{"type"})

	MessagesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conchat",
		Name:      "messages_dispatched_total",
		Help:      "Messages handed to a replication handler, by type.",
	}, []string{"type"})

	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "conchat",
		Name:      "rooms_created_total",
		Help:      "Debug rooms created.",
	})

	RoomsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "conchat",
		Name:      "rooms_deleted_total",
		Help:      "Debug rooms deleted after their last member left.",
	})

	UsersRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "conchat",
		Name:      "users_registered_total",
		Help:      "User records created by session start.",
	})

	RelayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "conchat",
		Name:      "relay_connections_active",
		Help:      "Websocket connections currently held by the relay.",
	})

	RelayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conchat",
		Name:      "relay_requests_total",
		Help:      "Relay requests served, by operation and outcome.",
	}, []string{"op", "outcome"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
