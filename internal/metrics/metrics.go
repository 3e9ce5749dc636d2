// Package metrics provides Prometheus instrumentation for the gateway and the
// chat service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of live socket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relaychat_connections_total",
		Help: "Current number of live socket connections",
	})

	// EventsTotal counts events delivered to connections, by event name.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaychat_events_total",
		Help: "Events queued for delivery to connections",
	}, []string{"event"})

	// FanoutDropsTotal counts events dropped because a connection's send
	// buffer was full.
	FanoutDropsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaychat_fanout_drops_total",
		Help: "Events dropped for slow connections",
	}, []string{"event"})

	// IntentErrorsTotal counts intents answered with a private error event.
	IntentErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaychat_intent_errors_total",
		Help: "Client intents that failed",
	}, []string{"intent"})

	// IntentLatency records intent handling time in seconds.
	IntentLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relaychat_intent_latency_seconds",
		Help:    "Client intent handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"intent"})

	// RoomsActive tracks rooms with at least one live connection.
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relaychat_rooms_active",
		Help: "Rooms with at least one joined connection",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		EventsTotal,
		FanoutDropsTotal,
		IntentErrorsTotal,
		IntentLatency,
		RoomsActive,
	)
}

// ObserveIntent records the latency of one handled intent.
func ObserveIntent(intent string, start time.Time) {
	IntentLatency.WithLabelValues(intent).Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
