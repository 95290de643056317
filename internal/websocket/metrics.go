package websocket

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	connections prometheus.Gauge
	rooms       prometheus.Gauge
	delivered   prometheus.Counter
	dropped     prometheus.Counter
	rejected    *prometheus.CounterVec
}

// newMetrics registers the gateway collectors on reg. A nil reg leaves them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_sync_ws_connections",
			Help: "Current number of active websocket connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_sync_ws_rooms",
			Help: "Current number of sessions with at least one joined connection.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_sync_ws_messages_delivered_total",
			Help: "Total websocket frames queued to clients.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_sync_ws_slow_clients_dropped_total",
			Help: "Connections closed because their send buffer was full.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_sync_ws_events_rejected_total",
			Help: "Inbound events rejected, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.rooms, m.delivered, m.dropped, m.rejected)
	}
	return m
}
