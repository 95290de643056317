package chat

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts what the controllers do with channel traffic. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	applied    prometheus.Counter
	duplicates prometheus.Counter
	stale      prometheus.Counter
	rejoins    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		applied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_live_messages_applied_total",
			Help: "Live messages inserted into a session timeline.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_duplicate_messages_total",
			Help: "Messages dropped because their id was already loaded.",
		}),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_stale_results_total",
			Help: "Responses discarded because the active session changed.",
		}),
		rejoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_rejoins_total",
			Help: "Join handshakes repeated after a reconnect.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.applied, m.duplicates, m.stale, m.rejoins)
	}
	return m
}

func (m *Metrics) incApplied() {
	if m != nil {
		m.applied.Inc()
	}
}

func (m *Metrics) incDuplicate() {
	if m != nil {
		m.duplicates.Inc()
	}
}

func (m *Metrics) incStale() {
	if m != nil {
		m.stale.Inc()
	}
}

func (m *Metrics) incRejoin() {
	if m != nil {
		m.rejoins.Inc()
	}
}
