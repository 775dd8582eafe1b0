package realtime

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "bookvoice"

// Metrics holds Prometheus instrumentation for one client. It is optional:
// a nil *Metrics disables instrumentation entirely.
type Metrics struct {
	ActiveConnections  prometheus.Gauge
	MessagesDispatched prometheus.Counter
	MessagesSent       prometheus.Counter
	FramesDropped      prometheus.Counter
	ReconnectAttempts  prometheus.Counter
}

// NewMetrics creates and registers client metrics on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "active_connections",
			Help:      "Number of open realtime channels.",
		}),
		MessagesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "messages_dispatched_total",
			Help:      "Total number of inbound messages dispatched to listeners.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "messages_sent_total",
			Help:      "Total number of outbound messages written to the channel.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "frames_dropped_total",
			Help:      "Total number of malformed inbound frames discarded.",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnection attempts.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.MessagesDispatched,
		m.MessagesSent,
		m.FramesDropped,
		m.ReconnectAttempts,
	)
	return m
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) messageDispatched() {
	if m == nil {
		return
	}
	m.MessagesDispatched.Inc()
}

func (m *Metrics) messageSent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

func (m *Metrics) frameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

func (m *Metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}
