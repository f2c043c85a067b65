package live

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricStreamStarts    = "live_stream_starts_total"
	MetricStreamEnds      = "live_stream_ends_total"
	MetricStreamJoins     = "live_stream_joins_total"
	MetricStreamLeaves    = "live_stream_leaves_total"
	MetricChatMessages    = "live_chat_messages_total"
	MetricEvents          = "live_events_total"
	MetricEventErrors     = "live_event_errors_total"
	MetricActiveStreams   = "live_active_streams"
	MetricConnections     = "live_connections"
	MetricEventDuration   = "live_event_duration_seconds"
	MetricDroppedMessages = "live_dropped_messages_total"
)

// Metrics contains Prometheus metrics for the session layer.
// All operations are thread-safe. A nil *Metrics is valid and records nothing.
type Metrics struct {
	streamStarts    prometheus.Counter
	streamEnds      prometheus.Counter
	streamJoins     prometheus.Counter
	streamLeaves    prometheus.Counter
	chatMessages    prometheus.Counter
	events          *prometheus.CounterVec
	eventErrors     *prometheus.CounterVec
	activeStreams   prometheus.Gauge
	connections     prometheus.Gauge
	eventDuration   *prometheus.HistogramVec
	droppedMessages prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		streamStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricStreamStarts,
			Help: "Total number of streams started",
		}),
		streamEnds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricStreamEnds,
			Help: "Total number of streams ended",
		}),
		streamJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricStreamJoins,
			Help: "Total number of stream join events",
		}),
		streamLeaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricStreamLeaves,
			Help: "Total number of stream leave events",
		}),
		chatMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricChatMessages,
			Help: "Total number of chat messages persisted and broadcast",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEvents,
			Help: "Total number of inbound connection events by name",
		}, []string{"event"}),
		eventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventErrors,
			Help: "Total number of inbound events answered with an error envelope, by kind",
		}, []string{"kind"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricActiveStreams,
			Help: "Number of streams currently live in this process",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricConnections,
			Help: "Number of open realtime connections",
		}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricEventDuration,
			Help:    "Histogram of inbound event handling latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"event"}),
		droppedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricDroppedMessages,
			Help: "Total number of outbound messages dropped because a connection send buffer was full or closed",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.streamStarts,
		m.streamEnds,
		m.streamJoins,
		m.streamLeaves,
		m.chatMessages,
		m.events,
		m.eventErrors,
		m.activeStreams,
		m.connections,
		m.eventDuration,
		m.droppedMessages,
	}
}

// IncStreamStarts increments the stream starts counter.
func (m *Metrics) IncStreamStarts() {
	if m != nil {
		m.streamStarts.Inc()
	}
}

// IncStreamEnds increments the stream ends counter.
func (m *Metrics) IncStreamEnds() {
	if m != nil {
		m.streamEnds.Inc()
	}
}

// IncStreamJoins increments the stream joins counter.
func (m *Metrics) IncStreamJoins() {
	if m != nil {
		m.streamJoins.Inc()
	}
}

// IncStreamLeaves increments the stream leaves counter.
func (m *Metrics) IncStreamLeaves() {
	if m != nil {
		m.streamLeaves.Inc()
	}
}

// IncChatMessages increments the chat messages counter.
func (m *Metrics) IncChatMessages() {
	if m != nil {
		m.chatMessages.Inc()
	}
}

// SetActiveStreams sets the live stream gauge.
func (m *Metrics) SetActiveStreams(n int) {
	if m != nil {
		m.activeStreams.Set(float64(n))
	}
}

// IncConnections increments the open connections gauge.
func (m *Metrics) IncConnections() {
	if m != nil {
		m.connections.Inc()
	}
}

// DecConnections decrements the open connections gauge.
func (m *Metrics) DecConnections() {
	if m != nil {
		m.connections.Dec()
	}
}

// IncDroppedMessages increments the dropped outbound messages counter.
func (m *Metrics) IncDroppedMessages() {
	if m != nil {
		m.droppedMessages.Inc()
	}
}

// ObserveEvent records one handled inbound event and its outcome.
func (m *Metrics) ObserveEvent(event string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Inc()
	m.eventDuration.WithLabelValues(event).Observe(d.Seconds())
	if err != nil {
		m.eventErrors.WithLabelValues(KindOf(err).String()).Inc()
	}
}
