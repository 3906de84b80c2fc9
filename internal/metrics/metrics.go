package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChatMetrics - счётчики чата на собственном реестре (без глобального состояния).
type ChatMetrics struct {
	registry *prometheus.Registry

	messagesSent     *prometheus.CounterVec
	deliveryAdvanced *prometheus.CounterVec
	mergedPublished  *prometheus.CounterVec
	openStreams      *prometheus.GaugeVec
	wsConnections    prometheus.Gauge
	rateLimited      prometheus.Counter
}

func New() *ChatMetrics {
	m := &ChatMetrics{
		registry: prometheus.NewRegistry(),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "chat",
			Name:      "messages_sent_total",
			Help:      "Messages created through the chat core",
		}, []string{"channel"}),
		deliveryAdvanced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "chat",
			Name:      "delivery_advanced_total",
			Help:      "Delivery status patches applied, by target status",
		}, []string{"channel", "status"}),
		mergedPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "chat",
			Name:      "merged_publications_total",
			Help:      "Merged conversation sequences published to consumers",
		}, []string{"channel"}),
		openStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "salon",
			Subsystem: "chat",
			Name:      "open_streams",
			Help:      "Currently open conversation streams",
		}, []string{"channel"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "salon",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Active websocket connections",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-user rate limiter",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messagesSent,
		m.deliveryAdvanced,
		m.mergedPublished,
		m.openStreams,
		m.wsConnections,
		m.rateLimited,
	)
	return m
}

func (m *ChatMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *ChatMetrics) MessageSent(channel string) {
	m.messagesSent.WithLabelValues(channel).Inc()
}

func (m *ChatMetrics) DeliveryAdvanced(channel, status string) {
	m.deliveryAdvanced.WithLabelValues(channel, status).Inc()
}

func (m *ChatMetrics) MergedPublished(channel string) {
	m.mergedPublished.WithLabelValues(channel).Inc()
}

func (m *ChatMetrics) StreamOpened(channel string) {
	m.openStreams.WithLabelValues(channel).Inc()
}

func (m *ChatMetrics) StreamClosed(channel string) {
	m.openStreams.WithLabelValues(channel).Dec()
}

func (m *ChatMetrics) ConnectionOpened() { m.wsConnections.Inc() }
func (m *ChatMetrics) ConnectionClosed() { m.wsConnections.Dec() }
func (m *ChatMetrics) RateLimited()      { m.rateLimited.Inc() }
