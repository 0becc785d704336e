package observability

import (
	"chat-sync/domain"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatsync"

// Metrics holds every collector of the server on a private registry so
// that tests can create as many as they want.
type Metrics struct {
	registry *prometheus.Registry

	connections    prometheus.Gauge
	rooms          prometheus.Gauge
	events         *prometheus.CounterVec
	broadcasts     *prometheus.CounterVec
	deliveries     *prometheus.HistogramVec
	evictions      prometheus.Counter
	persistence    *prometheus.HistogramVec
	residentMemory prometheus.Gauge
	cpuPercent     prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_active_connections",
			Help:      "Active websocket connections",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Rooms with at least one subscribed connection",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_handled_total",
			Help:      "Inbound commands by name and outcome",
		}, []string{"command", "outcome"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Broadcasts by room kind",
		}, []string{"kind"}),
		deliveries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_fanout",
			Help:      "Connections reached per broadcast",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}, []string{"kind"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_consumer_evictions_total",
			Help:      "Connections closed because their outbound queue was full",
		}),
		persistence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persistence_duration_seconds",
			Help:      "Latency of persistence calls issued by the handler",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		residentMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_rss_bytes",
			Help:      "Resident memory sampled by the process stats worker",
		}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_percent",
			Help:      "CPU usage sampled by the process stats worker",
		}),
	}
	m.registry.MustRegister(
		m.connections, m.rooms, m.events, m.broadcasts, m.deliveries,
		m.evictions, m.persistence, m.residentMemory, m.cpuPercent,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) ConnectionOpened() { m.connections.Inc() }

func (m *Metrics) ConnectionClosed() { m.connections.Dec() }

func (m *Metrics) EventHandled(name, outcome string) {
	m.events.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) Broadcast(kind domain.RoomKind, delivered int) {
	m.broadcasts.WithLabelValues(string(kind)).Inc()
	m.deliveries.WithLabelValues(string(kind)).Observe(float64(delivered))
}

func (m *Metrics) ConsumerEvicted() { m.evictions.Inc() }

func (m *Metrics) PersistenceLatency(op string, d time.Duration) {
	m.persistence.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) SetRooms(n int) { m.rooms.Set(float64(n)) }

func (m *Metrics) SetProcessStats(rss uint64, cpu float64) {
	m.residentMemory.Set(float64(rss))
	m.cpuPercent.Set(cpu)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests and for callers adding their own collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
