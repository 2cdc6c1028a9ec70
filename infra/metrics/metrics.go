// Package metrics holds the engine's prometheus collectors. Everything is
// registered on a private registry so tests can build as many as they like.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clob"

type Metrics struct {
	Commands       *prometheus.CounterVec
	CommandLatency *prometheus.HistogramVec
	Events         *prometheus.CounterVec
	Trades         *prometheus.CounterVec
	WALRetries     *prometheus.CounterVec
	Halted         *prometheus.GaugeVec
	Sequence       *prometheus.GaugeVec
	RestingOrders  *prometheus.GaugeVec
	Snapshots      *prometheus.CounterVec
	OutboxBacklog  *prometheus.GaugeVec
	Relayed        *prometheus.CounterVec
	IngestMessages *prometheus.CounterVec
	WSClients      prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWith(reg, reg)
}

func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands handled per symbol, kind and result.",
		}, []string{"symbol", "kind", "result"}),
		CommandLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time from dequeue to acknowledgment, persistence included.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"symbol"}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events emitted per symbol and kind.",
		}, []string{"symbol", "kind"}),
		Trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Executions per symbol.",
		}, []string{"symbol"}),
		WALRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wal_append_retries_total",
			Help:      "Command log appends that had to be retried.",
		}, []string{"symbol"}),
		Halted: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "symbol_halted",
			Help:      "1 while a symbol is halted after an invariant violation.",
		}, []string{"symbol"}),
		Sequence: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sequence",
			Help:      "Last applied sequence number.",
		}, []string{"symbol"}),
		RestingOrders: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resting_orders",
			Help:      "Orders resting in the book.",
		}, []string{"symbol"}),
		Snapshots: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshot attempts per symbol and result.",
		}, []string{"symbol", "result"}),
		OutboxBacklog: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_entries",
			Help:      "Outbox entries per delivery state.",
		}, []string{"state"}),
		Relayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_total",
			Help:      "Outbox events relayed to Kafka per result.",
		}, []string{"result"}),
		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_total",
			Help:      "Commands consumed from Kafka per result.",
		}, []string{"result"}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected WebSocket clients.",
		}),
		gatherer: g,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveCommand records one handled command.
func (m *Metrics) ObserveCommand(symbol, kind, result string, started time.Time) {
	m.Commands.WithLabelValues(symbol, kind, result).Inc()
	m.CommandLatency.WithLabelValues(symbol).Observe(time.Since(started).Seconds())
}
