// Package metrics exposes Prometheus collectors for allocation, transfer,
// order creation, HTTP traffic and the database pool.
package metrics

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"concreterp/internal/domain/arkik"
	"concreterp/internal/domain/inventory/fifo"
	"concreterp/internal/infrastructure/storage/postgres"
)

const namespace = "concreterp"

// Metrics holds every collector of the service on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	allocations      *prometheus.CounterVec
	allocatedKg      prometheus.Counter
	layersPerAlloc   prometheus.Histogram
	transfers        *prometheus.CounterVec
	transferLines    prometheus.Counter
	orders           *prometheus.CounterVec
	ordersRemisiones prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

var (
	_ fifo.Observer          = (*Metrics)(nil)
	_ arkik.TransferObserver = (*Metrics)(nil)
	_ arkik.OrderObserver    = (*Metrics)(nil)
)

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fifo", Name: "allocations_total",
			Help: "FIFO allocations by outcome.",
		}, []string{"outcome"}),
		allocatedKg: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fifo", Name: "allocated_kg_total",
			Help: "Kilograms allocated to cost layers.",
		}),
		layersPerAlloc: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "fifo", Name: "layers_per_allocation",
			Help:    "Number of cost layers touched by one allocation.",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "arkik", Name: "transfers_total",
			Help: "Material transfers by outcome.",
		}, []string{"outcome"}),
		transferLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "arkik", Name: "transfer_lines_total",
			Help: "Remision material lines updated or created by transfers.",
		}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "arkik", Name: "orders_total",
			Help: "Orders created from suggestions by outcome.",
		}, []string{"outcome"}),
		ordersRemisiones: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "arkik", Name: "order_remisiones_total",
			Help: "Remisiones created together with orders.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.allocations, m.allocatedKg, m.layersPerAlloc,
		m.transfers, m.transferLines,
		m.orders, m.ordersRemisiones,
		m.HTTPRequests, m.HTTPDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) AllocationSucceeded(quantityKg decimal.Decimal, layers int) {
	m.allocations.WithLabelValues("success").Inc()
	m.allocatedKg.Add(quantityKg.InexactFloat64())
	m.layersPerAlloc.Observe(float64(layers))
}

func (m *Metrics) AllocationFailed(code string) {
	m.allocations.WithLabelValues(code).Inc()
}

func (m *Metrics) TransferApplied(linesTouched int) {
	m.transfers.WithLabelValues("applied").Inc()
	m.transferLines.Add(float64(linesTouched))
}

func (m *Metrics) TransferSkipped() {
	m.transfers.WithLabelValues("skipped").Inc()
}

func (m *Metrics) OrderCreated(remisiones int) {
	m.orders.WithLabelValues("created").Inc()
	m.ordersRemisiones.Add(float64(remisiones))
}

func (m *Metrics) OrderFailed() {
	m.orders.WithLabelValues("failed").Inc()
}

// RegisterPool exports pool statistics as gauges read at scrape time.
func (m *Metrics) RegisterPool(pool *pgxpool.Pool) {
	gauge := func(name, help string, read func(postgres.PoolStats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "db_pool", Name: name, Help: help,
		}, func() float64 { return read(postgres.GetPoolStats(pool)) })
	}
	m.registry.MustRegister(
		gauge("total_conns", "Open connections.", func(s postgres.PoolStats) float64 { return float64(s.TotalConns) }),
		gauge("acquired_conns", "Connections in use.", func(s postgres.PoolStats) float64 { return float64(s.AcquiredConns) }),
		gauge("idle_conns", "Idle connections.", func(s postgres.PoolStats) float64 { return float64(s.IdleConns) }),
		gauge("max_conns", "Configured maximum.", func(s postgres.PoolStats) float64 { return float64(s.MaxConns) }),
		gauge("acquire_seconds_total", "Cumulative time spent acquiring connections.",
			func(s postgres.PoolStats) float64 { return s.AcquireDuration.Seconds() }),
	)
}
