// Package metrics exposes work-order engine and HTTP counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "repairpos"

// Recorder is safe for concurrent use. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	stockUnits        *prometheus.CounterVec
	cashBooked        *prometheus.CounterVec
	lowStockWarnings  prometheus.Counter
	replays           *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
}

func New() *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		registry: registry,
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "work_order_operations_total",
			Help:      "Work-order operations by name and result code.",
		}, []string{"operation", "code"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "work_order_operation_duration_seconds",
			Help:      "Latency of work-order operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		stockUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_units_total",
			Help:      "Part units moved by work orders.",
		}, []string{"branch", "direction"}),
		cashBooked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cash_booked_dong_total",
			Help:      "Cash ledger amounts booked, in dong.",
		}, []string{"branch", "category"}),
		lowStockWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "low_stock_warnings_total",
			Help:      "Low stock warnings returned to callers.",
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotent_replays_total",
			Help:      "Requests answered from a stored result.",
		}, []string{"operation", "source"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
	}
	registry.MustRegister(
		r.operationsTotal, r.operationDuration, r.stockUnits, r.cashBooked,
		r.lowStockWarnings, r.replays, r.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) ObserveOperation(operation string, code string, elapsed time.Duration) {
	if r == nil {
		return
	}
	if code == "" {
		code = "OK"
	}
	r.operationsTotal.WithLabelValues(operation, code).Inc()
	r.operationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// StockMoved records units leaving (export) or returning to (import) stock.
func (r *Recorder) StockMoved(branch string, direction string, units int) {
	if r == nil || units <= 0 {
		return
	}
	r.stockUnits.WithLabelValues(branch, direction).Add(float64(units))
}

func (r *Recorder) CashBooked(branch string, category string, amount int64) {
	if r == nil || amount <= 0 {
		return
	}
	r.cashBooked.WithLabelValues(branch, category).Add(float64(amount))
}

func (r *Recorder) LowStock(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.lowStockWarnings.Add(float64(n))
}

func (r *Recorder) Replayed(operation string, source string) {
	if r == nil {
		return
	}
	r.replays.WithLabelValues(operation, source).Inc()
}

func (r *Recorder) HTTPRequest(route string, status string) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, status).Inc()
}
