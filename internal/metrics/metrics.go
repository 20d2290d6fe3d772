package metrics

import (
	"errors"
	"strconv"
	"time"

	"bookstore/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Store operation metrics
	StoreOperations *prometheus.CounterVec

	// Change notification metrics
	NotificationsPublished prometheus.Counter
	NotificationsCoalesced prometheus.Counter
	ActiveSubscriptions    prometheus.Gauge
	BrokerPublishFailures  prometheus.Counter

	// Inventory metrics
	ProductsStored prometheus.Gauge
}

// New registers the collectors on reg using prefix for every metric name.
func New(prefix string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		StoreOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_store_operations_total",
				Help: "Total number of inventory store operations by result",
			},
			[]string{"operation", "result"},
		),
		NotificationsPublished: factory.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "_notifications_published_total",
				Help: "Total number of change notifications published",
			},
		),
		NotificationsCoalesced: factory.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "_notifications_coalesced_total",
				Help: "Change notifications folded into an already pending one for a slow subscriber",
			},
		),
		ActiveSubscriptions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "_active_subscriptions",
				Help: "Number of open change subscriptions",
			},
		),
		BrokerPublishFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "_broker_publish_failures_total",
				Help: "Change events that could not be forwarded to the message broker",
			},
		),
		ProductsStored: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "_products_stored",
				Help: "Number of products in the inventory table at last count",
			},
		),
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, code).Observe(d.Seconds())
}

// ObserveStoreOp records the outcome of a store operation.
func (m *Metrics) ObserveStoreOp(op string, err error) {
	if m == nil {
		return
	}
	m.StoreOperations.WithLabelValues(op, Result(err)).Inc()
}

// Result classifies err into a low-cardinality label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrValidation):
		return "invalid"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrNoOpAtZero):
		return "noop"
	case errors.Is(err, models.ErrStorageUnavailable):
		return "unavailable"
	}
	return "error"
}

func (m *Metrics) NotificationPublished() {
	if m != nil {
		m.NotificationsPublished.Inc()
	}
}

func (m *Metrics) NotificationCoalesced() {
	if m != nil {
		m.NotificationsCoalesced.Inc()
	}
}

func (m *Metrics) SubscriptionOpened() {
	if m != nil {
		m.ActiveSubscriptions.Inc()
	}
}

func (m *Metrics) SubscriptionClosed() {
	if m != nil {
		m.ActiveSubscriptions.Dec()
	}
}

func (m *Metrics) BrokerPublishFailed() {
	if m != nil {
		m.BrokerPublishFailures.Inc()
	}
}

// SetProductsStored records the current row count.
func (m *Metrics) SetProductsStored(n int64) {
	if m != nil {
		m.ProductsStored.Set(float64(n))
	}
}
