package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "composite_order"

var (
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "created_total",
		Help:      "Composite orders accepted, by kind.",
	}, []string{"kind"})

	OrdersFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "finished_total",
		Help:      "Composite orders that reached a terminal status.",
	}, []string{"kind", "status"})

	OrdersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active",
		Help:      "Composite orders currently ACTIVE.",
	}, []string{"kind"})

	OrdersEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evicted_total",
		Help:      "Terminal composite orders removed by the retention sweep.",
	}, []string{"kind"})

	LegsPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "legs_placed_total",
		Help:      "Primitive legs accepted by the exchange.",
	}, []string{"kind", "side"})

	LegsFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "legs_filled_total",
		Help:      "Primitive legs observed as filled.",
	}, []string{"kind", "side"})

	GatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_errors_total",
		Help:      "Failed exchange calls, by operation.",
	}, []string{"kind", "operation"})

	ObserverErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "observer_errors_total",
		Help:      "Lifecycle events an observer failed to handle.",
	}, []string{"observer"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency of handled HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "status"})
)
