// Package metrics exposes the relay's Prometheus metrics. All collectors are
// registered on a private registry so tests and embedded uses never collide
// with the global default.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relaybot"

// Registry holds every relay collector.
var Registry = prometheus.NewRegistry()

var (
	startTime = time.Now()
	factory   = promauto.With(Registry)
)

// Result labels shared by capability and delivery metrics.
const (
	ResultOK        = "ok"
	ResultEmpty     = "empty"
	ResultError     = "error"
	ResultDuplicate = "duplicate"
	ResultQueueFull = "queue_full"
)

// --- Pre-defined metrics used across the application ---

var (
	EventsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Inbound events by channel and kind.",
	}, []string{"channel", "kind"})

	EventsDropped = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Inbound events not processed, by reason.",
	}, []string{"reason"})

	RoutesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "routes_total",
		Help:      "Routed messages by handler.",
	}, []string{"route"})

	CapabilityCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capability_calls_total",
		Help:      "Capability calls by capability and result.",
	}, []string{"capability", "result"})

	CapabilityLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "capability_latency_seconds",
		Help:      "Capability call latency in seconds.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"capability"})

	DeliveriesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Outbound deliveries by channel, payload kind and result.",
	}, []string{"channel", "payload", "result"})

	RepliesSplit = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replies_split_total",
		Help:      "Generated replies that exceeded the size ceiling.",
	})

	ActiveSessions = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Sessions held in memory.",
	})

	InFlight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "events_in_flight",
		Help:      "Events currently being processed.",
	})

	HTTPRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests served by the gateway.",
	}, []string{"method", "route", "status"})

	HTTPLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Gateway request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time since start in seconds.",
	}, func() float64 { return time.Since(startTime).Seconds() })
}

// Uptime returns how long the process has been running.
func Uptime() time.Duration {
	return time.Since(startTime)
}

// ObserveCapability records one capability call.
func ObserveCapability(capability, result string, elapsed time.Duration) {
	CapabilityCalls.WithLabelValues(capability, result).Inc()
	CapabilityLatency.WithLabelValues(capability).Observe(elapsed.Seconds())
}

// Handler renders the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
