// Package obsv centralizes the ambient observability stack: Prometheus
// metrics and OpenTelemetry tracing/metrics providers, both wired into
// every domain layer that the spec names (connections, RPC dispatch,
// channel fan-out, rate limiting).
//
// Metrics collection is adapted directly from the teacher's
// internal/adapter/inbound/http.Metrics: the same promauto-registered
// CounterVec/HistogramVec/Gauge shape, renamed and re-labeled for a
// connection/RPC/channel domain instead of an HTTP-proxy one.
package obsv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus instrument the runtime records against.
// Construct once per process and pass down to the components that need
// it, the same dependency-injection style the teacher uses.
type Metrics struct {
	ConnectionsTotal   prometheus.Counter
	ConnectionsActive  prometheus.Gauge
	RPCCallsTotal      *prometheus.CounterVec
	RPCCallDuration    *prometheus.HistogramVec
	RateLimitRejects   *prometheus.CounterVec
	ChannelMembers     *prometheus.GaugeVec
	BroadcastsTotal    prometheus.Counter
	AdmissionRejections *prometheus.CounterVec
}

// NewMetrics creates and registers every instrument against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "riptide",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted.",
		}),
		ConnectionsActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "riptide",
			Name:      "connections_active",
			Help:      "Currently open WebSocket connections.",
		}),
		RPCCallsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "riptide",
			Name:      "rpc_calls_total",
			Help:      "Total RPC dispatches, labeled by method and outcome.",
		}, []string{"method", "outcome"}),
		RPCCallDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "riptide",
			Name:      "rpc_call_duration_seconds",
			Help:      "RPC handler execution time in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RateLimitRejects: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "riptide",
			Name:      "rate_limit_rejections_total",
			Help:      "Total calls rejected by the rate limiter, labeled by method.",
		}, []string{"method"}),
		ChannelMembers: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "riptide",
			Name:      "channel_members",
			Help:      "Current subscriber count, labeled by channel name.",
		}, []string{"channel"}),
		BroadcastsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "riptide",
			Name:      "broadcasts_total",
			Help:      "Total Broadcast calls issued.",
		}),
		AdmissionRejections: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "riptide",
			Name:      "admission_rejections_total",
			Help:      "Connections refused at admission, labeled by reason.",
		}, []string{"reason"}),
	}
}
