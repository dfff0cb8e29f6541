package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bizzylink"

// Link lifecycle events.
const (
	LinkGenerated = "generated"
	LinkLinked    = "linked"
	LinkUnlinked  = "unlinked"
	LinkExpired   = "expired"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route pattern and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	SSEClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sse_clients",
		Help:      "Connected server-sent event streams.",
	})

	LinkEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "link_events_total",
		Help:      "Minecraft link lifecycle events.",
	}, []string{"event"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Stored notifications by type.",
	}, []string{"type"})

	PluginEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "plugin_events_total",
		Help:      "Events sent to the Minecraft plugin channel by outcome.",
	}, []string{"event", "outcome"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
