package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_http_requests_total",
		Help: "Total HTTP requests processed by the chat relay",
	}, []string{"method", "route", "surface", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_relay_http_request_duration_seconds",
		Help:    "HTTP request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "surface"})
)

// Route labels use gin's templates. Anything that matched no route shares
// one label so scanners cannot grow the series count.
const unmatchedRoute = "unmatched"

// surfaceOf groups routes by who calls them.
func surfaceOf(route string) string {
	switch route {
	case "/", "/ws", "/events":
		return "viewer"
	case "/transcript", "/messages":
		return "operator"
	case unmatchedRoute:
		return "none"
	default:
		return "meta"
	}
}
