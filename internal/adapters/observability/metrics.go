package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "staychat", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "staychat", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	TranslationRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "staychat", Name: "translation_requests_total", Help: "Translation gateway outcomes."},
		[]string{"outcome"}, // outcome: ok|unavailable
	)
	ArchiveBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "staychat", Name: "archive_batches_total", Help: "Checkout archival batch commits."},
		[]string{"result"}, // result: ok|error
	)
	LiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "staychat", Name: "live_subscriptions", Help: "Active store change subscriptions."},
	)
)

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, TranslationRequests, ArchiveBatches, LiveSubscriptions)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveTranslation(outcome string) { // outcome: ok|unavailable
	TranslationRequests.WithLabelValues(outcome).Inc()
}

func ObserveArchiveBatch(result string) { // result: ok|error
	ArchiveBatches.WithLabelValues(result).Inc()
}

func SubscriptionOpened() { LiveSubscriptions.Inc() }
func SubscriptionClosed() { LiveSubscriptions.Dec() }
