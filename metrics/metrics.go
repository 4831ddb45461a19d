package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the seal tracking service
var (
	SealTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sealtrack_seal_transitions_total",
			Help: "Seal lifecycle operations by outcome",
		},
		[]string{"operation", "result"},
	)

	AuditFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sealtrack_audit_failures_total",
			Help: "Activity log appends that failed after a successful write",
		},
	)

	ImageCompressionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sealtrack_image_compressions_total",
			Help: "Image uploads by compression outcome",
		},
		[]string{"outcome"},
	)

	DashboardViewsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sealtrack_dashboard_views_total",
			Help: "Dashboard views pushed to live subscribers",
		},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sealtrack_events_published_total",
			Help: "Notification events by type and outcome",
		},
		[]string{"type", "result"},
	)

	// Standard HTTP metrics, recorded by middleware
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(SealTransitionsTotal)
	prometheus.MustRegister(AuditFailuresTotal)
	prometheus.MustRegister(ImageCompressionsTotal)
	prometheus.MustRegister(DashboardViewsTotal)
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Result labels an operation outcome.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
