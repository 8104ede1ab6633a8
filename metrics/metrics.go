package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tigon_ingest_requests_total",
			Help: "Total ingestion requests by stream and forwarding result",
		},
		[]string{"stream", "result"}, // ok|failed|unknown_stream
	)

	ForwardDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tigon_ingest_forward_duration_seconds",
			Help:    "Duration of forwarding a record to the stream backend",
			Buckets: prometheus.DefBuckets,
		},
	)

	LivenessReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tigon_liveness_reports_total",
			Help: "Liveness failure reports emitted",
		},
		[]string{"kind"}, // no-registrations|missing
	)

	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tigon_liveness_heartbeats_total",
			Help: "Register and ping calls received by the liveness monitor",
		},
		[]string{"kind"}, // register|ping
	)

	DiscoveryRegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tigon_discovery_registrations_total",
			Help: "Discovery registry operations performed by the ingestion router",
		},
		[]string{"result"}, // registered|failed|cancelled
	)
)

func init() {
	prometheus.MustRegister(IngestRequestsTotal)
	prometheus.MustRegister(ForwardDuration)
	prometheus.MustRegister(LivenessReportsTotal)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(DiscoveryRegistrationsTotal)
}

func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
