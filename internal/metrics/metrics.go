package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess  = "success"
	OutcomeUpstream = "upstream_error"
	OutcomeInvalid  = "invalid"

	PushDelivered = "delivered"
	PushFailed    = "failed"
)

var (
	// Query metrics
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grok_mind_queries_total",
			Help: "Total queries submitted, by outcome",
		},
		[]string{"outcome"},
	)

	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grok_mind_upstream_duration_seconds",
			Help:    "Completion call duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	// Viewer metrics
	ViewersAttached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grok_mind_viewers_attached",
			Help: "Number of currently attached viewers",
		},
	)

	PushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grok_mind_pushes_total",
			Help: "Snapshot pushes to viewers, by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		QueriesTotal,
		UpstreamDuration,
		ViewersAttached,
		PushesTotal,
	)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
