// Package metrics exposes the proxy's Prometheus instrumentation. The
// teacher mounts promhttp.Handler() at /metrics without defining any
// custom collectors; we keep that mount point and add the counters and
// histograms the request orchestrator and upstream client actually need.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccproxy",
		Name:      "requests_total",
		Help:      "Total number of /v1/messages requests by claimed model and terminal status.",
	}, []string{"model", "status"})

	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccproxy",
		Name:      "upstream_requests_total",
		Help:      "Total number of upstream calls by provider and outcome.",
	}, []string{"provider", "outcome"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ccproxy",
		Name:      "request_duration_seconds",
		Help:      "End-to-end latency of /v1/messages requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"model", "streaming"})

	TokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccproxy",
		Name:      "tokens_total",
		Help:      "Token counters by model and direction (input/output).",
	}, []string{"model", "direction"})

	TransformerInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccproxy",
		Name:      "transformer_invocations_total",
		Help:      "Number of times a transformer hook ran, by transformer name and hook.",
	}, []string{"transformer", "hook"})
)
