// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "embed_tokens_issued_total",
		Help: "Embed tokens issued, by outcome.",
	}, []string{"outcome"})

	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "embed_verifications_total",
		Help: "Embed token verifications, by outcome.",
	}, []string{"outcome"})

	Provisioning = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "embed_identity_provisioning_total",
		Help: "Identity provisioning results: cache_hit, existing, created, error.",
	}, []string{"result"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "embed_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "code"})
)
