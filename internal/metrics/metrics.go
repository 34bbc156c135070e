// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devforum_http_requests_total",
		Help: "HTTP requests by route pattern, method and status.",
	}, []string{"route", "method", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "devforum_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern and method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	AuthEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devforum_auth_events_total",
		Help: "Authentication events by kind, from both the server and the client session store.",
	}, []string{"kind"})

	ApprovalResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devforum_approval_resolutions_total",
		Help: "Approval resolutions by outcome (admin, approved, pending, error).",
	}, []string{"outcome"})

	AdminCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devforum_admin_cache_hits_total",
		Help: "Admin role cache hits.",
	})

	AdminCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devforum_admin_cache_misses_total",
		Help: "Admin role cache misses.",
	})

	StaleResolutionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devforum_stale_resolutions_total",
		Help: "Resolutions discarded because a newer auth event superseded them.",
	})

	AdminActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devforum_admin_actions_total",
		Help: "Administrative actions by action name.",
	}, []string{"action"})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devforum_rate_limited_total",
		Help: "Requests rejected by the rate limiter, by route.",
	}, []string{"route"})

	CaptchaChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devforum_captcha_checks_total",
		Help: "Sign-up challenge verifications by result.",
	}, []string{"result"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
