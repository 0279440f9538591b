package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hilbu"

var (
	RequestTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "request_transitions_total", Help: "Recovery request transitions by target status"},
		[]string{"to"},
	)
	ClaimConflicts  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "claim_conflicts_total", Help: "Accepts that lost the claim race"})
	MatchLatency    = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "match_latency_seconds", Help: "Time from request creation to driver claim"})
	ActiveTracking  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "tracking_sessions", Help: "Requests currently being tracked"})
	DriversOnline   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Number of online drivers"})
	OTPSent         = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "otp_sent_total", Help: "OTP codes issued"})
	OTPVerification = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "otp_verifications_total", Help: "OTP verification attempts by result"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
