// Package metrics holds the Prometheus collectors of the authentication
// service. Call RegisterMetrics once at startup.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values shared by several counters.
const (
	OutcomeSuccess        = "success"
	OutcomeFailed         = "failed"
	OutcomeBlocked        = "blocked"
	OutcomeInvalid        = "invalid"
	OutcomeExpired        = "expired"
	OutcomeLocked         = "locked"
	OutcomeNotFound       = "not_found"
	OutcomeDeliveryFailed = "delivery_failed"
	OutcomeError          = "error"
)

var OTPIssued = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "phoneauth_otp_issued_total",
		Help: "One-time code issuance attempts by outcome",
	},
	[]string{"outcome"},
)

var OTPVerifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "phoneauth_otp_verifications_total",
		Help: "One-time code verifications by outcome",
	},
	[]string{"outcome"},
)

var LoginAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "phoneauth_login_attempts_total",
		Help: "Password login attempts by outcome",
	},
	[]string{"outcome"},
)

var RateLimitRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "phoneauth_rate_limit_rejections_total",
		Help: "Requests rejected by a rate limiter or lockout",
	},
	[]string{"limiter"},
)

var TokensIssued = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "phoneauth_tokens_issued_total",
		Help: "Session tokens issued",
	},
	[]string{"kind"},
)

var TokensRevoked = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "phoneauth_tokens_revoked_total",
		Help: "Session tokens revoked before expiry, by reason",
	},
	[]string{"reason"},
)

var AuditWriteFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "phoneauth_audit_write_failures_total",
		Help: "Audit records that could not be written",
	},
	[]string{"kind"},
)

var SweepRemoved = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "phoneauth_sweep_removed_total",
		Help: "Expired entries removed by the sweeper",
	},
	[]string{"store"},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "phoneauth_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// RegisterMetrics registers all collectors with reg. Panics on duplicate
// registration.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		OTPIssued,
		OTPVerifications,
		LoginAttempts,
		RateLimitRejections,
		TokensIssued,
		TokensRevoked,
		AuditWriteFailures,
		SweepRemoved,
		HTTPRequestDuration,
	)
}

func RecordOTPIssued(outcome string) {
	OTPIssued.WithLabelValues(outcome).Inc()
}

func RecordOTPVerification(outcome string) {
	OTPVerifications.WithLabelValues(outcome).Inc()
}

func RecordLoginAttempt(outcome string) {
	LoginAttempts.WithLabelValues(outcome).Inc()
}

func RecordRateLimited(limiter string) {
	RateLimitRejections.WithLabelValues(limiter).Inc()
}

func RecordTokenIssued(kind string) {
	TokensIssued.WithLabelValues(kind).Inc()
}

// RecordTokensRevoked adds n revocations for reason.
func RecordTokensRevoked(reason string, n int) {
	if n > 0 {
		TokensRevoked.WithLabelValues(reason).Add(float64(n))
	}
}

func RecordAuditWriteFailure(kind string) {
	AuditWriteFailures.WithLabelValues(kind).Inc()
}

func RecordSweepRemoved(store string, n int64) {
	if n > 0 {
		SweepRemoved.WithLabelValues(store).Add(float64(n))
	}
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, statusClass(status)).Observe(duration.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
