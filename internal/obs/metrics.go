package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every handler.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Identity and invitation lifecycle metrics.
var (
	otpIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_otp_issued_total",
		Help: "OTP challenges created and delivered.",
	})

	otpVerifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_otp_verified_total",
			Help: "OTP verification attempts by outcome.",
		},
		[]string{"outcome"},
	)

	invitationsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_invitations_created_total",
		Help: "Flatmate invitations created and delivered.",
	})

	invitationsRedeemedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_invitations_redeemed_total",
			Help: "Invitation redemption attempts by outcome.",
		},
		[]string{"outcome"},
	)

	refreshRotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_rotations_total",
			Help: "Refresh token rotation attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		otpIssuedTotal, otpVerifiedTotal,
		invitationsCreatedTotal, invitationsRedeemedTotal,
		refreshRotationsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountOTPIssued increments the issued-challenge counter.
func CountOTPIssued() { otpIssuedTotal.Inc() }

// CountOTPVerified records a verification attempt outcome ("ok", "invalid",
// "expired", "consumed").
func CountOTPVerified(outcome string) { otpVerifiedTotal.WithLabelValues(outcome).Inc() }

// CountInvitationCreated increments the created-invitation counter.
func CountInvitationCreated() { invitationsCreatedTotal.Inc() }

// CountInvitationRedeemed records a redemption attempt outcome.
func CountInvitationRedeemed(outcome string) {
	invitationsRedeemedTotal.WithLabelValues(outcome).Inc()
}

// CountRefreshRotation records a rotation attempt outcome ("ok", "rejected").
func CountRefreshRotation(outcome string) {
	refreshRotationsTotal.WithLabelValues(outcome).Inc()
}

// Instrument wraps a handler with in-flight, rate and latency measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
