// Package metrics provides Prometheus instrumentation for the settlement engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PaymentsInitiated counts checkout sessions opened.
	PaymentsInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grochain_payments_initiated_total",
		Help: "Total number of payment sessions initiated",
	})

	// PaymentConfirmations counts confirmation attempts by outcome.
	PaymentConfirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grochain_payment_confirmations_total",
		Help: "Payment confirmation attempts by outcome",
	}, []string{"outcome"})

	// SettlementLatency tracks ConfirmPayment duration by outcome.
	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grochain_settlement_latency_seconds",
		Help:    "Payment confirmation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// PlatformFees tracks cumulative platform fee volume in currency units.
	PlatformFees = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grochain_platform_fees_total",
		Help: "Cumulative platform fees collected",
	})

	// CommissionWrites counts per-partner commission writes by result
	// (created, duplicate, failed).
	CommissionWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grochain_commission_writes_total",
		Help: "Per-partner commission writes by result",
	}, []string{"result"})

	// CommissionVolume tracks cumulative commission credited to partners.
	CommissionVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grochain_commission_volume_total",
		Help: "Cumulative commission credited to partner balances",
	})

	// CreditSignalFailures counts credit updates that failed or panicked.
	CreditSignalFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grochain_credit_signal_failures_total",
		Help: "Credit signal updates that failed without affecting settlement",
	})

	// GatewayErrors counts gateway call failures by operation.
	GatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grochain_gateway_errors_total",
		Help: "Payment gateway call failures",
	}, []string{"op"})

	// VerificationMismatches counts successful gateway verdicts that did not
	// match the pending payment, by reason.
	VerificationMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grochain_verification_mismatches_total",
		Help: "Gateway success verdicts rejected for not matching the payment",
	}, []string{"reason"})

	// Withdrawals counts withdrawal transitions by resulting status.
	Withdrawals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grochain_withdrawals_total",
		Help: "Commission withdrawal transitions by status",
	}, []string{"status"})

	// WebSocketClients tracks connected ledger feed clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grochain_websocket_clients",
		Help: "Number of connected ledger feed clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grochain_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grochain_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the ledger feed upgrade through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
