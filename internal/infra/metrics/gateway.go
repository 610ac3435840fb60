package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(gatewayRequestsTotal, gatewayLatencyMs, gatewayRetriesTotal, gatewayCredentialRejectedTotal)
}

var (
	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Vendor API requests by operation and HTTP status (0 = transport error).",
		},
		[]string{"op", "code"},
	)

	gatewayLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_latency_ms",
			Help:    "Vendor API latency distribution in milliseconds.",
			Buckets: []float64{25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000},
		},
		[]string{"op"},
	)

	gatewayRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Retry attempts by operation.",
		},
		[]string{"op"},
	)

	gatewayCredentialRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_credential_rejected_total",
			Help: "Vendor calls that ended in 401/403 by operation.",
		},
		[]string{"op"},
	)
)

func ObserveGatewayRequest(op string, code int, latencyMs int64) {
	gatewayRequestsTotal.WithLabelValues(norm(op), strconv.Itoa(code)).Inc()
	gatewayLatencyMs.WithLabelValues(norm(op)).Observe(float64(latencyMs))
}

func IncGatewayRetry(op string) {
	gatewayRetriesTotal.WithLabelValues(norm(op)).Inc()
}

func IncGatewayCredentialRejected(op string) {
	gatewayCredentialRejectedTotal.WithLabelValues(norm(op)).Inc()
}
