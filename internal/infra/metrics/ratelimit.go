package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(rateLimitTokens, rateLimitDeniedTotal) }

var (
	rateLimitTokens = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rate_limit_tokens",
			Help: "Tokens left in the shared outbound token bucket.",
		},
	)

	rateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_denied_total",
			Help: "Token requests that found the bucket empty.",
		},
	)
)

func SetRateLimitTokens(tokens float64) {
	rateLimitTokens.Set(tokens)
}

func IncRateLimitDenied() {
	rateLimitDeniedTotal.Inc()
}
