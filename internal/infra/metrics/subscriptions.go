package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		subscriptionsSeen,
		subscriptionsExcludedTotal,
	)
}

var (
	subscriptionsSeen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_seen",
			Help: "Subscriptions returned by the last fetch, by account.",
		},
		[]string{"account"},
	)

	subscriptionsExcludedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_excluded_total",
			Help: "Subscriptions classified not eligible, by checkpoint and reason.",
		},
		[]string{"checkpoint", "reason"},
	)
)

func SetSubscriptionsSeen(account string, count int) {
	subscriptionsSeen.WithLabelValues(account).Set(float64(count))
}

func AddSubscriptionsExcluded(checkpoint, reason string, n int) {
	subscriptionsExcludedTotal.WithLabelValues(norm(checkpoint), norm(reason)).Add(float64(n))
}
