package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(notificationsSentTotal)
}

var notificationsSentTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Notification deliveries by channel and result.",
	},
	[]string{"channel", "result"}, // result: 'ok', 'error'
)

func IncNotification(channel string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	notificationsSentTotal.WithLabelValues(norm(channel), result).Inc()
}
