package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(delayedResetsFiredTotal) }

var delayedResetsFiredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "delayed_resets_fired_total",
		Help: "Deferred resets that fired, labeled by result.",
	},
	[]string{"result"}, // 'success', 'failed', 'skipped', 'missing', 'error'
)

func IncDelayedFired(result string) {
	delayedResetsFiredTotal.WithLabelValues(norm(result)).Inc()
}

// RegisterPendingDelayed exposes the number of armed deferred resets.
// fn is read at scrape time.
func RegisterPendingDelayed(fn func() float64) {
	register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "delayed_resets_pending",
			Help: "Deferred resets currently armed across all accounts.",
		},
		fn,
	))
}
