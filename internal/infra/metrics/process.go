package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(buildInfo, historyPoolConns) }

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Always 1; labels carry the running binary's version.",
		},
		[]string{"version", "commit", "goversion"},
	)

	historyPoolConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "history_db_pool_connections",
			Help: "Connections of the run history database pool by state.",
		},
		[]string{"state"},
	)
)

func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

// SetHistoryPoolStats publishes a pgx pool snapshot (total, idle, acquired).
func SetHistoryPoolStats(total, idle, acquired int32) {
	historyPoolConns.WithLabelValues("total").Set(float64(total))
	historyPoolConns.WithLabelValues("idle").Set(float64(idle))
	historyPoolConns.WithLabelValues("acquired").Set(float64(acquired))
}
