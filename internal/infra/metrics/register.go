package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once
	pending      []prometheus.Collector
)

// register queues collectors from each file's init for MustRegister.
func register(cs ...prometheus.Collector) {
	pending = append(pending, cs...)
}

// MustRegister adds every queued collector to reg, or to the default registry
// when reg is nil. Only the first call has an effect.
func MustRegister(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		if len(pending) > 0 {
			reg.MustRegister(pending...)
		}
	})
}
