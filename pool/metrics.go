package pool

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blocknative/syncgate/metrics"
)

type PoolMetrics struct {
	Entries prometheus.Gauge
}

func (p *Pool) initMetrics() {
	p.m.Entries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "syncgate",
		Subsystem: "pool",
		Name:      "entries",
		Help:      "Number of accumulated contributions currently held",
	})
}

func (p *Pool) AttachMetrics(m *metrics.Metrics) {
	m.Register(p.m.Entries)
}
