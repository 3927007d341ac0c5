package verify

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blocknative/syncgate/metrics"
)

type VerificationManagerMetrics struct {
	RunningWorkers *prometheus.GaugeVec
	VerifyTiming   *prometheus.HistogramVec
}

func (vm *VerificationManager) initMetrics() {
	vm.m.RunningWorkers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "syncgate",
		Subsystem: "verify",
		Name:      "runningWorkers",
		Help:      "Number of running verification workers",
	}, []string{"type"})
	vm.m.VerifyTiming = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "syncgate",
		Subsystem: "verify",
		Name:      "verifyTiming",
		Help:      "Duration of signature verification by queue (message, contribution, other)",
	}, []string{"type"})
}

func (vm *VerificationManager) AttachMetrics(m *metrics.Metrics) {
	m.Register(vm.m.RunningWorkers)
	m.Register(vm.m.VerifyTiming)
}
