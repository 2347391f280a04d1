package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/m-lab/gnl/metrics"
)

func TestCountersAcceptLabels(t *testing.T) {
	metrics.ErrorCount.With(prometheus.Labels{"class": "kernel"}).Inc()
	metrics.BootstrapCount.With(prometheus.Labels{"outcome": "resolved"}).Inc()
	metrics.SequenceGauge.With(prometheus.Labels{"port": "1234"}).Set(7)
}

func TestHistogramsAcceptLabels(t *testing.T) {
	metrics.SyscallTimeHistogram.With(prometheus.Labels{"family": "IPVS"}).Observe(0.01)
	metrics.ReplyCountHistogram.With(prometheus.Labels{"family": "IPVS"}).Observe(3)
}
