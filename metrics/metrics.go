// Package metrics defines prometheus metric types and provides convenience
// methods to add accounting to netlink RPC operations.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or go out of the system: requests, files, tests, api calls.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyscallTimeHistogram tracks the latency of a single request/reply
	// round trip over a netlink socket, labeled by family name. It includes
	// encoding the request and decoding every reply frame's attribute list.
	SyscallTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "gnl_syscall_time_histogram",
			Help: "netlink syscall latency distribution (seconds)",
			Buckets: []float64{
				0.001, 0.00125, 0.0016, 0.002, 0.0025, 0.0032, 0.004, 0.005, 0.0063, 0.0079,
				0.01, 0.0125, 0.016, 0.02, 0.025, 0.032, 0.04, 0.05, 0.063, 0.079,
				0.1, 0.125, 0.16, 0.2,
			},
		},
		[]string{"family"})

	// ReplyCountHistogram tracks the number of reply frames a single query
	// accumulated before the terminating DoneMsg, labeled by family name.
	// Single-message (non-DUMP) replies always land in the first bucket.
	ReplyCountHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "gnl_reply_count_histogram",
			Help: "reply frame count per query, by family",
			Buckets: []float64{
				1, 2, 3, 4, 5, 6, 8,
				10, 12.5, 16, 20, 25, 32, 40, 50, 63, 79,
				100, 125, 160, 200, 250, 320, 400, 500, 630, 790,
				1000, 1250, 1600, 2000, 2500, 3200, 4000, 5000, 6300, 7900,
				10000,
			},
		},
		[]string{"family"})

	// ErrorCount measures the number of errors encountered, labeled by the
	// error-taxonomy class the failure falls into. nlsock records "transport"
	// (send/recv, framing, sequence/port and decode failures) and "kernel"
	// (a non-zero ErrorMsg errno); validation errors are not counted.
	//
	// Example usage:
	//   metrics.ErrorCount.With(prometheus.Labels{"class": "kernel"}).Inc()
	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnl_error_total",
			Help: "The total number of errors encountered, by taxonomy class.",
		}, []string{"class"})

	// SequenceGauge exposes the most recently used netlink request sequence
	// number per socket, labeled by the local port id the socket bound to.
	// Useful for confirming sequence numbers are in fact monotonic across a
	// long-lived client.
	SequenceGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gnl_socket_sequence",
			Help: "Most recent request sequence number sent on a socket.",
		}, []string{"port"})

	// BootstrapCount counts CTRL_CMD_GETFAMILY resolutions performed,
	// labeled by outcome ("resolved", "missing_module", "error").
	BootstrapCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnl_bootstrap_total",
			Help: "Family-name-to-id resolutions performed at bootstrap.",
		}, []string{"outcome"})
)

// init() prints a log message to let the user know that the package has been
// loaded and the metrics registered. The metrics are auto-registered, which
// means they are registered as soon as this package is loaded, and the exact
// time this occurs (and whether this occurs at all in a given context) can be
// opaque.
func init() {
	log.Println("Prometheus metrics in gnl.metrics are registered.")
}
