// Package observability provides Prometheus metrics for the execution
// server and the interpreter it drives.
package observability

import "github.com/prometheus/client_golang/prometheus"

// Execution outcomes used as the "outcome" label.
const (
	OutcomeOK    = "ok"    // code ran to completion
	OutcomeError = "error" // code raised; reported in a failure envelope
	OutcomeFault = "fault" // no result: launch failure or dead interpreter
)

// ExecutionBuckets spans quick expressions up to multi-minute cells.
var ExecutionBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60, 300}

var (
	// ExecutionsTotal counts executions by outcome.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execserver_executions_total",
			Help: "Code executions",
		},
		[]string{"outcome"},
	)

	// ExecutionDuration records interpreter round-trip time in seconds.
	ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "execserver_execution_duration_seconds",
			Help:    "Execution duration",
			Buckets: ExecutionBuckets,
		},
	)

	// KernelRestartsTotal counts interpreter relaunches after the first.
	KernelRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execserver_kernel_restarts_total",
			Help: "Interpreter restarts",
		},
		[]string{"backend"},
	)

	// KernelUp is 1 while an interpreter is running.
	KernelUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "execserver_kernel_up",
			Help: "Interpreter running",
		},
	)

	// RequestsTotal counts HTTP requests by method, route pattern and status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execserver_http_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		ExecutionsTotal,
		ExecutionDuration,
		KernelRestartsTotal,
		KernelUp,
		RequestsTotal,
	)
}
