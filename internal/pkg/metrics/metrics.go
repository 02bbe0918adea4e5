package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Job results used as the "result" label of JobsTotal.
const (
	ResultSuccess      = "success"
	ResultTimeout      = "timeout"
	ResultRequestError = "request_error"
	ResultFSMError     = "fsm_error"
	ResultFatal        = "fatal"
	ResultError        = "error"
)

// Registry holds every boardfarm collector plus the Go and process collectors.
// It is served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// JobsTotal counts finished dispatches per pool and outcome.
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardfarm_jobs_total",
			Help: "Total number of jobs dispatched, by pool and result.",
		},
		[]string{"pool", "result"},
	)

	// JobDuration observes wall time from admission to release.
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boardfarm_job_duration_seconds",
			Help:    "Time a job held a board, from admission to release.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"pool"},
	)

	// BoardsBusy is the number of boards currently held by a job.
	BoardsBusy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "boardfarm_boards_busy",
			Help: "Number of boards currently running a job.",
		},
		[]string{"pool"},
	)

	// PowerRestartsTotal counts restart attempts; refused means the restart
	// guard tripped.
	PowerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardfarm_power_restarts_total",
			Help: "Power-cycle attempts per switch (ok/refused).",
		},
		[]string{"switch", "result"},
	)

	// DeviceTimeouts counts device runs that produced no console output in time.
	DeviceTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardfarm_device_timeouts_total",
			Help: "Device runs that timed out waiting for console output.",
		},
		[]string{"pool"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		JobsTotal,
		JobDuration,
		BoardsBusy,
		PowerRestartsTotal,
		DeviceTimeouts,
	)
}
