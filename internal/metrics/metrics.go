// Package metrics wires the Prometheus counters/gauges every subsystem
// reports through, grounded on ap.configd/metrics.go and ap.httpd.go's
// registration pattern: plain package-level collectors registered once
// at init, served over promhttp.Handler() on its own listener.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors exposed by the server.
var (
	TreeNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "obixd_tree_nodes", Help: "Current number of nodes in the object tree.",
	})
	Devices = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "obixd_devices", Help: "Current number of signed-up devices.",
	})
	Watches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "obixd_watches", Help: "Current number of active watches.",
	})
	PollTasksParked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "obixd_poll_tasks_parked", Help: "Poll tasks currently parked in the long-poll backlog.",
	})
	HistoryRecordsAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "obixd_history_records_appended_total", Help: "Total history records appended.",
	})
	HistoryBytesOnDisk = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "obixd_history_bytes_on_disk", Help: "Approximate bytes occupied by history fragment files.",
	})
	BatchSubRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "obixd_batch_subrequests_total", Help: "Total batch sub-requests processed.",
	})
	DispatchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "obixd_dispatch_errors_total", Help: "Dispatch errors by contract kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		TreeNodes, Devices, Watches, PollTasksParked,
		HistoryRecordsAppended, HistoryBytesOnDisk, BatchSubRequests, DispatchErrors,
	)
}
