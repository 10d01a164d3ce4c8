package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leech",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "leech",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "leech",
		Name:      "active_tasks",
		Help:      "Number of tasks currently in the registry.",
	})

	TasksStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leech",
		Name:      "tasks_started_total",
		Help:      "Total tasks created by kind.",
	}, []string{"kind"})

	TasksFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leech",
		Name:      "tasks_finished_total",
		Help:      "Total tasks reaching a terminal stage by kind and outcome.",
	}, []string{"kind", "outcome"})

	StageTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leech",
		Name:      "stage_transitions_total",
		Help:      "Total task stage transitions by target stage.",
	}, []string{"stage"})

	DownloadBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "leech",
		Name:      "download_bytes_total",
		Help:      "Total bytes downloaded from all sources.",
	})

	UploadBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "leech",
		Name:      "upload_bytes_total",
		Help:      "Total bytes uploaded back to chats.",
	})

	SubprocessRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leech",
		Name:      "subprocess_runs_total",
		Help:      "Total external binary invocations by binary name.",
	}, []string{"binary"})

	FetchStrategyAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leech",
		Name:      "fetch_strategy_attempts_total",
		Help:      "Universal fetcher strategy attempts by strategy name.",
	}, []string{"strategy"})

	FetchStrategyHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leech",
		Name:      "fetch_strategy_hits_total",
		Help:      "Universal fetcher strategy successes by strategy name.",
	}, []string{"strategy"})

	QuotaRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "leech",
		Name:      "quota_rejections_total",
		Help:      "Total admissions rejected by the quota gate.",
	})

	SplitUploadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "leech",
		Name:      "split_uploads_total",
		Help:      "Total uploads that exceeded the single-file ceiling and were split.",
	})

	WatchdogRestartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leech",
		Name:      "watchdog_restarts_total",
		Help:      "Total restarts triggered by the watchdog, by reason.",
	}, []string{"reason"})

	ProcessDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "leech",
		Name:      "process_duration_seconds",
		Help:      "Duration of the processing stage by tool tag.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"tool"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveTasks,
		TasksStartedTotal,
		TasksFinishedTotal,
		StageTransitionsTotal,
		DownloadBytesTotal,
		UploadBytesTotal,
		SubprocessRuns,
		FetchStrategyAttempts,
		FetchStrategyHits,
		QuotaRejectionsTotal,
		SplitUploadsTotal,
		WatchdogRestartsTotal,
		ProcessDuration,
	)
}
