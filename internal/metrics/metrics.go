// Package metrics provides Prometheus metrics for CustomTools.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric exposed by this package.
const Namespace = "customtools"

var (
	// BuildInfo reports the running version as a constant gauge.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "build_info",
		Help:      "Build information for the running binary.",
	}, []string{"version", "go_version"})

	// BulkRunsTotal counts completed bulk runs by outcome.
	BulkRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "bulk_runs_total",
		Help:      "Total number of bulk command runs by status.",
	}, []string{"status"})

	// BulkRunDuration tracks end-to-end bulk run latency.
	BulkRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "bulk_run_duration_seconds",
		Help:      "Duration of bulk command runs in seconds.",
		Buckets:   []float64{0.25, 1, 5, 15, 30, 60, 120, 300, 600},
	})

	// DevicesProcessed reports how many devices the last bulk run visited.
	DevicesProcessed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "bulk_devices_processed",
		Help:      "Number of devices visited by the most recent bulk run.",
	})

	// CommandsExecuted reports how many commands the last bulk run issued.
	CommandsExecuted = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "bulk_commands_executed",
		Help:      "Number of commands executed by the most recent bulk run.",
	})

	// CommandsTotal counts individual command executions by result status.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "commands_total",
		Help:      "Total number of executed commands by status.",
	}, []string{"status"})

	// CommandDuration tracks per-command execution latency.
	CommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "command_duration_seconds",
		Help:      "Duration of individual command executions in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// ConnectFailuresTotal counts devices that could not be reached.
	ConnectFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "connect_failures_total",
		Help:      "Total number of failed connection attempts by target.",
	}, []string{"target"})

	// LogWriteFailuresTotal counts session artifacts that could not be written.
	LogWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "log_write_failures_total",
		Help:      "Total number of session log writes that failed.",
	})

	// PoolConnectionsActive reports currently connected pool slots.
	PoolConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "pool_connections_active",
		Help:      "Number of live SSH connections held by the pool.",
	})

	// FDBSearchesTotal counts MAC lookups by outcome.
	FDBSearchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "fdb_searches_total",
		Help:      "Total number of FDB MAC searches by outcome.",
	}, []string{"outcome"})

	// FDBCacheRefreshesTotal counts full FDB table refreshes.
	FDBCacheRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "fdb_cache_refreshes_total",
		Help:      "Total number of FDB table cache refreshes.",
	})

	// BackupsTotal counts configuration backups by outcome.
	BackupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "backups_total",
		Help:      "Total number of configuration backups by status.",
	}, []string{"status"})

	// BackupDuration tracks configuration backup latency.
	BackupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "backup_duration_seconds",
		Help:      "Duration of configuration backups in seconds.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// UpdateChecksTotal counts version checks against the release feed.
	UpdateChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "update_checks_total",
		Help:      "Total number of update checks by result.",
	}, []string{"result"})

	// HistoryWritesTotal counts run history persistence attempts.
	HistoryWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "history_writes_total",
		Help:      "Total number of run history writes by status.",
	}, []string{"status"})
)

// SetBuildInfo records the version labels for the build_info gauge.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}
