package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetBuildInfo(t *testing.T) {
	BuildInfo.Reset()

	SetBuildInfo("1.3.0", "go1.24.11")

	if n := testutil.CollectAndCount(BuildInfo); n != 1 {
		t.Fatalf("CollectAndCount(BuildInfo) = %d, want 1", n)
	}
	if v := testutil.ToFloat64(BuildInfo.WithLabelValues("1.3.0", "go1.24.11")); v != 1 {
		t.Errorf("build_info = %v, want 1", v)
	}
}

func TestBulkRunMetrics(t *testing.T) {
	BulkRunsTotal.Reset()

	BulkRunsTotal.WithLabelValues("success").Inc()
	BulkRunsTotal.WithLabelValues("success").Inc()
	BulkRunsTotal.WithLabelValues("error").Inc()
	BulkRunDuration.Observe(12.5)
	BulkRunDuration.Observe(48.2)
	DevicesProcessed.Set(12)
	CommandsExecuted.Set(36)

	if got := testutil.ToFloat64(BulkRunsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("bulk_runs_total{status=success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(BulkRunsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("bulk_runs_total{status=error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(DevicesProcessed); got != 12 {
		t.Errorf("bulk_devices_processed = %v, want 12", got)
	}
	if got := testutil.ToFloat64(CommandsExecuted); got != 36 {
		t.Errorf("bulk_commands_executed = %v, want 36", got)
	}
}

func TestCommandMetrics(t *testing.T) {
	CommandsTotal.Reset()
	ConnectFailuresTotal.Reset()

	CommandsTotal.WithLabelValues("success").Add(5)
	CommandsTotal.WithLabelValues("error").Inc()
	CommandsTotal.WithLabelValues("timeout").Inc()
	CommandDuration.Observe(0.4)
	ConnectFailuresTotal.WithLabelValues("10.10.1.7").Inc()

	for status, want := range map[string]float64{
		"success": 5,
		"error":   1,
		"timeout": 1,
	} {
		if got := testutil.ToFloat64(CommandsTotal.WithLabelValues(status)); got != want {
			t.Errorf("commands_total{status=%s} = %v, want %v", status, got, want)
		}
	}
	if got := testutil.ToFloat64(ConnectFailuresTotal.WithLabelValues("10.10.1.7")); got != 1 {
		t.Errorf("connect_failures_total{target=10.10.1.7} = %v, want 1", got)
	}
}

func TestToolMetrics(t *testing.T) {
	FDBSearchesTotal.Reset()
	BackupsTotal.Reset()
	UpdateChecksTotal.Reset()
	HistoryWritesTotal.Reset()

	FDBSearchesTotal.WithLabelValues("found").Add(3)
	FDBSearchesTotal.WithLabelValues("not_found").Inc()
	FDBCacheRefreshesTotal.Inc()
	BackupsTotal.WithLabelValues("success").Inc()
	BackupDuration.Observe(4.2)
	UpdateChecksTotal.WithLabelValues("current").Inc()
	HistoryWritesTotal.WithLabelValues("success").Add(2)
	PoolConnectionsActive.Set(3)

	if got := testutil.ToFloat64(FDBSearchesTotal.WithLabelValues("found")); got != 3 {
		t.Errorf("fdb_searches_total{outcome=found} = %v, want 3", got)
	}
	if got := testutil.ToFloat64(FDBSearchesTotal.WithLabelValues("not_found")); got != 1 {
		t.Errorf("fdb_searches_total{outcome=not_found} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(BackupsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("backups_total{status=success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(UpdateChecksTotal.WithLabelValues("current")); got != 1 {
		t.Errorf("update_checks_total{result=current} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(HistoryWritesTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("history_writes_total{status=success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(PoolConnectionsActive); got != 3 {
		t.Errorf("pool_connections_active = %v, want 3", got)
	}
}

func TestNamespacePrefix(t *testing.T) {
	collectors := map[string]prometheus.Collector{
		"BuildInfo":              BuildInfo,
		"BulkRunsTotal":          BulkRunsTotal,
		"BulkRunDuration":        BulkRunDuration,
		"DevicesProcessed":       DevicesProcessed,
		"CommandsExecuted":       CommandsExecuted,
		"CommandsTotal":          CommandsTotal,
		"CommandDuration":        CommandDuration,
		"ConnectFailuresTotal":   ConnectFailuresTotal,
		"LogWriteFailuresTotal":  LogWriteFailuresTotal,
		"PoolConnectionsActive":  PoolConnectionsActive,
		"FDBSearchesTotal":       FDBSearchesTotal,
		"FDBCacheRefreshesTotal": FDBCacheRefreshesTotal,
		"BackupsTotal":           BackupsTotal,
		"BackupDuration":         BackupDuration,
		"UpdateChecksTotal":      UpdateChecksTotal,
		"HistoryWritesTotal":     HistoryWritesTotal,
	}

	for name, c := range collectors {
		descs := make(chan *prometheus.Desc, 8)
		c.Describe(descs)
		close(descs)

		for d := range descs {
			if !strings.Contains(d.String(), Namespace+"_") {
				t.Errorf("%s descriptor %s lacks the %s_ prefix", name, d, Namespace)
			}
		}
	}
}
