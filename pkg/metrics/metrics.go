package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Index metrics
	DocumentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygramdb_documents_total",
			Help: "Live document count by table",
		},
		[]string{"table"},
	)

	DocstoreCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygramdb_docstore_capacity",
			Help: "Docstore slot capacity (live + tombstoned) by table",
		},
		[]string{"table"},
	)

	NgramTermsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygramdb_ngram_terms_total",
			Help: "Distinct ngram terms indexed by table",
		},
		[]string{"table"},
	)

	PostingListsByEncoding = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygramdb_posting_lists_total",
			Help: "Posting lists by table and encoding (sorted-delta or bitmap)",
		},
		[]string{"table", "encoding"},
	)

	// Cache metrics
	CacheEntriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygramdb_cache_entries",
			Help: "Result cache entries by table",
		},
		[]string{"table"},
	)

	CacheBytesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygramdb_cache_bytes",
			Help: "Result cache memory usage in bytes by table",
		},
		[]string{"table"},
	)

	// CacheHitsTotal and CacheMissesTotal mirror cache.Stats' cumulative
	// counters (collector polls them periodically rather than incrementing
	// live), so they are gauges rather than counters.
	CacheHitsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygramdb_cache_hits_total",
			Help: "Result cache hits by table",
		},
		[]string{"table"},
	)

	CacheMissesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygramdb_cache_misses_total",
			Help: "Result cache misses by table",
		},
		[]string{"table"},
	)

	// Replication metrics mirror table.ReplicationStats' cumulative
	// counters (same polling rationale as the cache gauges above).
	ReplicationInsertsApplied = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygramdb_replication_inserts_applied_total",
			Help: "Binlog INSERT row events applied by table",
		},
		[]string{"table"},
	)

	ReplicationInsertsSkipped = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygramdb_replication_inserts_skipped_total",
			Help: "Binlog INSERT row events skipped (required filter not met or insert failed) by table",
		},
		[]string{"table"},
	)

	ReplicationUpdatesApplied = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygramdb_replication_updates_applied_total",
			Help: "Binlog UPDATE row events applied by table",
		},
		[]string{"table"},
	)

	ReplicationUpdatesSkipped = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygramdb_replication_updates_skipped_total",
			Help: "Binlog UPDATE row events skipped by table",
		},
		[]string{"table"},
	)

	ReplicationDeletesApplied = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygramdb_replication_deletes_applied_total",
			Help: "Binlog DELETE row events applied by table",
		},
		[]string{"table"},
	)

	ReplicationDeletesSkipped = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygramdb_replication_deletes_skipped_total",
			Help: "Binlog DELETE row events skipped by table",
		},
		[]string{"table"},
	)

	ReplicationDDLExecuted = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygramdb_replication_ddl_executed_total",
			Help: "DDL events that marked a table as syncing by table",
		},
		[]string{"table"},
	)

	ReplicationEventsSkippedOtherTables = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygramdb_replication_events_skipped_other_tables_total",
			Help: "Row events skipped because they belong to an unwatched table, by table",
		},
		[]string{"table"},
	)

	// Binlog reader metrics
	BinlogReaderState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mygramdb_binlog_reader_state",
			Help: "Binlog reader state (0=idle, 1=starting, 2=streaming, 3=reconnecting, 4=stopped)",
		},
	)

	BinlogReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mygramdb_binlog_reconnects_total",
			Help: "Total number of binlog reader reconnect attempts",
		},
	)

	// Snapshot metrics
	SnapshotSaveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mygramdb_snapshot_save_duration_seconds",
			Help:    "Time taken by DUMP SAVE in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mygramdb_snapshot_load_duration_seconds",
			Help:    "Time taken by DUMP LOAD in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Sync metrics
	SyncJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mygramdb_sync_jobs_total",
			Help: "SYNC jobs started by table and outcome",
		},
		[]string{"table", "status"},
	)

	// Query / server metrics
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mygramdb_commands_total",
			Help: "Commands handled by kind",
		},
		[]string{"kind"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mygramdb_query_duration_seconds",
			Help:    "SEARCH/COUNT/GET query duration in seconds by table",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	ConnectionsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mygramdb_connections_rejected_total",
			Help: "Connections rejected by the CIDR allowlist",
		},
	)

	ServerBusyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mygramdb_server_busy_total",
			Help: "Connections refused because the worker pool queue was full",
		},
	)
)

func init() {
	prometheus.MustRegister(
		DocumentsTotal,
		DocstoreCapacity,
		NgramTermsTotal,
		PostingListsByEncoding,
		CacheEntriesTotal,
		CacheBytesTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		ReplicationInsertsApplied,
		ReplicationInsertsSkipped,
		ReplicationUpdatesApplied,
		ReplicationUpdatesSkipped,
		ReplicationDeletesApplied,
		ReplicationDeletesSkipped,
		ReplicationDDLExecuted,
		ReplicationEventsSkippedOtherTables,
		BinlogReaderState,
		BinlogReconnectsTotal,
		SnapshotSaveDuration,
		SnapshotLoadDuration,
		SyncJobsTotal,
		CommandsTotal,
		QueryDuration,
		ConnectionsRejectedTotal,
		ServerBusyTotal,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
