// Package metrics defines and registers mygramdb's Prometheus metrics:
// index size and posting-list encoding mix, cache hit/miss, the
// replication counters INFO also reports, snapshot save/load duration,
// and command throughput. Collector polls the watched tables on an
// interval to keep the gauges current; counters incremented at the point
// of use (commands, sync jobs, rejected connections) are updated
// directly. Handler exposes them at /metrics via promhttp.
package metrics
