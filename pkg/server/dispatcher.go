// Package server implements RequestDispatcher, ConnectionAcceptor, and
// WorkerPool (spec §4.11, §5): the line-oriented command server wiring
// together QueryParser, QueryExecutor, SyncCoordinator, and
// RuntimeVariableRegistry, grounded on cuemby-warren/pkg/worker's
// background-task + bounded-channel idiom, generalized here from a
// container worker pool to a per-connection command worker pool.
package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libraz/mygram-db/pkg/binlog"
	"github.com/libraz/mygram-db/pkg/metrics"
	"github.com/libraz/mygram-db/pkg/query"
	"github.com/libraz/mygram-db/pkg/queryexec"
	"github.com/libraz/mygram-db/pkg/syncctl"
	"github.com/libraz/mygram-db/pkg/table"
	"github.com/libraz/mygram-db/pkg/vars"
)

// ConnState is per-connection state (spec §4.11 "Per-connection state:
// debug flag (on/off)").
type ConnState struct {
	mu    sync.Mutex
	debug bool
}

func (c *ConnState) SetDebug(v bool) { c.mu.Lock(); c.debug = v; c.mu.Unlock() }
func (c *ConnState) Debug() bool     { c.mu.Lock(); defer c.mu.Unlock(); return c.debug }

// numCommandKinds is one past the highest query.Kind value, sizing
// Dispatcher.cmdStats so every kind has its own counter slot.
const numCommandKinds = query.KindShowVariables + 1

// Dispatcher routes a parsed Query to its handler, enforcing the
// admission gates of spec §4.11 first.
type Dispatcher struct {
	Tables      map[string]*table.Context
	Exec        *queryexec.Executor
	Vars        *vars.Registry
	Sync        *syncctl.Coordinator
	Admission   *Admission
	Reader      *binlog.Reader // nil if replication is not configured
	SnapshotDir string
	Version     string

	ParseOptions query.Options

	ctx               context.Context
	startedAt         time.Time
	commandsProcessed atomic.Int64
	connectedClients  atomic.Int64
	cmdStats          [numCommandKinds]atomic.Int64
}

// New builds a Dispatcher. ctx governs any goroutines the dispatcher
// itself starts (REPLICATION START). version is reported verbatim on
// INFO's `# Server` section.
func New(ctx context.Context, tables map[string]*table.Context, exec *queryexec.Executor, reg *vars.Registry, coord *syncctl.Coordinator, admission *Admission, reader *binlog.Reader, snapshotDir string, version string, opts query.Options) *Dispatcher {
	return &Dispatcher{
		Tables: tables, Exec: exec, Vars: reg, Sync: coord, Admission: admission,
		Reader: reader, SnapshotDir: snapshotDir, Version: version, ParseOptions: opts,
		ctx: ctx, startedAt: time.Now(),
	}
}

// ClientConnected/ClientDisconnected track the live TCP connection count
// for INFO's `# Clients` section (spec §6 connected_clients); called by
// HandleConnection around its read loop.
func (d *Dispatcher) ClientConnected()    { d.connectedClients.Add(1) }
func (d *Dispatcher) ClientDisconnected() { d.connectedClients.Add(-1) }

// Handle parses and routes one command line, returning the full response
// body (without the trailing line terminator; the caller's connection
// writer appends `\r\n`).
func (d *Dispatcher) Handle(conn *ConnState, line string) string {
	d.commandsProcessed.Add(1)

	q, err := query.Parse(line, d.ParseOptions)
	if err != nil {
		return "ERROR " + err.Error()
	}

	if gate := d.admissionError(q); gate != "" {
		return gate
	}

	metrics.CommandsTotal.WithLabelValues(q.Kind.String()).Inc()
	d.cmdStats[q.Kind].Add(1)

	switch q.Kind {
	case query.KindSearch:
		timer := metrics.NewTimer()
		resp := d.handleSearch(conn, q)
		timer.ObserveDurationVec(metrics.QueryDuration, q.Table)
		return resp
	case query.KindCount:
		timer := metrics.NewTimer()
		resp := d.handleCount(conn, q)
		timer.ObserveDurationVec(metrics.QueryDuration, q.Table)
		return resp
	case query.KindGet:
		return d.handleGet(q)
	case query.KindInfo:
		return d.handleInfo()
	case query.KindDebug:
		return d.handleDebug(conn, q)
	case query.KindOptimize:
		return d.handleOptimize()
	case query.KindDump:
		return d.handleDump(q)
	case query.KindReplication:
		return d.handleReplication(q)
	case query.KindSync:
		return d.handleSync(q)
	case query.KindCache:
		return d.handleCache(q)
	case query.KindSet:
		return d.handleSet(q)
	case query.KindShowVariables:
		return d.handleShowVariables(q)
	default:
		return "ERROR Unknown command"
	}
}

// admissionError implements spec §4.11's admission gates, returning a
// non-empty `ERROR ...` response when a gate blocks q, or "" to proceed.
func (d *Dispatcher) admissionError(q query.Query) string {
	if d.Admission == nil {
		return ""
	}
	if d.Admission.DumpLoadInProgress() {
		return "ERROR loading in progress"
	}
	switch q.Kind {
	case query.KindDump:
		if q.DumpAction == "SAVE" && d.Admission.DumpSaveInProgress() {
			return "ERROR dump save already in progress"
		}
		if q.DumpAction == "LOAD" && d.Admission.ReadOnly() {
			return "ERROR server is read-only"
		}
	case query.KindReplication:
		if q.ReplAction == "START" && d.Admission.MySQLReconnecting() {
			return "ERROR replication is reconnecting, cannot start manually"
		}
		if q.ReplAction == "START" && d.Sync != nil && d.Sync.IsAnySyncing() {
			return "ERROR a table SYNC is in progress, cannot start replication"
		}
	case query.KindSync:
		if !q.SyncStatus && d.tableIsSyncing(q.SyncTable) {
			return "ERROR SYNC already in progress for table"
		}
	}
	return ""
}

func (d *Dispatcher) tableIsSyncing(name string) bool {
	tc, ok := d.Tables[name]
	return ok && tc.IsSyncing()
}

func (d *Dispatcher) uptime() time.Duration { return time.Since(d.startedAt) }

func (d *Dispatcher) commandCount() int64 { return d.commandsProcessed.Load() }

func (d *Dispatcher) clientCount() int64 { return d.connectedClients.Load() }

func (d *Dispatcher) commandStat(k query.Kind) int64 { return d.cmdStats[k].Load() }
