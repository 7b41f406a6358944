// Package syncctl implements SyncCoordinator (spec §4.13): on-demand
// per-table re-snapshot plus replication restart, grounded on
// original_source/src/server/sync_operation_manager.{h,cpp}.
package syncctl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/mygramerr"
	"github.com/libraz/mygram-db/pkg/snapshot"
	"github.com/libraz/mygram-db/pkg/table"
)

// Status mirrors the original's SyncState.status values.
type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusStarting   Status = "STARTING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// RestartReplication is invoked with the freshly captured GTID once a
// snapshot build succeeds (spec §4.13 "restart BinlogReader from the
// newly captured GTID"). It returns one of
// STARTED/ALREADY_RUNNING/DISABLED/FAILED mirroring the original's
// replication_status field.
type RestartReplication func(gtid string) string

type syncState struct {
	mu                 sync.Mutex
	table              string
	running            bool
	totalRows          int64
	processedRows      atomic.Int64
	rowsPerSecond      float64
	startTime          time.Time
	status             Status
	errorMessage       string
	gtid               string
	replicationRestart string
}

// StatusLine is one SYNC STATUS report row.
type StatusLine struct {
	Table              string
	Status             Status
	ProcessedRows      int64
	TotalRows          int64
	RowsPerSecond      float64
	GTID               string
	ReplicationRestart string
	Error              string
}

// Coordinator tracks at most one in-flight SYNC per table (spec §4.13
// "verify no other SYNC is in progress for this table").
type Coordinator struct {
	tables  map[string]*table.Context
	builder *snapshot.Builder
	restart RestartReplication

	memoryHealthy func() bool // false => reject new SYNCs (spec §4.13, §7 memory pressure)

	mu      sync.Mutex
	states  map[string]*syncState
	nextJob atomic.Uint64
}

// New builds a Coordinator. memoryHealthy may be nil, in which case SYNC
// is never rejected for memory pressure.
func New(tables map[string]*table.Context, builder *snapshot.Builder, restart RestartReplication, memoryHealthy func() bool) *Coordinator {
	return &Coordinator{
		tables:        tables,
		builder:       builder,
		restart:       restart,
		memoryHealthy: memoryHealthy,
		states:        make(map[string]*syncState),
	}
}

// StartSync launches a background snapshot rebuild for tableName against
// sourceTable, returning the job id used in the `OK SYNC STARTED`
// response (spec §4.13, §6).
func (c *Coordinator) StartSync(ctx context.Context, tableName, sourceTable string) (uint64, error) {
	tc, ok := c.tables[tableName]
	if !ok {
		return 0, mygramerr.Newf(mygramerr.NotFound, "unknown table %q", tableName)
	}
	if c.memoryHealthy != nil && !c.memoryHealthy() {
		return 0, mygramerr.New(mygramerr.FailedPrecondition, "memory health is critical, rejecting SYNC")
	}

	c.mu.Lock()
	if st, exists := c.states[tableName]; exists {
		st.mu.Lock()
		running := st.running
		st.mu.Unlock()
		if running {
			c.mu.Unlock()
			return 0, mygramerr.Newf(mygramerr.FailedPrecondition, "SYNC already in progress for table %q", tableName)
		}
	}
	st := &syncState{table: tableName, running: true, status: StatusStarting, startTime: time.Now()}
	c.states[tableName] = st
	c.mu.Unlock()

	tc.SetSyncing(true)
	jobID := c.nextJob.Add(1)

	go c.runSync(ctx, tc, sourceTable, st)
	return jobID, nil
}

func (c *Coordinator) runSync(ctx context.Context, tc *table.Context, sourceTable string, st *syncState) {
	defer func() {
		tc.SetSyncing(false)
		st.mu.Lock()
		st.running = false
		st.mu.Unlock()
	}()

	st.mu.Lock()
	st.status = StatusInProgress
	st.mu.Unlock()

	onProgress := func(p snapshot.Progress) {
		st.mu.Lock()
		st.totalRows = p.TotalRowsEstimate
		st.rowsPerSecond = p.RowsPerSecond
		st.mu.Unlock()
		st.processedRows.Store(p.ProcessedRows)
	}

	result, idx, docs, err := c.builder.Build(ctx, tc.Config(), sourceTable, onProgress, 1000)
	if err != nil {
		st.mu.Lock()
		st.status = StatusFailed
		if mygramerr.Is(err, mygramerr.Cancelled) {
			st.status = StatusCancelled
		}
		st.errorMessage = err.Error()
		st.mu.Unlock()
		log.WithTable(tc.Name()).Error().Err(err).Msg("SYNC snapshot build failed")
		return
	}

	tc.Lock()
	tc.Reset(idx, docs, result.GTID)
	tc.Unlock()

	st.mu.Lock()
	st.status = StatusCompleted
	st.gtid = result.GTID
	st.mu.Unlock()

	replStatus := "DISABLED"
	if c.restart != nil {
		replStatus = c.restart(result.GTID)
	}
	st.mu.Lock()
	st.replicationRestart = replStatus
	st.mu.Unlock()
}

// IsAnySyncing reports whether any table currently has an in-flight
// SYNC.
func (c *Coordinator) IsAnySyncing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.states {
		st.mu.Lock()
		running := st.running
		st.mu.Unlock()
		if running {
			return true
		}
	}
	return false
}

// StatusLines returns one row per table that has ever had a SYNC
// started, in map-iteration order (callers typically sort by table
// name for deterministic wire output).
func (c *Coordinator) StatusLines() []StatusLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := make([]StatusLine, 0, len(c.states))
	for _, st := range c.states {
		st.mu.Lock()
		lines = append(lines, StatusLine{
			Table:              st.table,
			Status:             st.status,
			ProcessedRows:      st.processedRows.Load(),
			TotalRows:          st.totalRows,
			RowsPerSecond:      st.rowsPerSecond,
			GTID:               st.gtid,
			ReplicationRestart: st.replicationRestart,
			Error:              st.errorMessage,
		})
		st.mu.Unlock()
	}
	return lines
}

// FormatStatus renders StatusLines as the multi-line `OK SYNC STATUS`
// body the wire protocol pins (spec §6).
func FormatStatus(lines []StatusLine) string {
	out := "OK SYNC STATUS\n"
	for _, l := range lines {
		out += fmt.Sprintf("table=%s status=%s processed=%d total=%d rate=%.1f gtid=%s replication=%s",
			l.Table, l.Status, l.ProcessedRows, l.TotalRows, l.RowsPerSecond, l.GTID, l.ReplicationRestart)
		if l.Error != "" {
			out += fmt.Sprintf(" error=%q", l.Error)
		}
		out += "\n"
	}
	out += "END\n"
	return out
}
