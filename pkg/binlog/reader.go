// Package binlog implements BinlogReader (with its reconnect backoff loop)
// and BinlogApplier (spec §2 item 13-14, §4.9): GTID-based row-event streaming from the
// MySQL source and application of row changes to the in-memory index,
// grounded on go-mysql-org/go-mysql's replication package (the same
// library the reference GTID-search tool in the pack uses for offline
// binlog parsing, generalized here to the library's live-sync mode).
package binlog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"

	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/metrics"
	"github.com/libraz/mygram-db/pkg/mygramerr"
	"github.com/libraz/mygram-db/pkg/schema"
	"github.com/libraz/mygram-db/pkg/table"
)

// State is a BinlogReader state-machine state (spec §4.9 state diagram).
type State int

const (
	StateIdle State = iota
	StateStarting
	StateStreaming
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config configures the source connection and backoff policy.
type Config struct {
	Host     string
	Port     uint16
	User     string
	Password string
	ReplicaID uint32 // must be non-zero (spec §4.9 Starting)

	ReconnectBackoffMin time.Duration
	ReconnectBackoffMax time.Duration

	EventQueueSize int // default 10000 (spec §4.9 Event queue)

	// GTIDStatePersistEvery persists the current GTID to the state store
	// every N binlog events read from the stream, whether or not they are
	// row events for a watched table.
	GTIDStatePersistEvery int
}

func (c Config) withDefaults() Config {
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = 10000
	}
	if c.ReconnectBackoffMin <= 0 {
		c.ReconnectBackoffMin = 500 * time.Millisecond
	}
	if c.ReconnectBackoffMax <= 0 {
		c.ReconnectBackoffMax = 30 * time.Second
	}
	if c.GTIDStatePersistEvery <= 0 {
		c.GTIDStatePersistEvery = 100
	}
	return c
}

// PersistGTID is called by Reader every GTIDStatePersistEvery events
// (spec §4.9); cmd/mygramdb binds it to pkg/state's Store.SaveGTID, a
// bbolt transaction.
type PersistGTID func(gtid string) error

// Reader owns the dedicated source connection driving the state machine
// (spec §4.9 BinlogReader).
type Reader struct {
	cfg      Config
	resolver *schema.Resolver
	tables   map[string]*table.Context // table name -> watched TableContext
	events   chan RowEvent
	persist  PersistGTID

	state     atomic.Int32
	gtid      atomic.Value // string
	stopCh    chan struct{}
	stoppedWG sync.WaitGroup

	lastErr      atomic.Value // error
	failureCount atomic.Int64

	syncer *replication.BinlogSyncer
}

// New builds a Reader watching the tables in tables (table name ->
// TableContext) against the source schema; Start takes the GTID to
// resume from. The
// Reader holds the same map the Applier is built over so that an event
// for an unwatched table can still be counted against every watched
// table's EventsSkippedOtherTables (spec §6 replication_* counters).
func New(cfg Config, resolver *schema.Resolver, tables map[string]*table.Context, persist PersistGTID) (*Reader, error) {
	cfg = cfg.withDefaults()
	if cfg.ReplicaID == 0 {
		return nil, mygramerr.New(mygramerr.InvalidArgument, "binlog replica id must be non-zero")
	}
	r := &Reader{
		cfg:      cfg,
		resolver: resolver,
		tables:   tables,
		events:   make(chan RowEvent, cfg.EventQueueSize),
		persist:  persist,
		stopCh:   make(chan struct{}),
	}
	r.state.Store(int32(StateIdle))
	return r, nil
}

// Events exposes the bounded, backpressured event queue for the applier
// to drain (spec §4.9 "Event queue").
func (r *Reader) Events() <-chan RowEvent { return r.events }

// State returns the current state-machine state.
func (r *Reader) State() State { return State(r.state.Load()) }

// GTID returns the last GTID observed in the stream.
func (r *Reader) GTID() string {
	v, _ := r.gtid.Load().(string)
	return v
}

// LastError returns the most recent connection/stream error observed by
// Start's loop, and the number of reconnect-triggering failures seen so
// far (spec §7 "Source connection errors are reported on REPLICATION
// STATUS with the last error message and a monotonic failure counter").
func (r *Reader) LastError() (error, int64) {
	err, _ := r.lastErr.Load().(error)
	return err, r.failureCount.Load()
}

func (r *Reader) noteError(err error) {
	r.lastErr.Store(err)
	r.failureCount.Add(1)
}

// Start drives the Idle->Starting->Streaming/Reconnecting loop until
// Stop is called or ctx is cancelled (spec §4.9 state diagram).
func (r *Reader) Start(ctx context.Context, startGTID string) {
	r.gtid.Store(startGTID)
	r.stoppedWG.Add(1)
	defer r.stoppedWG.Done()

	backoff := r.cfg.ReconnectBackoffMin
	current := startGTID

	for {
		select {
		case <-ctx.Done():
			r.transition(StateStopped)
			return
		case <-r.stopCh:
			r.transition(StateStopped)
			return
		default:
		}

		r.transition(StateStarting)
		streamer, err := r.open(current)
		if err != nil {
			log.WithComponent("binlog").Error().Err(err).Msg("failed to start binlog stream")
			r.noteError(err)
			r.transition(StateReconnecting)
			if !r.sleepBackoff(ctx, &backoff) {
				r.transition(StateStopped)
				return
			}
			continue
		}

		backoff = r.cfg.ReconnectBackoffMin
		r.transition(StateStreaming)
		newGTID, err := r.stream(ctx, streamer)
		if newGTID != "" {
			current = newGTID
		}
		if r.syncer != nil {
			r.syncer.Close()
		}
		if err == nil {
			r.transition(StateStopped)
			return
		}
		log.WithComponent("binlog").Error().Err(err).Msg("binlog stream error, reconnecting")
		r.noteError(err)
		r.transition(StateReconnecting)
		if !r.sleepBackoff(ctx, &backoff) {
			r.transition(StateStopped)
			return
		}
	}
}

// Stop signals the run loop to exit and waits for it to finish.
func (r *Reader) Stop() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	r.stoppedWG.Wait()
	r.stopCh = make(chan struct{})
}

func (r *Reader) transition(s State) {
	r.state.Store(int32(s))
	metrics.BinlogReaderState.Set(float64(s))
	if s == StateReconnecting {
		metrics.BinlogReconnectsTotal.Inc()
	}
	log.WithComponent("binlog").Debug().Str("state", s.String()).Msg("binlog reader state transition")
}

func (r *Reader) sleepBackoff(ctx context.Context, backoff *time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-r.stopCh:
		return false
	case <-time.After(*backoff):
	}
	*backoff *= 2
	if *backoff > r.cfg.ReconnectBackoffMax {
		*backoff = r.cfg.ReconnectBackoffMax
	}
	return true
}

func (r *Reader) open(startGTID string) (*replication.BinlogStreamer, error) {
	syncerCfg := replication.BinlogSyncerConfig{
		ServerID: r.cfg.ReplicaID,
		Flavor:   "mysql",
		Host:     r.cfg.Host,
		Port:     r.cfg.Port,
		User:     r.cfg.User,
		Password: r.cfg.Password,
	}
	r.syncer = replication.NewBinlogSyncer(syncerCfg)

	gset, err := mysql.ParseMysqlGTIDSet(startGTID)
	if err != nil {
		return nil, mygramerr.Wrap(mygramerr.InvalidArgument, "parse starting gtid set", err)
	}
	streamer, err := r.syncer.StartSyncGTID(gset)
	if err != nil {
		return nil, mygramerr.Wrap(mygramerr.Unavailable, "start gtid sync", err)
	}
	return streamer, nil
}

// stream drains events from streamer, translating table-map + row events
// into RowEvents and pushing them onto the bounded queue (spec §4.9
// Streaming). Returns the last observed GTID and, on a non-cancellation
// error, a non-nil error triggering Reconnecting.
func (r *Reader) stream(ctx context.Context, streamer *replication.BinlogStreamer) (string, error) {
	tableMaps := make(map[uint64]*replication.TableMapEvent)
	lastGTID := ""
	eventCount := 0

	for {
		select {
		case <-ctx.Done():
			return lastGTID, nil
		case <-r.stopCh:
			return lastGTID, nil
		default:
		}

		ev, err := streamer.GetEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return lastGTID, nil
			}
			return lastGTID, mygramerr.Wrap(mygramerr.Unavailable, "read binlog event", err)
		}

		switch e := ev.Event.(type) {
		case *replication.GTIDEvent:
			lastGTID = formatGTID(e)
			r.gtid.Store(lastGTID)

		case *replication.TableMapEvent:
			tableMaps[ev.Header.LogPos] = e
			tableMaps[tableMapKey(e)] = e

		case *replication.RowsEvent:
			tm := e.Table
			if tm == nil {
				continue
			}
			schemaName, tableName := string(tm.Schema), string(tm.Table)
			if _, ok := r.tables[tableName]; !ok {
				r.noteSkippedOtherTable(tableName)
				continue
			}
			if err := r.emitRowsEvent(ctx, ev.Header.EventType, schemaName, tableName, e, lastGTID); err != nil {
				log.WithComponent("binlog").Error().Err(err).Str("table", tableName).Msg("failed to resolve columns for row event")
				continue
			}

		case *replication.QueryEvent:
			q := string(e.Query)
			if isDDL(q) {
				tableName := extractDDLTable(q)
				if tableName != "" {
					if _, ok := r.tables[tableName]; ok {
						r.emit(RowEvent{Kind: KindDDL, Schema: string(e.Schema), Table: tableName, GTID: lastGTID})
						r.resolver.Invalidate(tableName)
					}
				}
			}
		}

		eventCount++
		if r.persist != nil && lastGTID != "" && eventCount%r.cfg.GTIDStatePersistEvery == 0 {
			if err := r.persist(lastGTID); err != nil {
				log.WithComponent("binlog").Error().Err(err).Msg("failed to persist gtid state")
			}
		}
	}
}

// noteSkippedOtherTable is called for a RowsEvent belonging to a table
// this Reader doesn't watch. There is no TableContext for the event's
// own table to charge it to, so it's counted against every currently
// watched table instead: they all share the one binlog stream, so an
// event for table X is "other-table traffic" from each of their points
// of view (spec §6 replication_events_skipped_other_tables).
func (r *Reader) noteSkippedOtherTable(otherTable string) {
	for _, tc := range r.tables {
		tc.Stats().EventsSkippedOtherTables++
	}
	log.WithComponent("binlog").Debug().Str("table", otherTable).Msg("skipping row event for unwatched table")
}

func (r *Reader) emitRowsEvent(ctx context.Context, eventType replication.EventType, schemaName, tableName string, e *replication.RowsEvent, gtid string) error {
	cols, err := r.resolver.Columns(ctx, schemaName, tableName)
	if err != nil {
		return err
	}

	switch eventType {
	case replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		for _, row := range e.Rows {
			r.emit(RowEvent{Kind: KindInsert, Schema: schemaName, Table: tableName, GTID: gtid, New: zipRow(cols, row)})
		}
	case replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		for _, row := range e.Rows {
			r.emit(RowEvent{Kind: KindDelete, Schema: schemaName, Table: tableName, GTID: gtid, Old: zipRow(cols, row)})
		}
	case replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		for i := 0; i+1 < len(e.Rows); i += 2 {
			r.emit(RowEvent{
				Kind: KindUpdate, Schema: schemaName, Table: tableName, GTID: gtid,
				Old: zipRow(cols, e.Rows[i]), New: zipRow(cols, e.Rows[i+1]),
			})
		}
	}
	return nil
}

func (r *Reader) emit(e RowEvent) {
	r.events <- e // blocks on a full queue: backpressure to the network (spec §4.9)
}

func zipRow(cols []string, vals []interface{}) map[string]string {
	m := make(map[string]string, len(cols))
	for i, c := range cols {
		if i >= len(vals) || vals[i] == nil {
			continue
		}
		m[c] = fmt.Sprintf("%v", vals[i])
	}
	return m
}

func tableMapKey(tm *replication.TableMapEvent) uint64 { return tm.TableID }

// formatGTID renders a GTID event's server UUID + transaction number as
// "uuid:gno", the same rendering used by the pack's offline GTID-search
// tool (other_examples/.../searcher-binlog.go).
func formatGTID(e *replication.GTIDEvent) string {
	uuidStr := fmt.Sprintf("%x-%x-%x-%x-%x",
		e.SID[0:4], e.SID[4:6], e.SID[6:8], e.SID[8:10], e.SID[10:16])
	return fmt.Sprintf("%s:%d", uuidStr, e.GNO)
}
