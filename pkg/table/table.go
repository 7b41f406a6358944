package table

import (
	"sync"
	"sync/atomic"

	"github.com/libraz/mygram-db/pkg/cache"
	"github.com/libraz/mygram-db/pkg/docstore"
	"github.com/libraz/mygram-db/pkg/filter"
	"github.com/libraz/mygram-db/pkg/ngram"
)

// Context owns one (Index, DocumentStore, Config) triple for a single
// table, protected by a single readers-writer lock (spec §2 item 6, §4.3
// Thread-safety, §5 Shared-resource policy). Created at startup and
// destroyed only on process shutdown (spec §3 Lifecycle).
type Context struct {
	cfg   Config
	mu    sync.RWMutex
	index *ngram.Index
	docs  *docstore.Store
	cache *cache.Cache

	gtid     atomic.Value // string
	syncing  atomic.Bool
	statsRepl ReplicationStats
}

// ReplicationStats mirrors the eleven replication_* counters the INFO
// command reports (spec §6).
type ReplicationStats struct {
	InsertsApplied, InsertsSkipped             int64
	UpdatesApplied, UpdatesAdded, UpdatesRemoved, UpdatesModified, UpdatesSkipped int64
	DeletesApplied, DeletesSkipped             int64
	DDLExecuted                                int64
	EventsSkippedOtherTables                   int64
}

// New creates an empty TableContext from cfg.
func New(cfg Config, cacheCfg cache.Config) *Context {
	tc := &Context{
		cfg:   cfg,
		index: ngram.NewIndex(cfg.Ngram, cfg.Threshold),
		docs:  docstore.New(),
		cache: cache.New(cacheCfg),
	}
	tc.gtid.Store("")
	return tc
}

func (tc *Context) Name() string { return tc.cfg.Name }
func (tc *Context) Config() Config { return tc.cfg }
func (tc *Context) Cache() *cache.Cache { return tc.cache }

// RLock/RUnlock/Lock/Unlock expose the table lock directly to query and
// replication code paths that need to hold it across several operations
// (spec §4.3, §4.6 step 1/8).
func (tc *Context) RLock()   { tc.mu.RLock() }
func (tc *Context) RUnlock() { tc.mu.RUnlock() }
func (tc *Context) Lock()    { tc.mu.Lock() }
func (tc *Context) Unlock()  { tc.mu.Unlock() }

func (tc *Context) Index() *ngram.Index    { return tc.index }
func (tc *Context) Docs() *docstore.Store  { return tc.docs }

// GTID returns the last captured/applied replication GTID for this table.
func (tc *Context) GTID() string {
	v, _ := tc.gtid.Load().(string)
	return v
}

func (tc *Context) SetGTID(g string) { tc.gtid.Store(g) }

func (tc *Context) SetSyncing(v bool)  { tc.syncing.Store(v) }
func (tc *Context) IsSyncing() bool    { return tc.syncing.Load() }

func (tc *Context) Stats() *ReplicationStats { return &tc.statsRepl }

// Reset replaces the index/docstore wholesale, used by SnapshotCodec.Load
// and by SyncCoordinator after a successful rebuild. Caller must hold the
// write lock.
func (tc *Context) Reset(idx *ngram.Index, docs *docstore.Store, gtid string) {
	tc.index = idx
	tc.docs = docs
	tc.SetGTID(gtid)
	tc.cache.InvalidateTable(tc.cfg.Name)
}

// InsertDocument adds a new document under the write lock and invalidates
// the table's cache entries (spec §4.7: "cache is cleared... on any write
// to the table").
func (tc *Context) InsertDocument(pk string, text string, tuple filter.Tuple) (uint64, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	id, err := tc.docs.AddDocument(pk, tuple)
	if err != nil {
		return 0, err
	}
	tc.index.Add(id, text)
	tc.cache.InvalidateTable(tc.cfg.Name)
	return id, nil
}

// RemoveDocument removes a document under the write lock.
func (tc *Context) RemoveDocument(pk string, text string) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	id, err := tc.docs.RemoveDocument(pk)
	if err != nil {
		return err
	}
	tc.index.Remove(id, text)
	tc.cache.InvalidateTable(tc.cfg.Name)
	return nil
}

// ModifyDocument updates a document's text and/or filters in place under
// the write lock.
func (tc *Context) ModifyDocument(pk, oldText, newText string, tuple filter.Tuple) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	id, ok := tc.docs.GetDocID(pk)
	if !ok {
		return nil
	}
	if oldText != newText {
		tc.index.Modify(id, oldText, newText)
	}
	_ = tc.docs.UpdateFilters(id, tuple)
	tc.cache.InvalidateTable(tc.cfg.Name)
	return nil
}
