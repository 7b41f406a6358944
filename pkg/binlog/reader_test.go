package binlog

import (
	"context"
	"testing"
	"time"

	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/stretchr/testify/require"

	"github.com/libraz/mygram-db/pkg/cache"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/table"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, 10000, cfg.EventQueueSize)
	require.Equal(t, 500*time.Millisecond, cfg.ReconnectBackoffMin)
	require.Equal(t, 30*time.Second, cfg.ReconnectBackoffMax)
	require.Equal(t, 100, cfg.GTIDStatePersistEvery)
}

func TestConfigWithDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{EventQueueSize: 5, ReconnectBackoffMin: time.Second, ReconnectBackoffMax: time.Minute, GTIDStatePersistEvery: 7}.withDefaults()
	require.Equal(t, 5, cfg.EventQueueSize)
	require.Equal(t, time.Second, cfg.ReconnectBackoffMin)
	require.Equal(t, time.Minute, cfg.ReconnectBackoffMax)
	require.Equal(t, 7, cfg.GTIDStatePersistEvery)
}

func TestNewRejectsZeroReplicaID(t *testing.T) {
	_, err := New(Config{}, nil, nil, nil)
	require.Error(t, err)
}

func TestNewBuildsIdleReader(t *testing.T) {
	tc := table.New(table.Config{Name: "products", PKColumn: "id", Ngram: ngram.DefaultConfig(), Threshold: ngram.DefaultThreshold()}, cache.Config{})
	tables := map[string]*table.Context{"products": tc}
	r, err := New(Config{ReplicaID: 42}, nil, tables, nil)
	require.NoError(t, err)
	require.Equal(t, StateIdle, r.State())
	require.Equal(t, "", r.GTID())
	_, ok := r.tables["products"]
	require.True(t, ok)
}

func TestNoteSkippedOtherTableIncrementsEveryWatchedTable(t *testing.T) {
	tc1 := table.New(table.Config{Name: "products", PKColumn: "id", Ngram: ngram.DefaultConfig(), Threshold: ngram.DefaultThreshold()}, cache.Config{})
	tc2 := table.New(table.Config{Name: "orders", PKColumn: "id", Ngram: ngram.DefaultConfig(), Threshold: ngram.DefaultThreshold()}, cache.Config{})
	tables := map[string]*table.Context{"products": tc1, "orders": tc2}
	r, err := New(Config{ReplicaID: 42}, nil, tables, nil)
	require.NoError(t, err)

	r.noteSkippedOtherTable("other_table")

	require.EqualValues(t, 1, tc1.Stats().EventsSkippedOtherTables)
	require.EqualValues(t, 1, tc2.Stats().EventsSkippedOtherTables)
}

func TestNoteErrorTracksLastErrorAndFailureCount(t *testing.T) {
	r, err := New(Config{ReplicaID: 1}, nil, nil, nil)
	require.NoError(t, err)

	lastErr, count := r.LastError()
	require.NoError(t, lastErr)
	require.Zero(t, count)

	r.noteError(mygramerrTestError{})
	r.noteError(mygramerrTestError{})
	lastErr, count = r.LastError()
	require.Error(t, lastErr)
	require.EqualValues(t, 2, count)
}

type mygramerrTestError struct{}

func (mygramerrTestError) Error() string { return "boom" }

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:         "idle",
		StateStarting:     "starting",
		StateStreaming:    "streaming",
		StateReconnecting: "reconnecting",
		StateStopped:      "stopped",
		State(99):         "unknown",
	}
	for s, want := range cases {
		require.Equal(t, want, s.String())
	}
}

func TestZipRowSkipsNilValues(t *testing.T) {
	got := zipRow([]string{"id", "title", "price"}, []interface{}{"p1", nil, 42})
	require.Equal(t, map[string]string{"id": "p1", "price": "42"}, got)
}

func TestZipRowHandlesShortValueSlice(t *testing.T) {
	got := zipRow([]string{"id", "title"}, []interface{}{"p1"})
	require.Equal(t, map[string]string{"id": "p1"}, got)
}

func TestTableMapKeyUsesTableID(t *testing.T) {
	tm := &replication.TableMapEvent{TableID: 77}
	require.EqualValues(t, 77, tableMapKey(tm))
}

func TestFormatGTIDRendersUUIDAndGNO(t *testing.T) {
	sid := []byte{
		0x3e, 0x11, 0xfa, 0x47,
		0x71, 0xca,
		0x11, 0xe1,
		0x9e, 0x33,
		0xc8, 0x0a, 0xa9, 0x42, 0x95, 0x62,
	}
	e := &replication.GTIDEvent{SID: sid, GNO: 7}
	require.Equal(t, "3e11fa47-71ca-11e1-9e33-c80aa9429562:7", formatGTID(e))
}

func TestSleepBackoffDoublesAndCaps(t *testing.T) {
	r, err := New(Config{ReplicaID: 1, ReconnectBackoffMax: 3 * time.Millisecond}, nil, nil, nil)
	require.NoError(t, err)

	backoff := time.Millisecond
	ctx := context.Background()
	ok := r.sleepBackoff(ctx, &backoff)
	require.True(t, ok)
	require.Equal(t, 2*time.Millisecond, backoff)

	ok = r.sleepBackoff(ctx, &backoff)
	require.True(t, ok)
	require.Equal(t, 3*time.Millisecond, backoff) // capped at ReconnectBackoffMax
}

func TestSleepBackoffStopsOnStopChannel(t *testing.T) {
	r, err := New(Config{ReplicaID: 1}, nil, nil, nil)
	require.NoError(t, err)
	close(r.stopCh)

	backoff := time.Millisecond
	require.False(t, r.sleepBackoff(context.Background(), &backoff))
}
