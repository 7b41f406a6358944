package syncctl

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"github.com/libraz/mygram-db/pkg/cache"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/snapshot"
	"github.com/libraz/mygram-db/pkg/table"
)

func newTestCoordinator(t *testing.T, memoryHealthy func() bool, restart RestartReplication) (*Coordinator, *table.Context) {
	t.Helper()
	cfg := table.Config{
		Name:        "products",
		PKColumn:    "id",
		TextColumns: []string{"title"},
		Ngram:       ngram.DefaultConfig(),
		Threshold:   ngram.DefaultThreshold(),
	}
	tc := table.New(cfg, cache.Config{MaxMemoryBytes: 1 << 20})

	// Port 1 on loopback refuses connections immediately, so Build fails
	// fast without needing a real MySQL server.
	db, err := sql.Open("mysql", "root:x@tcp(127.0.0.1:1)/testdb")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	builder := snapshot.New(db)
	c := New(map[string]*table.Context{"products": tc}, builder, restart, memoryHealthy)
	return c, tc
}

func TestStartSyncRejectsUnknownTable(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, nil)
	_, err := c.StartSync(context.Background(), "missing", "products")
	require.Error(t, err)
}

func TestStartSyncRejectsWhenMemoryCritical(t *testing.T) {
	c, _ := newTestCoordinator(t, func() bool { return false }, nil)
	_, err := c.StartSync(context.Background(), "products", "products")
	require.Error(t, err)
}

func TestStartSyncMarksTableSyncingThenFailsOnUnreachableSource(t *testing.T) {
	c, tc := newTestCoordinator(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jobID, err := c.StartSync(ctx, "products", "products")
	require.NoError(t, err)
	require.NotZero(t, jobID)

	require.Eventually(t, func() bool {
		for _, l := range c.StatusLines() {
			if l.Table == "products" && l.Status == StatusFailed {
				return true
			}
		}
		return false
	}, 4*time.Second, 20*time.Millisecond)

	require.False(t, tc.IsSyncing())
}

func TestStartSyncRejectsConcurrentSyncOnSameTable(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, nil)
	ctx := context.Background()

	_, err := c.StartSync(ctx, "products", "products")
	require.NoError(t, err)

	_, err = c.StartSync(ctx, "products", "products")
	require.Error(t, err)
}

func TestFormatStatusRendersBoxedLines(t *testing.T) {
	out := FormatStatus([]StatusLine{
		{Table: "products", Status: StatusCompleted, ProcessedRows: 10, TotalRows: 10, GTID: "uuid:1", ReplicationRestart: "STARTED"},
	})
	require.Contains(t, out, "OK SYNC STATUS")
	require.Contains(t, out, "table=products status=COMPLETED")
	require.Contains(t, out, "END")
}
