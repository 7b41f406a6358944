package binlog

import (
	"testing"

	"github.com/libraz/mygram-db/pkg/cache"
	"github.com/libraz/mygram-db/pkg/filter"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/table"
	"github.com/stretchr/testify/require"
)

func newApplierTestTable() *table.Context {
	cfg := table.Config{
		Name:     "products",
		PKColumn: "id",
		TextColumns: []string{"title"},
		RequiredFilters: []filter.RequiredFilter{
			{Column: "status", Type: filter.TypeString, Op: filter.OpEq, Literal: "active"},
		},
		Ngram:     ngram.DefaultConfig(),
		Threshold: ngram.DefaultThreshold(),
	}
	return table.New(cfg, cache.Config{MaxMemoryBytes: 1 << 20})
}

func TestApplyInsertPassingRequiredFilter(t *testing.T) {
	tc := newApplierTestTable()
	a := NewApplier(map[string]*table.Context{"products": tc}, nil)

	a.Apply(RowEvent{Kind: KindInsert, Table: "products", GTID: "g1", New: map[string]string{
		"id": "p1", "title": "wireless mouse", "status": "active",
	}})

	require.EqualValues(t, 1, tc.Stats().InsertsApplied)
	_, ok := tc.Docs().GetDocID("p1")
	require.True(t, ok)
	require.Equal(t, "g1", tc.GTID())
}

func TestApplyInsertFailingRequiredFilter(t *testing.T) {
	tc := newApplierTestTable()
	a := NewApplier(map[string]*table.Context{"products": tc}, nil)

	a.Apply(RowEvent{Kind: KindInsert, Table: "products", New: map[string]string{
		"id": "p1", "title": "wireless mouse", "status": "draft",
	}})

	require.EqualValues(t, 1, tc.Stats().InsertsSkipped)
	_, ok := tc.Docs().GetDocID("p1")
	require.False(t, ok)
}

func TestApplyUpdateUnchangedTextSkipsIndexButKeepsFilters(t *testing.T) {
	tc := newApplierTestTable()
	a := NewApplier(map[string]*table.Context{"products": tc}, nil)
	a.Apply(RowEvent{Kind: KindInsert, Table: "products", New: map[string]string{"id": "p1", "title": "mouse", "status": "active"}})

	a.Apply(RowEvent{Kind: KindUpdate, Table: "products",
		Old: map[string]string{"id": "p1", "title": "mouse", "status": "active"},
		New: map[string]string{"id": "p1", "title": "mouse", "status": "active"},
	})

	require.EqualValues(t, 1, tc.Stats().UpdatesSkipped)
}

func TestApplyUpdateTextChangedModifiesIndex(t *testing.T) {
	tc := newApplierTestTable()
	a := NewApplier(map[string]*table.Context{"products": tc}, nil)
	a.Apply(RowEvent{Kind: KindInsert, Table: "products", New: map[string]string{"id": "p1", "title": "mouse", "status": "active"}})

	a.Apply(RowEvent{Kind: KindUpdate, Table: "products",
		Old: map[string]string{"id": "p1", "title": "mouse", "status": "active"},
		New: map[string]string{"id": "p1", "title": "keyboard", "status": "active"},
	})

	require.EqualValues(t, 1, tc.Stats().UpdatesModified)
	id, _ := tc.Docs().GetDocID("p1")
	ids := tc.Index().Evaluate(ngram.Expr{Terms: []ngram.Term{{Kind: ngram.TermWord, Text: "keyboard"}}})
	require.Contains(t, ids, id)
}

func TestApplyUpdateOldFailsNewPassesAdds(t *testing.T) {
	tc := newApplierTestTable()
	a := NewApplier(map[string]*table.Context{"products": tc}, nil)

	a.Apply(RowEvent{Kind: KindUpdate, Table: "products",
		Old: map[string]string{"id": "p1", "title": "mouse", "status": "draft"},
		New: map[string]string{"id": "p1", "title": "mouse", "status": "active"},
	})

	require.EqualValues(t, 1, tc.Stats().UpdatesAdded)
	_, ok := tc.Docs().GetDocID("p1")
	require.True(t, ok)
}

func TestApplyUpdateOldPassesNewFailsRemoves(t *testing.T) {
	tc := newApplierTestTable()
	a := NewApplier(map[string]*table.Context{"products": tc}, nil)
	a.Apply(RowEvent{Kind: KindInsert, Table: "products", New: map[string]string{"id": "p1", "title": "mouse", "status": "active"}})

	a.Apply(RowEvent{Kind: KindUpdate, Table: "products",
		Old: map[string]string{"id": "p1", "title": "mouse", "status": "active"},
		New: map[string]string{"id": "p1", "title": "mouse", "status": "draft"},
	})

	require.EqualValues(t, 1, tc.Stats().UpdatesRemoved)
	_, ok := tc.Docs().GetDocID("p1")
	require.False(t, ok)
}

func TestApplyDeletePassingRequiredFilter(t *testing.T) {
	tc := newApplierTestTable()
	a := NewApplier(map[string]*table.Context{"products": tc}, nil)
	a.Apply(RowEvent{Kind: KindInsert, Table: "products", New: map[string]string{"id": "p1", "title": "mouse", "status": "active"}})

	a.Apply(RowEvent{Kind: KindDelete, Table: "products", Old: map[string]string{"id": "p1", "title": "mouse", "status": "active"}})

	require.EqualValues(t, 1, tc.Stats().DeletesApplied)
	_, ok := tc.Docs().GetDocID("p1")
	require.False(t, ok)
}

func TestApplyDDLMarksSyncingAndInvokesCallback(t *testing.T) {
	tc := newApplierTestTable()
	var notified string
	a := NewApplier(map[string]*table.Context{"products": tc}, func(table string) { notified = table })

	a.Apply(RowEvent{Kind: KindDDL, Table: "products"})

	require.True(t, tc.IsSyncing())
	require.EqualValues(t, 1, tc.Stats().DDLExecuted)
	require.Equal(t, "products", notified)
}

func TestApplyEventForUnwatchedTableIsNoop(t *testing.T) {
	tc := newApplierTestTable()
	a := NewApplier(map[string]*table.Context{"products": tc}, nil)

	a.Apply(RowEvent{Kind: KindInsert, Table: "orders", New: map[string]string{"id": "o1"}})

	require.EqualValues(t, 0, tc.Stats().InsertsApplied)
}
