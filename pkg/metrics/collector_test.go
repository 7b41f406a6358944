package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/libraz/mygram-db/pkg/cache"
	"github.com/libraz/mygram-db/pkg/filter"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/table"
)

func newTestTable(t *testing.T) *table.Context {
	t.Helper()
	cfg := table.Config{
		Name:        "products",
		PKColumn:    "id",
		TextColumns: []string{"title"},
		Ngram:       ngram.DefaultConfig(),
		Threshold:   ngram.DefaultThreshold(),
	}
	tc := table.New(cfg, cache.Config{MaxMemoryBytes: 1 << 20})
	_, err := tc.InsertDocument("p1", "red sneakers", filter.Tuple{Columns: []string{"id"}, Values: []filter.Value{filter.StringValue("p1")}})
	require.NoError(t, err)
	return tc
}

func TestCollectorCollectSetsDocumentGauges(t *testing.T) {
	tc := newTestTable(t)
	c := NewCollector(map[string]*table.Context{"products": tc})

	c.collect()

	require.Equal(t, float64(1), testutil.ToFloat64(DocumentsTotal.WithLabelValues("products")))
	require.Equal(t, float64(1), testutil.ToFloat64(DocstoreCapacity.WithLabelValues("products")))
}

func TestCollectorCollectSetsCacheGauges(t *testing.T) {
	tc := newTestTable(t)
	tc.Cache().Get(cache.Key{Table: "products", QueryText: "sneakers"}) // records a miss
	c := NewCollector(map[string]*table.Context{"products": tc})

	c.collect()

	require.Equal(t, float64(1), testutil.ToFloat64(CacheMissesTotal.WithLabelValues("products")))
}

func TestCollectorStartAndStopIsIdempotentOnce(t *testing.T) {
	tc := newTestTable(t)
	c := NewCollector(map[string]*table.Context{"products": tc})
	c.Start()
	c.Stop()
}
