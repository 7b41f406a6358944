package queryexec

import (
	"testing"

	"github.com/libraz/mygram-db/pkg/cache"
	"github.com/libraz/mygram-db/pkg/filter"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/query"
	"github.com/libraz/mygram-db/pkg/table"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) *table.Context {
	t.Helper()
	cfg := table.Config{
		Name:     "products",
		PKColumn: "id",
		OptionalFilters: []table.OptionalFilterDecl{
			{Column: "price", Type: filter.TypeInt},
		},
		Ngram:     ngram.DefaultConfig(),
		Threshold: ngram.DefaultThreshold(),
	}
	tc := table.New(cfg, cache.Config{MaxMemoryBytes: 1 << 20})
	docs := []struct {
		pk    string
		text  string
		price int64
	}{
		{"p1", "wireless mouse", 100},
		{"p2", "wireless keyboard", 200},
		{"p3", "bluetooth mouse", 300},
	}
	for _, d := range docs {
		tuple := filter.Tuple{Columns: []string{"price"}, Values: []filter.Value{filter.IntValue(d.price)}}
		_, err := tc.InsertDocument(d.pk, d.text, tuple)
		require.NoError(t, err)
	}
	return tc
}

func mustParse(t *testing.T, line string) query.Query {
	t.Helper()
	q, err := query.Parse(line, query.Options{DefaultLimit: 20})
	require.NoError(t, err)
	return q
}

func TestSearchBasicMatch(t *testing.T) {
	tc := newTestTable(t)
	ex := New(nil)
	q := mustParse(t, `SEARCH products mouse`)
	res, err := ex.Search(tc, q, false)
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
	require.ElementsMatch(t, []string{"p1", "p3"}, res.Pks)
}

func TestSearchWithFilter(t *testing.T) {
	tc := newTestTable(t)
	ex := New(nil)
	q := mustParse(t, `SEARCH products mouse FILTER price > 150`)
	res, err := ex.Search(tc, q, false)
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, []string{"p3"}, res.Pks)
}

func TestSearchDefaultSortDescByDocid(t *testing.T) {
	tc := newTestTable(t)
	ex := New(nil)
	q := mustParse(t, `SEARCH products wireless`)
	res, err := ex.Search(tc, q, false)
	require.NoError(t, err)
	require.Equal(t, []string{"p2", "p1"}, res.Pks)
}

func TestSearchSortAscByFilterColumn(t *testing.T) {
	tc := newTestTable(t)
	ex := New(nil)
	q := mustParse(t, `SEARCH products mouse SORT price ASC`)
	res, err := ex.Search(tc, q, false)
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p3"}, res.Pks)
}

func TestCountMatchesSearchTotal(t *testing.T) {
	tc := newTestTable(t)
	ex := New(nil)
	sq := mustParse(t, `SEARCH products mouse FILTER price > 150`)
	cq := mustParse(t, `COUNT products mouse FILTER price > 150`)
	sres, err := ex.Search(tc, sq, false)
	require.NoError(t, err)
	cres, err := ex.Count(tc, cq, false)
	require.NoError(t, err)
	require.Equal(t, sres.Total, cres.Total)
}

func TestGetFound(t *testing.T) {
	tc := newTestTable(t)
	ex := New(nil)
	res, err := ex.Get(tc, "p1")
	require.NoError(t, err)
	require.True(t, res.Found)
	v, ok := res.Tuple.Get("price")
	require.True(t, ok)
	require.Equal(t, int64(100), v.I)
}

func TestGetNotFound(t *testing.T) {
	tc := newTestTable(t)
	ex := New(nil)
	_, err := ex.Get(tc, "missing")
	require.Error(t, err)
}

func TestSearchEmptyTermMatchesNothing(t *testing.T) {
	tc := newTestTable(t)
	ex := New(nil)
	// a 1-char term is shorter than the default width-2 ASCII ngram, so it
	// expands to zero ngrams and matches the empty set (spec §4.6 step 2).
	q := mustParse(t, `SEARCH products m`)
	res, err := ex.Search(tc, q, false)
	require.NoError(t, err)
	require.Equal(t, 0, res.Total)
}

func TestSearchLimitOffsetPagination(t *testing.T) {
	tc := newTestTable(t)
	ex := New(nil)
	q := mustParse(t, `SEARCH products mouse LIMIT 1 OFFSET 1`)
	res, err := ex.Search(tc, q, false)
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
	require.Len(t, res.Pks, 1)
	require.Equal(t, []string{"p1"}, res.Pks)
}

func newManyMatchesTable(t *testing.T) *table.Context {
	t.Helper()
	cfg := table.Config{
		Name:      "widgets",
		PKColumn:  "id",
		Ngram:     ngram.DefaultConfig(),
		Threshold: ngram.DefaultThreshold(),
	}
	tc := table.New(cfg, cache.Config{MaxMemoryBytes: 1 << 20})
	for i := 1; i <= 5; i++ {
		pk := "w" + string(rune('0'+i))
		_, err := tc.InsertDocument(pk, "gadget widget", filter.Tuple{})
		require.NoError(t, err)
	}
	return tc
}

func TestSearchDefaultOrderWithLimitUsesGetTopNPath(t *testing.T) {
	tc := newManyMatchesTable(t)
	ex := New(nil)
	q := mustParse(t, `SEARCH widgets widget LIMIT 1`)
	res, err := ex.Search(tc, q, true)
	require.NoError(t, err)
	require.Equal(t, []string{"w5"}, res.Pks)
	require.Equal(t, OptGetTopN, res.Debug.Optimization)
}

func TestSearchSortedLimitUsesReuseFetchPath(t *testing.T) {
	tc := newTestTable(t)
	ex := New(nil)
	q := mustParse(t, `SEARCH products mouse SORT price ASC LIMIT 1`)
	res, err := ex.Search(tc, q, true)
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, res.Pks)
	require.Equal(t, OptReuseFetch, res.Debug.Optimization)
}

func TestSearchCacheHitReusesPrePaginationSet(t *testing.T) {
	tc := newTestTable(t)
	ex := New(nil)
	q := mustParse(t, `SEARCH products mouse`)
	_, err := ex.Search(tc, q, false)
	require.NoError(t, err)

	// the first search stored the pre-pagination set (the test cache has
	// no minimum cost); a second search of the same query must still
	// report the same total.
	res, err := ex.Search(tc, q, true)
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
}

func TestSearchDebugBlockPopulatedWhenRequested(t *testing.T) {
	tc := newTestTable(t)
	ex := New(nil)
	q := mustParse(t, `SEARCH products mouse`)
	res, err := ex.Search(tc, q, true)
	require.NoError(t, err)
	require.Equal(t, 1, res.Debug.Terms)
	require.Greater(t, res.Debug.Ngrams, 0)
}
