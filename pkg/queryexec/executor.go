// Package queryexec implements QueryExecutor (spec §2 item 9, §4.6): the
// pipeline wiring Ngrammer, Index, FilterEvaluator, ResultCache, and
// DocumentStore together to answer SEARCH/COUNT/GET.
package queryexec

import (
	"sort"
	"time"

	"github.com/libraz/mygram-db/pkg/cache"
	"github.com/libraz/mygram-db/pkg/filter"
	"github.com/libraz/mygram-db/pkg/mygramerr"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/query"
	"github.com/libraz/mygram-db/pkg/table"
)

// Optimization names the query-planner path taken, surfaced in the DEBUG
// block (spec §4.6 "optimization: {GetTopN|reuse-fetch}").
type Optimization string

const (
	OptGetTopN    Optimization = "GetTopN"
	OptReuseFetch Optimization = "reuse-fetch"
)

// Debug carries the trailing `# DEBUG` block fields (spec §4.6), populated
// only when the caller requests it (per-connection DEBUG ON).
type Debug struct {
	QueryTimeMS   float64
	IndexTimeMS   float64
	Terms         int
	Ngrams        int
	Candidates    int
	Final         int
	Optimization  Optimization
	CacheHit      bool
	CacheAgeMS    float64
	CacheSavedMS  float64
}

// SearchResult is the materialized SEARCH response: primary keys for the
// current page plus the post-filter total (spec §4.6 step 6-7).
type SearchResult struct {
	Pks   []string
	Total int
	Debug Debug
}

// CountResult is the COUNT response: the same total SEARCH would report
// for an identical query (spec §4.6 step 6 "same number COUNT returns").
type CountResult struct {
	Total int
	Debug Debug
}

// DocResult is the GET response.
type DocResult struct {
	Pk     string
	Tuple  filter.Tuple
	Found  bool
}

// Executor runs SEARCH/COUNT/GET pipelines against a single TableContext.
type Executor struct {
	eval *filter.Evaluator
}

// New builds an Executor. onFilterParseError is forwarded to the
// underlying filter.Evaluator (spec §4.4 "logged once per event").
func New(onFilterParseError func(column, literal string)) *Executor {
	return &Executor{eval: filter.NewEvaluator(onFilterParseError)}
}

// Search runs the full SEARCH pipeline (spec §4.6 steps 1-8) including
// the cache-interaction short-circuit.
func (ex *Executor) Search(tc *table.Context, q query.Query, wantDebug bool) (SearchResult, error) {
	start := time.Now()
	tc.RLock()
	defer tc.RUnlock()

	key := cacheKey(tc.Name(), q)
	var debug Debug
	var ids []uint64
	var fromCache bool

	if entry, age, ok := tc.Cache().Get(key); ok {
		ids = entry.DocIDs
		fromCache = true
		debug.CacheHit = true
		debug.CacheAgeMS = float64(age.Milliseconds())
		debug.CacheSavedMS = entry.CostMillis
		debug.Candidates = entry.Total
	} else {
		indexStart := time.Now()
		ids = evaluateCandidates(tc.Index(), q.Expr)
		debug.IndexTimeMS = msSince(indexStart)
		debug.Terms = len(q.Expr.Terms)
		debug.Ngrams = countNgrams(tc.Index(), q.Expr)

		ids = ex.applyFilter(tc, ids, q.Clauses)
		debug.Candidates = len(ids)
	}

	ids = sortIDs(ids, tc, q.Clauses)
	total := len(ids)

	pageIDs, opt := paginate(ids, q.Clauses)
	debug.Optimization = opt
	debug.Final = len(pageIDs)

	pks := make([]string, 0, len(pageIDs))
	for _, id := range pageIDs {
		if pk, ok := tc.Docs().GetPk(id); ok {
			pks = append(pks, pk)
		}
	}

	if !fromCache {
		cost := msSince(start)
		tc.Cache().Put(key, cache.Entry{DocIDs: ids, Total: total, CostMillis: cost})
	}

	debug.QueryTimeMS = msSince(start)
	if !wantDebug {
		debug = Debug{}
	}
	return SearchResult{Pks: pks, Total: total, Debug: debug}, nil
}

// Count runs steps 1-6 of the SEARCH pipeline and returns the total
// directly (spec §4.6 COUNT pipeline).
func (ex *Executor) Count(tc *table.Context, q query.Query, wantDebug bool) (CountResult, error) {
	start := time.Now()
	tc.RLock()
	defer tc.RUnlock()

	key := cacheKey(tc.Name(), q)
	var debug Debug
	var ids []uint64

	if entry, age, ok := tc.Cache().Get(key); ok {
		debug.CacheHit = true
		debug.CacheAgeMS = float64(age.Milliseconds())
		debug.CacheSavedMS = entry.CostMillis
		total := entry.Total
		debug.Candidates = total
		debug.QueryTimeMS = msSince(start)
		if !wantDebug {
			debug = Debug{}
		}
		return CountResult{Total: total, Debug: debug}, nil
	}

	indexStart := time.Now()
	ids = evaluateCandidates(tc.Index(), q.Expr)
	debug.IndexTimeMS = msSince(indexStart)
	debug.Terms = len(q.Expr.Terms)
	debug.Ngrams = countNgrams(tc.Index(), q.Expr)

	ids = ex.applyFilter(tc, ids, q.Clauses)
	total := len(ids)
	debug.Candidates = total
	debug.Final = total

	cost := msSince(start)
	tc.Cache().Put(key, cache.Entry{DocIDs: ids, Total: total, CostMillis: cost})

	debug.QueryTimeMS = cost
	if !wantDebug {
		debug = Debug{}
	}
	return CountResult{Total: total, Debug: debug}, nil
}

// Get runs the GET pipeline: pk -> docid -> FilterTuple (spec §4.6 GET
// pipeline).
func (ex *Executor) Get(tc *table.Context, pk string) (DocResult, error) {
	tc.RLock()
	defer tc.RUnlock()

	id, ok := tc.Docs().GetDocID(pk)
	if !ok {
		return DocResult{}, mygramerr.Newf(mygramerr.NotFound, "pk %q not found", pk)
	}
	tuple, ok := tc.Docs().GetFilters(id)
	if !ok {
		return DocResult{}, mygramerr.Newf(mygramerr.NotFound, "pk %q not found", pk)
	}
	return DocResult{Pk: pk, Tuple: tuple, Found: true}, nil
}

func (ex *Executor) applyFilter(tc *table.Context, ids []uint64, clauses query.Clauses) []uint64 {
	if !clauses.HasFilter || len(clauses.Filter.Clauses) == 0 {
		return ids
	}
	out := ids[:0:0]
	for _, id := range ids {
		tuple, ok := tc.Docs().GetFilters(id)
		if !ok {
			continue
		}
		if ex.eval.EvaluateOptional(tuple, clauses.Filter) {
			out = append(out, id)
		}
	}
	return out
}

// evaluateCandidates runs step 2-3 of the pipeline: a term that expands to
// zero ngrams matches the empty set (spec §4.6 step 2).
func evaluateCandidates(idx *ngram.Index, expr ngram.Expr) []uint64 {
	return idx.Evaluate(expr)
}

func countNgrams(idx *ngram.Index, expr ngram.Expr) int {
	total := 0
	for _, t := range expr.Terms {
		total += len(ngram.UniqueNgrams(t.Text, idx.Config()))
	}
	return total
}

// sortIDs orders the candidate set by an explicit SORT column, falling
// back to docid on ties. Candidate ids arriving here are always
// ascending by docid (every posting-list merge in Evaluate and the
// order-preserving pass in applyFilter keep that invariant), so the
// no-SORT-clause default ordering needs no resort at all here: paginate
// takes the final page directly off that ascending slice.
func sortIDs(ids []uint64, tc *table.Context, clauses query.Clauses) []uint64 {
	if !clauses.HasSort {
		return ids
	}
	col := clauses.SortColumn
	asc := clauses.SortDir == query.SortAsc

	out := append([]uint64(nil), ids...)
	sort.Slice(out, func(i, j int) bool {
		vi, oki := tc.Docs().GetFilters(out[i])
		vj, okj := tc.Docs().GetFilters(out[j])
		a, ai := vi.Get(col)
		b, bj := vj.Get(col)
		if !oki || !okj || !ai || !bj {
			return out[i] > out[j]
		}
		cmp := filter.Compare(a, b)
		if cmp == 0 {
			return out[i] > out[j]
		}
		if asc {
			return cmp < 0
		}
		return cmp > 0
	})
	return out
}

// paginate applies OFFSET then LIMIT (spec §4.6 step 7) and reports which
// planner path was used (spec §4.3 Query planner policy). With no SORT
// clause, sortIDs left ids in ascending docid order, so the default
// DESC page is taken directly off its tail and reversed in place
// (mirroring ngram.Index.GetTopN's own tail-then-reverse shape) instead
// of resorting or reversing the whole candidate set: this is the actual
// GetTopN path, taken whenever it is bounded relative to the candidate
// count. A SORT clause has already put ids in their final order, so its
// page is a plain front-to-back slice.
func paginate(ids []uint64, clauses query.Clauses) ([]uint64, Optimization) {
	offset := clauses.Offset
	limit := clauses.Limit
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return nil, planOptimization(clauses, len(ids))
	}

	if clauses.HasSort {
		end := len(ids)
		if limit > 0 && offset+limit < end {
			end = offset + limit
		}
		return ids[offset:end], planOptimization(clauses, len(ids))
	}

	hi := len(ids) - offset
	lo := 0
	if limit > 0 && hi-limit > 0 {
		lo = hi - limit
	}
	page := append([]uint64(nil), ids[lo:hi]...)
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, planOptimization(clauses, len(ids))
}

// planOptimization implements the §4.3 policy: GetTopN when LIMIT is below
// half the candidate cardinality, otherwise reuse-fetch (materialize then
// slice). A SORT clause always takes reuse-fetch, since paginate must
// already hold the fully resorted set before it can slice a page.
func planOptimization(clauses query.Clauses, candidateCount int) Optimization {
	if !clauses.HasSort && clauses.Limit > 0 && candidateCount > 0 && clauses.Limit < candidateCount/2 {
		return OptGetTopN
	}
	return OptReuseFetch
}

func cacheKey(tableName string, q query.Query) cache.Key {
	return cache.Key{
		Table:      tableName,
		QueryText:  canonicalExpr(q.Expr),
		FilterExpr: canonicalFilter(q.Clauses.Filter),
		Sort:       canonicalSort(q.Clauses),
	}
}

func canonicalExpr(expr ngram.Expr) string {
	s := ""
	for i, t := range expr.Terms {
		if i > 0 {
			if expr.Ops[i-1] == ngram.OpAnd {
				s += " AND "
			} else {
				s += " NOT "
			}
		}
		if t.Kind == ngram.TermPhrase {
			s += "\"" + t.Text + "\""
		} else {
			s += t.Text
		}
	}
	return s
}

func canonicalFilter(expr filter.QueryFilterExpr) string {
	s := ""
	for i, c := range expr.Clauses {
		if i > 0 {
			s += " AND "
		}
		s += c.Column + string(c.Op) + valueString(c.Value)
	}
	return s
}

func valueString(v filter.Value) string {
	switch v.Type {
	case filter.TypeString:
		return v.S
	case filter.TypeFloat:
		return formatFloat(v.F)
	case filter.TypeUint:
		return formatUint(v.U)
	default:
		return formatInt(v.I)
	}
}

func canonicalSort(clauses query.Clauses) string {
	if !clauses.HasSort {
		return "docid DESC"
	}
	dir := "DESC"
	if clauses.SortDir == query.SortAsc {
		dir = "ASC"
	}
	return clauses.SortColumn + " " + dir
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
