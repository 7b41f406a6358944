package server

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/libraz/mygram-db/pkg/cache"
	"github.com/libraz/mygram-db/pkg/filter"
	"github.com/libraz/mygram-db/pkg/queryexec"
)

// valueToWire renders a filter.Value for the GET response's `col=val`
// pairs (spec §6 "OK DOC <pk> col1=val1 col2=val2 ..."). filter.Value
// has no String method since its formatting is wire-protocol specific,
// not a general-purpose concern of the filter package.
func valueToWire(v filter.Value) string {
	if v.IsNull {
		return "NULL"
	}
	switch v.Type {
	case filter.TypeString:
		return quoteIfNeeded(v.S)
	case filter.TypeFloat:
		return strconv.FormatFloat(v.F, 'f', -1, 64)
	case filter.TypeUint:
		return strconv.FormatUint(v.U, 10)
	case filter.TypeBool:
		if v.I != 0 {
			return "true"
		}
		return "false"
	default: // Int, DateTime
		return strconv.FormatInt(v.I, 10)
	}
}

func quoteIfNeeded(s string) string {
	if strings.ContainsAny(s, " \t\"") {
		return strconv.Quote(s)
	}
	return s
}

func formatTuple(t filter.Tuple) string {
	var b strings.Builder
	for i, col := range t.Columns {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(col)
		b.WriteByte('=')
		b.WriteString(valueToWire(t.Values[i]))
	}
	return b.String()
}

// debugBlock renders the trailing `# DEBUG` section (spec §4.6, §4.11).
// Clauses not explicitly supplied by the request are annotated
// `(default)` per spec §4.6.
func debugBlock(d queryexec.Debug) string {
	var b strings.Builder
	b.WriteString("# DEBUG\n")
	fmt.Fprintf(&b, "query_time: %.3fms\n", d.QueryTimeMS)
	fmt.Fprintf(&b, "index_time: %.3fms\n", d.IndexTimeMS)
	fmt.Fprintf(&b, "terms: %d\n", d.Terms)
	fmt.Fprintf(&b, "ngrams: %d\n", d.Ngrams)
	fmt.Fprintf(&b, "candidates: %d\n", d.Candidates)
	fmt.Fprintf(&b, "final: %d\n", d.Final)
	fmt.Fprintf(&b, "optimization: %s\n", d.Optimization)
	if d.CacheHit {
		b.WriteString("cache: hit\n")
		fmt.Fprintf(&b, "cache_age_ms: %.3f\n", d.CacheAgeMS)
		fmt.Fprintf(&b, "cache_saved_ms: %.3f\n", d.CacheSavedMS)
	}
	return b.String()
}

func formatCacheStats(s cache.Stats) string {
	var b strings.Builder
	b.WriteString("OK CACHE STATS\n")
	fmt.Fprintf(&b, "entries: %d\n", s.Entries)
	fmt.Fprintf(&b, "bytes: %d\n", s.Bytes)
	fmt.Fprintf(&b, "hits: %d\n", s.Hits)
	fmt.Fprintf(&b, "misses: %d\n", s.Misses)
	fmt.Fprintf(&b, "enabled: %t\n", s.Enabled)
	b.WriteString("END")
	return b.String()
}
