// Package table implements TableContext (spec §2 item 6, §3 Lifecycle):
// the owner of one (Index, DocumentStore, TableConfig) triple, identified
// by table name.
package table

import (
	"github.com/libraz/mygram-db/pkg/filter"
	"github.com/libraz/mygram-db/pkg/ngram"
)

// OptionalFilterDecl declares a query-time filterable column (spec §3
// TableConfig "list of optional-filter declarations").
type OptionalFilterDecl struct {
	Column string
	Type   filter.ValueType
}

// Config is the immutable-after-load per-table configuration (spec §3
// TableConfig).
type Config struct {
	Name            string
	PKColumn        string
	TextColumns     []string // concatenated with Delimiter if len > 1
	Delimiter       string
	RequiredFilters []filter.RequiredFilter
	OptionalFilters []OptionalFilterDecl
	Ngram           ngram.Config
	Threshold       ngram.EncodingThreshold
}

// SourceColumns returns the distinct set of columns the SnapshotBuilder's
// SELECT must project, preserving first-seen order across pk, text
// source, required filters, and optional filters (spec §4.8 step 2).
func (c Config) SourceColumns() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(col string) {
		if col == "" {
			return
		}
		if _, ok := seen[col]; ok {
			return
		}
		seen[col] = struct{}{}
		out = append(out, col)
	}
	add(c.PKColumn)
	for _, c := range c.TextColumns {
		add(c)
	}
	for _, rf := range c.RequiredFilters {
		add(rf.Column)
	}
	for _, of := range c.OptionalFilters {
		add(of.Column)
	}
	return out
}
