package snapshot

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/libraz/mygram-db/pkg/docstore"
	"github.com/libraz/mygram-db/pkg/filter"
	"github.com/libraz/mygram-db/pkg/mygramerr"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/table"
)

// Progress is the periodic callback payload (spec §4.8 "Progress
// reporting").
type Progress struct {
	TotalRowsEstimate int64
	ProcessedRows     int64
	RowsPerSecond     float64
}

// Result is the outcome of a successful Build (spec §4.8 step 4).
type Result struct {
	GTID          string
	ProcessedRows int64
	SkippedRows   int64
}

// Builder runs the SnapshotBuilder protocol against one MySQL source
// connection (spec §4.8), grounded on sqldef-sqldef's database/mysql
// adapter's plain database/sql usage.
type Builder struct {
	db *sql.DB
}

// New wraps an already-open *sql.DB. The caller is expected to have
// dialed with sql.Open("mysql", dsn) (grounded on
// database/mysql.mysqlBuildDSN in the pack).
func New(db *sql.DB) *Builder {
	return &Builder{db: db}
}

// Build reads the source table named sourceTable into a new ngram.Index
// and docstore.Store, returned with the build Result, reporting progress
// via onProgress (may be nil) roughly once per reportEvery rows. ctx
// cancellation aborts cleanly per spec §4.8 step 5: Build then returns
// the error and no index or store, so no live table is touched.
func (b *Builder) Build(ctx context.Context, cfg table.Config, sourceTable string, onProgress func(Progress), reportEvery int) (Result, *ngram.Index, *docstore.Store, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return Result{}, nil, nil, mygramerr.Wrap(mygramerr.Unavailable, "open dedicated snapshot connection", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SET TRANSACTION ISOLATION LEVEL REPEATABLE READ"); err != nil {
		return Result{}, nil, nil, mygramerr.Wrap(mygramerr.Unavailable, "set isolation level", err)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, nil, nil, mygramerr.Wrap(mygramerr.Unavailable, "start consistent-snapshot transaction", err)
	}
	defer tx.Rollback()

	var gtidSet string
	if err := tx.QueryRowContext(ctx, "SELECT @@GLOBAL.gtid_executed").Scan(&gtidSet); err != nil {
		return Result{}, nil, nil, mygramerr.Wrap(mygramerr.Unavailable, "capture gtid_executed", err)
	}

	cols := cfg.SourceColumns()
	query := buildSelect(sourceTable, cols, cfg.RequiredFilters)
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return Result{}, nil, nil, mygramerr.Wrap(mygramerr.Unavailable, "query "+sourceTable, err)
	}
	defer rows.Close()

	idx := ngram.NewIndex(cfg.Ngram, cfg.Threshold)
	docs := docstore.New()
	eval := filter.NewEvaluator(nil)

	var processed, skipped int64
	started := time.Now()
	if reportEvery <= 0 {
		reportEvery = 1000
	}

	scanBuf := make([]interface{}, len(cols))
	scanPtrs := make([]interface{}, len(cols))
	for i := range scanBuf {
		scanPtrs[i] = &scanBuf[i]
	}

	for rows.Next() {
		select {
		case <-ctx.Done():
			return Result{}, nil, nil, mygramerr.Wrap(mygramerr.Cancelled, "snapshot build cancelled", ctx.Err())
		default:
		}

		if err := rows.Scan(scanPtrs...); err != nil {
			skipped++
			continue
		}
		rowVals := toStringMap(cols, scanBuf)

		pk, ok := rowVals[cfg.PKColumn]
		if !ok {
			skipped++
			continue
		}
		tuple := buildTuple(cfg, rowVals)
		if !eval.EvaluateRequired(tuple, cfg.RequiredFilters) {
			skipped++
			continue
		}

		text := buildText(cfg, rowVals)
		id, err := docs.AddDocument(pk, tuple)
		if err != nil {
			skipped++
			continue
		}
		idx.Add(id, text)
		processed++

		if onProgress != nil && processed%int64(reportEvery) == 0 {
			elapsed := time.Since(started).Seconds()
			rps := 0.0
			if elapsed > 0 {
				rps = float64(processed) / elapsed
			}
			onProgress(Progress{ProcessedRows: processed, RowsPerSecond: rps})
		}
	}
	if err := rows.Err(); err != nil {
		return Result{}, nil, nil, mygramerr.Wrap(mygramerr.Unavailable, "stream rows from "+sourceTable, err)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, nil, nil, mygramerr.Wrap(mygramerr.Unavailable, "commit snapshot read", err)
	}

	return Result{GTID: gtidSet, ProcessedRows: processed, SkippedRows: skipped}, idx, docs, nil
}

func buildSelect(sourceTable string, cols []string, required []filter.RequiredFilter) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(quoteAll(cols), ", "))
	b.WriteString(" FROM ")
	b.WriteString(quoteIdent(sourceTable))
	if len(required) > 0 {
		b.WriteString(" WHERE ")
		clauses := make([]string, len(required))
		for i, rf := range required {
			clauses[i] = quoteIdent(rf.Column) + " " + string(rf.Op) + " " + quoteLiteral(rf.Literal)
		}
		b.WriteString(strings.Join(clauses, " AND "))
	}
	return b.String()
}

func quoteAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = quoteIdent(c)
	}
	return out
}

func quoteIdent(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" }
func quoteLiteral(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }

func toStringMap(cols []string, vals []interface{}) map[string]string {
	m := make(map[string]string, len(cols))
	for i, c := range cols {
		switch v := vals[i].(type) {
		case nil:
			// leave absent: callers distinguish "column present but NULL"
			// from "column missing" only at the filter-tuple layer, which
			// defaults absent entries to NULL (spec §3).
		case []byte:
			m[c] = string(v)
		default:
			m[c] = toString(v)
		}
	}
	return m
}

func buildText(cfg table.Config, row map[string]string) string {
	parts := make([]string, 0, len(cfg.TextColumns))
	for _, c := range cfg.TextColumns {
		parts = append(parts, row[c])
	}
	delim := cfg.Delimiter
	if delim == "" {
		delim = " "
	}
	return strings.Join(parts, delim)
}

func buildTuple(cfg table.Config, row map[string]string) filter.Tuple {
	var t filter.Tuple
	add := func(col string, typ filter.ValueType) {
		raw, present := row[col]
		if !present {
			t.Columns = append(t.Columns, col)
			t.Values = append(t.Values, filter.NullValue(typ))
			return
		}
		t.Columns = append(t.Columns, col)
		t.Values = append(t.Values, parseTyped(typ, raw))
	}
	for _, rf := range cfg.RequiredFilters {
		add(rf.Column, rf.Type)
	}
	for _, of := range cfg.OptionalFilters {
		add(of.Column, of.Type)
	}
	return t
}

func parseTyped(t filter.ValueType, raw string) filter.Value {
	if raw == "" && t != filter.TypeString {
		return filter.NullValue(t)
	}
	v, ok := filter.ParseValue(t, raw)
	if !ok {
		return filter.NullValue(t)
	}
	return v
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	default:
		return ""
	}
}
