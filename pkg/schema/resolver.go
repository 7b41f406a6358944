// Package schema resolves the authoritative ordinal column-name list for a
// watched table from the source's information schema (spec §4.9 "Column
// name resolution"), since row events identify columns by ordinal only.
package schema

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/go-sql-driver/mysql"

	"github.com/libraz/mygram-db/pkg/mygramerr"
)

// Resolver fetches and caches per-table column-name lists, invalidated on
// schema change (DDL) so the next row event re-fetches.
type Resolver struct {
	db *sql.DB

	mu      sync.RWMutex
	columns map[string][]string // table -> ordinal column names
}

// New builds a Resolver against an already-open *sql.DB (the same
// connection pool the snapshot builder and applier share).
func New(db *sql.DB) *Resolver {
	return &Resolver{db: db, columns: make(map[string][]string)}
}

// Columns returns the cached ordinal column-name list for table, fetching
// it from information_schema on first use or after Invalidate.
func (r *Resolver) Columns(ctx context.Context, schemaName, table string) ([]string, error) {
	r.mu.RLock()
	cols, ok := r.columns[table]
	r.mu.RUnlock()
	if ok {
		return cols, nil
	}
	return r.fetch(ctx, schemaName, table)
}

func (r *Resolver) fetch(ctx context.Context, schemaName, table string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`, schemaName, table)
	if err != nil {
		return nil, mygramerr.Wrap(mygramerr.Unavailable, "query information_schema.columns", err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mygramerr.Wrap(mygramerr.Internal, "scan column name", err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, mygramerr.Wrap(mygramerr.Internal, "iterate column rows", err)
	}
	if len(cols) == 0 {
		return nil, mygramerr.Newf(mygramerr.NotFound, "table %s.%s has no columns or does not exist", schemaName, table)
	}

	r.mu.Lock()
	r.columns[table] = cols
	r.mu.Unlock()
	return cols, nil
}

// Invalidate drops the cached column list for table, forcing a re-fetch on
// next use (spec §4.9: "on schema change"). A DDL event for a table the
// applier is not watching is a no-op here.
func (r *Resolver) Invalidate(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.columns, table)
}

// InvalidateAll drops every cached column list, used on reconnection since
// a failover target may have diverged schema.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.columns = make(map[string][]string)
}
