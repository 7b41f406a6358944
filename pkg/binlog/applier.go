package binlog

import (
	"strings"

	"github.com/libraz/mygram-db/pkg/filter"
	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/table"
)

// Applier drains a Reader's event queue and applies each RowEvent to the
// corresponding TableContext per the per-event mutation table (spec §4.9
// BinlogApplier).
type Applier struct {
	tables map[string]*table.Context
	eval   *filter.Evaluator
	onDDL  func(tableName string) // mark TableContext as needing SYNC
}

// NewApplier builds an Applier over the given table name -> TableContext
// map. onDDL is invoked when a DDL event requires the caller to schedule
// a SYNC for that table (spec §4.9 "mark the TableContext as needing a
// SYNC").
func NewApplier(tables map[string]*table.Context, onDDL func(tableName string)) *Applier {
	return &Applier{tables: tables, eval: filter.NewEvaluator(nil), onDDL: onDDL}
}

// Run drains events until the channel is closed.
func (a *Applier) Run(events <-chan RowEvent) {
	for ev := range events {
		a.Apply(ev)
	}
}

// Apply applies a single event, per spec §4.9's table.
func (a *Applier) Apply(ev RowEvent) {
	tc, ok := a.tables[ev.Table]
	if !ok {
		return // reader already logs; applier has nothing to count without a TableContext
	}
	tc.SetGTID(ev.GTID)

	switch ev.Kind {
	case KindInsert:
		a.applyInsert(tc, ev)
	case KindUpdate:
		a.applyUpdate(tc, ev)
	case KindDelete:
		a.applyDelete(tc, ev)
	case KindDDL:
		tc.SetSyncing(true)
		tc.Stats().DDLExecuted++
		if a.onDDL != nil {
			a.onDDL(ev.Table)
		}
		log.WithTable(ev.Table).Warn().Msg("DDL observed on watched table; marked for SYNC")
	}
}

func (a *Applier) applyInsert(tc *table.Context, ev RowEvent) {
	cfg := tc.Config()
	pk, tuple, text, ok := rowToDoc(cfg, ev.New)
	if !ok {
		return
	}
	if !a.eval.EvaluateRequired(tuple, cfg.RequiredFilters) {
		tc.Stats().InsertsSkipped++
		return
	}
	if _, err := tc.InsertDocument(pk, text, tuple); err != nil {
		tc.Stats().InsertsSkipped++
		return
	}
	tc.Stats().InsertsApplied++
}

func (a *Applier) applyDelete(tc *table.Context, ev RowEvent) {
	cfg := tc.Config()
	pk, tuple, text, ok := rowToDoc(cfg, ev.Old)
	if !ok {
		return
	}
	if !a.eval.EvaluateRequired(tuple, cfg.RequiredFilters) {
		tc.Stats().DeletesSkipped++
		return
	}
	if err := tc.RemoveDocument(pk, text); err != nil {
		tc.Stats().DeletesSkipped++
		return
	}
	tc.Stats().DeletesApplied++
}

func (a *Applier) applyUpdate(tc *table.Context, ev RowEvent) {
	cfg := tc.Config()
	oldPk, oldTuple, oldText, okOld := rowToDoc(cfg, ev.Old)
	newPk, newTuple, newText, okNew := rowToDoc(cfg, ev.New)
	if !okOld || !okNew {
		return
	}

	oldPasses := a.eval.EvaluateRequired(oldTuple, cfg.RequiredFilters)
	newPasses := a.eval.EvaluateRequired(newTuple, cfg.RequiredFilters)
	stats := tc.Stats()

	switch {
	case oldPasses && newPasses && oldText == newText:
		_ = tc.ModifyDocument(newPk, oldText, newText, newTuple)
		stats.UpdatesSkipped++

	case oldPasses && newPasses && oldText != newText:
		if err := tc.ModifyDocument(oldPk, oldText, newText, newTuple); err != nil {
			stats.UpdatesSkipped++
			return
		}
		stats.UpdatesModified++
		stats.UpdatesApplied++

	case !oldPasses && newPasses:
		if _, err := tc.InsertDocument(newPk, newText, newTuple); err != nil {
			stats.UpdatesSkipped++
			return
		}
		stats.UpdatesAdded++
		stats.UpdatesApplied++

	case oldPasses && !newPasses:
		if err := tc.RemoveDocument(oldPk, oldText); err != nil {
			stats.UpdatesSkipped++
			return
		}
		stats.UpdatesRemoved++
		stats.UpdatesApplied++

	default: // !oldPasses && !newPasses
		stats.UpdatesSkipped++
	}
}

// rowToDoc extracts the pk, FilterTuple, and concatenated text from a raw
// column-name -> value row (spec §4.8 step 3, reused by the applier).
func rowToDoc(cfg table.Config, row map[string]string) (pk string, tuple filter.Tuple, text string, ok bool) {
	if row == nil {
		return "", filter.Tuple{}, "", false
	}
	pk, ok = row[cfg.PKColumn]
	if !ok {
		return "", filter.Tuple{}, "", false
	}

	add := func(col string, typ filter.ValueType) {
		raw, present := row[col]
		tuple.Columns = append(tuple.Columns, col)
		if !present || (raw == "" && typ != filter.TypeString) {
			tuple.Values = append(tuple.Values, filter.NullValue(typ))
			return
		}
		v, parseOK := filter.ParseValue(typ, raw)
		if !parseOK {
			v = filter.NullValue(typ)
		}
		tuple.Values = append(tuple.Values, v)
	}
	for _, rf := range cfg.RequiredFilters {
		add(rf.Column, rf.Type)
	}
	for _, of := range cfg.OptionalFilters {
		add(of.Column, of.Type)
	}

	parts := make([]string, 0, len(cfg.TextColumns))
	for _, c := range cfg.TextColumns {
		parts = append(parts, row[c])
	}
	delim := cfg.Delimiter
	if delim == "" {
		delim = " "
	}
	text = strings.Join(parts, delim)
	return pk, tuple, text, true
}
