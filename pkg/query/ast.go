// Package query implements the QueryParser (spec §2 item 8, §4.5): a
// recursive-descent parser over the line-oriented command grammar turning
// a command line into a typed Query value.
package query

import (
	"github.com/libraz/mygram-db/pkg/filter"
	"github.com/libraz/mygram-db/pkg/ngram"
)

// Kind identifies the parsed command (spec §4.5 Command, §6 wire protocol).
type Kind int

const (
	KindSearch Kind = iota
	KindCount
	KindGet
	KindInfo
	KindDebug
	KindOptimize
	KindDump
	KindReplication
	KindSync
	KindCache
	KindSet
	KindShowVariables
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindSearch:
		return "search"
	case KindCount:
		return "count"
	case KindGet:
		return "get"
	case KindInfo:
		return "info"
	case KindDebug:
		return "debug"
	case KindOptimize:
		return "optimize"
	case KindDump:
		return "dump"
	case KindReplication:
		return "replication"
	case KindSync:
		return "sync"
	case KindCache:
		return "cache"
	case KindSet:
		return "set"
	case KindShowVariables:
		return "show_variables"
	default:
		return "unknown"
	}
}

// SortDir is the requested ordering direction (spec §3 Global ordering:
// default docid DESC).
type SortDir int

const (
	SortDesc SortDir = iota
	SortAsc
)

// Clauses carries the optional SEARCH/COUNT trailer: FILTER, SORT,
// LIMIT, OFFSET (spec §4.5 Clauses). HasX flags distinguish "explicitly
// supplied" from "default", needed by the DEBUG block's `(default)`
// annotations (spec §4.6).
type Clauses struct {
	Filter       filter.QueryFilterExpr
	HasFilter    bool
	SortColumn   string // "" means primary-key
	SortDir      SortDir
	HasSort      bool
	Limit        int
	HasLimit     bool
	Offset       int
	HasOffset    bool
}

// Query is the fully parsed command (spec §4.5 Command).
type Query struct {
	Kind Kind

	Table string
	Expr  ngram.Expr
	Clauses Clauses

	Pk string // GET

	DebugOn bool // DEBUG ON/OFF

	DumpAction string // SAVE|LOAD|VERIFY|INFO
	DumpPath   string

	ReplAction string // STATUS|START|STOP

	SyncTable  string
	SyncStatus bool // SYNC STATUS vs SYNC <table>

	CacheAction string // STATS|CLEAR|ENABLE|DISABLE

	SetPairs []SetPair

	ShowLikePattern string
	HasShowLike     bool
}

// SetPair is one `var=value` assignment in a SET command.
type SetPair struct {
	Name  string
	Value string
}

// ParseError carries a reason and, where practical, a token position
// (spec §4.5 "ParseError{kind, position}").
type ParseError struct {
	Reason   string
	Position int
}

func (e *ParseError) Error() string { return e.Reason }
