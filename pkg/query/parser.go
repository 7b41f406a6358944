package query

import (
	"strconv"
	"strings"

	"github.com/libraz/mygram-db/pkg/filter"
	"github.com/libraz/mygram-db/pkg/mygramerr"
	"github.com/libraz/mygram-db/pkg/ngram"
)

// Options carries defaults consulted by the parser (spec §4.5: "missing
// LIMIT defaults to api.default_limit").
type Options struct {
	DefaultLimit int
}

type parser struct {
	toks []token
	pos  int
	opts Options
}

// Parse parses a single command line (without the \r\n terminator) into a
// Query, or returns a *ParseError.
func Parse(line string, opts Options) (Query, error) {
	p := &parser{toks: tokenize(line), opts: opts}
	return p.parseCommand()
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

func (p *parser) errAt(reason string) error {
	pos := len(p.toks)
	if p.pos < len(p.toks) {
		pos = p.toks[p.pos].pos
	}
	return &ParseError{Reason: reason, Position: pos}
}

func (p *parser) parseCommand() (Query, error) {
	cmdTok, ok := p.next()
	if !ok {
		return Query{}, p.errAt("empty command")
	}
	switch upper(cmdTok.text) {
	case "SEARCH":
		return p.parseSearchOrCount(KindSearch)
	case "COUNT":
		return p.parseSearchOrCount(KindCount)
	case "GET":
		return p.parseGet()
	case "INFO":
		return Query{Kind: KindInfo}, nil
	case "DEBUG":
		return p.parseDebug()
	case "OPTIMIZE":
		return Query{Kind: KindOptimize}, nil
	case "DUMP":
		return p.parseDump()
	case "REPLICATION":
		return p.parseReplication()
	case "SYNC":
		return p.parseSync()
	case "CACHE":
		return p.parseCache()
	case "SET":
		return p.parseSet()
	case "SHOW":
		return p.parseShow()
	default:
		return Query{}, p.errAt("unknown command " + cmdTok.text)
	}
}

func (p *parser) parseSearchOrCount(kind Kind) (Query, error) {
	tableTok, ok := p.next()
	if !ok {
		return Query{}, p.errAt("expected table name")
	}
	expr, err := p.parseExpr()
	if err != nil {
		return Query{}, err
	}
	clauses, err := p.parseClauses()
	if err != nil {
		return Query{}, err
	}
	if !clauses.HasLimit {
		clauses.Limit = p.opts.DefaultLimit
	}
	return Query{Kind: kind, Table: tableTok.text, Expr: expr, Clauses: clauses}, nil
}

// parseExpr parses Expr ::= Term ( ("AND" | "NOT") Term )*, stopping at a
// clause keyword or end of input.
func (p *parser) parseExpr() (ngram.Expr, error) {
	var expr ngram.Expr
	first, err := p.parseTerm()
	if err != nil {
		return expr, err
	}
	expr.Terms = append(expr.Terms, first)

	for {
		t, ok := p.peek()
		if !ok {
			break
		}
		switch upper(t.text) {
		case "AND":
			p.next()
			term, err := p.parseTerm()
			if err != nil {
				return expr, err
			}
			expr.Terms = append(expr.Terms, term)
			expr.Ops = append(expr.Ops, ngram.OpAnd)
		case "NOT":
			p.next()
			term, err := p.parseTerm()
			if err != nil {
				return expr, err
			}
			expr.Terms = append(expr.Terms, term)
			expr.Ops = append(expr.Ops, ngram.OpNot)
		default:
			return expr, nil
		}
	}
	return expr, nil
}

func isClauseKeyword(s string) bool {
	switch upper(s) {
	case "FILTER", "SORT", "LIMIT", "OFFSET":
		return true
	}
	return false
}

func (p *parser) parseTerm() (ngram.Term, error) {
	t, ok := p.next()
	if !ok {
		return ngram.Term{}, p.errAt("expected term")
	}
	if isClauseKeyword(t.text) || upper(t.text) == "AND" || upper(t.text) == "NOT" {
		return ngram.Term{}, p.errAt("expected term, got " + t.text)
	}
	if t.quoted {
		return ngram.Term{Kind: ngram.TermPhrase, Text: t.text}, nil
	}
	return ngram.Term{Kind: ngram.TermWord, Text: t.text}, nil
}

func (p *parser) parseClauses() (Clauses, error) {
	var c Clauses
	for {
		t, ok := p.peek()
		if !ok {
			return c, nil
		}
		switch upper(t.text) {
		case "FILTER":
			p.next()
			expr, err := p.parseFilterExpr()
			if err != nil {
				return c, err
			}
			c.Filter = expr
			c.HasFilter = true
		case "SORT":
			p.next()
			col, ok := p.next()
			if !ok {
				return c, p.errAt("expected sort column")
			}
			c.SortColumn = col.text
			c.SortDir = SortDesc
			if dirTok, ok := p.peek(); ok {
				switch upper(dirTok.text) {
				case "ASC":
					p.next()
					c.SortDir = SortAsc
				case "DESC":
					p.next()
					c.SortDir = SortDesc
				}
			}
			c.HasSort = true
		case "LIMIT":
			p.next()
			n, err := p.parseInt("LIMIT")
			if err != nil {
				return c, err
			}
			c.Limit = n
			c.HasLimit = true
		case "OFFSET":
			p.next()
			n, err := p.parseInt("OFFSET")
			if err != nil {
				return c, err
			}
			c.Offset = n
			c.HasOffset = true
		default:
			return c, nil
		}
	}
}

func (p *parser) parseInt(ctx string) (int, error) {
	t, ok := p.next()
	if !ok {
		return 0, p.errAt("expected integer after " + ctx)
	}
	n, err := strconv.Atoi(t.text)
	if err != nil {
		return 0, p.errAt("invalid integer for " + ctx + ": " + t.text)
	}
	return n, nil
}

func (p *parser) parseFilterExpr() (filter.QueryFilterExpr, error) {
	var expr filter.QueryFilterExpr
	for {
		colTok, ok := p.next()
		if !ok {
			return expr, p.errAt("expected filter column")
		}
		opTok, ok := p.next()
		if !ok {
			return expr, p.errAt("expected filter operator")
		}
		op, err := parseOp(opTok.text)
		if err != nil {
			return expr, p.errAt(err.Error())
		}
		valTok, ok := p.next()
		if !ok {
			return expr, p.errAt("expected filter value")
		}
		expr.Clauses = append(expr.Clauses, filter.Clause{
			Column: colTok.text,
			Op:     op,
			Value:  inferValue(valTok.text),
		})

		next, ok := p.peek()
		if !ok || upper(next.text) != "AND" {
			return expr, nil
		}
		// An "AND" here could belong to the outer boolean expr grammar,
		// but within FILTER it always chains another clause (spec §4.5
		// FilterExpr grammar).
		p.next()
	}
}

func parseOp(s string) (filter.Op, error) {
	switch s {
	case "=":
		return filter.OpEq, nil
	case "!=":
		return filter.OpNe, nil
	case "<":
		return filter.OpLt, nil
	case ">":
		return filter.OpGt, nil
	case "<=":
		return filter.OpLe, nil
	case ">=":
		return filter.OpGe, nil
	default:
		return "", mygramerr.Newf(mygramerr.InvalidArgument, "unknown filter operator %q", s)
	}
}

// inferValue types a raw filter literal token without a declared schema;
// filter.Evaluator.EvaluateOptional re-parses it against the type of the
// row's value for that column when the two types differ.
func inferValue(s string) filter.Value {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return filter.IntValue(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return filter.FloatValue(f)
	}
	return filter.StringValue(s)
}

func (p *parser) parseGet() (Query, error) {
	tableTok, ok := p.next()
	if !ok {
		return Query{}, p.errAt("expected table name")
	}
	pkTok, ok := p.next()
	if !ok {
		return Query{}, p.errAt("expected primary key")
	}
	return Query{Kind: KindGet, Table: tableTok.text, Pk: pkTok.text}, nil
}

func (p *parser) parseDebug() (Query, error) {
	t, ok := p.next()
	if !ok {
		return Query{}, p.errAt("expected ON or OFF")
	}
	switch upper(t.text) {
	case "ON":
		return Query{Kind: KindDebug, DebugOn: true}, nil
	case "OFF":
		return Query{Kind: KindDebug, DebugOn: false}, nil
	default:
		return Query{}, p.errAt("expected ON or OFF, got " + t.text)
	}
}

func (p *parser) parseDump() (Query, error) {
	t, ok := p.next()
	if !ok {
		return Query{}, p.errAt("expected SAVE, LOAD, VERIFY, or INFO")
	}
	action := upper(t.text)
	switch action {
	case "SAVE", "LOAD", "VERIFY", "INFO":
	default:
		return Query{}, p.errAt("unknown DUMP action " + t.text)
	}
	q := Query{Kind: KindDump, DumpAction: action}
	if pathTok, ok := p.peek(); ok {
		p.next()
		q.DumpPath = pathTok.text
	}
	return q, nil
}

func (p *parser) parseReplication() (Query, error) {
	t, ok := p.next()
	if !ok {
		return Query{}, p.errAt("expected STATUS, START, or STOP")
	}
	action := upper(t.text)
	switch action {
	case "STATUS", "START", "STOP":
		return Query{Kind: KindReplication, ReplAction: action}, nil
	default:
		return Query{}, p.errAt("unknown REPLICATION action " + t.text)
	}
}

func (p *parser) parseSync() (Query, error) {
	t, ok := p.next()
	if !ok {
		return Query{}, p.errAt("expected table name or STATUS")
	}
	if upper(t.text) == "STATUS" {
		return Query{Kind: KindSync, SyncStatus: true}, nil
	}
	return Query{Kind: KindSync, SyncTable: t.text}, nil
}

func (p *parser) parseCache() (Query, error) {
	t, ok := p.next()
	if !ok {
		return Query{}, p.errAt("expected STATS, CLEAR, ENABLE, or DISABLE")
	}
	action := upper(t.text)
	switch action {
	case "STATS", "CLEAR", "ENABLE", "DISABLE":
		return Query{Kind: KindCache, CacheAction: action}, nil
	default:
		return Query{}, p.errAt("unknown CACHE action " + t.text)
	}
}

func (p *parser) parseSet() (Query, error) {
	var pairs []SetPair
	for {
		t, ok := p.next()
		if !ok {
			if len(pairs) == 0 {
				return Query{}, p.errAt("expected var=value")
			}
			break
		}
		for _, part := range strings.Split(t.text, ",") {
			if part == "" {
				continue
			}
			name, value, err := splitAssignment(part)
			if err != nil {
				return Query{}, p.errAt(err.Error())
			}
			pairs = append(pairs, SetPair{Name: name, Value: value})
		}

		if strings.HasSuffix(t.text, ",") {
			continue
		}
		if nxt, ok := p.peek(); ok && strings.HasPrefix(nxt.text, ",") {
			if nxt.text == "," {
				p.next()
			}
			continue
		}
		break
	}
	return Query{Kind: KindSet, SetPairs: pairs}, nil
}

func splitAssignment(s string) (name, value string, err error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", mygramerr.Newf(mygramerr.InvalidArgument, "expected var=value, got %q", s)
}

func (p *parser) parseShow() (Query, error) {
	t, ok := p.next()
	if !ok || upper(t.text) != "VARIABLES" {
		return Query{}, p.errAt("expected VARIABLES")
	}
	q := Query{Kind: KindShowVariables}
	if likeTok, ok := p.peek(); ok && upper(likeTok.text) == "LIKE" {
		p.next()
		pat, ok := p.next()
		if !ok {
			return Query{}, p.errAt("expected LIKE pattern")
		}
		q.ShowLikePattern = pat.text
		q.HasShowLike = true
	}
	return q, nil
}
