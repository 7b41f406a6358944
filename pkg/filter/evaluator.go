package filter

import (
	"strconv"
	"time"
)

// Op is a comparison operator over a FilterTuple column (spec §3
// RequiredFilter operators, §4.5 FilterExpr Op).
type Op string

const (
	OpEq      Op = "="
	OpNe      Op = "!="
	OpLt      Op = "<"
	OpGt      Op = ">"
	OpLe      Op = "<="
	OpGe      Op = ">="
	OpIsNull  Op = "IS NULL"
	OpNotNull Op = "IS NOT NULL"
)

// RequiredFilter gates whether a row belongs in the index at all (spec §3
// RequiredFilter, §4.4 EvaluateRequired).
type RequiredFilter struct {
	Column  string
	Type    ValueType
	Op      Op
	Literal string // raw literal as declared in table config
}

// Clause is a single query-time optional-filter comparison (spec §4.5
// FilterExpr: "Col Op Value").
type Clause struct {
	Column string
	Op     Op
	Value  Value
}

// QueryFilterExpr is an AND-chain of Clauses (spec §4.5 grammar).
type QueryFilterExpr struct {
	Clauses []Clause
}

// Evaluator evaluates required and optional predicates over a Tuple.
type Evaluator struct {
	onParseError func(column, literal string)
}

// NewEvaluator builds an Evaluator. onParseError, if non-nil, is invoked
// with the offending (column, literal) pair each time a required filter's
// literal fails to parse; EvaluateRequired stops at that filter, so it is
// invoked at most once per call.
func NewEvaluator(onParseError func(column, literal string)) *Evaluator {
	return &Evaluator{onParseError: onParseError}
}

// EvaluateRequired reports whether tuple satisfies every required filter.
// A literal that fails to parse according to its declared type yields
// false for that row (spec §4.4).
func (e *Evaluator) EvaluateRequired(tuple Tuple, filters []RequiredFilter) bool {
	for _, rf := range filters {
		v, ok := tuple.Get(rf.Column)
		if !ok {
			return false
		}
		if !e.evalRequiredOne(v, rf) {
			return false
		}
	}
	return true
}

func (e *Evaluator) evalRequiredOne(v Value, rf RequiredFilter) bool {
	if rf.Op == OpIsNull {
		return v.IsNull
	}
	if rf.Op == OpNotNull {
		return !v.IsNull
	}
	if v.IsNull {
		return false
	}
	lit, ok := parseLiteral(rf.Type, rf.Literal)
	if !ok {
		if e.onParseError != nil {
			e.onParseError(rf.Column, rf.Literal)
		}
		return false
	}
	return compareOp(v, lit, rf.Op)
}

// EvaluateOptional reports whether tuple satisfies the query-time filter
// expression. Comparisons against NULL always yield false except for
// explicit IS NULL / IS NOT NULL (spec §4.4).
func (e *Evaluator) EvaluateOptional(tuple Tuple, expr QueryFilterExpr) bool {
	for _, c := range expr.Clauses {
		v, ok := tuple.Get(c.Column)
		if !ok {
			return false
		}
		if c.Op == OpIsNull {
			if !v.IsNull {
				return false
			}
			continue
		}
		if c.Op == OpNotNull {
			if v.IsNull {
				return false
			}
			continue
		}
		if v.IsNull {
			return false
		}
		lit := c.Value
		if lit.Type != v.Type {
			raw := lit.S
			switch lit.Type {
			case TypeInt:
				raw = strconv.FormatInt(lit.I, 10)
			case TypeFloat:
				raw = strconv.FormatFloat(lit.F, 'f', -1, 64)
			}
			if lit, ok = parseLiteral(v.Type, raw); !ok {
				return false
			}
		}
		if !compareOp(v, lit, c.Op) {
			return false
		}
	}
	return true
}

func compareOp(a, b Value, op Op) bool {
	cmp := Compare(a, b)
	switch op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpGt:
		return cmp > 0
	case OpLe:
		return cmp <= 0
	case OpGe:
		return cmp >= 0
	default:
		return false
	}
}

// ParseValue parses a raw source-driver string into a typed Value per t,
// used by the snapshot builder and binlog applier to coerce row data into
// a FilterTuple (spec §3 FilterTuple, §4.8 step 3).
func ParseValue(t ValueType, lit string) (Value, bool) { return parseLiteral(t, lit) }

func parseLiteral(t ValueType, lit string) (Value, bool) {
	switch t {
	case TypeInt:
		n, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return Value{}, false
		}
		return IntValue(n), true
	case TypeUint:
		n, err := strconv.ParseUint(lit, 10, 64)
		if err != nil {
			return Value{}, false
		}
		return UintValue(n), true
	case TypeFloat:
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return Value{}, false
		}
		return FloatValue(f), true
	case TypeString:
		return StringValue(lit), true
	case TypeBool:
		b, err := strconv.ParseBool(lit)
		if err != nil {
			return Value{}, false
		}
		return BoolValue(b), true
	case TypeDateTime:
		tm, err := time.Parse(time.RFC3339, lit)
		if err != nil {
			if n, err2 := strconv.ParseInt(lit, 10, 64); err2 == nil {
				return Value{Type: TypeDateTime, I: n}, true
			}
			return Value{}, false
		}
		return DateTimeValue(tm), true
	default:
		return Value{}, false
	}
}
