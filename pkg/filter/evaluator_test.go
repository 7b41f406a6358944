package filter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateRequiredExcludesRow(t *testing.T) {
	ev := NewEvaluator(nil)
	filters := []RequiredFilter{
		{Column: "enabled", Type: TypeInt, Op: OpEq, Literal: "1"},
		{Column: "id", Type: TypeInt, Op: OpLt, Literal: "10000"},
	}

	fails := Tuple{Columns: []string{"enabled", "id"}, Values: []Value{IntValue(1), IntValue(20000)}}
	require.False(t, ev.EvaluateRequired(fails, filters))

	passes := Tuple{Columns: []string{"enabled", "id"}, Values: []Value{IntValue(1), IntValue(5)}}
	require.True(t, ev.EvaluateRequired(passes, filters))
}

func TestEvaluateRequiredInvalidLiteralRejectsRow(t *testing.T) {
	var logged []string
	ev := NewEvaluator(func(col, lit string) { logged = append(logged, col+"="+lit) })
	filters := []RequiredFilter{{Column: "id", Type: TypeInt, Op: OpEq, Literal: "not-a-number"}}
	tuple := Tuple{Columns: []string{"id"}, Values: []Value{IntValue(1)}}

	require.False(t, ev.EvaluateRequired(tuple, filters))
	require.Equal(t, []string{"id=not-a-number"}, logged)
}

func TestEvaluateOptionalNullComparisons(t *testing.T) {
	ev := NewEvaluator(nil)
	tuple := Tuple{Columns: []string{"status"}, Values: []Value{NullValue(TypeInt)}}

	require.False(t, ev.EvaluateOptional(tuple, QueryFilterExpr{Clauses: []Clause{
		{Column: "status", Op: OpEq, Value: IntValue(1)},
	}}))
	require.False(t, ev.EvaluateOptional(tuple, QueryFilterExpr{Clauses: []Clause{
		{Column: "status", Op: OpLt, Value: IntValue(1)},
	}}))
	require.True(t, ev.EvaluateOptional(tuple, QueryFilterExpr{Clauses: []Clause{
		{Column: "status", Op: OpIsNull},
	}}))
}

func TestEvaluateOptionalStringLexicographic(t *testing.T) {
	ev := NewEvaluator(nil)
	tuple := Tuple{Columns: []string{"name"}, Values: []Value{StringValue("banana")}}
	require.True(t, ev.EvaluateOptional(tuple, QueryFilterExpr{Clauses: []Clause{
		{Column: "name", Op: OpLt, Value: StringValue("cherry")},
	}}))
	require.False(t, ev.EvaluateOptional(tuple, QueryFilterExpr{Clauses: []Clause{
		{Column: "name", Op: OpLt, Value: StringValue("apple")},
	}}))
}
