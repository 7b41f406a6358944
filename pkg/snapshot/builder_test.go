package snapshot

import (
	"testing"

	"github.com/libraz/mygram-db/pkg/filter"
	"github.com/libraz/mygram-db/pkg/table"
	"github.com/stretchr/testify/require"
)

func TestBuildSelectWithRequiredFilter(t *testing.T) {
	cols := []string{"id", "title", "status"}
	required := []filter.RequiredFilter{{Column: "status", Type: filter.TypeString, Op: filter.OpEq, Literal: "active"}}
	q := buildSelect("products", cols, required)
	require.Equal(t, "SELECT `id`, `title`, `status` FROM `products` WHERE `status` = 'active'", q)
}

func TestBuildSelectNoRequiredFilter(t *testing.T) {
	q := buildSelect("products", []string{"id", "title"}, nil)
	require.Equal(t, "SELECT `id`, `title` FROM `products`", q)
}

func TestBuildTupleAndText(t *testing.T) {
	cfg := table.Config{
		TextColumns: []string{"title", "description"},
		Delimiter:   " ",
		OptionalFilters: []table.OptionalFilterDecl{
			{Column: "price", Type: filter.TypeInt},
		},
	}
	row := map[string]string{"title": "Wireless Mouse", "description": "Ergonomic", "price": "1999"}
	require.Equal(t, "Wireless Mouse Ergonomic", buildText(cfg, row))

	tuple := buildTuple(cfg, row)
	v, ok := tuple.Get("price")
	require.True(t, ok)
	require.Equal(t, int64(1999), v.I)
}

func TestBuildTupleMissingColumnIsNull(t *testing.T) {
	cfg := table.Config{OptionalFilters: []table.OptionalFilterDecl{{Column: "price", Type: filter.TypeInt}}}
	tuple := buildTuple(cfg, map[string]string{})
	v, ok := tuple.Get("price")
	require.True(t, ok)
	require.True(t, v.IsNull)
}
