package ngram

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildPostsIndex() *Index {
	idx := NewIndex(DefaultConfig(), DefaultThreshold())
	idx.Add(1, "hello world")
	idx.Add(2, "hello universe")
	idx.Add(3, "goodbye world")
	return idx
}

func TestIndexBasicSearch(t *testing.T) {
	idx := buildPostsIndex()

	hello := idx.Evaluate(Expr{Terms: []Term{{Text: "hello"}}})
	require.ElementsMatch(t, []uint64{1, 2}, hello)

	world := idx.Evaluate(Expr{Terms: []Term{{Text: "world"}}})
	require.ElementsMatch(t, []uint64{1, 3}, world)
}

func TestIndexAndNot(t *testing.T) {
	idx := NewIndex(DefaultConfig(), DefaultThreshold())
	idx.Add(1, "machine learning tutorial")
	idx.Add(2, "machine learning advanced")
	idx.Add(3, "deep learning tutorial")

	andExpr := Expr{
		Terms: []Term{{Text: "machine"}, {Text: "learning"}},
		Ops:   []Op{OpAnd},
	}
	require.ElementsMatch(t, []uint64{1, 2}, idx.Evaluate(andExpr))

	notExpr := Expr{
		Terms: []Term{{Text: "learning"}, {Text: "machine"}},
		Ops:   []Op{OpNot},
	}
	require.ElementsMatch(t, []uint64{3}, idx.Evaluate(notExpr))
}

func TestIndexRemove(t *testing.T) {
	idx := buildPostsIndex()
	idx.Remove(1, "hello world")

	require.ElementsMatch(t, []uint64{2}, idx.Evaluate(Expr{Terms: []Term{{Text: "hello"}}}))
	require.ElementsMatch(t, []uint64{3}, idx.Evaluate(Expr{Terms: []Term{{Text: "world"}}}))
}

func TestIndexModify(t *testing.T) {
	idx := NewIndex(DefaultConfig(), DefaultThreshold())
	idx.Add(1, "red apple")
	idx.Modify(1, "red apple", "red banana")

	require.ElementsMatch(t, []uint64{1}, idx.Evaluate(Expr{Terms: []Term{{Text: "red"}}}))
	require.Empty(t, idx.Evaluate(Expr{Terms: []Term{{Text: "apple"}}}))
	require.ElementsMatch(t, []uint64{1}, idx.Evaluate(Expr{Terms: []Term{{Text: "banana"}}}))
}

func TestIndexShortTermMatchesNothing(t *testing.T) {
	idx := buildPostsIndex()
	// width 2 default; single-character term produces zero ngrams.
	require.Empty(t, idx.Evaluate(Expr{Terms: []Term{{Text: "h"}}}))

	// AND with an empty-expansion term yields empty.
	andExpr := Expr{Terms: []Term{{Text: "hello"}, {Text: "h"}}, Ops: []Op{OpAnd}}
	require.Empty(t, idx.Evaluate(andExpr))

	// NOT with an empty-expansion term is a no-op.
	notExpr := Expr{Terms: []Term{{Text: "hello"}, {Text: "h"}}, Ops: []Op{OpNot}}
	require.ElementsMatch(t, []uint64{1, 2}, idx.Evaluate(notExpr))
}

func TestGetTopNDescOrder(t *testing.T) {
	idx := NewIndex(DefaultConfig(), DefaultThreshold())
	for i := uint64(1); i <= 10; i++ {
		idx.Add(i, "test document")
	}
	top3 := idx.GetTopN(Expr{Terms: []Term{{Text: "test"}}}, 3)
	require.Equal(t, []uint64{10, 9, 8}, top3)
}

func TestMixedScriptIndex(t *testing.T) {
	cfg := Config{WidthASCII: 2, WidthCJK: 1}
	idx := NewIndex(cfg, DefaultThreshold())
	idx.Add(1, "東京タワー")
	idx.Add(2, "日本料理")
	idx.Add(3, "ひまわり畑")
	idx.Add(4, "東北地方")

	require.ElementsMatch(t, []uint64{1, 4}, idx.Evaluate(Expr{Terms: []Term{{Text: "東"}}}))
	require.ElementsMatch(t, []uint64{2}, idx.Evaluate(Expr{Terms: []Term{{Text: "料"}}}))
	require.ElementsMatch(t, []uint64{3}, idx.Evaluate(Expr{Terms: []Term{{Text: "ひまわり"}}}))
	require.ElementsMatch(t, []uint64{1}, idx.Evaluate(Expr{Terms: []Term{{Text: "東京"}}}))
}
