package ngram

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNgramsASCIIWidth2(t *testing.T) {
	cfg := Config{WidthASCII: 2}
	got := Ngrams("hello", cfg)
	require.Equal(t, []string{"he", "el", "ll", "lo"}, got)
}

func TestNgramsShorterThanWidthEmitsNothing(t *testing.T) {
	cfg := Config{WidthASCII: 3}
	require.Empty(t, Ngrams("hi", cfg))
}

func TestNgramsMixedScriptBreaksRuns(t *testing.T) {
	cfg := Config{WidthASCII: 2, WidthCJK: 1}
	got := Ngrams("東京タワー", cfg)
	// 東京 is CJK (width 1); タワー is kana, which falls under ClassKana and
	// uses WidthASCII (width 2 here).
	require.Contains(t, got, "東")
	require.Contains(t, got, "京")
}

func TestNgramsDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	a := Ngrams("hello world", cfg)
	b := Ngrams("hello world", cfg)
	require.Equal(t, a, b)
}

func TestNgramsCJKWidthOne(t *testing.T) {
	cfg := Config{WidthASCII: 2, WidthCJK: 1}
	got := Ngrams("東北地方", cfg)
	require.Equal(t, []string{"東", "北", "地", "方"}, got)
}
