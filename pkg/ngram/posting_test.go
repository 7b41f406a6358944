package ngram

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPostingListInsertRemoveCardinality(t *testing.T) {
	p := NewPostingList(DefaultThreshold())
	for _, d := range []uint64{5, 1, 3, 1, 5} { // duplicates are idempotent
		p.Insert(d)
	}
	require.Equal(t, 3, p.Cardinality())
	require.Equal(t, []uint64{1, 3, 5}, p.ToSlice())

	p.Remove(3)
	p.Remove(999) // absent, no-op
	require.Equal(t, 2, p.Cardinality())
	require.Equal(t, []uint64{1, 5}, p.ToSlice())
}

func TestPostingListTransitionPreservesContents(t *testing.T) {
	th := EncodingThreshold{Density: 0.1, MaxSortedSize: 8}
	p := NewPostingList(th)
	for i := uint64(0); i < 50; i++ {
		p.Insert(i)
	}
	require.True(t, p.IsBitmap())
	require.Equal(t, 50, p.Cardinality())
	for i := uint64(0); i < 50; i++ {
		require.True(t, p.Contains(i))
	}

	for i := uint64(0); i < 48; i++ {
		p.Remove(i)
	}
	require.Equal(t, 2, p.Cardinality())
}

func TestPostingListEncodeDecodeRoundTrip(t *testing.T) {
	th := DefaultThreshold()
	p := NewPostingList(th)
	ids := []uint64{2, 4, 6, 100, 250}
	for _, d := range ids {
		p.Insert(d)
	}

	var buf bytes.Buffer
	require.NoError(t, p.EncodeTo(&buf))

	got, err := DecodePostingList(&buf, th)
	require.NoError(t, err)
	require.Equal(t, ids, got.ToSlice())
}

func TestIntersectAndDifference(t *testing.T) {
	a := NewPostingList(DefaultThreshold())
	b := NewPostingList(DefaultThreshold())
	for _, d := range []uint64{1, 2, 3, 4} {
		a.Insert(d)
	}
	for _, d := range []uint64{2, 4, 6} {
		b.Insert(d)
	}
	require.Equal(t, []uint64{2, 4}, Intersect(a, b))
	require.Equal(t, []uint64{1, 3}, Difference(a, b))
}

func TestPostingListRandomizedAgainstReferenceSet(t *testing.T) {
	th := EncodingThreshold{Density: 0.2, MaxSortedSize: 16}
	p := NewPostingList(th)
	ref := make(map[uint64]bool)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		d := uint64(rng.Intn(200))
		if rng.Intn(2) == 0 {
			p.Insert(d)
			ref[d] = true
		} else {
			p.Remove(d)
			delete(ref, d)
		}
	}

	require.Equal(t, len(ref), p.Cardinality())
	for d := range ref {
		require.True(t, p.Contains(d))
	}
	p.Iterate(func(d uint64) bool {
		require.True(t, ref[d])
		return true
	})
}
