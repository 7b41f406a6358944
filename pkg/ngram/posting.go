package ngram

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// EncodingThreshold controls the sorted-delta <-> bitmap transition
// (spec §4.2 Transition). A list upgrades to bitmap once
// cardinality/domainSize crosses Density, and downgrades once it falls
// below Density/2 (hysteresis), or when the sorted form exceeds
// MaxSortedSize elements regardless of density.
type EncodingThreshold struct {
	Density       float64 // default ~0.18
	MaxSortedSize int     // max element count before forcing bitmap, default 4096
}

// DefaultThreshold matches the spec's stated default density.
func DefaultThreshold() EncodingThreshold {
	return EncodingThreshold{Density: 0.18, MaxSortedSize: 4096}
}

type encoding int

const (
	encSorted encoding = iota
	encBitmap
)

// PostingList is a set of docids with two interchangeable encodings,
// chosen by density (spec §4.2, §2 item 3). Not safe for concurrent
// mutation; callers serialize access via the owning table.Context's
// RWMutex.
type PostingList struct {
	enc       encoding
	sorted    []uint64       // strictly ascending, no duplicates
	bitmap    *roaring.Bitmap // only valid when enc == encBitmap
	threshold EncodingThreshold
	domain    uint64 // largest docid ever observed + 1, used for density
}

// NewPostingList creates an empty sorted-delta posting list.
func NewPostingList(threshold EncodingThreshold) *PostingList {
	return &PostingList{enc: encSorted, threshold: threshold}
}

// Insert adds d to the set. Idempotent: inserting a present docid is a
// no-op (spec §4.2 Errors).
func (p *PostingList) Insert(d uint64) {
	if d+1 > p.domain {
		p.domain = d + 1
	}
	switch p.enc {
	case encBitmap:
		p.bitmap.Add(uint32OrPanic(d))
	default:
		idx := sort.Search(len(p.sorted), func(i int) bool { return p.sorted[i] >= d })
		if idx < len(p.sorted) && p.sorted[idx] == d {
			return
		}
		p.sorted = append(p.sorted, 0)
		copy(p.sorted[idx+1:], p.sorted[idx:])
		p.sorted[idx] = d
	}
	p.maybeTransition()
}

// Remove deletes d from the set. Removing an absent docid is a no-op.
func (p *PostingList) Remove(d uint64) {
	switch p.enc {
	case encBitmap:
		p.bitmap.Remove(uint32OrPanic(d))
	default:
		idx := sort.Search(len(p.sorted), func(i int) bool { return p.sorted[i] >= d })
		if idx < len(p.sorted) && p.sorted[idx] == d {
			p.sorted = append(p.sorted[:idx], p.sorted[idx+1:]...)
		}
	}
	p.maybeTransition()
}

// Contains reports whether d is currently in the set.
func (p *PostingList) Contains(d uint64) bool {
	if p.enc == encBitmap {
		return p.bitmap.Contains(uint32OrPanic(d))
	}
	idx := sort.Search(len(p.sorted), func(i int) bool { return p.sorted[i] >= d })
	return idx < len(p.sorted) && p.sorted[idx] == d
}

// Cardinality returns the number of distinct docids currently present.
func (p *PostingList) Cardinality() int {
	if p.enc == encBitmap {
		return int(p.bitmap.GetCardinality())
	}
	return len(p.sorted)
}

// IsBitmap reports the current encoding, exposed for snapshot codec and
// diagnostics (INFO's delta_encoded_lists / roaring_bitmap_lists).
func (p *PostingList) IsBitmap() bool { return p.enc == encBitmap }

// Iterate calls fn for every docid in ascending order. fn returning false
// stops iteration early.
func (p *PostingList) Iterate(fn func(d uint64) bool) {
	if p.enc == encBitmap {
		it := p.bitmap.Iterator()
		for it.HasNext() {
			if !fn(uint64(it.Next())) {
				return
			}
		}
		return
	}
	for _, d := range p.sorted {
		if !fn(d) {
			return
		}
	}
}

// ToSlice materializes the ascending docid slice.
func (p *PostingList) ToSlice() []uint64 {
	out := make([]uint64, 0, p.Cardinality())
	p.Iterate(func(d uint64) bool { out = append(out, d); return true })
	return out
}

func (p *PostingList) maybeTransition() {
	card := p.Cardinality()
	density := 0.0
	if p.domain > 0 {
		density = float64(card) / float64(p.domain)
	}
	switch p.enc {
	case encSorted:
		if density >= p.threshold.Density || card > p.threshold.MaxSortedSize {
			p.toBitmap()
		}
	case encBitmap:
		if density < p.threshold.Density/2 && card <= p.threshold.MaxSortedSize {
			p.toSorted()
		}
	}
}

func (p *PostingList) toBitmap() {
	bm := roaring.New()
	for _, d := range p.sorted {
		bm.Add(uint32OrPanic(d))
	}
	p.bitmap = bm
	p.sorted = nil
	p.enc = encBitmap
}

func (p *PostingList) toSorted() {
	out := make([]uint64, 0, p.bitmap.GetCardinality())
	it := p.bitmap.Iterator()
	for it.HasNext() {
		out = append(out, uint64(it.Next()))
	}
	p.sorted = out
	p.bitmap = nil
	p.enc = encSorted
}

// uint32OrPanic narrows a docid for roaring's 32-bit domain. Docids are
// assigned densely from zero by docstore, so no table reaches this limit
// short of ~4 billion live+tombstoned rows.
func uint32OrPanic(d uint64) uint32 {
	if d > 0xFFFFFFFF {
		panic("mygramdb: docid exceeds 32-bit roaring domain")
	}
	return uint32(d)
}

// Intersect returns the ascending sorted-merge intersection of a and b,
// used by Index.EvaluateBoolean's AND (spec §4.3).
func Intersect(a, b *PostingList) []uint64 {
	as, bs := a.ToSlice(), b.ToSlice()
	var out []uint64
	i, j := 0, 0
	for i < len(as) && j < len(bs) {
		switch {
		case as[i] == bs[j]:
			out = append(out, as[i])
			i++
			j++
		case as[i] < bs[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// Difference returns a \ b in ascending order, used by Index.EvaluateBoolean's
// NOT (spec §4.3).
func Difference(a, b *PostingList) []uint64 {
	as, bs := a.ToSlice(), b.ToSlice()
	var out []uint64
	i, j := 0, 0
	for i < len(as) {
		for j < len(bs) && bs[j] < as[i] {
			j++
		}
		if j < len(bs) && bs[j] == as[i] {
			i++
			continue
		}
		out = append(out, as[i])
		i++
	}
	return out
}

// IntersectIDs intersects two already-sorted ascending id slices, used by
// the executor when combining candidate sets that did not originate from
// a PostingList (e.g. the materialized result of a previous AND).
func IntersectIDs(a, b []uint64) []uint64 {
	var out []uint64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// DifferenceIDs computes a \ b for two already-sorted ascending id slices.
func DifferenceIDs(a, b []uint64) []uint64 {
	var out []uint64
	i, j := 0, 0
	for i < len(a) {
		for j < len(b) && b[j] < a[i] {
			j++
		}
		if j < len(b) && b[j] == a[i] {
			i++
			continue
		}
		out = append(out, a[i])
		i++
	}
	return out
}
