// Package docstore implements DocumentStore (spec §2 item 5, §4.4): the
// mapping between an external primary key and an internal monotonic
// docid, plus the typed FilterTuple column carried alongside it.
package docstore

import (
	"github.com/libraz/mygram-db/pkg/filter"
	"github.com/libraz/mygram-db/pkg/mygramerr"
)

// Store owns pk<->docid and docid->FilterTuple for one table. Not safe
// for concurrent use; the owning TableContext serializes access.
type Store struct {
	pkToDoc map[string]uint64
	docToPk []string        // indexed by docid; tombstoned slots are ""
	tuples  []filter.Tuple  // indexed by docid
	live    []bool          // indexed by docid
	nextID  uint64
	liveCnt int
}

// New creates an empty DocumentStore.
func New() *Store {
	return &Store{pkToDoc: make(map[string]uint64)}
}

// AddDocument assigns the next docid to pk and stores its FilterTuple.
// Fails with AlreadyExists if pk is currently live (spec §4.4).
func (s *Store) AddDocument(pk string, tuple filter.Tuple) (uint64, error) {
	if _, ok := s.pkToDoc[pk]; ok {
		return 0, mygramerr.Newf(mygramerr.AlreadyExists, "pk %q already exists", pk)
	}
	id := s.nextID
	s.nextID++

	s.pkToDoc[pk] = id
	s.docToPk = append(s.docToPk, pk)
	s.tuples = append(s.tuples, tuple)
	s.live = append(s.live, true)
	s.liveCnt++
	return id, nil
}

// RemoveDocument tombstones pk's docid and returns it so the caller can
// drive Index.Remove with the same id (spec §4.4).
func (s *Store) RemoveDocument(pk string) (uint64, error) {
	id, ok := s.pkToDoc[pk]
	if !ok {
		return 0, mygramerr.Newf(mygramerr.NotFound, "pk %q not found", pk)
	}
	delete(s.pkToDoc, pk)
	s.docToPk[id] = ""
	s.live[id] = false
	s.liveCnt--
	return id, nil
}

// UpdateFilters replaces the FilterTuple stored for a live docid, used by
// the binlog applier on an UPDATE that does not change index membership.
func (s *Store) UpdateFilters(docid uint64, tuple filter.Tuple) error {
	if docid >= uint64(len(s.live)) || !s.live[docid] {
		return mygramerr.Newf(mygramerr.NotFound, "docid %d not live", docid)
	}
	s.tuples[docid] = tuple
	return nil
}

// GetDocID returns the docid for a live pk.
func (s *Store) GetDocID(pk string) (uint64, bool) {
	id, ok := s.pkToDoc[pk]
	return id, ok
}

// GetPk returns the primary key for a live docid.
func (s *Store) GetPk(docid uint64) (string, bool) {
	if docid >= uint64(len(s.live)) || !s.live[docid] {
		return "", false
	}
	return s.docToPk[docid], true
}

// GetFilters returns the FilterTuple for a live docid.
func (s *Store) GetFilters(docid uint64) (filter.Tuple, bool) {
	if docid >= uint64(len(s.live)) || !s.live[docid] {
		return filter.Tuple{}, false
	}
	return s.tuples[docid], true
}

// IsLive reports whether docid currently denotes a live document.
func (s *Store) IsLive(docid uint64) bool {
	return docid < uint64(len(s.live)) && s.live[docid]
}

// Size returns the number of currently live documents.
func (s *Store) Size() int { return s.liveCnt }

// NextDocID returns the id that will be assigned to the next inserted
// document, used by SnapshotCodec to persist docid-range metadata.
func (s *Store) NextDocID() uint64 { return s.nextID }

// Capacity returns the dense slot count (live + tombstoned), used by
// SnapshotCodec iteration bounds.
func (s *Store) Capacity() int { return len(s.live) }

// Iterate calls fn for every live docid in ascending order.
func (s *Store) Iterate(fn func(docid uint64, pk string, tuple filter.Tuple) bool) {
	for id := uint64(0); id < uint64(len(s.live)); id++ {
		if !s.live[id] {
			continue
		}
		if !fn(id, s.docToPk[id], s.tuples[id]) {
			return
		}
	}
}

// Restore rebuilds internal state from a previously persisted slot list,
// used by SnapshotCodec.Load. Slots with an empty pk are tombstoned.
func Restore(slots []RestoreSlot, nextID uint64) *Store {
	s := &Store{
		pkToDoc: make(map[string]uint64, len(slots)),
		docToPk: make([]string, len(slots)),
		tuples:  make([]filter.Tuple, len(slots)),
		live:    make([]bool, len(slots)),
		nextID:  nextID,
	}
	for i, slot := range slots {
		s.docToPk[i] = slot.Pk
		s.tuples[i] = slot.Tuple
		s.live[i] = slot.Live
		if slot.Live {
			s.pkToDoc[slot.Pk] = uint64(i)
			s.liveCnt++
		}
	}
	return s
}

// RestoreSlot is one dense docid slot as persisted by SnapshotCodec.
type RestoreSlot struct {
	Pk    string
	Tuple filter.Tuple
	Live  bool
}
