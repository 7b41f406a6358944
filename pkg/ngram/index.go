package ngram

// Index maps ngram -> PostingList for a single table (spec §2 item 4,
// §4.3). Thread-safety is the caller's responsibility: the owning
// TableContext serializes writers and readers with a single RWMutex per
// spec §4.3 "Thread-safety" / §5.
type Index struct {
	cfg       Config
	threshold EncodingThreshold
	postings  map[string]*PostingList
}

// NewIndex creates an empty index for the given ngram/encoding config.
func NewIndex(cfg Config, threshold EncodingThreshold) *Index {
	return &Index{cfg: cfg, threshold: threshold, postings: make(map[string]*PostingList)}
}

// Config returns the index's ngram configuration.
func (idx *Index) Config() Config { return idx.cfg }

// Add inserts docid into every ngram posting list produced by text (spec
// §4.3 Add).
func (idx *Index) Add(docid uint64, text string) {
	for _, g := range UniqueNgrams(text, idx.cfg) {
		idx.postingFor(g).Insert(docid)
	}
}

// Remove deletes docid from every ngram posting list produced by text; the
// caller must pass the original text that was indexed (spec §4.3 Remove).
func (idx *Index) Remove(docid uint64, text string) {
	for _, g := range UniqueNgrams(text, idx.cfg) {
		if pl, ok := idx.postings[g]; ok {
			pl.Remove(docid)
		}
	}
}

// Modify applies only the symmetric difference between old and new
// ngram sets (spec §4.3 Modify).
func (idx *Index) Modify(docid uint64, oldText, newText string) {
	oldSet := ngramSet(oldText, idx.cfg)
	newSet := ngramSet(newText, idx.cfg)

	for g := range oldSet {
		if _, keep := newSet[g]; !keep {
			if pl, ok := idx.postings[g]; ok {
				pl.Remove(docid)
			}
		}
	}
	for g := range newSet {
		if _, had := oldSet[g]; !had {
			idx.postingFor(g).Insert(docid)
		}
	}
}

func ngramSet(text string, cfg Config) map[string]struct{} {
	m := make(map[string]struct{})
	for _, g := range Ngrams(text, cfg) {
		m[g] = struct{}{}
	}
	return m
}

func (idx *Index) postingFor(g string) *PostingList {
	pl, ok := idx.postings[g]
	if !ok {
		pl = NewPostingList(idx.threshold)
		idx.postings[g] = pl
	}
	return pl
}

// PostingList returns the posting list for an exact ngram, or nil if it
// has never been populated. Used by the executor to expand query terms.
func (idx *Index) PostingList(g string) *PostingList {
	return idx.postings[g]
}

// Stats reports the current posting-list encoding mix for the `INFO`
// command's `delta_encoded_lists` / `roaring_bitmap_lists` fields.
func (idx *Index) Stats() (deltaLists, bitmapLists, terms int) {
	for _, pl := range idx.postings {
		terms++
		if pl.IsBitmap() {
			bitmapLists++
		} else {
			deltaLists++
		}
	}
	return
}

// AllNgrams returns every populated ngram key, used by SnapshotCodec to
// enumerate the ngram dictionary section.
func (idx *Index) AllNgrams() []string {
	out := make([]string, 0, len(idx.postings))
	for g := range idx.postings {
		out = append(out, g)
	}
	return out
}

// PutPostingList installs a decoded posting list for g, used by
// SnapshotCodec during load.
func (idx *Index) PutPostingList(g string, pl *PostingList) {
	idx.postings[g] = pl
}
