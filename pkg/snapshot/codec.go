// Package snapshot implements SnapshotBuilder, SnapshotCodec, and
// SnapshotScheduler (spec §2 items 11-12, §4.8, §4.10): building a
// TableContext from the upstream MySQL source and persisting/restoring it
// to/from the on-disk v1 format.
package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/libraz/mygram-db/pkg/docstore"
	"github.com/libraz/mygram-db/pkg/filter"
	"github.com/libraz/mygram-db/pkg/mygramerr"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/table"
)

// FormatVersion is the on-disk layout version written into meta.json
// (spec §4.10 "version:1.0").
const FormatVersion = "1.0"

// Manifest is the top-level meta.json document (spec §4.10).
type Manifest struct {
	Version   string   `json:"version"`
	Tables    []string `json:"tables"`
	GTID      string   `json:"gtid"`
	Timestamp string   `json:"timestamp"`
}

// Save persists every table in tcs into dir, one <table>.index and
// <table>.docs file per table plus meta.json, using temp-file + atomic
// rename per file (spec §4.10 "Writes use temp-file + atomic rename").
func Save(dir string, tcs map[string]*table.Context) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return mygramerr.Wrap(mygramerr.Internal, "create snapshot dir", err)
	}

	names := make([]string, 0, len(tcs))
	for name := range tcs {
		names = append(names, name)
	}
	sort.Strings(names)

	gtid := ""
	for _, name := range names {
		tc := tcs[name]
		tc.RLock()
		if err := saveTableIndex(dir, name, tc.Index()); err != nil {
			tc.RUnlock()
			return err
		}
		if err := saveTableDocs(dir, name, tc.Docs()); err != nil {
			tc.RUnlock()
			return err
		}
		gtid = tc.GTID()
		tc.RUnlock()
	}

	manifest := Manifest{Version: FormatVersion, Tables: names, GTID: gtid, Timestamp: timestamp()}
	return writeAtomicJSON(filepath.Join(dir, "meta.json"), manifest)
}

// Load reads meta.json from dir and loads each declared table's files into
// the corresponding TableContext in tcs under its write lock (spec §4.10
// Load). Tables declared in the manifest but absent from tcs are skipped
// with the discrepancy left to the caller to log.
func Load(dir string, tcs map[string]*table.Context, threshold ngram.EncodingThreshold) (Manifest, []string, error) {
	var manifest Manifest
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return manifest, nil, mygramerr.Wrap(mygramerr.DataLoss, "read meta.json (partial or missing snapshot)", err)
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return manifest, nil, mygramerr.Wrap(mygramerr.DataLoss, "parse meta.json", err)
	}

	var skipped []string
	for _, name := range manifest.Tables {
		tc, ok := tcs[name]
		if !ok {
			skipped = append(skipped, name)
			continue
		}
		idx, err := loadTableIndex(dir, name, tc.Index().Config(), threshold)
		if err != nil {
			return manifest, skipped, err
		}
		docs, err := loadTableDocs(dir, name)
		if err != nil {
			return manifest, skipped, err
		}
		tc.Lock()
		tc.Reset(idx, docs, manifest.GTID)
		tc.Unlock()
	}
	return manifest, skipped, nil
}

// Verify re-reads every file referenced by meta.json and checks its
// trailing CRC32 without materializing an Index/Store (spec §4.10 "a
// trailing CRC32 of each file enables VERIFY").
func Verify(dir string) (Manifest, error) {
	var manifest Manifest
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return manifest, mygramerr.Wrap(mygramerr.DataLoss, "read meta.json", err)
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return manifest, mygramerr.Wrap(mygramerr.DataLoss, "parse meta.json", err)
	}
	for _, name := range manifest.Tables {
		if err := verifyFileCRC(filepath.Join(dir, name+".index")); err != nil {
			return manifest, err
		}
		if err := verifyFileCRC(filepath.Join(dir, name+".docs")); err != nil {
			return manifest, err
		}
	}
	return manifest, nil
}

func verifyFileCRC(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return mygramerr.Wrap(mygramerr.DataLoss, "read "+path, err)
	}
	if len(data) < 4 {
		return mygramerr.Newf(mygramerr.DataLoss, "%s truncated: no CRC trailer", path)
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	want := binary.LittleEndian.Uint32(trailer)
	got := crc32.ChecksumIEEE(body)
	if want != got {
		return mygramerr.Newf(mygramerr.DataLoss, "%s: CRC mismatch (snapshot corrupted)", path)
	}
	return nil
}

// --- per-table index file ---
//
// Layout: uint32 ngram count, then per ngram: length-prefixed ngram
// string followed by its encoded posting list (ngram.PostingList.EncodeTo
// already self-frames with a discriminator + length prefix). Trailing
// CRC32 of everything preceding it (spec §4.10 section (e) + (d)).

func saveTableIndex(dir, table string, idx *ngram.Index) error {
	return writeAtomicCRC(filepath.Join(dir, table+".index"), func(w io.Writer) error {
		grams := idx.AllNgrams()
		sort.Strings(grams)
		if err := writeUint32(w, uint32(len(grams))); err != nil {
			return err
		}
		for _, g := range grams {
			if err := writeLenPrefixedString(w, g); err != nil {
				return err
			}
			pl := idx.PostingList(g)
			if err := pl.EncodeTo(w); err != nil {
				return err
			}
		}
		return nil
	})
}

func loadTableIndex(dir, tableName string, cfg ngram.Config, threshold ngram.EncodingThreshold) (*ngram.Index, error) {
	f, err := os.Open(filepath.Join(dir, tableName+".index"))
	if err != nil {
		return nil, mygramerr.Wrap(mygramerr.DataLoss, "open "+tableName+".index", err)
	}
	defer f.Close()

	r, err := newCRCReader(f)
	if err != nil {
		return nil, err
	}

	count, err := readUint32(r)
	if err != nil {
		return nil, mygramerr.Wrap(mygramerr.DataLoss, "read ngram count", err)
	}
	idx := ngram.NewIndex(cfg, threshold)
	for i := uint32(0); i < count; i++ {
		g, err := readLenPrefixedString(r)
		if err != nil {
			return nil, mygramerr.Wrap(mygramerr.DataLoss, "read ngram key", err)
		}
		pl, err := ngram.DecodePostingList(r, threshold)
		if err != nil {
			return nil, mygramerr.Wrap(mygramerr.DataLoss, "decode posting list for "+g, err)
		}
		idx.PutPostingList(g, pl)
	}
	if err := r.checkTrailer(f); err != nil {
		return nil, err
	}
	return idx, nil
}

// --- per-table docs file ---
//
// Layout: uint64 nextDocID, uint32 slot count, then per slot: uint8 live
// flag, length-prefixed pk (spec §4.10 section (b)), then the FilterTuple
// column (section (c)): uint32 column count, per column a length-prefixed
// name, a type byte, a null byte, and a type-tagged value.

func saveTableDocs(dir, tableName string, store *docstore.Store) error {
	return writeAtomicCRC(filepath.Join(dir, tableName+".docs"), func(w io.Writer) error {
		if err := writeUint64(w, store.NextDocID()); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(store.Capacity())); err != nil {
			return err
		}
		for id := uint64(0); id < uint64(store.Capacity()); id++ {
			pk, live := store.GetPk(id)
			if err := writeBool(w, live); err != nil {
				return err
			}
			if err := writeLenPrefixedString(w, pk); err != nil {
				return err
			}
			tuple, _ := store.GetFilters(id)
			if err := writeTuple(w, tuple); err != nil {
				return err
			}
		}
		return nil
	})
}

func loadTableDocs(dir, tableName string) (*docstore.Store, error) {
	f, err := os.Open(filepath.Join(dir, tableName+".docs"))
	if err != nil {
		return nil, mygramerr.Wrap(mygramerr.DataLoss, "open "+tableName+".docs", err)
	}
	defer f.Close()

	r, err := newCRCReader(f)
	if err != nil {
		return nil, err
	}

	nextID, err := readUint64(r)
	if err != nil {
		return nil, mygramerr.Wrap(mygramerr.DataLoss, "read nextDocID", err)
	}
	count, err := readUint32(r)
	if err != nil {
		return nil, mygramerr.Wrap(mygramerr.DataLoss, "read slot count", err)
	}
	slots := make([]docstore.RestoreSlot, count)
	for i := range slots {
		live, err := readBool(r)
		if err != nil {
			return nil, mygramerr.Wrap(mygramerr.DataLoss, "read live flag", err)
		}
		pk, err := readLenPrefixedString(r)
		if err != nil {
			return nil, mygramerr.Wrap(mygramerr.DataLoss, "read pk", err)
		}
		tuple, err := readTuple(r)
		if err != nil {
			return nil, mygramerr.Wrap(mygramerr.DataLoss, "read filter tuple", err)
		}
		slots[i] = docstore.RestoreSlot{Pk: pk, Tuple: tuple, Live: live}
	}
	if err := r.checkTrailer(f); err != nil {
		return nil, err
	}
	return docstore.Restore(slots, nextID), nil
}

func writeTuple(w io.Writer, t filter.Tuple) error {
	if err := writeUint32(w, uint32(len(t.Columns))); err != nil {
		return err
	}
	for i, col := range t.Columns {
		if err := writeLenPrefixedString(w, col); err != nil {
			return err
		}
		v := t.Values[i]
		if _, err := w.Write([]byte{byte(v.Type)}); err != nil {
			return err
		}
		if err := writeBool(w, v.IsNull); err != nil {
			return err
		}
		switch v.Type {
		case filter.TypeString:
			if err := writeLenPrefixedString(w, v.S); err != nil {
				return err
			}
		case filter.TypeUint:
			if err := writeUint64(w, v.U); err != nil {
				return err
			}
		case filter.TypeFloat:
			if err := writeUint64(w, floatBits(v.F)); err != nil {
				return err
			}
		default: // Int, DateTime, Bool
			if err := writeUint64(w, uint64(v.I)); err != nil {
				return err
			}
		}
	}
	return nil
}

func readTuple(r io.Reader) (filter.Tuple, error) {
	n, err := readUint32(r)
	if err != nil {
		return filter.Tuple{}, err
	}
	t := filter.Tuple{Columns: make([]string, n), Values: make([]filter.Value, n)}
	for i := uint32(0); i < n; i++ {
		col, err := readLenPrefixedString(r)
		if err != nil {
			return filter.Tuple{}, err
		}
		var typeByte [1]byte
		if _, err := io.ReadFull(r, typeByte[:]); err != nil {
			return filter.Tuple{}, err
		}
		isNull, err := readBool(r)
		if err != nil {
			return filter.Tuple{}, err
		}
		vt := filter.ValueType(typeByte[0])
		var v filter.Value
		switch vt {
		case filter.TypeString:
			s, err := readLenPrefixedString(r)
			if err != nil {
				return filter.Tuple{}, err
			}
			v = filter.StringValue(s)
		case filter.TypeUint:
			u, err := readUint64(r)
			if err != nil {
				return filter.Tuple{}, err
			}
			v = filter.UintValue(u)
		case filter.TypeFloat:
			bits, err := readUint64(r)
			if err != nil {
				return filter.Tuple{}, err
			}
			v = filter.FloatValue(bitsFloat(bits))
		default:
			iv, err := readUint64(r)
			if err != nil {
				return filter.Tuple{}, err
			}
			v = filter.Value{Type: vt, I: int64(iv)}
		}
		v.IsNull = isNull
		t.Columns[i] = col
		t.Values[i] = v
	}
	return t, nil
}

func timestamp() string { return time.Now().UTC().Format(time.RFC3339) }
