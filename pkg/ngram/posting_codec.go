package ngram

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2"
)

// discriminator bytes for the on-disk posting-list encoding (spec §4.10).
const (
	discSorted byte = 0
	discBitmap byte = 1
)

// EncodeTo writes the discriminator byte, a little-endian uint32 length
// prefix, and the encoded payload to w.
func (p *PostingList) EncodeTo(w io.Writer) error {
	switch p.enc {
	case encBitmap:
		payload, err := p.bitmap.ToBytes()
		if err != nil {
			return err
		}
		return writeFramed(w, discBitmap, payload)
	default:
		payload := encodeDeltaVarint(p.sorted)
		return writeFramed(w, discSorted, payload)
	}
}

func writeFramed(w io.Writer, disc byte, payload []byte) error {
	if _, err := w.Write([]byte{disc}); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// DecodePostingList reads a posting list previously written by EncodeTo.
func DecodePostingList(r io.Reader, threshold EncodingThreshold) (*PostingList, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	disc := hdr[0]
	n := binary.LittleEndian.Uint32(hdr[1:])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	p := NewPostingList(threshold)
	switch disc {
	case discSorted:
		p.sorted = decodeDeltaVarint(payload)
		if len(p.sorted) > 0 {
			p.domain = p.sorted[len(p.sorted)-1] + 1
		}
	case discBitmap:
		bm := roaring.New()
		if err := bm.UnmarshalBinary(payload); err != nil {
			return nil, err
		}
		p.bitmap = bm
		p.enc = encBitmap
		if bm.GetCardinality() > 0 {
			p.domain = uint64(bm.Maximum()) + 1
		}
	default:
		return nil, fmt.Errorf("mygramdb: unknown posting list discriminator %d", disc)
	}
	return p, nil
}

func encodeDeltaVarint(sorted []uint64) []byte {
	buf := make([]byte, 0, len(sorted)*2)
	var prev uint64
	var tmp [binary.MaxVarintLen64]byte
	for _, d := range sorted {
		delta := d - prev
		n := binary.PutUvarint(tmp[:], delta)
		buf = append(buf, tmp[:n]...)
		prev = d
	}
	return buf
}

func decodeDeltaVarint(buf []byte) []uint64 {
	var out []uint64
	var prev uint64
	i := 0
	for i < len(buf) {
		delta, n := binary.Uvarint(buf[i:])
		if n <= 0 {
			break
		}
		prev += delta
		out = append(out, prev)
		i += n
	}
	return out
}
