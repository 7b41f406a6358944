package snapshot

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"
	"math"
	"os"

	"github.com/libraz/mygram-db/pkg/mygramerr"
)

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func writeBool(w io.Writer, v bool) error {
	b := byte(0)
	if v {
		b = 1
	}
	_, err := w.Write([]byte{b})
	return err
}

func readBool(r io.Reader) (bool, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return false, err
	}
	return buf[0] != 0, nil
}

func writeLenPrefixedString(w io.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readLenPrefixedString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

func floatBits(f float64) uint64   { return math.Float64bits(f) }
func bitsFloat(b uint64) float64   { return math.Float64frombits(b) }

// writeAtomicCRC buffers body(w) into memory, appends a trailing little-
// endian CRC32, and writes the result to path via temp-file + rename
// (spec §4.10 "temp-file + atomic rename per file").
func writeAtomicCRC(path string, body func(w io.Writer) error) error {
	var buf bytes.Buffer
	if err := body(&buf); err != nil {
		return mygramerr.Wrap(mygramerr.Internal, "encode "+path, err)
	}
	sum := crc32.ChecksumIEEE(buf.Bytes())
	var trailer [4]byte
	binary.LittleEndian.PutUint32(trailer[:], sum)
	buf.Write(trailer[:])
	return writeAtomicBytes(path, buf.Bytes())
}

func writeAtomicJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mygramerr.Wrap(mygramerr.Internal, "marshal "+path, err)
	}
	return writeAtomicBytes(path, data)
}

func writeAtomicBytes(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return mygramerr.Wrap(mygramerr.Internal, "write temp file for "+path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return mygramerr.Wrap(mygramerr.Internal, "atomic rename for "+path, err)
	}
	return nil
}

// crcReader reads an entire file's content (minus its trailing CRC32) and
// exposes it as an io.Reader for the decode path, then verifies the
// trailer on checkTrailer.
type crcReader struct {
	body []byte
	pos  int
	want uint32
}

func newCRCReader(f *os.File) (*crcReader, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, mygramerr.Wrap(mygramerr.DataLoss, "read "+f.Name(), err)
	}
	if len(data) < 4 {
		return nil, mygramerr.Newf(mygramerr.DataLoss, "%s truncated: no CRC trailer", f.Name())
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	return &crcReader{body: body, want: binary.LittleEndian.Uint32(trailer)}, nil
}

func (r *crcReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.body) {
		return 0, io.EOF
	}
	n := copy(p, r.body[r.pos:])
	r.pos += n
	return n, nil
}

func (r *crcReader) checkTrailer(f *os.File) error {
	got := crc32.ChecksumIEEE(r.body)
	if got != r.want {
		return mygramerr.Newf(mygramerr.DataLoss, "%s: CRC mismatch (snapshot corrupted)", f.Name())
	}
	return nil
}
