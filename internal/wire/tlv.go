// Package wire implements the frozen binary schemas spec'd for the
// connection handshake and the post-handshake message envelope, plus the
// small tag-length-value record format they are serialized with.
//
// Field order and tag numbers are frozen by spec; this package is the only
// place that is allowed to know them.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Tag numbers are frozen per spec §6. A record is a sequence of
// (tag uint8, length uvarint, value bytes) triples; unknown tags are
// skipped, which is the in-band schema-evolution mechanism spec §1's
// non-goals refer to ("beyond message-kind tagging").
type tag uint8

// recordWriter accumulates fields into a tag-length-value record.
type recordWriter struct {
	buf bytes.Buffer
}

func (w *recordWriter) putBytes(t tag, v []byte) {
	w.buf.WriteByte(byte(t))
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(v)))
	w.buf.Write(lenBuf[:n])
	w.buf.Write(v)
}

func (w *recordWriter) putString(t tag, v string) {
	w.putBytes(t, []byte(v))
}

func (w *recordWriter) bytes() []byte {
	return w.buf.Bytes()
}

// recordReader walks the fields of a tag-length-value record.
type recordReader struct {
	data []byte
	pos  int
}

func newRecordReader(data []byte) *recordReader {
	return &recordReader{data: data}
}

// next returns the next field's tag and value, or ok=false at end of record.
func (r *recordReader) next() (t tag, value []byte, ok bool, err error) {
	if r.pos >= len(r.data) {
		return 0, nil, false, nil
	}
	t = tag(r.data[r.pos])
	r.pos++
	length, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		return 0, nil, false, fmt.Errorf("wire: truncated length for tag %d", t)
	}
	r.pos += n
	end := r.pos + int(length)
	if length > uint64(len(r.data)-r.pos) || end < r.pos {
		return 0, nil, false, fmt.Errorf("wire: field for tag %d overruns record", t)
	}
	value = r.data[r.pos:end]
	r.pos = end
	return t, value, true, nil
}

// fields parses data into a tag -> value map, last write wins. Unknown tags
// survive the parse but are simply never looked up, implementing the
// "unknown fields are ignored" half of schema evolution.
func fields(data []byte) (map[tag][]byte, error) {
	out := make(map[tag][]byte)
	r := newRecordReader(data)
	for {
		t, v, ok, err := r.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out[t] = v
	}
}

func requireField(m map[tag][]byte, t tag, name string) ([]byte, error) {
	v, ok := m[t]
	if !ok {
		return nil, fmt.Errorf("wire: missing required field %q", name)
	}
	return v, nil
}

func requireFixed(m map[tag][]byte, t tag, name string, size int) ([]byte, error) {
	v, err := requireField(m, t, name)
	if err != nil {
		return nil, err
	}
	if len(v) != size {
		return nil, fmt.Errorf("wire: field %q must be %d bytes, got %d", name, size, len(v))
	}
	return v, nil
}
