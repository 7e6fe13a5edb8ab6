// Package codec implements the compact binary encoding spoken with the
// master and the declarative, version-gated row schemas built on top of it.
//
// Integers travel as zig-zag varints ("compressed" ints), strings as a
// varint byte length followed by UTF-8, fixed-width numbers big-endian.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
	"unicode/utf8"

	"github.com/mesh-intelligence/aoserv/pkg/types"
)

const initialBufferSize = 256

// Writer appends encoded values to a growing buffer. Writes never fail; the
// buffer is handed to the transport with Bytes.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, initialBufferSize)}
}

// Bytes returns the encoded bytes. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

// Reset discards all written bytes, keeping the buffer.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

func (w *Writer) WriteUint8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

// WriteCompressedInt writes v as a zig-zag varint: one byte for -64..63.
func (w *Writer) WriteCompressedInt(v int32) {
	w.buf = binary.AppendVarint(w.buf, int64(v))
}

func (w *Writer) WriteShort(v int16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(v))
}

func (w *Writer) WriteLong(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *Writer) WriteFloat(v float32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, math.Float32bits(v))
}

// WriteUTF writes a varint byte length followed by the UTF-8 bytes of s.
func (w *Writer) WriteUTF(s string) {
	w.buf = binary.AppendUvarint(w.buf, uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteNullUTF writes a presence flag, then the string when present.
func (w *Writer) WriteNullUTF(s *string) {
	w.WriteBool(s != nil)
	if s != nil {
		w.WriteUTF(*s)
	}
}

// WriteEnum writes an enumeration constant by name.
func (w *Writer) WriteEnum(name string) { w.WriteUTF(name) }

// WriteTime writes a presence flag and, for a non-zero time, its Unix
// milliseconds.
func (w *Writer) WriteTime(t time.Time) {
	w.WriteBool(!t.IsZero())
	if !t.IsZero() {
		w.WriteLong(t.UnixMilli())
	}
}

// WriteRaw appends b unchanged.
func (w *Writer) WriteRaw(b []byte) { w.buf = append(w.buf, b...) }

// Reader decodes values from a byte slice. The first failure is sticky:
// later reads return zero values and Err reports the original cause, which
// always matches types.ErrDecode.
type Reader struct {
	buf      []byte
	off      int
	err      error
	interner *Interner
}

// NewReader returns a Reader over b. When interner is non-nil, strings read
// for interned fields are canonicalised through it.
func NewReader(b []byte, interner *Interner) *Reader {
	return &Reader{buf: b, interner: interner}
}

// Err returns the first decode failure, if any.
func (r *Reader) Err() error { return r.err }

// Offset returns the number of bytes consumed.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) fail(what string, cause error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s at offset %d: %w", types.ErrDecode, what, r.off, cause)
	}
}

// need reports whether n more bytes are available, failing the reader if not.
func (r *Reader) need(n int, what string) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.Remaining() < n {
		r.fail(what, io.ErrUnexpectedEOF)
		return false
	}
	return true
}

func (r *Reader) ReadUint8() uint8 {
	if !r.need(1, "uint8") {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *Reader) ReadBool() bool {
	if !r.need(1, "bool") {
		return false
	}
	v := r.buf[r.off]
	r.off++
	switch v {
	case 0:
		return false
	case 1:
		return true
	}
	r.fail("bool", fmt.Errorf("invalid boolean byte 0x%02x", v))
	return false
}

func (r *Reader) ReadCompressedInt() int32 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf[r.off:])
	if n == 0 {
		r.fail("compressed int", io.ErrUnexpectedEOF)
		return 0
	}
	if n < 0 || v < math.MinInt32 || v > math.MaxInt32 {
		r.fail("compressed int", errors.New("value overflows int32"))
		return 0
	}
	r.off += n
	return int32(v)
}

func (r *Reader) ReadShort() int16 {
	if !r.need(2, "short") {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return int16(v)
}

func (r *Reader) ReadLong() int64 {
	if !r.need(8, "long") {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return int64(v)
}

func (r *Reader) ReadFloat() float32 {
	if !r.need(4, "float") {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return math.Float32frombits(v)
}

func (r *Reader) ReadUTF() string {
	if r.err != nil {
		return ""
	}
	size, n := binary.Uvarint(r.buf[r.off:])
	if n == 0 {
		r.fail("string length", io.ErrUnexpectedEOF)
		return ""
	}
	if n < 0 || size > uint64(math.MaxInt32) {
		r.fail("string length", errors.New("length overflows"))
		return ""
	}
	r.off += n
	if !r.need(int(size), "string") {
		return ""
	}
	b := r.buf[r.off : r.off+int(size)]
	if !utf8.Valid(b) {
		r.fail("string", errors.New("invalid UTF-8"))
		return ""
	}
	r.off += int(size)
	return string(b)
}

func (r *Reader) ReadNullUTF() *string {
	if !r.ReadBool() {
		return nil
	}
	s := r.ReadUTF()
	if r.err != nil {
		return nil
	}
	return &s
}

func (r *Reader) ReadEnum() string { return r.ReadUTF() }

func (r *Reader) ReadTime() time.Time {
	if !r.ReadBool() {
		return time.Time{}
	}
	ms := r.ReadLong()
	if r.err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// intern canonicalises s when the reader has an interner.
func (r *Reader) intern(s string) string {
	if r.interner == nil {
		return s
	}
	return r.interner.Intern(s)
}
