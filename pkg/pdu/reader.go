package pdu

import (
	"bytes"
	"encoding/binary"
)

// Reader is a forward-only cursor over a PDU body. Every read is total:
// reading past the end yields zero values instead of failing, because bodies
// come from peers that may be misbehaving.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a cursor positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Offset is the current cursor position.
func (r *Reader) Offset() int { return r.off }

// Remaining is the number of unread bytes, never negative.
func (r *Reader) Remaining() int {
	if r.off >= len(r.buf) {
		return 0
	}
	return len(r.buf) - r.off
}

// CanRead reports whether n more bytes are available.
func (r *Reader) CanRead(n int) bool {
	return n >= 0 && r.Remaining() >= n
}

// ReadUint8 returns the next byte, or 0 at end of buffer.
func (r *Reader) ReadUint8() byte {
	if !r.CanRead(1) {
		return 0
	}
	b := r.buf[r.off]
	r.off++
	return b
}

// ReadUint16 reads a big-endian uint16, or 0 if fewer than 2 bytes remain.
func (r *Reader) ReadUint16() uint16 {
	if !r.CanRead(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

// ReadUint32 reads a big-endian uint32, or 0 if fewer than 4 bytes remain.
func (r *Reader) ReadUint32() uint32 {
	if !r.CanRead(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

// ReadCString scans to the next NUL (consumed) or to the end of the buffer.
func (r *Reader) ReadCString() string {
	rest := r.buf[min(r.off, len(r.buf)):]
	idx := bytes.IndexByte(rest, 0x00)
	if idx == -1 {
		r.off = len(r.buf)
		return string(rest)
	}
	r.off += idx + 1
	return string(rest[:idx])
}

// ReadShortMessage reads sm_length followed by that many bytes. A zero length
// or a length exceeding the remaining buffer yields an empty slice; in the
// latter case the cursor still advances past the length byte only.
func (r *Reader) ReadShortMessage() []byte {
	n := int(r.ReadUint8())
	if n == 0 || !r.CanRead(n) {
		return []byte{}
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+n])
	r.off += n
	return out
}

// Skip advances the cursor by n bytes, stopping at the end of the buffer.
func (r *Reader) Skip(n int) {
	if n <= 0 {
		return
	}
	r.off = min(r.off+n, len(r.buf))
}

// PeekByte returns the byte lookahead positions ahead without consuming it.
func (r *Reader) PeekByte(lookahead int) byte {
	if lookahead < 0 || !r.CanRead(lookahead+1) {
		return 0
	}
	return r.buf[r.off+lookahead]
}

// ParseOptionalParameters consumes the remaining bytes as TLV records. It stops
// at the first truncated record and after MaxOptionalParameters records.
// A repeated tag keeps its last value.
func (r *Reader) ParseOptionalParameters() map[uint16][]byte {
	params := make(map[uint16][]byte)
	for count := 0; count < MaxOptionalParameters && r.CanRead(4); count++ {
		tag := binary.BigEndian.Uint16(r.buf[r.off:])
		length := int(binary.BigEndian.Uint16(r.buf[r.off+2:]))
		if !r.CanRead(4 + length) {
			r.off = len(r.buf)
			break
		}
		r.off += 4
		value := make([]byte, length)
		copy(value, r.buf[r.off:r.off+length])
		r.off += length
		params[tag] = value
	}
	return params
}
