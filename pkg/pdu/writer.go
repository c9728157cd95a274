package pdu

import (
	"bytes"
	"encoding/binary"
)

// Writer builds PDU bodies field by field.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) WriteUint8(b byte) {
	w.buf.WriteByte(b)
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf.Write(binary.BigEndian.AppendUint16(nil, v))
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf.Write(binary.BigEndian.AppendUint32(nil, v))
}

// WriteCString writes the value followed by a NUL byte.
func (w *Writer) WriteCString(s string) {
	w.buf.WriteString(s)
	w.buf.WriteByte(0x00)
}

// WriteShortMessage writes the 1-byte length prefix and the message,
// truncating anything beyond 255 bytes.
func (w *Writer) WriteShortMessage(b []byte) {
	if len(b) > 255 {
		b = b[:255]
	}
	w.buf.WriteByte(byte(len(b)))
	w.buf.Write(b)
}

// WriteTLV writes one optional parameter record.
func (w *Writer) WriteTLV(tag uint16, value []byte) {
	w.WriteUint16(tag)
	w.WriteUint16(uint16(len(value)))
	w.buf.Write(value)
}

func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}
