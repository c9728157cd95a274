// Package pdu implements the SMPP wire format: the fixed header, command
// bodies and TLV optional parameters.
package pdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedHeader is returned when fewer than HeaderLength bytes are supplied.
var ErrMalformedHeader = errors.New("pdu: malformed header")

// Header is the SMPP PDU header (16 bytes).
type Header struct {
	CommandLength  uint32
	CommandID      uint32
	CommandStatus  uint32
	SequenceNumber uint32
}

// IsResponse reports whether the command id carries the response bit.
func (h Header) IsResponse() bool {
	return h.CommandID&ResponseBit != 0
}

// BodyLength is the number of body bytes announced by CommandLength.
// It is zero for headers announcing less than a bare header.
func (h Header) BodyLength() int {
	if h.CommandLength < HeaderLength {
		return 0
	}
	return int(h.CommandLength - HeaderLength)
}

// PDU is an immutable decoded protocol data unit.
type PDU struct {
	Header
	Body []byte
}

// New builds a PDU with CommandLength derived from the body.
func New(commandID, status, sequence uint32, body []byte) *PDU {
	return &PDU{
		Header: Header{
			CommandLength:  uint32(HeaderLength + len(body)),
			CommandID:      commandID,
			CommandStatus:  status,
			SequenceNumber: sequence,
		},
		Body: body,
	}
}

// DecodeHeader parses the four big-endian header fields.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLength {
		return Header{}, fmt.Errorf("%w: got %d bytes, need %d", ErrMalformedHeader, len(b), HeaderLength)
	}
	return Header{
		CommandLength:  binary.BigEndian.Uint32(b[0:4]),
		CommandID:      binary.BigEndian.Uint32(b[4:8]),
		CommandStatus:  binary.BigEndian.Uint32(b[8:12]),
		SequenceNumber: binary.BigEndian.Uint32(b[12:16]),
	}, nil
}

// Decode attaches a body to a decoded header. Body semantics are left to the
// command-specific decoders.
func Decode(h Header, body []byte) *PDU {
	if len(body) == 0 {
		body = nil
	}
	return &PDU{Header: h, Body: body}
}

// Encode writes the header followed by the body. CommandLength is always
// recomputed from the actual body length.
func Encode(p *PDU) []byte {
	length := HeaderLength + len(p.Body)
	buf := make([]byte, length)
	binary.BigEndian.PutUint32(buf[0:], uint32(length))
	binary.BigEndian.PutUint32(buf[4:], p.CommandID)
	binary.BigEndian.PutUint32(buf[8:], p.CommandStatus)
	binary.BigEndian.PutUint32(buf[12:], p.SequenceNumber)
	copy(buf[HeaderLength:], p.Body)
	return buf
}

// NewResponse answers req with the response command id, the given status and
// the request's sequence number.
func NewResponse(req *PDU, status uint32, body []byte) *PDU {
	return New(req.CommandID|ResponseBit, status, req.SequenceNumber, body)
}

// BindTransceiverResp echoes systemID in the response body.
func BindTransceiverResp(req *PDU, status uint32, systemID string) *PDU {
	w := NewWriter()
	w.WriteCString(systemID)
	return NewResponse(req, status, w.Bytes())
}

// SubmitSMResp carries the message id assigned to the submitted segment.
// Negative responses omit the body, as SMPP 3.4 allows.
func SubmitSMResp(req *PDU, status uint32, messageID string) *PDU {
	if status != StatusOk {
		return NewResponse(req, status, nil)
	}
	w := NewWriter()
	w.WriteCString(messageID)
	return NewResponse(req, status, w.Bytes())
}
