// Package concat detects concatenated (multi-part) SMS segments and
// reassembles them into complete messages.
package concat

import (
	"encoding/binary"

	"github.com/thrillee/aegisbox-smsc/pkg/charset"
	"github.com/thrillee/aegisbox-smsc/pkg/pdu"
)

// Kind identifies where the concatenation metadata was found.
type Kind int

const (
	KindUDH Kind = iota + 1
	KindSAR
)

func (k Kind) String() string {
	switch k {
	case KindUDH:
		return "udh"
	case KindSAR:
		return "sar"
	default:
		return "none"
	}
}

// Information element identifiers for concatenated short messages.
const (
	ieiConcat8Bit  byte = 0x00
	ieiConcat16Bit byte = 0x08
)

// Info describes one segment of a concatenated message. PartNumber is 1-based.
type Info struct {
	Reference  uint16
	TotalParts uint8
	PartNumber uint8
	Kind       Kind
}

// Segment is the result of inspecting a submit request.
type Segment struct {
	Info    *Info // nil for single-segment messages
	Payload []byte
	Text    string
}

// IsMultipart reports whether the segment belongs to a concatenated message.
func (s Segment) IsMultipart() bool {
	return s.Info != nil
}

// IsValidConcatenation holds iff part > 0, total > 1 and part <= total.
func IsValidConcatenation(part, total int) bool {
	return part > 0 && total > 1 && part <= total
}

// Inspect extracts concatenation metadata and the decoded segment text.
// UDH markers take precedence over SAR parameters.
func Inspect(req *pdu.SubmitRequest) Segment {
	payload := req.Content()

	if req.HasUDH() {
		if info, rest, ok := parseUDH(req.ShortMessage); ok {
			if info != nil {
				return newSegment(info, rest, req.DataCoding)
			}
			// A well-formed header without a concatenation element still frames the payload.
			payload = rest
		}
	}

	if info, ok := parseSAR(req.OptionalParameters); ok {
		return newSegment(info, payload, req.DataCoding)
	}

	return newSegment(nil, payload, req.DataCoding)
}

func newSegment(info *Info, payload []byte, dataCoding byte) Segment {
	return Segment{Info: info, Payload: payload, Text: charset.Decode(dataCoding, payload)}
}

// parseUDH walks the information elements of a UDH-framed short message.
// ok is false when the header framing itself is invalid; info is nil when the
// header is valid but carries no usable concatenation element.
func parseUDH(sm []byte) (info *Info, rest []byte, ok bool) {
	if len(sm) == 0 {
		return nil, nil, false
	}
	udhl := int(sm[0])
	if udhl == 0 || udhl+1 > len(sm) {
		return nil, nil, false
	}
	header := sm[1 : 1+udhl]
	rest = sm[1+udhl:]

	for off := 0; off+2 <= len(header); {
		iei, iedl := header[off], int(header[off+1])
		off += 2
		if off+iedl > len(header) {
			break
		}
		ie := header[off : off+iedl]
		off += iedl

		var candidate *Info
		switch {
		case iei == ieiConcat8Bit && iedl == 3:
			candidate = &Info{Reference: uint16(ie[0]), TotalParts: ie[1], PartNumber: ie[2], Kind: KindUDH}
		case iei == ieiConcat16Bit && iedl == 4:
			candidate = &Info{Reference: binary.BigEndian.Uint16(ie[0:2]), TotalParts: ie[2], PartNumber: ie[3], Kind: KindUDH}
		}
		if candidate != nil && IsValidConcatenation(int(candidate.PartNumber), int(candidate.TotalParts)) {
			return candidate, rest, true
		}
	}
	return nil, rest, true
}

// parseSAR reads the three SAR parameters. The reference number is read
// big-endian, the same way as the 16-bit UDH reference.
func parseSAR(params map[uint16][]byte) (*Info, bool) {
	ref, okRef := params[pdu.TagSarMsgRefNum]
	total, okTotal := params[pdu.TagSarTotalSegments]
	seq, okSeq := params[pdu.TagSarSegmentSeqnum]
	if !okRef || !okTotal || !okSeq {
		return nil, false
	}
	if len(ref) != 2 || len(total) != 1 || len(seq) != 1 {
		return nil, false
	}
	if !IsValidConcatenation(int(seq[0]), int(total[0])) {
		return nil, false
	}
	return &Info{
		Reference:  binary.BigEndian.Uint16(ref),
		TotalParts: total[0],
		PartNumber: seq[0],
		Kind:       KindSAR,
	}, true
}
