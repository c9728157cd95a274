// Package charset decodes SMS payloads according to their SMPP data_coding.
package charset

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/linxGnu/gosmpp/data"
)

// Data coding values with a dedicated decoder. Anything else is read as UTF-8.
const (
	CodingDefault byte = 0x00 // SMSC default alphabet, treated as unpacked GSM 03.38
	CodingASCII   byte = 0x01
	CodingLatin1  byte = 0x03
	CodingUCS2    byte = 0x08
)

// Decode converts raw message bytes into text. It never fails: bytes the
// selected table cannot represent degrade to printable ASCII or '?'.
func Decode(dataCoding byte, b []byte) string {
	if len(b) == 0 {
		return ""
	}

	var enc data.Encoding
	switch dataCoding {
	case CodingDefault:
		enc = data.GSM7BIT
	case CodingASCII:
		enc = data.ASCII
	case CodingLatin1:
		enc = data.LATIN1
	case CodingUCS2:
		enc = data.UCS2
	default:
		return strings.ToValidUTF8(string(b), "?")
	}

	text, err := enc.Decode(b)
	if err != nil || !utf8.ValidString(text) {
		slog.Debug("Falling back to best-effort decoding",
			slog.Int("data_coding", int(dataCoding)),
			slog.Any("error", err))
		return bestEffort(dataCoding, b)
	}
	return text
}

// bestEffort maps each unit through a forgiving fallback.
func bestEffort(dataCoding byte, b []byte) string {
	if dataCoding == CodingUCS2 {
		if len(b)%2 != 0 {
			b = append(b[:len(b):len(b)], 0x00)
		}
		var sb strings.Builder
		for i := 0; i+1 < len(b); i += 2 {
			r := rune(b[i])<<8 | rune(b[i+1])
			if r >= 0xD800 && r <= 0xDFFF {
				sb.WriteByte('?')
				continue
			}
			sb.WriteRune(r)
		}
		return sb.String()
	}

	var sb strings.Builder
	for _, c := range b {
		if r, ok := gsm7Basic[c]; ok && dataCoding == CodingDefault {
			sb.WriteRune(r)
			continue
		}
		if c >= 0x20 && c < 0x7F {
			sb.WriteByte(c)
			continue
		}
		if dataCoding == CodingLatin1 && c >= 0xA0 {
			sb.WriteRune(rune(c))
			continue
		}
		sb.WriteByte('?')
	}
	return sb.String()
}

// gsm7Basic covers the positions of the GSM 03.38 basic table that differ from ASCII.
var gsm7Basic = map[byte]rune{
	0x00: '@', 0x01: '£', 0x02: '$', 0x03: '¥', 0x04: 'è', 0x05: 'é', 0x06: 'ù', 0x07: 'ì',
	0x08: 'ò', 0x09: 'Ç', 0x0A: '\n', 0x0B: 'Ø', 0x0C: 'ø', 0x0D: '\r', 0x0E: 'Å', 0x0F: 'å',
	0x10: 'Δ', 0x11: '_', 0x12: 'Φ', 0x13: 'Γ', 0x14: 'Λ', 0x15: 'Ω', 0x16: 'Π', 0x17: 'Ψ',
	0x18: 'Σ', 0x19: 'Θ', 0x1A: 'Ξ', 0x1C: 'Æ', 0x1D: 'æ', 0x1E: 'ß', 0x1F: 'É',
	0x24: '¤', 0x40: '¡', 0x5B: 'Ä', 0x5C: 'Ö', 0x5D: 'Ñ', 0x5E: 'Ü', 0x5F: '§',
	0x60: '¿', 0x7B: 'ä', 0x7C: 'ö', 0x7D: 'ñ', 0x7E: 'ü', 0x7F: 'à',
}
