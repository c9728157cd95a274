package errormapper

import (
	"log/slog"
	"strings"

	"github.com/thrillee/aegisbox-smsc/pkg/codes"
)

// defaultSMPPCode is System Error.
const defaultSMPPCode = "008"

// internalToSMPP maps delivery error codes to the 3-digit receipt err field.
var internalToSMPP = map[string]string{
	codes.ErrorCodeNone:           "000",
	codes.ReceiptDelivered:        "000",
	"NO_ROUTE":                    "00B", // Invalid Destination Address
	"INVALID_SENDER":              "00A", // Invalid Source Address
	"INVALID_MSISDN":              "00B",
	"INSUF_FUNDS":                 "058",
	codes.ErrorCodeSystemError:    "008",
	codes.ErrorCodeMnoSubmitFail:  "00D", // Submit Failed
	codes.ErrorCodeMnoUnavailable: "058", // Temporary App Error
	codes.ErrorCodeMnoTimeout:     "058",
	"VALIDATION_FAIL":             "045",
}

// ToSMPP translates an internal or gateway error code to the receipt err code.
// Unknown codes map to System Error.
func ToSMPP(internalCode string) string {
	internalCode = strings.ToUpper(strings.TrimSpace(internalCode))
	if mapped, ok := internalToSMPP[internalCode]; ok {
		return mapped
	}
	slog.Debug("No specific mapping found for error code, returning default",
		slog.String("internal_code", internalCode),
		slog.String("default_code", defaultSMPPCode),
	)
	return defaultSMPPCode
}

// message_state values (SMPP 3.4 section 5.2.28).
const (
	StateEnroute       byte = 1
	StateDelivered     byte = 2
	StateExpired       byte = 3
	StateDeleted       byte = 4
	StateUndeliverable byte = 5
	StateAccepted      byte = 6
	StateUnknown       byte = 7
	StateRejected      byte = 8
)

// MessageState maps a receipt stat value to its message_state TLV value.
func MessageState(stat string) byte {
	switch stat {
	case codes.ReceiptDelivered:
		return StateDelivered
	case codes.ReceiptExpired:
		return StateExpired
	case codes.ReceiptUndeliverable:
		return StateUndeliverable
	case codes.ReceiptAccepted:
		return StateAccepted
	case codes.ReceiptRejected:
		return StateRejected
	default:
		return StateUnknown
	}
}
