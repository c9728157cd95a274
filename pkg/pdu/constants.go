package pdu

import "fmt"

// HeaderLength is the fixed size of every SMPP PDU header.
const HeaderLength = 16

// ResponseBit distinguishes a response command id from its request.
const ResponseBit uint32 = 0x80000000

// MaxBodyLength bounds the body accepted by default; sessions may be configured lower.
const MaxBodyLength = 64 * 1024

// SMPP Command IDs (subset needed)
const (
	CommandBindTransceiver uint32 = 0x00000009
	CommandSubmitSM        uint32 = 0x00000004
	CommandDeliverSM       uint32 = 0x00000005
	CommandUnbind          uint32 = 0x00000006
	CommandEnquireLink     uint32 = 0x00000015
	CommandGenericNack     uint32 = 0x80000000

	CommandBindTransceiverResp = CommandBindTransceiver | ResponseBit
	CommandSubmitSMResp        = CommandSubmitSM | ResponseBit
	CommandDeliverSMResp       = CommandDeliverSM | ResponseBit
	CommandUnbindResp          = CommandUnbind | ResponseBit
	CommandEnquireLinkResp     = CommandEnquireLink | ResponseBit
)

// SMPP Command Status Codes (subset needed)
const (
	StatusOk          uint32 = 0x00000000 // ESME_ROK
	StatusInvMsgLen   uint32 = 0x00000001 // ESME_RINVMSGLEN
	StatusInvCmdID    uint32 = 0x00000003 // ESME_RINVCMDID
	StatusAlreadyBnd  uint32 = 0x00000005 // ESME_RALYBND
	StatusSystemError uint32 = 0x00000008 // ESME_RSYSERR
	StatusBindFailed  uint32 = 0x0000000D // ESME_RBINDFAIL
)

// Optional parameter tags consumed or produced by the server.
const (
	TagReceiptedMessageID uint16 = 0x001E
	TagSarMsgRefNum       uint16 = 0x020C
	TagSarTotalSegments   uint16 = 0x020E
	TagSarSegmentSeqnum   uint16 = 0x020F
	TagMessagePayload     uint16 = 0x0424
	TagMessageState       uint16 = 0x0427
	// TagCampaignID is a vendor-specific tag carrying the client's campaign reference.
	TagCampaignID uint16 = 0x1400
)

// MaxOptionalParameters caps how many TLVs are parsed from a single body.
const MaxOptionalParameters = 100

// CommandName converts command ID to string for logging
func CommandName(cmdID uint32) string {
	switch cmdID {
	case CommandBindTransceiver:
		return "BindTransceiver"
	case CommandSubmitSM:
		return "SubmitSM"
	case CommandDeliverSM:
		return "DeliverSM"
	case CommandUnbind:
		return "Unbind"
	case CommandEnquireLink:
		return "EnquireLink"
	case CommandGenericNack:
		return "GenericNack"
	case CommandBindTransceiverResp:
		return "BindTransceiverResp"
	case CommandSubmitSMResp:
		return "SubmitSMResp"
	case CommandDeliverSMResp:
		return "DeliverSMResp"
	case CommandUnbindResp:
		return "UnbindResp"
	case CommandEnquireLinkResp:
		return "EnquireLinkResp"
	default:
		return fmt.Sprintf("Unknown(0x%X)", cmdID)
	}
}
