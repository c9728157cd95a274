package pdu

// EsmClassUDHI marks a short message that starts with a User Data Header.
const EsmClassUDHI byte = 0x40

// Address is an SMPP address with its type-of-number and numbering plan.
type Address struct {
	TON     byte
	NPI     byte
	Address string
}

// SubmitRequest is a decoded submit_sm body.
type SubmitRequest struct {
	ServiceType          string
	Source               Address
	Destination          Address
	EsmClass             byte
	ProtocolID           byte
	PriorityFlag         byte
	ScheduleDeliveryTime string
	ValidityPeriod       string
	RegisteredDelivery   byte
	ReplaceIfPresent     byte
	DataCoding           byte
	SMDefaultMsgID       byte
	ShortMessage         []byte
	MessagePayload       []byte // nil unless the message_payload TLV was present
	CampaignID           string
	OptionalParameters   map[uint16][]byte
}

// HasUDH reports whether esm_class announces a User Data Header.
func (s *SubmitRequest) HasUDH() bool {
	return s.EsmClass&EsmClassUDHI != 0
}

// Content returns the short message, falling back to message_payload when the
// short message is empty.
func (s *SubmitRequest) Content() []byte {
	if len(s.ShortMessage) == 0 && len(s.MessagePayload) > 0 {
		return s.MessagePayload
	}
	return s.ShortMessage
}

// DecodeSubmitSM parses a submit_sm body. It never fails: truncated bodies
// leave the remaining fields at their zero values.
func DecodeSubmitSM(body []byte) *SubmitRequest {
	r := NewReader(body)
	req := &SubmitRequest{}
	req.ServiceType = r.ReadCString()
	req.Source = Address{TON: r.ReadUint8(), NPI: r.ReadUint8(), Address: r.ReadCString()}
	req.Destination = Address{TON: r.ReadUint8(), NPI: r.ReadUint8(), Address: r.ReadCString()}
	req.EsmClass = r.ReadUint8()
	req.ProtocolID = r.ReadUint8()
	req.PriorityFlag = r.ReadUint8()
	req.ScheduleDeliveryTime = r.ReadCString()
	req.ValidityPeriod = r.ReadCString()
	req.RegisteredDelivery = r.ReadUint8()
	req.ReplaceIfPresent = r.ReadUint8()
	req.DataCoding = r.ReadUint8()
	req.SMDefaultMsgID = r.ReadUint8()
	req.ShortMessage = r.ReadShortMessage()
	req.OptionalParameters = r.ParseOptionalParameters()

	if payload, ok := req.OptionalParameters[TagMessagePayload]; ok {
		req.MessagePayload = payload
	}
	if campaign, ok := req.OptionalParameters[TagCampaignID]; ok {
		req.CampaignID = trimNUL(campaign)
	}
	return req
}

// BindRequest is a decoded bind_transceiver body.
type BindRequest struct {
	SystemID         string
	Password         string
	SystemType       string
	InterfaceVersion byte
	AddrTON          byte
	AddrNPI          byte
	AddressRange     string
}

// DecodeBind parses a bind body with the same totality guarantees as DecodeSubmitSM.
func DecodeBind(body []byte) BindRequest {
	r := NewReader(body)
	return BindRequest{
		SystemID:         r.ReadCString(),
		Password:         r.ReadCString(),
		SystemType:       r.ReadCString(),
		InterfaceVersion: r.ReadUint8(),
		AddrTON:          r.ReadUint8(),
		AddrNPI:          r.ReadUint8(),
		AddressRange:     r.ReadCString(),
	}
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0x00 {
			return string(b[:i])
		}
	}
	return string(b)
}
