package pdu

// EsmClassDeliveryReceipt flags a deliver_sm as an SMSC delivery receipt.
const EsmClassDeliveryReceipt byte = 0x04

// DeliverSM holds the fields the server sets on outbound deliver_sm PDUs.
type DeliverSM struct {
	Source       Address
	Destination  Address
	EsmClass     byte
	DataCoding   byte
	ShortMessage []byte
	// Optional parameters are written in tag order as given.
	Optional []TLV
}

// TLV is a single optional parameter.
type TLV struct {
	Tag   uint16
	Value []byte
}

// EncodeDeliverSM produces the deliver_sm body.
func EncodeDeliverSM(d DeliverSM) []byte {
	w := NewWriter()
	w.WriteCString("") // service_type
	w.WriteUint8(d.Source.TON)
	w.WriteUint8(d.Source.NPI)
	w.WriteCString(d.Source.Address)
	w.WriteUint8(d.Destination.TON)
	w.WriteUint8(d.Destination.NPI)
	w.WriteCString(d.Destination.Address)
	w.WriteUint8(d.EsmClass)
	w.WriteUint8(0)    // protocol_id
	w.WriteUint8(0)    // priority_flag
	w.WriteCString("") // schedule_delivery_time
	w.WriteCString("") // validity_period
	w.WriteUint8(0)    // registered_delivery
	w.WriteUint8(0)    // replace_if_present_flag
	w.WriteUint8(d.DataCoding)
	w.WriteUint8(0) // sm_default_msg_id
	w.WriteShortMessage(d.ShortMessage)
	for _, tlv := range d.Optional {
		w.WriteTLV(tlv.Tag, tlv.Value)
	}
	return w.Bytes()
}

// NewDeliverSM wraps an encoded deliver_sm body in a request PDU.
func NewDeliverSM(sequence uint32, d DeliverSM) *PDU {
	return New(CommandDeliverSM, StatusOk, sequence, EncodeDeliverSM(d))
}
