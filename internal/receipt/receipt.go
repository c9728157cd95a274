// Package receipt builds and sends deliver_sm delivery receipts.
package receipt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thrillee/aegisbox-smsc/internal/logging"
	"github.com/thrillee/aegisbox-smsc/internal/session"
	"github.com/thrillee/aegisbox-smsc/pkg/codes"
	"github.com/thrillee/aegisbox-smsc/pkg/errormapper"
	"github.com/thrillee/aegisbox-smsc/pkg/pdu"
)

// registered_delivery receipt modes (bits 0-1).
const (
	ModeNone        byte = 0
	ModeAlways      byte = 1
	ModeFailureOnly byte = 2
	ModeSuccessOnly byte = 3
)

// Requested reports whether registeredDelivery asks for a receipt of the
// given outcome.
func Requested(registeredDelivery byte, success bool) bool {
	switch registeredDelivery & 0x03 {
	case ModeAlways:
		return true
	case ModeFailureOnly:
		return !success
	case ModeSuccessOnly:
		return success
	default:
		return false
	}
}

// Receipt describes the outcome of one submitted message. Source and
// Destination are the addresses of the original submit_sm.
type Receipt struct {
	MessageID   string
	Source      pdu.Address
	Destination pdu.Address
	Status      string // one of the codes.Receipt* values
	ErrorCode   string // internal or gateway error code, empty on success
}

// Text renders the receipt short message: "id:<id> stat:<status> err:<code>".
func Text(r Receipt) string {
	stat := r.Status
	if stat == "" {
		stat = codes.ReceiptUnknown
	}
	if len(stat) > 7 {
		stat = stat[:7]
	}
	return fmt.Sprintf("id:%s stat:%s err:%s", r.MessageID, stat, errormapper.ToSMPP(r.ErrorCode))
}

// Build creates the deliver_sm PDU for r. Addresses are swapped so the
// receipt travels back to the original sender.
func Build(sequence uint32, r Receipt) *pdu.PDU {
	return pdu.NewDeliverSM(sequence, pdu.DeliverSM{
		Source:       r.Destination,
		Destination:  r.Source,
		EsmClass:     pdu.EsmClassDeliveryReceipt,
		DataCoding:   0x00,
		ShortMessage: []byte(Text(r)),
		Optional: []pdu.TLV{
			{Tag: pdu.TagReceiptedMessageID, Value: append([]byte(r.MessageID), 0x00)},
			{Tag: pdu.TagMessageState, Value: []byte{errormapper.MessageState(r.Status)}},
		},
	})
}

// Emitter sends receipts over a session.
type Emitter interface {
	Emit(ctx context.Context, s session.Session, r Receipt) error
}

// SessionEmitter writes receipts on the session that submitted the message.
type SessionEmitter struct{}

func NewSessionEmitter() *SessionEmitter {
	return &SessionEmitter{}
}

func (e *SessionEmitter) Emit(ctx context.Context, s session.Session, r Receipt) error {
	ctx = logging.ContextWithMessageID(ctx, r.MessageID)
	p := Build(s.NextSequence(), r)
	if err := s.SendPDU(ctx, p); err != nil {
		return fmt.Errorf("sending delivery receipt: %w", err)
	}
	slog.InfoContext(ctx, "Delivery receipt sent",
		slog.String("stat", r.Status),
		slog.Uint64("seq_num", uint64(p.SequenceNumber)))
	return nil
}

var _ Emitter = (*SessionEmitter)(nil)
