// Package gateway delivers completed messages to the downstream SMS gateway.
package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/thrillee/aegisbox-smsc/pkg/codes"
)

// ErrCircuitOpen is returned while the breaker rejects requests.
var ErrCircuitOpen = errors.New("gateway: circuit open")

// Message is a fully reassembled message ready for delivery.
type Message struct {
	ID          string
	SystemID    string
	Source      string
	Destination string
	Text        string
	DataCoding  byte
	CampaignID  string
}

// Result is the gateway's verdict on one message.
type Result struct {
	Success          bool
	ErrorCode        string
	GatewayMessageID string
	Cost             decimal.Decimal
}

// Sender delivers messages. A non-nil error means the gateway could not be
// reached or answered unusably; the Result still carries an error code.
type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) (Result, error)

func (f SenderFunc) Send(ctx context.Context, msg Message) (Result, error) { return f(ctx, msg) }

// LogSender accepts every message and only logs it. Used when no gateway URL
// is configured.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) Send(ctx context.Context, msg Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		slog.WarnContext(ctx, "Message delivery cancelled", slog.String("msg_id", msg.ID))
		return Result{ErrorCode: codes.ErrorCodeSystemError}, err
	}
	slog.InfoContext(ctx, "Message delivered to log sender",
		slog.String("msg_id", msg.ID),
		slog.String("source", msg.Source),
		slog.String("destination", msg.Destination),
		slog.String("campaign_id", msg.CampaignID),
		slog.Int("length", len(msg.Text)))
	return Result{Success: true, GatewayMessageID: msg.ID}, nil
}

var _ Sender = (*LogSender)(nil)

// BreakerSender fails fast with MNO_UNAVAILABLE while the circuit is open.
type BreakerSender struct {
	next    Sender
	breaker *CircuitBreaker
}

func NewBreakerSender(next Sender, breaker *CircuitBreaker) *BreakerSender {
	return &BreakerSender{next: next, breaker: breaker}
}

func (b *BreakerSender) Send(ctx context.Context, msg Message) (Result, error) {
	if !b.breaker.AllowRequest() {
		slog.WarnContext(ctx, "Gateway circuit open, rejecting message", slog.String("msg_id", msg.ID))
		return Result{ErrorCode: codes.ErrorCodeMnoUnavailable}, ErrCircuitOpen
	}
	res, err := b.next.Send(ctx, msg)
	if err != nil {
		b.breaker.RecordFailure()
	} else {
		b.breaker.RecordSuccess()
	}
	return res, err
}
