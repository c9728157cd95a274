// Package pipeline runs every decoded PDU through logging, authentication and
// command dispatch.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thrillee/aegisbox-smsc/internal/logging"
	"github.com/thrillee/aegisbox-smsc/internal/session"
	"github.com/thrillee/aegisbox-smsc/pkg/pdu"
)

// Handler processes one request PDU and returns the response to send, or nil.
type Handler interface {
	Handle(ctx context.Context, s session.Session, p *pdu.PDU) *pdu.PDU
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, s session.Session, p *pdu.PDU) *pdu.PDU

func (f HandlerFunc) Handle(ctx context.Context, s session.Session, p *pdu.PDU) *pdu.PDU {
	return f(ctx, s, p)
}

// Middleware wraps a Handler.
type Middleware func(next Handler) Handler

// Chain wraps terminal so that mws[0] runs first.
func Chain(terminal Handler, mws ...Middleware) Handler {
	h := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// New builds the standard Logging -> Authentication -> Dispatch chain.
func New(handlers ...CommandHandler) Handler {
	return Chain(NewDispatcher(handlers...), Logging(), Authentication())
}

// Logging tags the context with the PDU header and logs request and response.
func Logging() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, s session.Session, p *pdu.PDU) *pdu.PDU {
			ctx = logging.ContextWithPDUInfo(ctx, pdu.CommandName(p.CommandID), p.SequenceNumber)
			if id := s.SystemID(); id != "" {
				ctx = logging.ContextWithSystemID(ctx, id)
			}
			slog.DebugContext(ctx, "PDU received", slog.Int("length", int(p.CommandLength)))

			start := time.Now()
			resp := next.Handle(ctx, s, p)
			if resp == nil {
				slog.DebugContext(ctx, "PDU handled without response", slog.Duration("took", time.Since(start)))
				return nil
			}
			slog.DebugContext(ctx, "PDU handled",
				slog.String("response", pdu.CommandName(resp.CommandID)),
				slog.String("status", fmt.Sprintf("0x%08X", resp.CommandStatus)),
				slog.Duration("took", time.Since(start)))
			return resp
		})
	}
}

// Authentication lets bind_transceiver through and answers every other
// command on an unbound session with ESME_RBINDFAIL.
func Authentication() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, s session.Session, p *pdu.PDU) *pdu.PDU {
			if p.CommandID == pdu.CommandBindTransceiver || s.IsAuthenticated() {
				return next.Handle(ctx, s, p)
			}
			slog.WarnContext(ctx, "Command rejected on unauthenticated session")
			return pdu.NewResponse(p, pdu.StatusBindFailed, nil)
		})
	}
}

// CommandHandler serves one or more command ids.
type CommandHandler interface {
	CanHandle(commandID uint32) bool
	Handle(ctx context.Context, s session.Session, p *pdu.PDU) *pdu.PDU
}

// Dispatcher hands each PDU to the first handler that accepts its command id.
type Dispatcher struct {
	handlers []CommandHandler
}

func NewDispatcher(handlers ...CommandHandler) *Dispatcher {
	return &Dispatcher{handlers: handlers}
}

func (d *Dispatcher) Handle(ctx context.Context, s session.Session, p *pdu.PDU) (resp *pdu.PDU) {
	for _, h := range d.handlers {
		if !h.CanHandle(p.CommandID) {
			continue
		}
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "Command handler panicked", slog.Any("panic", r))
				resp = pdu.NewResponse(p, pdu.StatusSystemError, nil)
			}
		}()
		return h.Handle(ctx, s, p)
	}
	slog.WarnContext(ctx, "Received unknown/unhandled Command ID",
		slog.String("command_id", fmt.Sprintf("0x%08X", p.CommandID)))
	return pdu.NewResponse(p, pdu.StatusInvCmdID, nil)
}
