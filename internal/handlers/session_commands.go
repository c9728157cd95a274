package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/thrillee/aegisbox-smsc/internal/session"
	"github.com/thrillee/aegisbox-smsc/pkg/pdu"
)

// EnquireLinkHandler answers keep-alives.
type EnquireLinkHandler struct{}

func NewEnquireLinkHandler() *EnquireLinkHandler { return &EnquireLinkHandler{} }

func (h *EnquireLinkHandler) CanHandle(commandID uint32) bool {
	return commandID == pdu.CommandEnquireLink
}

func (h *EnquireLinkHandler) Handle(ctx context.Context, _ session.Session, p *pdu.PDU) *pdu.PDU {
	slog.DebugContext(ctx, "Received EnquireLink")
	return pdu.NewResponse(p, pdu.StatusOk, nil)
}

// UnbindHandler acknowledges unbind and tears the session down.
type UnbindHandler struct {
	registry   *session.Registry
	sched      Scheduler
	closeGrace time.Duration
}

func NewUnbindHandler(registry *session.Registry, sched Scheduler, closeGrace time.Duration) *UnbindHandler {
	return &UnbindHandler{registry: registry, sched: sched, closeGrace: closeGrace}
}

func (h *UnbindHandler) CanHandle(commandID uint32) bool {
	return commandID == pdu.CommandUnbind
}

func (h *UnbindHandler) Handle(ctx context.Context, s session.Session, p *pdu.PDU) *pdu.PDU {
	slog.InfoContext(ctx, "Handling Unbind request")
	h.registry.Remove(s)
	closeLater(ctx, h.sched, s, h.closeGrace)
	return pdu.NewResponse(p, pdu.StatusOk, nil)
}

// ResponseHandler absorbs responses to server-initiated requests.
type ResponseHandler struct{}

func NewResponseHandler() *ResponseHandler { return &ResponseHandler{} }

func (h *ResponseHandler) CanHandle(commandID uint32) bool {
	return commandID == pdu.CommandDeliverSMResp || commandID == pdu.CommandGenericNack
}

func (h *ResponseHandler) Handle(ctx context.Context, _ session.Session, p *pdu.PDU) *pdu.PDU {
	if p.CommandStatus != pdu.StatusOk {
		slog.WarnContext(ctx, "Client returned error status",
			slog.String("command", pdu.CommandName(p.CommandID)),
			slog.Uint64("status", uint64(p.CommandStatus)))
		return nil
	}
	slog.DebugContext(ctx, "Client acknowledged delivery")
	return nil
}
