package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/thrillee/aegisbox-smsc/internal/auth"
	"github.com/thrillee/aegisbox-smsc/internal/logging"
	"github.com/thrillee/aegisbox-smsc/internal/session"
	"github.com/thrillee/aegisbox-smsc/pkg/pdu"
)

// BindHandler authenticates bind_transceiver requests.
type BindHandler struct {
	authenticator auth.Authenticator
	registry      *session.Registry
	sched         Scheduler
	closeGrace    time.Duration
	authTimeout   time.Duration
}

func NewBindHandler(a auth.Authenticator, registry *session.Registry, sched Scheduler, closeGrace, authTimeout time.Duration) *BindHandler {
	if authTimeout <= 0 {
		authTimeout = 5 * time.Second
	}
	return &BindHandler{
		authenticator: a,
		registry:      registry,
		sched:         sched,
		closeGrace:    closeGrace,
		authTimeout:   authTimeout,
	}
}

func (h *BindHandler) CanHandle(commandID uint32) bool {
	return commandID == pdu.CommandBindTransceiver
}

// Handle pauses the session while credentials are checked. On failure the
// session stays paused and unauthenticated and is closed after the grace delay.
func (h *BindHandler) Handle(ctx context.Context, s session.Session, p *pdu.PDU) *pdu.PDU {
	if s.IsAuthenticated() {
		slog.WarnContext(ctx, "Bind rejected: session already bound")
		return pdu.NewResponse(p, pdu.StatusAlreadyBnd, nil)
	}

	s.Pause()
	req := pdu.DecodeBind(p.Body)
	logCtx := logging.ContextWithSystemID(ctx, req.SystemID)
	slog.DebugContext(logCtx, "Handling Bind request",
		slog.String("system_type", req.SystemType),
		slog.Int("interface_version", int(req.InterfaceVersion)))

	authCtx, cancel := context.WithTimeout(logCtx, h.authTimeout)
	ok, err := h.authenticator.Authenticate(authCtx, req.SystemID, req.Password)
	cancel()
	if err != nil {
		slog.ErrorContext(logCtx, "Bind auth lookup failed", slog.Any("error", err))
		ok = false
	}
	if !ok {
		slog.WarnContext(logCtx, "Bind failed")
		closeLater(logCtx, h.sched, s, h.closeGrace)
		return pdu.NewResponse(p, pdu.StatusBindFailed, nil)
	}

	s.SetIdentity(req.SystemID)
	if previous := h.registry.Register(s); previous != nil {
		slog.WarnContext(logCtx, "Duplicate bind for system ID. Closing old session.",
			slog.String("old_session_id", previous.ID()),
			slog.String("old_remote_addr", previous.RemoteAddr()))
		_ = previous.Close()
	}
	s.Resume()

	slog.InfoContext(logCtx, "Bind successful")
	return pdu.BindTransceiverResp(p, pdu.StatusOk, req.SystemID)
}
