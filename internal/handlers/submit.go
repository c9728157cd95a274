package handlers

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/thrillee/aegisbox-smsc/internal/concat"
	"github.com/thrillee/aegisbox-smsc/internal/gateway"
	"github.com/thrillee/aegisbox-smsc/internal/logging"
	"github.com/thrillee/aegisbox-smsc/internal/pipeline"
	"github.com/thrillee/aegisbox-smsc/internal/receipt"
	"github.com/thrillee/aegisbox-smsc/internal/session"
	"github.com/thrillee/aegisbox-smsc/pkg/codes"
	"github.com/thrillee/aegisbox-smsc/pkg/pdu"
)

// SubmitHandler accepts submit_sm segments, reassembles them and hands
// completed messages to the sender in the background.
type SubmitHandler struct {
	tracker *concat.Tracker
	sender  gateway.Sender
	emitter receipt.Emitter
	sched   Scheduler
	newID   func() string
}

func NewSubmitHandler(tracker *concat.Tracker, sender gateway.Sender, emitter receipt.Emitter, sched Scheduler) *SubmitHandler {
	return &SubmitHandler{
		tracker: tracker,
		sender:  sender,
		emitter: emitter,
		sched:   sched,
		newID:   uuid.NewString,
	}
}

func (h *SubmitHandler) CanHandle(commandID uint32) bool {
	return commandID == pdu.CommandSubmitSM
}

// Handle answers immediately with the assigned message id. Delivery and the
// receipt follow asynchronously once every segment has arrived.
func (h *SubmitHandler) Handle(ctx context.Context, s session.Session, p *pdu.PDU) (resp *pdu.PDU) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "submit_sm handling panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			resp = pdu.SubmitSMResp(p, pdu.StatusSystemError, "")
		}
	}()

	req := pdu.DecodeSubmitSM(p.Body)
	msgID := h.newID()
	ctx = logging.ContextWithMessageID(ctx, msgID)

	seg := concat.Inspect(req)
	if seg.IsMultipart() {
		slog.DebugContext(ctx, "Received message segment",
			slog.String("kind", seg.Info.Kind.String()),
			slog.Int("reference", int(seg.Info.Reference)),
			slog.Int("part", int(seg.Info.PartNumber)),
			slog.Int("total", int(seg.Info.TotalParts)))
	}

	complete, text := h.tracker.Track(ctx, seg.Info, seg.IsMultipart(), seg.Text, req.Source.Address, req.Destination.Address)
	if complete {
		msg := gateway.Message{
			ID:          msgID,
			SystemID:    s.SystemID(),
			Source:      req.Source.Address,
			Destination: req.Destination.Address,
			Text:        text,
			DataCoding:  req.DataCoding,
			CampaignID:  req.CampaignID,
		}
		pipeline.AfterSend(ctx, func() { h.dispatch(ctx, s, req, msg) })
	}

	return pdu.SubmitSMResp(p, pdu.StatusOk, msgID)
}

// dispatch runs delivery on the scheduler, keeping the request's log
// attributes but not its cancellation.
func (h *SubmitHandler) dispatch(ctx context.Context, s session.Session, req *pdu.SubmitRequest, msg gateway.Message) {
	valueCtx := context.WithoutCancel(ctx)
	started := h.sched.Go("deliver", func(taskCtx context.Context) {
		dctx, cancel := context.WithCancel(valueCtx)
		defer cancel()
		stop := context.AfterFunc(taskCtx, cancel)
		defer stop()
		h.deliver(dctx, s, req, msg)
	})
	if !started {
		slog.WarnContext(ctx, "Scheduler stopped, message not delivered")
	}
}

func (h *SubmitHandler) deliver(ctx context.Context, s session.Session, req *pdu.SubmitRequest, msg gateway.Message) {
	res, err := h.sender.Send(ctx, msg)
	success := err == nil && res.Success
	if err != nil {
		slog.WarnContext(ctx, "Message delivery failed", slog.Any("error", err), slog.String("error_code", res.ErrorCode))
	} else if !res.Success {
		slog.WarnContext(ctx, "Message rejected by gateway", slog.String("error_code", res.ErrorCode))
	}

	if !receipt.Requested(req.RegisteredDelivery, success) {
		return
	}

	r := receipt.Receipt{
		MessageID:   msg.ID,
		Source:      req.Source,
		Destination: req.Destination,
		Status:      codes.ReceiptDelivered,
	}
	if !success {
		r.Status = codes.ReceiptUndeliverable
		r.ErrorCode = res.ErrorCode
		if r.ErrorCode == "" {
			r.ErrorCode = codes.ErrorCodeSystemError
		}
	}
	if err := h.emitter.Emit(ctx, s, r); err != nil {
		slog.WarnContext(ctx, "Failed to emit delivery receipt", slog.Any("error", err))
	}
}
