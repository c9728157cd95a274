package pipeline

import (
	"context"
	"testing"

	"github.com/thrillee/aegisbox-smsc/internal/session"
	"github.com/thrillee/aegisbox-smsc/internal/session/sessiontest"
	"github.com/thrillee/aegisbox-smsc/pkg/pdu"
)

type stubHandler struct {
	cmd   uint32
	calls int
	panic bool
}

func (h *stubHandler) CanHandle(cmd uint32) bool { return cmd == h.cmd }

func (h *stubHandler) Handle(_ context.Context, _ session.Session, p *pdu.PDU) *pdu.PDU {
	h.calls++
	if h.panic {
		panic("boom")
	}
	return pdu.NewResponse(p, pdu.StatusOk, nil)
}

func TestAuthenticationGating(t *testing.T) {
	submit := &stubHandler{cmd: pdu.CommandSubmitSM}
	bind := &stubHandler{cmd: pdu.CommandBindTransceiver}
	h := New(bind, submit)

	s := sessiontest.New("s1")
	req := pdu.New(pdu.CommandSubmitSM, 0, 11, []byte{0})

	resp := h.Handle(context.Background(), s, req)
	if resp.CommandStatus != pdu.StatusBindFailed || resp.CommandID != pdu.CommandSubmitSMResp || resp.SequenceNumber != 11 {
		t.Errorf("unauthenticated response = %+v", resp.Header)
	}
	if submit.calls != 0 {
		t.Error("submit handler reached without authentication")
	}

	if resp := h.Handle(context.Background(), s, pdu.New(pdu.CommandBindTransceiver, 0, 12, nil)); resp.CommandStatus != pdu.StatusOk {
		t.Errorf("bind blocked by authentication: %+v", resp.Header)
	}
	if bind.calls != 1 {
		t.Errorf("bind calls = %d", bind.calls)
	}

	s.SetIdentity("esme1")
	if resp := h.Handle(context.Background(), s, req); resp.CommandStatus != pdu.StatusOk {
		t.Errorf("authenticated response status = %#x", resp.CommandStatus)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	h := New(&stubHandler{cmd: pdu.CommandEnquireLink})
	s := sessiontest.Bound("s1", "esme1")

	resp := h.Handle(context.Background(), s, pdu.New(0xFFFFFFFF, 0, 99, nil))
	if resp.CommandID != 0xFFFFFFFF|pdu.ResponseBit {
		t.Errorf("CommandID = %#x", resp.CommandID)
	}
	if resp.CommandStatus != pdu.StatusInvCmdID || resp.SequenceNumber != 99 {
		t.Errorf("response = %+v", resp.Header)
	}
}

func TestDispatchFirstMatchWins(t *testing.T) {
	first := &stubHandler{cmd: pdu.CommandEnquireLink}
	second := &stubHandler{cmd: pdu.CommandEnquireLink}
	NewDispatcher(first, second).Handle(context.Background(), sessiontest.Bound("s", "e"), pdu.New(pdu.CommandEnquireLink, 0, 1, nil))
	if first.calls != 1 || second.calls != 0 {
		t.Errorf("calls = %d/%d", first.calls, second.calls)
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	h := NewDispatcher(&stubHandler{cmd: pdu.CommandSubmitSM, panic: true})
	resp := h.Handle(context.Background(), sessiontest.Bound("s", "e"), pdu.New(pdu.CommandSubmitSM, 0, 4, nil))
	if resp == nil || resp.CommandStatus != pdu.StatusSystemError || resp.SequenceNumber != 4 {
		t.Errorf("response = %+v", resp)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return HandlerFunc(func(ctx context.Context, s session.Session, p *pdu.PDU) *pdu.PDU {
				order = append(order, name)
				return next.Handle(ctx, s, p)
			})
		}
	}
	terminal := HandlerFunc(func(context.Context, session.Session, *pdu.PDU) *pdu.PDU {
		order = append(order, "terminal")
		return nil
	})
	Chain(terminal, mw("a"), mw("b")).Handle(context.Background(), sessiontest.New("s"), pdu.New(1, 0, 1, nil))
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "terminal" {
		t.Errorf("order = %v", order)
	}
}

func TestAfterSend(t *testing.T) {
	ctx, run := WithAfterSend(context.Background())
	var order []string
	AfterSend(ctx, func() { order = append(order, "first") })
	AfterSend(ctx, func() { order = append(order, "second") })
	if len(order) != 0 {
		t.Fatalf("queued work ran early: %v", order)
	}
	run()
	run()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order = %v, want [first second]", order)
	}

	ran := false
	AfterSend(context.Background(), func() { ran = true })
	if !ran {
		t.Error("AfterSend without a queue did not run immediately")
	}
}
