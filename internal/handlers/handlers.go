// Package handlers implements the SMPP commands served by the pipeline.
package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/thrillee/aegisbox-smsc/internal/auth"
	"github.com/thrillee/aegisbox-smsc/internal/concat"
	"github.com/thrillee/aegisbox-smsc/internal/gateway"
	"github.com/thrillee/aegisbox-smsc/internal/pipeline"
	"github.com/thrillee/aegisbox-smsc/internal/receipt"
	"github.com/thrillee/aegisbox-smsc/internal/session"
)

// Scheduler runs work outside the session read loop. *workers.Scheduler
// satisfies it.
type Scheduler interface {
	Go(name string, fn func(ctx context.Context)) bool
	After(d time.Duration, fn func()) bool
}

// Deps are the collaborators shared by the handler set.
type Deps struct {
	Authenticator auth.Authenticator
	Registry      *session.Registry
	Tracker       *concat.Tracker
	Sender        gateway.Sender
	Emitter       receipt.Emitter
	Scheduler     Scheduler
	CloseGrace    time.Duration
	AuthTimeout   time.Duration
}

// All returns every command handler in dispatch order.
func All(d Deps) []pipeline.CommandHandler {
	return []pipeline.CommandHandler{
		NewBindHandler(d.Authenticator, d.Registry, d.Scheduler, d.CloseGrace, d.AuthTimeout),
		NewSubmitHandler(d.Tracker, d.Sender, d.Emitter, d.Scheduler),
		NewEnquireLinkHandler(),
		NewUnbindHandler(d.Registry, d.Scheduler, d.CloseGrace),
		NewResponseHandler(),
	}
}

// closeLater closes s after grace so a just-queued response can flush.
func closeLater(ctx context.Context, sched Scheduler, s session.Session, grace time.Duration) {
	closeNow := func() {
		if err := s.Close(); err != nil {
			slog.DebugContext(ctx, "Session close returned error", slog.Any("error", err))
		}
	}
	if sched == nil || !sched.After(grace, closeNow) {
		closeNow()
	}
}
