package pipeline

import (
	"context"
	"sync"
)

type afterSendKey struct{}

type afterSendQueue struct {
	mu  sync.Mutex
	fns []func()
}

// WithAfterSend returns a context on which handlers can queue work that must
// not start before the response is written, and the function that runs it.
func WithAfterSend(ctx context.Context) (context.Context, func()) {
	q := &afterSendQueue{}
	run := func() {
		q.mu.Lock()
		fns := q.fns
		q.fns = nil
		q.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	}
	return context.WithValue(ctx, afterSendKey{}, q), run
}

// AfterSend queues fn on ctx. Without a queue fn runs immediately.
func AfterSend(ctx context.Context, fn func()) {
	q, ok := ctx.Value(afterSendKey{}).(*afterSendQueue)
	if !ok {
		fn()
		return
	}
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
}
