// Package session wraps accepted SMPP connections. A session is owned by its
// connection task; other components only call its methods.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/thrillee/aegisbox-smsc/pkg/codes"
	"github.com/thrillee/aegisbox-smsc/pkg/pdu"
)

var (
	// ErrClosed is returned when sending on a closed session.
	ErrClosed = errors.New("session: closed")
	// ErrNotAuthenticated is returned when sending before the TLS handshake completed.
	ErrNotAuthenticated = errors.New("session: tls handshake not completed")
)

// Session is the contract shared by plain and TLS connections.
type Session interface {
	ID() string
	RemoteAddr() string
	SystemID() string
	IsAuthenticated() bool
	// SetIdentity marks the session bound as systemID. Only the bind handler calls it.
	SetIdentity(systemID string)
	Pause()
	Resume()
	IsPaused() bool
	// ReadPDU returns the next PDU, or nil when paused, closed, cancelled or
	// on any read failure.
	ReadPDU(ctx context.Context) *pdu.PDU
	SendPDU(ctx context.Context, p *pdu.PDU) error
	// NextSequence allocates a sequence number for server-initiated requests.
	NextSequence() uint32
	State() string
	Close() error
}

// base carries identity, gating and framing for both transports.
type base struct {
	id     string
	remote string
	conn   net.Conn
	framer *framer

	mu            sync.RWMutex
	systemID      string
	authenticated bool

	paused    atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	seq       atomic.Uint32
}

func newBase(conn net.Conn, opts Options) *base {
	return &base{
		id:     uuid.NewString(),
		remote: conn.RemoteAddr().String(),
		conn:   conn,
		framer: newFramer(conn, opts),
	}
}

func (b *base) ID() string         { return b.id }
func (b *base) RemoteAddr() string { return b.remote }

func (b *base) SystemID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.systemID
}

func (b *base) IsAuthenticated() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.authenticated
}

func (b *base) SetIdentity(systemID string) {
	b.mu.Lock()
	b.systemID = systemID
	b.authenticated = true
	b.mu.Unlock()
}

func (b *base) Pause()         { b.paused.Store(true) }
func (b *base) Resume()        { b.paused.Store(false) }
func (b *base) IsPaused() bool { return b.paused.Load() }

func (b *base) NextSequence() uint32 {
	// 0 is not a valid sequence number; skip it on wrap.
	for {
		if n := b.seq.Add(1); n != 0 && n <= 0x7FFFFFFF {
			return n
		}
		b.seq.Store(0)
	}
}

func (b *base) state() string {
	switch {
	case b.closed.Load():
		return codes.SessionClosed
	case b.IsPaused():
		return codes.SessionPaused
	case b.IsAuthenticated():
		return codes.SessionAuthenticated
	default:
		return codes.SessionBoundPending
	}
}

func (b *base) read(ctx context.Context) *pdu.PDU {
	if b.IsPaused() || b.closed.Load() {
		return nil
	}
	p, err := b.framer.readPDU(ctx)
	if err != nil {
		if b.closed.Load() || isQuietClose(err) {
			slog.DebugContext(ctx, "Session read ended", slog.Any("error", err))
		} else {
			slog.WarnContext(ctx, "Session read failed", slog.Any("error", err))
		}
		return nil
	}
	return p
}

func (b *base) send(ctx context.Context, p *pdu.PDU) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.framer.writePDU(ctx, p)
}

// Close is idempotent and releases the underlying connection.
func (b *base) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.closeErr = b.conn.Close()
	})
	return b.closeErr
}

// PlainSession is a session over an unencrypted TCP connection.
type PlainSession struct {
	*base
}

var _ Session = (*PlainSession)(nil)

func NewPlain(conn net.Conn, opts Options) *PlainSession {
	return &PlainSession{base: newBase(conn, opts)}
}

func (s *PlainSession) ReadPDU(ctx context.Context) *pdu.PDU { return s.read(ctx) }

func (s *PlainSession) SendPDU(ctx context.Context, p *pdu.PDU) error { return s.send(ctx, p) }

func (s *PlainSession) State() string { return s.state() }
