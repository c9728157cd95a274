// Package sessiontest provides an in-memory session.Session for handler tests.
package sessiontest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/thrillee/aegisbox-smsc/internal/session"
	"github.com/thrillee/aegisbox-smsc/pkg/codes"
	"github.com/thrillee/aegisbox-smsc/pkg/pdu"
)

// Session records sent PDUs and returns queued PDUs from ReadPDU.
type Session struct {
	id string

	mu            sync.Mutex
	systemID      string
	authenticated bool
	sent          []*pdu.PDU
	inbox         []*pdu.PDU
	sendErr       error

	paused     atomic.Bool
	closed     atomic.Bool
	closeCalls atomic.Int32
	seq        atomic.Uint32

	// Sent receives every PDU passed to SendPDU, if non-nil.
	Sent chan *pdu.PDU
}

var _ session.Session = (*Session)(nil)

func New(id string) *Session {
	return &Session{id: id}
}

// Bound returns a session already authenticated as systemID.
func Bound(id, systemID string) *Session {
	s := New(id)
	s.SetIdentity(systemID)
	return s
}

func (s *Session) ID() string         { return s.id }
func (s *Session) RemoteAddr() string { return "pipe:" + s.id }

func (s *Session) SystemID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemID
}

func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *Session) SetIdentity(systemID string) {
	s.mu.Lock()
	s.systemID, s.authenticated = systemID, true
	s.mu.Unlock()
}

func (s *Session) Pause()         { s.paused.Store(true) }
func (s *Session) Resume()        { s.paused.Store(false) }
func (s *Session) IsPaused() bool { return s.paused.Load() }

// Queue appends PDUs returned by later ReadPDU calls.
func (s *Session) Queue(ps ...*pdu.PDU) {
	s.mu.Lock()
	s.inbox = append(s.inbox, ps...)
	s.mu.Unlock()
}

func (s *Session) ReadPDU(context.Context) *pdu.PDU {
	if s.IsPaused() || s.closed.Load() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inbox) == 0 {
		return nil
	}
	p := s.inbox[0]
	s.inbox = s.inbox[1:]
	return p
}

// FailSends makes every later SendPDU return err.
func (s *Session) FailSends(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

func (s *Session) SendPDU(_ context.Context, p *pdu.PDU) error {
	if s.closed.Load() {
		return session.ErrClosed
	}
	s.mu.Lock()
	if s.sendErr != nil {
		err := s.sendErr
		s.mu.Unlock()
		return err
	}
	s.sent = append(s.sent, p)
	s.mu.Unlock()
	if s.Sent != nil {
		s.Sent <- p
	}
	return nil
}

// SentPDUs returns a copy of everything sent so far.
func (s *Session) SentPDUs() []*pdu.PDU {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*pdu.PDU(nil), s.sent...)
}

func (s *Session) NextSequence() uint32 { return s.seq.Add(1) }

func (s *Session) State() string {
	switch {
	case s.closed.Load():
		return codes.SessionClosed
	case s.IsPaused():
		return codes.SessionPaused
	case s.IsAuthenticated():
		return codes.SessionAuthenticated
	default:
		return codes.SessionBoundPending
	}
}

func (s *Session) Close() error {
	s.closeCalls.Add(1)
	s.closed.Store(true)
	return nil
}

func (s *Session) Closed() bool    { return s.closed.Load() }
func (s *Session) CloseCalls() int { return int(s.closeCalls.Load()) }
