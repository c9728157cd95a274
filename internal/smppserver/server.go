// Package smppserver accepts SMPP connections and runs each one through the
// command pipeline.
package smppserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/thrillee/aegisbox-smsc/internal/auth"
	"github.com/thrillee/aegisbox-smsc/internal/concat"
	"github.com/thrillee/aegisbox-smsc/internal/config"
	"github.com/thrillee/aegisbox-smsc/internal/gateway"
	"github.com/thrillee/aegisbox-smsc/internal/handlers"
	"github.com/thrillee/aegisbox-smsc/internal/logging"
	"github.com/thrillee/aegisbox-smsc/internal/pipeline"
	"github.com/thrillee/aegisbox-smsc/internal/receipt"
	"github.com/thrillee/aegisbox-smsc/internal/session"
	"github.com/thrillee/aegisbox-smsc/internal/workers"
)

const (
	defaultMaxConnections  = 100
	defaultCleanupInterval = time.Minute
	defaultStaleTimeout    = 5 * time.Minute
)

// Options wires the server's collaborators.
type Options struct {
	Server     config.ServerConfig
	TLS        config.TLSConfig
	Reassembly config.ReassemblyConfig

	Authenticator auth.Authenticator
	Sender        gateway.Sender
	// Certificates is required when TLS.Addr is set.
	Certificates  session.CertificateProvider
}

// Server owns the listeners, the live sessions and the background work.
type Server struct {
	cfg      config.ServerConfig
	tlsCfg   config.TLSConfig
	reasm    config.ReassemblyConfig
	handler  pipeline.Handler
	registry *session.Registry
	tracker  *concat.Tracker
	sched    *workers.Scheduler
	sem      *semaphore.Weighted
	conns    cmap.ConcurrentMap[string, session.Session]

	tlsConfig *tls.Config
	policy    session.Policy

	mu        sync.Mutex
	listeners []net.Listener
	cancel    context.CancelFunc
	stopped   bool
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// New builds a server. It does not listen until ListenAndServe or Serve.
func New(opts Options) (*Server, error) {
	if opts.Authenticator == nil {
		return nil, errors.New("smppserver: authenticator is required")
	}
	if opts.Sender == nil {
		return nil, errors.New("smppserver: sender is required")
	}
	maxConns := opts.Server.MaxConnections
	if maxConns <= 0 {
		maxConns = defaultMaxConnections
	}

	if opts.Reassembly.CleanupInterval <= 0 {
		opts.Reassembly.CleanupInterval = defaultCleanupInterval
	}
	if opts.Reassembly.StaleTimeout <= 0 {
		opts.Reassembly.StaleTimeout = defaultStaleTimeout
	}

	s := &Server{
		cfg:      opts.Server,
		tlsCfg:   opts.TLS,
		reasm:    opts.Reassembly,
		registry: session.NewRegistry(),
		tracker:  concat.NewTracker(),
		sched:    workers.NewScheduler(context.Background()),
		sem:      semaphore.NewWeighted(int64(maxConns)),
		conns:    cmap.New[session.Session](),
	}

	if opts.TLS.Enabled() {
		if opts.Certificates == nil {
			return nil, errors.New("smppserver: tls enabled without a certificate provider")
		}
		tlsConfig, err := session.ServerTLSConfig(opts.Certificates, opts.TLS.RequireClientCert)
		if err != nil {
			return nil, fmt.Errorf("building tls config: %w", err)
		}
		roots, err := opts.Certificates.TrustedCAs()
		if err != nil {
			return nil, fmt.Errorf("loading client trust roots: %w", err)
		}
		s.tlsConfig = tlsConfig
		s.policy = session.Policy{
			RequireClientCert: opts.TLS.RequireClientCert,
			AllowSelfSigned:   opts.TLS.AllowSelfSigned,
			ValidateChain:     opts.TLS.ValidateChain,
			Roots:             roots,
		}
	}

	s.handler = pipeline.New(handlers.All(handlers.Deps{
		Authenticator: opts.Authenticator,
		Registry:      s.registry,
		Tracker:       s.tracker,
		Sender:        opts.Sender,
		Emitter:       receipt.NewSessionEmitter(),
		Scheduler:     s.sched,
		CloseGrace:    opts.Server.CloseGrace,
		AuthTimeout:   opts.Server.BindTimeout,
	})...)
	return s, nil
}

// Registry exposes the bound sessions.
func (s *Server) Registry() *session.Registry { return s.registry }

// ActiveConnections is the number of accepted connections still open.
func (s *Server) ActiveConnections() int { return s.conns.Count() }

// PendingReassemblies is the number of multipart messages still missing parts.
func (s *Server) PendingReassemblies() int { return s.tracker.Pending() }

// Sessions returns every open connection, bound or not.
func (s *Server) Sessions() []session.Session {
	out := make([]session.Session, 0, s.conns.Count())
	for item := range s.conns.IterBuffered() {
		out = append(out, item.Val)
	}
	return out
}

// CloseSession closes the connection with the given session id.
func (s *Server) CloseSession(id string) bool {
	sess, ok := s.conns.Get(id)
	if !ok {
		return false
	}
	_ = sess.Close()
	return true
}

// ListenerAddrs returns the addresses of the listeners being served.
func (s *Server) ListenerAddrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, ln := range s.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

// ListenAndServe listens on the plain address, and the TLS address when
// configured, and runs the reassembly cleanup until ctx is cancelled or
// Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	slog.InfoContext(ctx, "Starting SMPP Server", slog.String("address", s.cfg.Addr))
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to listen on address", slog.String("address", s.cfg.Addr), slog.Any("error", err))
		return fmt.Errorf("net.Listen failed: %w", err)
	}

	var tlsLn net.Listener
	if s.tlsConfig != nil {
		slog.InfoContext(ctx, "Starting SMPP TLS listener", slog.String("address", s.tlsCfg.Addr))
		tlsLn, err = net.Listen("tcp", s.tlsCfg.Addr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("net.Listen (tls) failed: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Serve(gctx, ln, false) })
	if tlsLn != nil {
		g.Go(func() error { return s.Serve(gctx, tlsLn, true) })
	}
	g.Go(func() error {
		workers.RunLoop(gctx, "reassembly-cleanup", s.reasm.CleanupInterval, time.Minute,
			func(ctx context.Context) (int, error) {
				return s.tracker.CleanUp(ctx, s.reasm.StaleTimeout), nil
			})
		return nil
	})

	err = g.Wait()
	s.drain()
	return err
}

// Serve accepts connections on ln until ctx is cancelled or ln is closed. A
// connection slot is acquired before each Accept so excess clients wait in
// the listen backlog.
func (s *Server) Serve(ctx context.Context, ln net.Listener, useTLS bool) error {
	if useTLS && s.tlsConfig == nil {
		return errors.New("smppserver: tls listener without tls configuration")
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		conn, err := ln.Accept()
		if err != nil {
			s.sem.Release(1)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				slog.InfoContext(ctx, "SMPP Listener closed gracefully.", slog.String("address", ln.Addr().String()))
				return nil
			}
			slog.ErrorContext(ctx, "Failed to accept connection", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		// Add only while not stopped so drain never races a late accept.
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			_ = conn.Close()
			s.sem.Release(1)
			return nil
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handleConn(ctx, conn, useTLS)
	}
}

func (s *Server) sessionOptions() session.Options {
	return session.Options{
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		MaxPDULength: s.cfg.MaxPDULength,
	}
}

// handleConn owns one connection for its whole life.
func (s *Server) handleConn(ctx context.Context, conn net.Conn, useTLS bool) {
	defer s.wg.Done()
	defer s.sem.Release(1)

	var sess session.Session
	var tlsSess *session.TLSSession
	if useTLS {
		tlsSess = session.NewTLS(conn, s.tlsConfig, s.policy, s.tlsCfg.HandshakeTimeout, s.sessionOptions())
		sess = tlsSess
	} else {
		sess = session.NewPlain(conn, s.sessionOptions())
	}

	logCtx := logging.ContextWithRemoteAddr(ctx, sess.RemoteAddr())
	logCtx = logging.ContextWithSessionID(logCtx, sess.ID())
	slog.InfoContext(logCtx, "Accepted new SMPP connection", slog.Bool("tls", useTLS))

	s.conns.Set(sess.ID(), sess)
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(logCtx, "Connection task panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
		s.registry.Remove(sess)
		_ = sess.Close()
		s.conns.Remove(sess.ID())
		slog.InfoContext(logCtx, "Closed SMPP client connection")
	}()

	if tlsSess != nil {
		if err := tlsSess.Handshake(logCtx); err != nil {
			slog.WarnContext(logCtx, "TLS client rejected", slog.Any("error", err))
			return
		}
	}

	s.serveSession(logCtx, sess)
}

// serveSession reads PDUs in order and writes each response before the next
// read. Work queued with pipeline.AfterSend starts once the response is out.
func (s *Server) serveSession(ctx context.Context, sess session.Session) {
	for {
		p := sess.ReadPDU(ctx)
		if p == nil {
			return
		}

		pctx, afterSend := pipeline.WithAfterSend(ctx)
		resp := s.handler.Handle(pctx, sess, p)
		if resp != nil {
			if err := sess.SendPDU(ctx, resp); err != nil {
				slog.WarnContext(ctx, "Failed to write response", slog.Any("error", err))
				afterSend()
				return
			}
		}
		afterSend()
	}
}

// Shutdown stops accepting, cancels ListenAndServe, closes every live session
// and waits for the connection tasks and background work, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.InfoContext(ctx, "Shutting down SMPP server", slog.Int("active_connections", s.conns.Count()))
	s.mu.Lock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
	s.mu.Unlock()

	for item := range s.conns.IterBuffered() {
		_ = item.Val.Close()
	}

	done := make(chan struct{})
	go func() {
		s.drain()
		close(done)
	}()
	select {
	case <-done:
		slog.InfoContext(ctx, "SMPP server stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smppserver shutdown: %w", ctx.Err())
	}
}

// drain waits for connection tasks, then stops the scheduler. Pending
// delayed closes and deliveries are cancelled.
func (s *Server) drain() {
	s.wg.Wait()
	s.stopOnce.Do(s.sched.Stop)
}
