package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/thrillee/aegisbox-smsc/pkg/codes"
	"github.com/thrillee/aegisbox-smsc/pkg/pdu"
)

var (
	ErrClientCertRequired = errors.New("tls: client certificate required")
	ErrSelfSignedRejected = errors.New("tls: self-signed client certificate rejected")
	ErrCertExpired        = errors.New("tls: client certificate outside validity period")
)

// CertificateProvider supplies the server identity and the client trust roots.
type CertificateProvider interface {
	ServerCertificate() (tls.Certificate, error)
	// TrustedCAs returns nil to fall back to the system pool.
	TrustedCAs() (*x509.CertPool, error)
}

// FileCertificateProvider loads PEM files from disk.
type FileCertificateProvider struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

func (p FileCertificateProvider) ServerCertificate() (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(p.CertFile, p.KeyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("loading server key pair: %w", err)
	}
	return cert, nil
}

func (p FileCertificateProvider) TrustedCAs() (*x509.CertPool, error) {
	if p.CAFile == "" {
		return nil, nil
	}
	pemBytes, err := os.ReadFile(p.CAFile)
	if err != nil {
		return nil, fmt.Errorf("reading client CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("no certificates found in %s", p.CAFile)
	}
	return pool, nil
}

// Policy decides whether a completed handshake authenticates the client.
type Policy struct {
	RequireClientCert bool
	AllowSelfSigned   bool
	ValidateChain     bool
	Roots             *x509.CertPool
	Now               func() time.Time
}

// Verify checks the peer chain presented during the handshake.
func (p Policy) Verify(peer []*x509.Certificate) error {
	if len(peer) == 0 {
		if p.RequireClientCert {
			return ErrClientCertRequired
		}
		return nil
	}
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}
	leaf := peer[0]
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return fmt.Errorf("%w: valid %s to %s", ErrCertExpired,
			leaf.NotBefore.Format(time.RFC3339), leaf.NotAfter.Format(time.RFC3339))
	}
	if isSelfSigned(leaf) {
		if !p.AllowSelfSigned {
			return ErrSelfSignedRejected
		}
		return nil
	}
	if !p.ValidateChain {
		return nil
	}
	intermediates := x509.NewCertPool()
	for _, c := range peer[1:] {
		intermediates.AddCert(c)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         p.Roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	if err != nil {
		return fmt.Errorf("tls: client chain verification: %w", err)
	}
	return nil
}

func isSelfSigned(c *x509.Certificate) bool {
	// CheckSignatureFrom would reject non-CA leaves, so verify the raw signature.
	return bytes.Equal(c.RawIssuer, c.RawSubject) &&
		c.CheckSignature(c.SignatureAlgorithm, c.RawTBSCertificate, c.Signature) == nil
}

// ServerTLSConfig builds the listener configuration. Peer verification is left
// to Policy.Verify after the handshake.
func ServerTLSConfig(provider CertificateProvider, requireClientCert bool) (*tls.Config, error) {
	cert, err := provider.ServerCertificate()
	if err != nil {
		return nil, err
	}
	clientAuth := tls.RequestClientCert
	if requireClientCert {
		clientAuth = tls.RequireAnyClientCert
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   clientAuth,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// TLSSession performs a server-side handshake before any PDU traffic.
type TLSSession struct {
	*base
	tlsConn          *tls.Conn
	policy           Policy
	handshakeTimeout time.Duration
	tlsAuthenticated atomic.Bool
}

var _ Session = (*TLSSession)(nil)

// NewTLS wraps an accepted raw connection. Handshake must succeed before
// ReadPDU or SendPDU do anything.
func NewTLS(raw net.Conn, cfg *tls.Config, policy Policy, handshakeTimeout time.Duration, opts Options) *TLSSession {
	tlsConn := tls.Server(raw, cfg)
	return &TLSSession{
		base:             newBase(tlsConn, opts),
		tlsConn:          tlsConn,
		policy:           policy,
		handshakeTimeout: handshakeTimeout,
	}
}

// Handshake runs the TLS handshake and applies the certificate policy.
func (s *TLSSession) Handshake(ctx context.Context) error {
	if s.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.handshakeTimeout)
		defer cancel()
	}
	if err := s.tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("tls handshake: %w", err)
	}
	state := s.tlsConn.ConnectionState()
	if err := s.policy.Verify(state.PeerCertificates); err != nil {
		return err
	}
	s.tlsAuthenticated.Store(true)
	slog.DebugContext(ctx, "TLS handshake complete",
		slog.String("version", tls.VersionName(state.Version)),
		slog.String("cipher", tls.CipherSuiteName(state.CipherSuite)),
		slog.Int("peer_certs", len(state.PeerCertificates)))
	return nil
}

func (s *TLSSession) IsTLSAuthenticated() bool { return s.tlsAuthenticated.Load() }

func (s *TLSSession) ReadPDU(ctx context.Context) *pdu.PDU {
	if !s.IsTLSAuthenticated() {
		return nil
	}
	return s.read(ctx)
}

func (s *TLSSession) SendPDU(ctx context.Context, p *pdu.PDU) error {
	if !s.IsTLSAuthenticated() {
		return ErrNotAuthenticated
	}
	return s.send(ctx, p)
}

func (s *TLSSession) State() string {
	if !s.closed.Load() && !s.IsTLSAuthenticated() {
		return codes.SessionHandshaking
	}
	return s.state()
}
