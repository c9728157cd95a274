package smppserver

import (
	"bufio"
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/thrillee/aegisbox-smsc/internal/auth"
	"github.com/thrillee/aegisbox-smsc/internal/concat"
	"github.com/thrillee/aegisbox-smsc/internal/config"
	"github.com/thrillee/aegisbox-smsc/internal/gateway"
	"github.com/thrillee/aegisbox-smsc/pkg/pdu"
)

type chanSender chan gateway.Message

func (c chanSender) Send(_ context.Context, msg gateway.Message) (gateway.Result, error) {
	c <- msg
	return gateway.Result{Success: true, GatewayMessageID: "gw-" + msg.ID}, nil
}

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		MaxConnections: 10,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   time.Second,
		BindTimeout:    time.Second,
		CloseGrace:     50 * time.Millisecond,
		MaxPDULength:   4096,
	}
}

// newServer fills in the esme1/secret authenticator when opts has none.
func newServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Authenticator == nil {
		hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hashing password: %v", err)
		}
		opts.Authenticator = auth.NewBcryptAuthenticator(auth.StaticCredentials{"esme1": string(hash)})
	}
	srv, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func startServer(t *testing.T, cfg config.ServerConfig, sender gateway.Sender) (*Server, string) {
	t.Helper()
	srv := newServer(t, Options{Server: cfg, Sender: sender})
	return srv, serve(t, srv, false)
}

// serve runs srv on a loopback listener until the test ends.
func serve(t *testing.T, srv *Server, useTLS bool) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln, useTLS) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve() error = %v", err)
		}
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return ln.Addr().String()
}

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) send(p *pdu.PDU) {
	c.t.Helper()
	c.writeRaw(pdu.Encode(p))
}

func (c *client) writeRaw(b []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.conn.Write(b); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *client) read(timeout time.Duration) (*pdu.PDU, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	hdr := make([]byte, pdu.HeaderLength)
	if _, err := io.ReadFull(c.r, hdr); err != nil {
		return nil, err
	}
	h, err := pdu.DecodeHeader(hdr)
	if err != nil {
		return nil, err
	}
	body := make([]byte, h.BodyLength())
	if _, err := io.ReadFull(c.r, body); err != nil {
		return nil, err
	}
	return pdu.Decode(h, body), nil
}

func (c *client) expect(commandID, status, seq uint32) *pdu.PDU {
	c.t.Helper()
	p, err := c.read(2 * time.Second)
	if err != nil {
		c.t.Fatalf("reading response to seq %d: %v", seq, err)
	}
	if p.CommandID != commandID || p.CommandStatus != status || p.SequenceNumber != seq {
		c.t.Fatalf("got id=%#x status=%#x seq=%d, want id=%#x status=%#x seq=%d",
			p.CommandID, p.CommandStatus, p.SequenceNumber, commandID, status, seq)
	}
	return p
}

func (c *client) expectClosed() {
	c.t.Helper()
	if p, err := c.read(2 * time.Second); err == nil {
		c.t.Fatalf("expected connection to close, got PDU %#x", p.CommandID)
	} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
		c.t.Fatalf("connection still open after 2s")
	}
}

func bindBody(systemID, password string) []byte {
	w := pdu.NewWriter()
	w.WriteCString(systemID)
	w.WriteCString(password)
	w.WriteCString("")
	w.WriteUint8(0x34)
	w.WriteUint8(0)
	w.WriteUint8(0)
	w.WriteCString("")
	return w.Bytes()
}

func submitBody(text string, registeredDelivery byte) []byte {
	w := pdu.NewWriter()
	w.WriteCString("")
	w.WriteUint8(5)
	w.WriteUint8(0)
	w.WriteCString("SENDER")
	w.WriteUint8(1)
	w.WriteUint8(1)
	w.WriteCString("2348012345678")
	w.WriteUint8(0) // esm_class
	w.WriteUint8(0)
	w.WriteUint8(0)
	w.WriteCString("")
	w.WriteCString("")
	w.WriteUint8(registeredDelivery)
	w.WriteUint8(0)
	w.WriteUint8(0) // data_coding
	w.WriteUint8(0)
	w.WriteShortMessage([]byte(text))
	return w.Bytes()
}

func TestEndToEndSession(t *testing.T) {
	sent := make(chanSender, 4)
	_, addr := startServer(t, testConfig(), sent)
	c := dial(t, addr)

	c.send(pdu.New(pdu.CommandSubmitSM, 0, 1, submitBody("too early", 0)))
	c.expect(pdu.CommandSubmitSMResp, pdu.StatusBindFailed, 1)

	c.send(pdu.New(pdu.CommandBindTransceiver, 0, 2, bindBody("esme1", "secret")))
	resp := c.expect(pdu.CommandBindTransceiverResp, pdu.StatusOk, 2)
	if !bytes.HasPrefix(resp.Body, []byte("esme1\x00")) {
		t.Errorf("bind resp body = %q, want system id", resp.Body)
	}

	c.send(pdu.New(pdu.CommandSubmitSM, 0, 3, submitBody("Hello", 0)))
	resp = c.expect(pdu.CommandSubmitSMResp, pdu.StatusOk, 3)
	if len(resp.Body) < 2 {
		t.Errorf("submit_sm_resp carries no message id")
	}
	select {
	case msg := <-sent:
		if msg.Text != "Hello" || msg.SystemID != "esme1" || msg.Destination != "2348012345678" {
			t.Errorf("sent message = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never reached the sender")
	}

	c.send(pdu.New(0xFFFFFFFF, 0, 4, nil))
	c.expect(0xFFFFFFFF, pdu.StatusInvCmdID, 4)

	c.send(pdu.New(pdu.CommandEnquireLink, 0, 5, nil))
	c.expect(pdu.CommandEnquireLinkResp, pdu.StatusOk, 5)

	c.send(pdu.New(pdu.CommandUnbind, 0, 6, nil))
	c.expect(pdu.CommandUnbindResp, pdu.StatusOk, 6)
	c.expectClosed()

	select {
	case msg := <-sent:
		t.Errorf("unexpected extra send: %+v", msg)
	default:
	}
}

func TestReceiptFollowsSubmitResponse(t *testing.T) {
	sent := make(chanSender, 4)
	_, addr := startServer(t, testConfig(), sent)
	c := dial(t, addr)

	c.send(pdu.New(pdu.CommandBindTransceiver, 0, 1, bindBody("esme1", "secret")))
	c.expect(pdu.CommandBindTransceiverResp, pdu.StatusOk, 1)

	c.send(pdu.New(pdu.CommandSubmitSM, 0, 2, submitBody("Hi", 1)))
	c.expect(pdu.CommandSubmitSMResp, pdu.StatusOk, 2)

	dlr, err := c.read(2 * time.Second)
	if err != nil {
		t.Fatalf("reading receipt: %v", err)
	}
	if dlr.CommandID != pdu.CommandDeliverSM {
		t.Fatalf("got command %#x, want deliver_sm", dlr.CommandID)
	}
	if !bytes.Contains(dlr.Body, []byte("stat:DELIVRD")) {
		t.Errorf("receipt body %q lacks stat:DELIVRD", dlr.Body)
	}

	// The acknowledgement is absorbed; the next reply belongs to enquire_link.
	c.send(pdu.NewResponse(dlr, pdu.StatusOk, nil))
	c.send(pdu.New(pdu.CommandEnquireLink, 0, 3, nil))
	c.expect(pdu.CommandEnquireLinkResp, pdu.StatusOk, 3)
}

func TestBindFailureClosesConnection(t *testing.T) {
	_, addr := startServer(t, testConfig(), make(chanSender, 1))
	c := dial(t, addr)

	c.send(pdu.New(pdu.CommandBindTransceiver, 0, 9, bindBody("esme1", "wrong")))
	c.expect(pdu.CommandBindTransceiverResp, pdu.StatusBindFailed, 9)
	c.expectClosed()
}

func TestOversizedPDUClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPDULength = 1024
	_, addr := startServer(t, cfg, make(chanSender, 1))
	c := dial(t, addr)

	hdr := make([]byte, pdu.HeaderLength)
	binary.BigEndian.PutUint32(hdr[0:], 5000)
	binary.BigEndian.PutUint32(hdr[4:], pdu.CommandEnquireLink)
	binary.BigEndian.PutUint32(hdr[12:], 1)
	c.writeRaw(hdr)
	c.expectClosed()
}

func TestAdmissionLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	srv, addr := startServer(t, cfg, make(chanSender, 1))

	first := dial(t, addr)
	first.send(pdu.New(pdu.CommandEnquireLink, 0, 1, nil))
	first.expect(pdu.CommandEnquireLinkResp, pdu.StatusBindFailed, 1)

	second := dial(t, addr)
	second.send(pdu.New(pdu.CommandBindTransceiver, 0, 1, bindBody("esme1", "secret")))
	if p, err := second.read(300 * time.Millisecond); err == nil {
		t.Fatalf("second connection served while at capacity: %#x", p.CommandID)
	}

	_ = first.conn.Close()
	second.expect(pdu.CommandBindTransceiverResp, pdu.StatusOk, 1)
	if got := srv.ActiveConnections(); got != 1 {
		t.Errorf("ActiveConnections() = %d, want 1", got)
	}
}

func TestShutdownClosesSessions(t *testing.T) {
	srv, addr := startServer(t, testConfig(), make(chanSender, 1))
	c := dial(t, addr)
	c.send(pdu.New(pdu.CommandBindTransceiver, 0, 1, bindBody("esme1", "secret")))
	c.expect(pdu.CommandBindTransceiverResp, pdu.StatusOk, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	c.expectClosed()
	if got := srv.ActiveConnections(); got != 0 {
		t.Errorf("ActiveConnections() = %d, want 0", got)
	}
	if got := srv.Registry().Count(); got != 0 {
		t.Errorf("Registry().Count() = %d, want 0", got)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{Sender: make(chanSender)}); err == nil {
		t.Error("New() without authenticator succeeded")
	}
	a := auth.NewBcryptAuthenticator(auth.StaticCredentials{})
	if _, err := New(Options{Authenticator: a}); err == nil {
		t.Error("New() without sender succeeded")
	}
	if _, err := New(Options{Authenticator: a, Sender: make(chanSender), TLS: config.TLSConfig{Addr: ":0"}}); err == nil {
		t.Error("New() with TLS but no certificates succeeded")
	}
}

func TestNewDefaultsReassemblyTimers(t *testing.T) {
	tests := []struct {
		name     string
		in       config.ReassemblyConfig
		interval time.Duration
		stale    time.Duration
	}{
		{"zero values", config.ReassemblyConfig{}, time.Minute, 5 * time.Minute},
		{"negative values", config.ReassemblyConfig{CleanupInterval: -1, StaleTimeout: -1}, time.Minute, 5 * time.Minute},
		{"explicit values", config.ReassemblyConfig{CleanupInterval: time.Second, StaleTimeout: time.Hour}, time.Second, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, Options{Sender: make(chanSender), Reassembly: tt.in})
			if srv.reasm.CleanupInterval != tt.interval {
				t.Errorf("CleanupInterval = %v, want %v", srv.reasm.CleanupInterval, tt.interval)
			}
			if srv.reasm.StaleTimeout != tt.stale {
				t.Errorf("StaleTimeout = %v, want %v", srv.reasm.StaleTimeout, tt.stale)
			}
		})
	}
}

func TestListenAndServeStopsOnShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.Addr = "127.0.0.1:0"
	srv := newServer(t, Options{
		Server:     cfg,
		Sender:     make(chanSender, 1),
		Reassembly: config.ReassemblyConfig{CleanupInterval: 20 * time.Millisecond, StaleTimeout: 10 * time.Millisecond},
	})

	ctx := context.Background()
	if done, _ := srv.tracker.Track(ctx, &concat.Info{Reference: 7, TotalParts: 2, PartNumber: 1}, true, "a", "src", "dst"); done {
		t.Fatal("first of two parts reported complete")
	}

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(srv.ListenerAddrs()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	c := dial(t, srv.ListenerAddrs()[0].String())
	c.send(pdu.New(pdu.CommandBindTransceiver, 0, 1, bindBody("esme1", "secret")))
	c.expect(pdu.CommandBindTransceiverResp, pdu.StatusOk, 1)

	for srv.PendingReassemblies() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("stale partial message was never evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe() did not return after Shutdown")
	}
	c.expectClosed()
}

func TestServeAfterShutdownClosesListener(t *testing.T) {
	srv := newServer(t, Options{Server: testConfig(), Sender: make(chanSender, 1)})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln, false) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() kept accepting after Shutdown")
	}
	if conn, err := net.Dial("tcp", ln.Addr().String()); err == nil {
		_ = conn.Close()
		t.Error("listener still accepting after Serve returned")
	}
	if err := srv.ListenAndServe(ctx); err != nil {
		t.Errorf("ListenAndServe() after Shutdown error = %v", err)
	}
}

type staticCertificates struct {
	cert tls.Certificate
}

func (s staticCertificates) ServerCertificate() (tls.Certificate, error) { return s.cert, nil }
func (s staticCertificates) TrustedCAs() (*x509.CertPool, error)         { return nil, nil }

func selfSignedServerCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "smsc.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestTLSListenerServesSession(t *testing.T) {
	srv := newServer(t, Options{
		Server:       testConfig(),
		TLS:          config.TLSConfig{Addr: "127.0.0.1:0", HandshakeTimeout: 2 * time.Second},
		Sender:       make(chanSender, 1),
		Certificates: staticCertificates{cert: selfSignedServerCert(t)},
	})
	addr := serve(t, srv, true)

	conn, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("tls dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	c := &client{t: t, conn: conn, r: bufio.NewReader(conn)}

	c.send(pdu.New(pdu.CommandBindTransceiver, 0, 1, bindBody("esme1", "secret")))
	c.expect(pdu.CommandBindTransceiverResp, pdu.StatusOk, 1)
	c.send(pdu.New(pdu.CommandEnquireLink, 0, 2, nil))
	c.expect(pdu.CommandEnquireLinkResp, pdu.StatusOk, 2)
	if got := srv.Registry().Count(); got != 1 {
		t.Errorf("Registry().Count() = %d, want 1", got)
	}
}
