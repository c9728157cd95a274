package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/thrillee/aegisbox-smsc/pkg/pdu"
)

// ErrInvalidLength is returned for a header announcing fewer than 16 bytes or
// more than the configured maximum. The body is never read.
var ErrInvalidLength = errors.New("session: invalid command length")

// aLongTimeAgo unblocks pending reads when used as a deadline.
var aLongTimeAgo = time.Unix(1, 0)

// Options tunes the shared framing.
type Options struct {
	ReadTimeout  time.Duration // idle deadline per PDU read, 0 disables
	WriteTimeout time.Duration
	MaxPDULength uint32
}

func (o Options) maxLength() uint32 {
	if o.MaxPDULength < pdu.HeaderLength {
		return pdu.HeaderLength + pdu.MaxBodyLength
	}
	return o.MaxPDULength
}

// framer reads and writes whole PDUs over a byte stream. Reads are issued by
// the owning connection task only; writes are serialized by sendMu.
type framer struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	sendMu sync.Mutex
	opts   Options
}

func newFramer(conn net.Conn, opts Options) *framer {
	return &framer{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		opts:   opts,
	}
}

func (f *framer) readPDU(ctx context.Context) (*pdu.PDU, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.opts.ReadTimeout > 0 {
		_ = f.conn.SetReadDeadline(time.Now().Add(f.opts.ReadTimeout))
	} else {
		_ = f.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = f.conn.SetReadDeadline(aLongTimeAgo)
	})
	defer stop()

	var hdrBytes [pdu.HeaderLength]byte
	if _, err := io.ReadFull(f.reader, hdrBytes[:]); err != nil {
		return nil, f.readErr(ctx, err)
	}
	hdr, err := pdu.DecodeHeader(hdrBytes[:])
	if err != nil {
		return nil, err
	}
	if hdr.CommandLength < pdu.HeaderLength || hdr.CommandLength > f.opts.maxLength() {
		return nil, fmt.Errorf("%w: %d (%s)", ErrInvalidLength, hdr.CommandLength, pdu.CommandName(hdr.CommandID))
	}

	var body []byte
	if n := hdr.BodyLength(); n > 0 {
		body = make([]byte, n)
		if _, err := io.ReadFull(f.reader, body); err != nil {
			return nil, fmt.Errorf("reading PDU body (expected %d bytes): %w", n, f.readErr(ctx, err))
		}
	}
	return pdu.Decode(hdr, body), nil
}

// readErr prefers the context error when cancellation caused the failure.
func (f *framer) readErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (f *framer) writePDU(ctx context.Context, p *pdu.PDU) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.sendMu.Lock()
	defer f.sendMu.Unlock()

	if f.opts.WriteTimeout > 0 {
		_ = f.conn.SetWriteDeadline(time.Now().Add(f.opts.WriteTimeout))
	}
	if _, err := f.writer.Write(pdu.Encode(p)); err != nil {
		return fmt.Errorf("writing %s: %w", pdu.CommandName(p.CommandID), err)
	}
	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", pdu.CommandName(p.CommandID), err)
	}
	return nil
}

// isQuietClose reports errors that are a normal end of a connection.
func isQuietClose(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
