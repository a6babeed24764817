package transport

import (
	stderrors "errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/nczempin/httpd-go-uring/errors"
)

// NetTransport hands the descriptor to the Go netpoller via net.FileConn
type NetTransport struct {
	conn        net.Conn
	readTimeout time.Duration
}

// NewNetTransport takes ownership of fd, closing it even on failure.
// net.FileConn works on a duplicate, so the original is released right away.
func NewNetTransport(fd int) (*NetTransport, error) {
	f := os.NewFile(uintptr(fd), "conn")
	conn, err := net.FileConn(f)
	if err != nil {
		f.Close()
		return nil, errors.NewTransportError(errors.TransportErrorSocketCreateFailure, "net.FileConn failed", err)
	}
	f.Close()
	return NewNetTransportConn(conn), nil
}

// NewNetTransportConn wraps an existing net.Conn
func NewNetTransportConn(conn net.Conn) *NetTransport {
	return &NetTransport{conn: conn}
}

// Read receives data from the connection
func (t *NetTransport) Read(buf []byte) (int, error) {
	if t.conn == nil {
		return 0, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed", nil)
	}

	if t.readTimeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	}
	n, err := t.conn.Read(buf)
	if err != nil {
		var ne net.Error
		if stderrors.As(err, &ne) && ne.Timeout() {
			return n, errors.NewTransportError(errors.TransportErrorTimeout, "read timed out", err)
		}
		if stderrors.Is(err, io.EOF) || stderrors.Is(err, net.ErrClosed) || stderrors.Is(err, syscall.ECONNRESET) || (n == 0 && len(buf) > 0) {
			return n, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed by peer", err)
		}
		return n, errors.NewTransportError(errors.TransportErrorSocketReadFailure, "read failed", err)
	}

	return n, nil
}

// Write sends data over the connection
func (t *NetTransport) Write(buf []byte) (int, error) {
	if t.conn == nil {
		return 0, errors.NewTransportError(errors.TransportErrorSocketWriteFailure, "not connected", nil)
	}

	n, err := t.conn.Write(buf)
	if err != nil {
		// Check for broken pipe or connection reset
		if stderrors.Is(err, syscall.EPIPE) || stderrors.Is(err, syscall.ECONNRESET) {
			return n, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed during write", err)
		}
		return n, errors.NewTransportError(errors.TransportErrorSocketWriteFailure, "write failed", err)
	}

	return n, nil
}

// SetReadTimeout applies a fresh read deadline before every Read
func (t *NetTransport) SetReadTimeout(d time.Duration) error {
	t.readTimeout = d
	if d <= 0 && t.conn != nil {
		return t.conn.SetReadDeadline(time.Time{})
	}
	return nil
}

// Shutdown closes the net.Conn, which unblocks a pending Read. Close is
// still needed to drop the transport's reference.
func (t *NetTransport) Shutdown() error {
	if t.conn == nil {
		return nil
	}
	if tc, ok := t.conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
		return tc.CloseRead()
	}
	return t.conn.Close()
}

// Close closes the connection
func (t *NetTransport) Close() error {
	if t.conn == nil {
		return nil // Idempotent close
	}

	err := t.conn.Close()
	t.conn = nil

	if err != nil {
		return errors.NewTransportError(errors.TransportErrorConnectionClosed, "failed to close socket", err)
	}

	return nil
}
