package transport

import (
	"syscall"
	"time"

	"github.com/iceber/iouring-go"
	"golang.org/x/sys/unix"

	"github.com/nczempin/httpd-go-uring/errors"
)

// ringEntries is the queue depth of rings created by this package
const ringEntries = 32

// NewSharedRing creates an io_uring instance that many IoUringTransports can
// submit to concurrently.
func NewSharedRing() (*iouring.IOURing, error) {
	iour, err := iouring.New(ringEntries)
	if err != nil {
		return nil, errors.NewTransportError(
			errors.TransportErrorIoUringInit,
			"failed to initialize io_uring",
			err,
		)
	}
	return iour, nil
}

// IoUringTransport implements Transport using io_uring for async I/O
type IoUringTransport struct {
	iour        *iouring.IOURing
	ownsRing    bool
	fd          int
	closed      bool
	readTimeout time.Duration
}

// NewIoUringTransport takes ownership of fd. A nil ring makes the transport
// create (and later destroy) its own.
func NewIoUringTransport(fd int, ring *iouring.IOURing) (*IoUringTransport, error) {
	owns := false
	if ring == nil {
		r, err := NewSharedRing()
		if err != nil {
			return nil, err
		}
		ring, owns = r, true
	}

	return &IoUringTransport{
		iour:     ring,
		ownsRing: owns,
		fd:       fd,
	}, nil
}

// Read receives data from the connection using io_uring
func (t *IoUringTransport) Read(buf []byte) (int, error) {
	if t.fd < 0 || t.closed {
		return 0, errors.NewTransportError(
			errors.TransportErrorConnectionClosed,
			"connection closed",
			nil,
		)
	}

	ch := make(chan iouring.Result, 1)
	prepReq := iouring.Recv(t.fd, buf, 0)
	if _, err := t.iour.SubmitRequest(prepReq, ch); err != nil {
		return 0, errors.NewTransportError(
			errors.TransportErrorIoUringSubmit,
			"failed to submit read request",
			err,
		)
	}

	expired := armReadTimeout(t.fd, t.readTimeout)
	result := <-ch
	if expired() {
		return 0, errors.NewTransportError(
			errors.TransportErrorTimeout,
			"read timed out",
			nil,
		)
	}

	n, err := result.ReturnInt()
	if err != nil {
		if err == syscall.ECONNRESET {
			return 0, errors.NewTransportError(
				errors.TransportErrorConnectionClosed,
				"connection reset by peer",
				err,
			)
		}
		return 0, errors.NewTransportError(
			errors.TransportErrorSocketReadFailure,
			"read failed",
			err,
		)
	}

	if n == 0 && len(buf) > 0 {
		return 0, errors.NewTransportError(
			errors.TransportErrorConnectionClosed,
			"connection closed by peer",
			nil,
		)
	}

	return n, nil
}

// Write sends data over the connection using io_uring
func (t *IoUringTransport) Write(buf []byte) (int, error) {
	if t.fd < 0 || t.closed {
		return 0, errors.NewTransportError(
			errors.TransportErrorSocketWriteFailure,
			"not connected",
			nil,
		)
	}

	totalWritten := 0
	for totalWritten < len(buf) {
		ch := make(chan iouring.Result, 1)
		prepReq := iouring.Send(t.fd, buf[totalWritten:], unix.MSG_NOSIGNAL)
		if _, err := t.iour.SubmitRequest(prepReq, ch); err != nil {
			return totalWritten, errors.NewTransportError(
				errors.TransportErrorIoUringSubmit,
				"failed to submit write request",
				err,
			)
		}

		result := <-ch
		n, err := result.ReturnInt()
		if err != nil {
			return totalWritten, errors.NewTransportError(
				errors.TransportErrorSocketWriteFailure,
				"write failed",
				err,
			)
		}

		if n <= 0 {
			return totalWritten, errors.NewTransportError(
				errors.TransportErrorConnectionClosed,
				"connection closed during write",
				nil,
			)
		}

		totalWritten += n
	}

	return totalWritten, nil
}

// SetReadTimeout bounds each Read. An expired read shuts the socket down.
func (t *IoUringTransport) SetReadTimeout(d time.Duration) error {
	t.readTimeout = d
	return nil
}

// Shutdown completes any pending receive by shutting the socket down
func (t *IoUringTransport) Shutdown() error {
	if t.closed {
		return nil
	}
	return shutdownFd(t.fd)
}

// Close closes the connection and, if the transport owns it, the ring
func (t *IoUringTransport) Close() error {
	if t.fd < 0 || t.closed {
		return nil
	}

	t.closed = true
	err := syscall.Close(t.fd)
	t.fd = -1
	if t.ownsRing && t.iour != nil {
		t.iour.Close()
		t.iour = nil
	}
	if err != nil {
		return errors.NewTransportError(
			errors.TransportErrorConnectionClosed,
			"failed to close socket",
			err,
		)
	}
	return nil
}

// armReadTimeout shuts fd down once d elapses, which completes any pending
// receive. The returned func stops the timer and reports whether it fired.
func armReadTimeout(fd int, d time.Duration) func() bool {
	if d <= 0 {
		return func() bool { return false }
	}
	timer := time.AfterFunc(d, func() {
		_ = unix.Shutdown(fd, unix.SHUT_RDWR)
	})
	return func() bool { return !timer.Stop() }
}
