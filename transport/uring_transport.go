package transport

import (
	"syscall"
	"time"

	"github.com/godzie44/go-uring/uring"

	"github.com/nczempin/httpd-go-uring/errors"
)

// UringTransport implements Transport using godzie44/go-uring. Its ring is
// not safe for concurrent submitters, so every transport owns one.
type UringTransport struct {
	ring        *uring.Ring
	fd          int
	readTimeout time.Duration
}

// NewUringTransport takes ownership of fd and creates a private ring
func NewUringTransport(fd int) (*UringTransport, error) {
	ring, err := uring.New(8)
	if err != nil {
		return nil, errors.NewTransportError(
			errors.TransportErrorIoUringInit,
			"failed to initialize io_uring",
			err,
		)
	}

	return &UringTransport{
		ring: ring,
		fd:   fd,
	}, nil
}

// ProbeUring reports whether this kernel lets go-uring create a ring
func ProbeUring() error {
	ring, err := uring.New(1)
	if err != nil {
		return errors.NewTransportError(
			errors.TransportErrorIoUringInit,
			"failed to initialize io_uring",
			err,
		)
	}
	ring.Close()
	return nil
}

// Write sends data over the connection using io_uring
func (t *UringTransport) Write(buf []byte) (int, error) {
	if t.fd < 0 {
		return 0, errors.NewTransportError(
			errors.TransportErrorSocketWriteFailure,
			"not connected",
			nil,
		)
	}

	totalWritten := 0
	for totalWritten < len(buf) {
		n, err := t.complete(uring.Write(uintptr(t.fd), buf[totalWritten:], 0))
		if err != nil {
			return totalWritten, errors.NewTransportError(
				errors.TransportErrorSocketWriteFailure,
				"write operation failed",
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

// Read receives data from the connection using io_uring
func (t *UringTransport) Read(buf []byte) (int, error) {
	if t.fd < 0 {
		return 0, errors.NewTransportError(
			errors.TransportErrorConnectionClosed,
			"connection closed",
			nil,
		)
	}

	expired := armReadTimeout(t.fd, t.readTimeout)
	n, err := t.complete(uring.Read(uintptr(t.fd), buf, 0))
	if expired() {
		return 0, errors.NewTransportError(
			errors.TransportErrorTimeout,
			"read timed out",
			nil,
		)
	}
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
			"read operation failed",
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

// complete queues one operation, submits it and waits for its completion
func (t *UringTransport) complete(op uring.Operation) (int, error) {
	if err := t.ring.QueueSQE(op, 0, 0); err != nil {
		return 0, errors.NewTransportError(
			errors.TransportErrorIoUringSubmit,
			"failed to queue request",
			err,
		)
	}

	if _, err := t.ring.Submit(); err != nil {
		return 0, errors.NewTransportError(
			errors.TransportErrorIoUringSubmit,
			"failed to submit request",
			err,
		)
	}

	cqe, err := t.ring.WaitCQEvents(1)
	if err != nil {
		return 0, err
	}
	defer t.ring.SeenCQE(cqe)

	if err := cqe.Error(); err != nil {
		return 0, err
	}
	return int(cqe.Res), nil
}

// SetReadTimeout bounds each Read. An expired read shuts the socket down.
func (t *UringTransport) SetReadTimeout(d time.Duration) error {
	t.readTimeout = d
	return nil
}

// Shutdown completes any pending read by shutting the socket down
func (t *UringTransport) Shutdown() error {
	return shutdownFd(t.fd)
}

// Close closes the connection and destroys the ring
func (t *UringTransport) Close() error {
	if t.fd < 0 {
		return nil
	}

	err := syscall.Close(t.fd)
	t.fd = -1
	if t.ring != nil {
		t.ring.Close()
		t.ring = nil
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
