package transport

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nczempin/httpd-go-uring/errors"
)

// FdTransport performs blocking read(2)/write(2) on a raw descriptor. Read
// timeouts use SO_RCVTIMEO.
type FdTransport struct {
	fd     int
	closed bool
}

// NewFdTransport takes ownership of fd
func NewFdTransport(fd int) *FdTransport {
	return &FdTransport{fd: fd}
}

// Read receives data from the connection
func (t *FdTransport) Read(buf []byte) (int, error) {
	if t.closed || t.fd < 0 {
		return 0, errors.NewTransportError(
			errors.TransportErrorConnectionClosed,
			"connection closed",
			nil,
		)
	}

	for {
		n, err := syscall.Read(t.fd, buf)
		if err == syscall.EINTR {
			continue
		}
		if err == syscall.EAGAIN {
			return 0, errors.NewTransportError(
				errors.TransportErrorTimeout,
				"read timed out",
				err,
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
}

// Write sends data over the connection
func (t *FdTransport) Write(buf []byte) (int, error) {
	if t.closed || t.fd < 0 {
		return 0, errors.NewTransportError(
			errors.TransportErrorSocketWriteFailure,
			"not connected",
			nil,
		)
	}

	totalWritten := 0
	for totalWritten < len(buf) {
		n, err := syscall.Write(t.fd, buf[totalWritten:])
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			if err == syscall.EPIPE || err == syscall.ECONNRESET {
				return totalWritten, errors.NewTransportError(
					errors.TransportErrorConnectionClosed,
					"connection closed during write",
					err,
				)
			}
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

// SetReadTimeout sets SO_RCVTIMEO on the descriptor
func (t *FdTransport) SetReadTimeout(d time.Duration) error {
	if t.closed || t.fd < 0 {
		return errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed", nil)
	}
	return setRecvTimeout(t.fd, d)
}

// Shutdown shuts the socket down in both directions
func (t *FdTransport) Shutdown() error {
	return shutdownFd(t.fd)
}

// Close closes the connection
func (t *FdTransport) Close() error {
	if t.fd < 0 || t.closed {
		return nil
	}
	t.closed = true
	err := syscall.Close(t.fd)
	t.fd = -1
	if err != nil {
		return errors.NewTransportError(
			errors.TransportErrorConnectionClosed,
			"failed to close socket",
			err,
		)
	}
	return nil
}

func shutdownFd(fd int) error {
	if fd < 0 {
		return nil
	}
	if err := unix.Shutdown(fd, unix.SHUT_RDWR); err != nil && err != unix.ENOTCONN {
		return errors.NewTransportError(errors.TransportErrorConnectionClosed, "shutdown failed", err)
	}
	return nil
}

func setRecvTimeout(fd int, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return errors.NewTransportError(
			errors.TransportErrorSocketCreateFailure,
			"failed to set SO_RCVTIMEO",
			err,
		)
	}
	return nil
}
