// Package transport moves bytes on an accepted (or dialed) stream socket.
// Several I/O backends share the Transport interface so that the request
// reader does not care how a read is carried out.
package transport

import (
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/iceber/iouring-go"

	"github.com/nczempin/httpd-go-uring/errors"
)

// Transport defines the interface for connection I/O
type Transport interface {
	// Read receives data from the peer.
	// A peer that closed the connection is reported as
	// TransportErrorConnectionClosed, an expired read timeout as
	// TransportErrorTimeout.
	Read(buf []byte) (int, error)

	// Write sends data to the peer.
	// Returns the number of bytes written
	Write(buf []byte) (int, error)

	// SetReadTimeout bounds every subsequent Read. Zero disables it.
	SetReadTimeout(d time.Duration) error

	// Shutdown stops both directions without releasing the descriptor, so
	// that a Read blocked in another goroutine returns. Close must still be
	// called.
	Shutdown() error

	// Close closes the connection
	Close() error
}

// Backend names an I/O implementation
type Backend string

const (
	BackendSyscall Backend = "syscall"
	BackendNetpoll Backend = "netpoll"
	BackendIoUring Backend = "iouring"
	BackendUring   Backend = "uring"
)

// ParseBackend validates a backend name. The empty string selects iouring.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendIoUring, nil
	case BackendSyscall, BackendNetpoll, BackendIoUring, BackendUring:
		return b, nil
	default:
		return "", fmt.Errorf("unknown transport backend %q", s)
	}
}

// Options tunes New
type Options struct {
	// Ring is shared by every iouring transport created with it. When nil
	// each transport creates and owns a ring.
	Ring *iouring.IOURing
}

// New wraps a connected socket descriptor and takes ownership of it: on
// error the descriptor has already been closed.
func New(backend Backend, fd int, opts Options) (Transport, error) {
	if fd < 0 {
		return nil, errors.NewInvalidArgumentError(fmt.Sprintf("invalid descriptor %d", fd))
	}

	var (
		t   Transport
		err error
	)
	switch backend {
	case BackendSyscall:
		return NewFdTransport(fd), nil
	case BackendNetpoll:
		nt, err := NewNetTransport(fd)
		if err != nil {
			return nil, err
		}
		return nt, nil
	case BackendIoUring, "":
		t, err = NewIoUringTransport(fd, opts.Ring)
	case BackendUring:
		t, err = NewUringTransport(fd)
	default:
		err = errors.NewInvalidArgumentError(fmt.Sprintf("unknown transport backend %q", string(backend)))
	}
	if err != nil {
		syscall.Close(fd)
		return nil, err
	}
	return t, nil
}
