// Package socket owns the listening socket: passive bind, listen and a
// blocking, cancellable accept that resolves both ends of each connection.
package socket

import (
	"context"
	"fmt"
	"net"
	"sync"

	sockaddrnet "github.com/libp2p/go-sockaddr/net"
	"golang.org/x/sys/unix"

	"github.com/nczempin/httpd-go-uring/endpoint"
	"github.com/nczempin/httpd-go-uring/errors"
)

// pollInterval bounds how long Accept waits before re-checking its context.
const pollInterval = 250

// Accepted is a freshly accepted connection together with both identities.
// The caller owns Fd and must close it.
type Accepted struct {
	Fd     int
	Remote endpoint.Identity
	Local  endpoint.Identity
}

// ServerSocket is a passive TCP socket bound to a wildcard address
type ServerSocket struct {
	port     uint16
	resolver *endpoint.Resolver

	mu     sync.Mutex
	fd     int
	family endpoint.Family
	closed bool
	users  int // in-flight Accept/Port calls holding fd
}

// NewServerSocket creates a server socket for the given port. Port 0 picks an
// ephemeral port; see Port after BindAndListen.
func NewServerSocket(port uint16, resolver *endpoint.Resolver) *ServerSocket {
	if resolver == nil {
		resolver = &endpoint.Resolver{}
	}
	return &ServerSocket{
		port:     port,
		resolver: resolver,
		fd:       -1,
	}
}

// BindAndListen binds the first wildcard candidate for family that accepts a
// socket and a bind, then listens with the system maximum backlog.
func (s *ServerSocket) BindAndListen(family endpoint.Family) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fd >= 0 {
		return errors.NewInvalidArgumentError("server socket already bound")
	}

	var lastErr error
	fd := -1
	for _, candidate := range passiveCandidates(family, int(s.port)) {
		af := sockaddrnet.NetAddrAF(candidate)
		sa := sockaddrnet.TCPAddrToSockaddr(candidate)
		if sa == nil {
			continue
		}

		sock, err := unix.Socket(af, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
		if err != nil {
			lastErr = errors.NewTransportError(errors.TransportErrorSocketCreateFailure, "failed to create socket", err)
			continue
		}
		if err := unix.SetsockoptInt(sock, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(sock)
			lastErr = errors.NewTransportError(errors.TransportErrorSocketCreateFailure, "failed to set SO_REUSEADDR", err)
			continue
		}
		if err := unix.Bind(sock, sa); err != nil {
			unix.Close(sock)
			lastErr = errors.NewTransportError(errors.TransportErrorBindFailure, fmt.Sprintf("failed to bind %s", candidate), err)
			continue
		}

		fd = sock
		s.family = endpoint.FamilyFromAF(af)
		break
	}
	if fd < 0 {
		if lastErr == nil {
			lastErr = errors.NewTransportError(errors.TransportErrorBindFailure, "no usable address for family "+family.String(), nil)
		}
		return lastErr
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return errors.NewTransportError(errors.TransportErrorListenFailure, "failed to listen", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return errors.NewTransportError(errors.TransportErrorListenFailure, "failed to set non-blocking mode", err)
	}

	s.fd = fd
	s.closed = false
	return nil
}

// Accept blocks until a peer connects, ctx is done or the socket is closed.
// Interrupted and would-block results are retried. When either identity
// cannot be resolved the accepted socket is closed and an error returned.
func (s *ServerSocket) Accept(ctx context.Context) (*Accepted, error) {
	listenFd, ok := s.acquire()
	if !ok {
		return nil, errors.NewTransportError(errors.TransportErrorAcceptFailure, "server socket is not listening", nil)
	}
	defer s.release()

	var (
		nfd int
		sa  unix.Sockaddr
		err error
	)
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.NewTransportError(errors.TransportErrorAcceptFailure, "accept cancelled", ctxErr)
		}
		if s.isClosed() {
			return nil, errors.NewTransportError(errors.TransportErrorAcceptFailure, "server socket closed", net.ErrClosed)
		}

		nfd, sa, err = unix.Accept4(listenFd, unix.SOCK_CLOEXEC)
		if err == nil {
			break
		}
		switch err {
		case unix.EAGAIN, unix.EINTR, unix.ECONNABORTED:
			if err == unix.EAGAIN {
				if perr := waitReadable(listenFd); perr != nil {
					return nil, errors.NewTransportError(errors.TransportErrorAcceptFailure, "poll failed", perr)
				}
			}
			continue
		}
		if s.isClosed() {
			return nil, errors.NewTransportError(errors.TransportErrorAcceptFailure, "server socket closed", net.ErrClosed)
		}
		return nil, errors.NewTransportError(errors.TransportErrorAcceptFailure, "accept failed", err)
	}

	remote, err := s.resolver.Identify(ctx, sa, true)
	if err != nil {
		unix.Close(nfd)
		return nil, err
	}

	lsa, err := unix.Getsockname(nfd)
	if err != nil {
		unix.Close(nfd)
		return nil, errors.NewResolutionError(errors.ResolutionErrorSockname, "getsockname failed", err)
	}
	local, err := s.resolver.Identify(ctx, lsa, false)
	if err != nil {
		unix.Close(nfd)
		return nil, err
	}

	return &Accepted{Fd: nfd, Remote: remote, Local: local}, nil
}

// Fd returns the listening descriptor, or -1 when not listening.
func (s *ServerSocket) Fd() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return -1
	}
	return s.fd
}

// Family returns the address family chosen by BindAndListen.
func (s *ServerSocket) Family() endpoint.Family {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.family
}

// Port returns the bound port, which differs from the configured one when
// that was 0.
func (s *ServerSocket) Port() uint16 {
	fd, ok := s.acquire()
	if !ok {
		return s.port
	}
	defer s.release()
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return s.port
	}
	if tcpAddr := sockaddrnet.SockaddrToTCPAddr(sa); tcpAddr != nil {
		return uint16(tcpAddr.Port)
	}
	return s.port
}

// Close shuts the listening socket down, waking a blocked Accept. The
// descriptor itself is released once no Accept is using it. Close is
// idempotent.
func (s *ServerSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 || s.closed {
		return nil
	}
	s.closed = true
	_ = unix.Shutdown(s.fd, unix.SHUT_RDWR)
	if s.users > 0 {
		return nil
	}
	return s.closeFdLocked()
}

func (s *ServerSocket) acquire() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.fd < 0 {
		return -1, false
	}
	s.users++
	return s.fd, true
}

func (s *ServerSocket) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users--
	if s.closed && s.users == 0 && s.fd >= 0 {
		_ = s.closeFdLocked()
	}
}

func (s *ServerSocket) closeFdLocked() error {
	err := unix.Close(s.fd)
	s.fd = -1
	if err != nil {
		return errors.NewTransportError(errors.TransportErrorSocketCreateFailure, "failed to close listening socket", err)
	}
	return nil
}

func (s *ServerSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// waitReadable parks until fd is readable or pollInterval elapses.
func waitReadable(fd int) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	_, err := unix.Poll(fds, pollInterval)
	if err == unix.EINTR {
		return nil
	}
	return err
}

func passiveCandidates(family endpoint.Family, port int) []*net.TCPAddr {
	v4 := &net.TCPAddr{IP: net.IPv4zero, Port: port}
	v6 := &net.TCPAddr{IP: net.IPv6unspecified, Port: port}
	switch family {
	case endpoint.FamilyV4:
		return []*net.TCPAddr{v4}
	case endpoint.FamilyV6:
		return []*net.TCPAddr{v6}
	default:
		return []*net.TCPAddr{v6, v4}
	}
}
