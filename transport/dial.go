package transport

import (
	"fmt"
	"net"
	"strconv"

	sockaddrnet "github.com/libp2p/go-sockaddr/net"
	"golang.org/x/sys/unix"

	"github.com/nczempin/httpd-go-uring/errors"
)

// Dial opens a blocking TCP connection to host:port and returns the raw
// descriptor, ready to be handed to New.
func Dial(host string, port int) (int, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, errors.NewTransportError(
			errors.TransportErrorSocketConnectFailure,
			fmt.Sprintf("failed to resolve %s", addr),
			err,
		)
	}

	sa := sockaddrnet.TCPAddrToSockaddr(tcpAddr)
	if sa == nil {
		return -1, errors.NewInvalidArgumentError(fmt.Sprintf("unusable address %s", tcpAddr))
	}

	fd, err := unix.Socket(sockaddrnet.NetAddrAF(tcpAddr), unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, errors.NewTransportError(
			errors.TransportErrorSocketCreateFailure,
			"failed to create socket",
			err,
		)
	}

	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return -1, errors.NewTransportError(
			errors.TransportErrorSocketConnectFailure,
			fmt.Sprintf("failed to connect to %s", addr),
			err,
		)
	}

	// Set TCP_NODELAY
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		unix.Close(fd)
		return -1, errors.NewTransportError(
			errors.TransportErrorSocketCreateFailure,
			"failed to set TCP_NODELAY",
			err,
		)
	}

	return fd, nil
}
