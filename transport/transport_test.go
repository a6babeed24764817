package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nczempin/httpd-go-uring/errors"
)

var allBackends = []Backend{BackendSyscall, BackendNetpoll, BackendIoUring, BackendUring}

func setupTcpTestServer(t *testing.T, serverLogic func(net.Conn)) (string, int, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to create test server")

	addr := listener.Addr().(*net.TCPAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		serverLogic(conn)
		conn.Close()
	}()

	cleanup := func() {
		listener.Close()
		<-done
	}

	return addr.IP.String(), addr.Port, cleanup
}

// dialTransport connects to host:port and wraps the descriptor, skipping the
// test when the backend is unavailable on this kernel.
func dialTransport(t *testing.T, backend Backend, host string, port int) Transport {
	t.Helper()
	fd, err := Dial(host, port)
	require.NoError(t, err)

	tr, err := New(backend, fd, Options{})
	if errors.IsTransport(err, errors.TransportErrorIoUringInit) {
		t.Skipf("%s backend unavailable: %v", backend, err)
	}
	require.NoError(t, err)
	return tr
}

func TestTransport_WriteAndRead(t *testing.T) {
	for _, backend := range allBackends {
		t.Run(string(backend), func(t *testing.T) {
			host, port, cleanup := setupTcpTestServer(t, func(conn net.Conn) {
				buf := make([]byte, 64)
				n, err := conn.Read(buf)
				if err != nil {
					return
				}
				conn.Write([]byte("echo:" + string(buf[:n])))
			})
			defer cleanup()

			tr := dialTransport(t, backend, host, port)
			defer tr.Close()

			n, err := tr.Write([]byte("hello"))
			require.NoError(t, err)
			assert.Equal(t, 5, n)

			buf := make([]byte, 64)
			got := ""
			for len(got) < len("echo:hello") {
				n, err = tr.Read(buf)
				require.NoError(t, err)
				got += string(buf[:n])
			}
			assert.Equal(t, "echo:hello", got)
		})
	}
}

func TestTransport_Read_PeerClosed(t *testing.T) {
	for _, backend := range allBackends {
		t.Run(string(backend), func(t *testing.T) {
			host, port, cleanup := setupTcpTestServer(t, func(conn net.Conn) {
				// Server immediately closes
			})
			defer cleanup()

			tr := dialTransport(t, backend, host, port)
			defer tr.Close()

			buf := make([]byte, 16)
			_, err := tr.Read(buf)
			require.Error(t, err)
			assert.True(t, errors.IsTransport(err, errors.TransportErrorConnectionClosed), "got %v", err)
		})
	}
}

func TestTransport_Read_Timeout(t *testing.T) {
	for _, backend := range allBackends {
		t.Run(string(backend), func(t *testing.T) {
			release := make(chan struct{})
			host, port, cleanup := setupTcpTestServer(t, func(conn net.Conn) {
				<-release
			})
			defer cleanup()
			defer close(release)

			tr := dialTransport(t, backend, host, port)
			defer tr.Close()
			require.NoError(t, tr.SetReadTimeout(100*time.Millisecond))

			start := time.Now()
			_, err := tr.Read(make([]byte, 16))
			require.Error(t, err)
			assert.True(t, errors.IsTransport(err, errors.TransportErrorTimeout), "got %v", err)
			assert.Less(t, time.Since(start), 3*time.Second)
		})
	}
}

func TestTransport_Close_Idempotent(t *testing.T) {
	for _, backend := range allBackends {
		t.Run(string(backend), func(t *testing.T) {
			host, port, cleanup := setupTcpTestServer(t, func(conn net.Conn) {})
			defer cleanup()

			tr := dialTransport(t, backend, host, port)
			require.NoError(t, tr.Close())
			require.NoError(t, tr.Close())

			_, err := tr.Write([]byte("x"))
			require.Error(t, err)
		})
	}
}

func TestNew_InvalidArguments(t *testing.T) {
	_, err := New(BackendSyscall, -1, Options{})
	require.Error(t, err)

	host, port, cleanup := setupTcpTestServer(t, func(conn net.Conn) {})
	defer cleanup()
	fd, err := Dial(host, port)
	require.NoError(t, err)
	_, err = New(Backend("carrier-pigeon"), fd, Options{})
	require.Error(t, err)
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("")
	require.NoError(t, err)
	assert.Equal(t, BackendIoUring, b)

	b, err = ParseBackend(" Netpoll ")
	require.NoError(t, err)
	assert.Equal(t, BackendNetpoll, b)

	_, err = ParseBackend("epoll")
	assert.Error(t, err)
}

func TestDial_ConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	_, err = Dial("127.0.0.1", port)
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err, errors.TransportErrorSocketConnectFailure))
}
