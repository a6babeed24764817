package client

import (
	"bytes"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nczempin/httpd-go-uring/errors"
	"github.com/nczempin/httpd-go-uring/protocol"
	"github.com/nczempin/httpd-go-uring/transport"
)

// setupTestServer creates a simple HTTP test server
func setupTestServer(t *testing.T, handler func(net.Conn)) (string, int, func()) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := listener.Addr().(*net.TCPAddr)

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}()

	cleanup := func() {
		listener.Close()
	}

	return addr.IP.String(), addr.Port, cleanup
}

// readRequests reads from conn until n header terminators have arrived
func readRequests(conn net.Conn, n int) []byte {
	var got []byte
	buf := make([]byte, 1024)
	for bytes.Count(got, []byte("\r\n\r\n")) < n {
		m, err := conn.Read(buf)
		if err != nil {
			break
		}
		got = append(got, buf[:m]...)
	}
	return got
}

func okResponse(body string) string {
	return fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
}

func TestHttpClient_Get(t *testing.T) {
	received := make(chan []byte, 1)
	host, port, cleanup := setupTestServer(t, func(conn net.Conn) {
		received <- readRequests(conn, 1)
		conn.Write([]byte(okResponse("Hello, World!")))
	})
	defer cleanup()

	client := NewHttpClient(transport.BackendSyscall, 5*time.Second)
	require.NoError(t, client.Connect(host, port))
	defer client.Disconnect()

	req := protocol.NewHttpRequest()
	req.URI = "/test"
	req.Headers["host"] = "localhost"

	resp, err := client.Get(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "Hello, World!", string(resp.Body))
	assert.Equal(t, "GET /test HTTP/1.1\r\nhost: localhost\r\n\r\n", string(<-received))
}

func TestHttpClient_Pipeline(t *testing.T) {
	host, port, cleanup := setupTestServer(t, func(conn net.Conn) {
		readRequests(conn, 3)
		conn.Write([]byte(okResponse("one") + okResponse("two") + okResponse("three")))
	})
	defer cleanup()

	client := NewHttpClient(transport.BackendNetpoll, 5*time.Second)
	require.NoError(t, client.Connect(host, port))
	defer client.Disconnect()

	var reqs []*protocol.HttpRequest
	for _, uri := range []string{"/1", "/2", "/3"} {
		req := protocol.NewHttpRequest()
		req.URI = uri
		reqs = append(reqs, req)
	}

	resps, err := client.Pipeline(reqs)
	require.NoError(t, err)
	require.Len(t, resps, 3)
	assert.Equal(t, "one", string(resps[0].Body))
	assert.Equal(t, "two", string(resps[1].Body))
	assert.Equal(t, "three", string(resps[2].Body))
}

func TestHttpClient_PipelinePartialOnClose(t *testing.T) {
	host, port, cleanup := setupTestServer(t, func(conn net.Conn) {
		readRequests(conn, 2)
		conn.Write([]byte(okResponse("only one")))
	})
	defer cleanup()

	client := NewHttpClient(transport.BackendSyscall, 5*time.Second)
	require.NoError(t, client.Connect(host, port))
	defer client.Disconnect()

	resps, err := client.Pipeline([]*protocol.HttpRequest{protocol.NewHttpRequest(), protocol.NewHttpRequest()})
	require.Error(t, err)
	assert.Len(t, resps, 1)
	assert.True(t, errors.IsProtocol(err, errors.ProtocolErrorIncompleteResponse))
}

func TestHttpClient_RejectsOtherMethods(t *testing.T) {
	client := NewHttpClient(transport.BackendSyscall, 0)

	req := protocol.NewHttpRequest()
	req.Method = "POST"
	_, err := client.Get(req)
	require.Error(t, err)
	he, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorInvalidArgument, he.Type)
}

func TestHttpClient_NotConnected(t *testing.T) {
	client := NewHttpClient(transport.BackendSyscall, 0)

	err := client.SendRaw([]byte("GET / HTTP/1.1\r\n\r\n"))
	assert.True(t, errors.IsTransport(err, errors.TransportErrorSocketWriteFailure))

	_, err = client.ReadResponse()
	assert.True(t, errors.IsTransport(err, errors.TransportErrorConnectionClosed))

	assert.NoError(t, client.Disconnect())
}

func TestHttpClient_ConnectTwice(t *testing.T) {
	host, port, cleanup := setupTestServer(t, func(conn net.Conn) {
		readRequests(conn, 1)
	})
	defer cleanup()

	client := NewHttpClient(transport.BackendSyscall, 0)
	require.NoError(t, client.Connect(host, port))
	defer client.Disconnect()
	assert.Error(t, client.Connect(host, port))
}

func TestProbe(t *testing.T) {
	host, port, cleanup := setupTestServer(t, func(conn net.Conn) {
		readRequests(conn, 2)
		conn.Write([]byte(okResponse("a") + okResponse("b")))
	})
	defer cleanup()

	resps, err := Probe(host, port, transport.BackendSyscall, 5*time.Second, "/a", "/b")
	require.NoError(t, err)
	require.Len(t, resps, 2)
	assert.Equal(t, "a", string(resps[0].Body))
	assert.Equal(t, "b", string(resps[1].Body))
}
