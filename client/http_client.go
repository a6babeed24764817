// Package client is a small pipelining HTTP/1.1 GET client used to probe the
// server.
package client

import (
	"bytes"
	"time"

	"github.com/nczempin/httpd-go-uring/errors"
	"github.com/nczempin/httpd-go-uring/protocol"
	"github.com/nczempin/httpd-go-uring/transport"
)

// HttpClient provides a GET-only client over one connection
type HttpClient struct {
	backend     transport.Backend
	readTimeout time.Duration
	transport   transport.Transport
	reader      *protocol.ResponseReader
}

// NewHttpClient creates a client that will use the given I/O backend. A zero
// readTimeout leaves reads unbounded.
func NewHttpClient(backend transport.Backend, readTimeout time.Duration) *HttpClient {
	return &HttpClient{
		backend:     backend,
		readTimeout: readTimeout,
	}
}

// Connect establishes a connection to the specified host and port
func (c *HttpClient) Connect(host string, port int) error {
	if c.transport != nil {
		return errors.NewInvalidArgumentError("client is already connected")
	}

	fd, err := transport.Dial(host, port)
	if err != nil {
		return err
	}

	t, err := transport.New(c.backend, fd, transport.Options{})
	if err != nil {
		return err
	}
	if c.readTimeout > 0 {
		if err := t.SetReadTimeout(c.readTimeout); err != nil {
			t.Close()
			return err
		}
	}

	c.transport = t
	c.reader = protocol.NewResponseReader(t)
	return nil
}

// Disconnect closes the connection
func (c *HttpClient) Disconnect() error {
	if c.transport == nil {
		return nil
	}
	err := c.transport.Close()
	c.transport = nil
	c.reader = nil
	return err
}

// Get sends one request and waits for its response
func (c *HttpClient) Get(req *protocol.HttpRequest) (*protocol.HttpResponse, error) {
	resps, err := c.Pipeline([]*protocol.HttpRequest{req})
	if err != nil {
		return nil, err
	}
	return resps[0], nil
}

// Pipeline writes every request in a single write and then reads the
// responses in order. On error the responses read so far are returned.
func (c *HttpClient) Pipeline(reqs []*protocol.HttpRequest) ([]*protocol.HttpResponse, error) {
	var buf bytes.Buffer
	for _, req := range reqs {
		if req.Method != "" && req.Method != protocol.MethodGet {
			return nil, errors.NewInvalidArgumentError("only GET requests are supported")
		}
		buf.Write(req.Bytes())
	}

	if err := c.SendRaw(buf.Bytes()); err != nil {
		return nil, err
	}

	resps := make([]*protocol.HttpResponse, 0, len(reqs))
	for range reqs {
		resp, err := c.ReadResponse()
		if err != nil {
			return resps, err
		}
		resps = append(resps, resp)
	}
	return resps, nil
}

// SendRaw writes bytes to the server unchanged
func (c *HttpClient) SendRaw(data []byte) error {
	if c.transport == nil {
		return errors.NewTransportError(errors.TransportErrorSocketWriteFailure, "not connected", nil)
	}
	n, err := c.transport.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return errors.NewTransportError(errors.TransportErrorShortWrite, "request was only partly written", nil)
	}
	return nil
}

// ReadResponse reads the next response from the connection
func (c *HttpClient) ReadResponse() (*protocol.HttpResponse, error) {
	if c.reader == nil {
		return nil, errors.NewTransportError(errors.TransportErrorConnectionClosed, "not connected", nil)
	}
	return c.reader.ReadResponse()
}

// Probe connects, pipelines a GET for every uri and disconnects
func Probe(host string, port int, backend transport.Backend, timeout time.Duration, uris ...string) ([]*protocol.HttpResponse, error) {
	c := NewHttpClient(backend, timeout)
	if err := c.Connect(host, port); err != nil {
		return nil, err
	}
	defer c.Disconnect()

	reqs := make([]*protocol.HttpRequest, 0, len(uris))
	for _, uri := range uris {
		req := protocol.NewHttpRequest()
		req.URI = uri
		req.Headers["host"] = host
		reqs = append(reqs, req)
	}
	return c.Pipeline(reqs)
}
