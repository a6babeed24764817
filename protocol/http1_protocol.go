package protocol

import (
	"bytes"
	"fmt"
	"html"

	"github.com/nczempin/httpd-go-uring/errors"
	"github.com/nczempin/httpd-go-uring/transport"
)

const (
	// readChunkSize bounds a single transport read
	readChunkSize = 1024

	// DefaultMaxHeaderBytes caps an unterminated header block
	DefaultMaxHeaderBytes = 8 << 10
)

var (
	headerSeparator = []byte("\r\n\r\n")
	lineBreak       = []byte("\r\n")
	allowedMethod   = []byte(MethodGet)
)

// Connection reads requests from and writes responses to one accepted
// connection. Bytes read past the end of a request stay in the buffer for the
// next call, so pipelined requests are served in order.
//
// A Connection must only be used by one goroutine.
type Connection struct {
	transport      transport.Transport
	buffer         []byte
	maxHeaderBytes int
}

// NewConnection wraps t. A non-positive maxHeaderBytes selects
// DefaultMaxHeaderBytes.
func NewConnection(t transport.Transport, maxHeaderBytes int) *Connection {
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = DefaultMaxHeaderBytes
	}
	return &Connection{
		transport:      t,
		buffer:         make([]byte, 0, readChunkSize),
		maxHeaderBytes: maxHeaderBytes,
	}
}

// GetNextRequest returns the next complete request on the connection. It
// fails when the peer goes away before a header terminator arrives, when the
// header block does not open with a GET request line, or when the block cannot be decoded; the
// connection should then be closed.
func (c *Connection) GetNextRequest() (*HttpRequest, error) {
	readBuf := make([]byte, readChunkSize)

	for {
		// The buffer may already hold a whole pipelined request
		if req, found, err := c.takeRequest(); found || err != nil {
			return req, err
		}

		if len(c.buffer) > c.maxHeaderBytes {
			return nil, errors.NewProtocolError(
				errors.ProtocolErrorHeaderTooLarge,
				fmt.Sprintf("request header exceeds %d bytes", c.maxHeaderBytes),
				nil,
			)
		}

		n, err := c.transport.Read(readBuf)
		if n > 0 {
			c.buffer = append(c.buffer, readBuf[:n]...)
		}
		if err != nil {
			if n > 0 {
				if req, found, perr := c.takeRequest(); found || perr != nil {
					return req, perr
				}
			}
			return nil, errors.NewProtocolError(
				errors.ProtocolErrorIncompleteRequest,
				"connection ended before the request header was complete",
				err,
			)
		}
	}
}

// takeRequest decodes the first request in the buffer and drops its bytes.
// found is false when no header terminator has been buffered yet. On error
// the buffer is left untouched.
func (c *Connection) takeRequest() (*HttpRequest, bool, error) {
	end := bytes.Index(c.buffer, headerSeparator)
	if end < 0 {
		return nil, false, nil
	}

	start := methodStart(c.buffer[:end])
	if start < 0 {
		return nil, true, errors.NewProtocolError(
			errors.ProtocolErrorMissingMethod,
			"header block has no GET request line",
			nil,
		)
	}

	req, err := ParseRequest(html.EscapeString(string(c.buffer[start:end])))
	if err != nil {
		return nil, true, err
	}

	n := copy(c.buffer, c.buffer[end+len(headerSeparator):])
	c.buffer = c.buffer[:n]
	return req, true, nil
}

// methodStart returns the offset of the GET request line in block, or -1.
// Empty lines ahead of the request line are skipped. The token must start the
// first non-empty line and be followed by whitespace or a line end.
func methodStart(block []byte) int {
	start := 0
	for bytes.HasPrefix(block[start:], lineBreak) {
		start += len(lineBreak)
	}
	if !bytes.HasPrefix(block[start:], allowedMethod) {
		return -1
	}
	if rest := block[start+len(allowedMethod):]; len(rest) > 0 && rest[0] != ' ' && rest[0] != '\t' && rest[0] != '\r' {
		return -1
	}
	return start
}

// Buffered returns the bytes read but not yet consumed by a request
func (c *Connection) Buffered() []byte {
	return c.buffer
}

// WriteResponse serialises resp and writes it in one call. Anything short of
// the full response is an error.
func (c *Connection) WriteResponse(resp *HttpResponse) error {
	data := resp.Bytes()
	n, err := c.transport.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return errors.NewTransportError(
			errors.TransportErrorShortWrite,
			fmt.Sprintf("wrote %d of %d response bytes", n, len(data)),
			nil,
		)
	}
	return nil
}

// Shutdown wakes a GetNextRequest blocked in another goroutine; the pending
// call fails and the connection is done.
func (c *Connection) Shutdown() error {
	return c.transport.Shutdown()
}

// Close closes the underlying transport
func (c *Connection) Close() error {
	return c.transport.Close()
}
