package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/nczempin/httpd-go-uring/errors"
	"github.com/nczempin/httpd-go-uring/transport"
)

var contentLengthKey = []byte("content-length:")

// ResponseReader reads Content-Length framed responses off a connection on
// which several requests may be outstanding.
type ResponseReader struct {
	transport transport.Transport
	buffer    []byte
}

// NewResponseReader wraps t
func NewResponseReader(t transport.Transport) *ResponseReader {
	return &ResponseReader{
		transport: t,
		buffer:    make([]byte, 0, readChunkSize),
	}
}

// ReadResponse returns the next response. A response without Content-Length
// runs until the peer closes the connection.
func (r *ResponseReader) ReadResponse() (*HttpResponse, error) {
	readBuf := make([]byte, readChunkSize)
	headerSize := 0
	contentLength := -1
	closed := false

	for {
		if headerSize == 0 {
			if pos := bytes.Index(r.buffer, headerSeparator); pos >= 0 {
				headerSize = pos + len(headerSeparator)
				contentLength = parseContentLength(r.buffer[:headerSize])
			}
		}

		if headerSize > 0 && contentLength >= 0 && len(r.buffer) >= headerSize+contentLength {
			break
		}
		if closed {
			if headerSize == 0 || contentLength >= 0 {
				return nil, errors.NewProtocolError(
					errors.ProtocolErrorIncompleteResponse,
					"connection closed before complete response received",
					nil,
				)
			}
			contentLength = len(r.buffer) - headerSize
			break
		}

		n, err := r.transport.Read(readBuf)
		if n > 0 {
			r.buffer = append(r.buffer, readBuf[:n]...)
		}
		if err != nil {
			if !errors.IsTransport(err, errors.TransportErrorConnectionClosed) {
				return nil, err
			}
			closed = true
		}
	}

	resp, err := parseResponse(r.buffer[:headerSize-len(headerSeparator)])
	if err != nil {
		return nil, err
	}
	resp.Body = append([]byte(nil), r.buffer[headerSize:headerSize+contentLength]...)

	n := copy(r.buffer, r.buffer[headerSize+contentLength:])
	r.buffer = r.buffer[:n]
	return resp, nil
}

// parseContentLength extracts Content-Length from a header block
func parseContentLength(headersView []byte) int {
	lines := bytes.Split(headersView, []byte("\n"))
	for _, line := range lines[1:] { // Skip status line
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			break
		}

		if bytes.HasPrefix(bytes.ToLower(line), contentLengthKey) {
			valueStr := strings.TrimSpace(string(line[len(contentLengthKey):]))
			if length, err := strconv.Atoi(valueStr); err == nil && length >= 0 {
				return length
			}
		}
	}
	return -1
}

// parseResponse decodes a status line and headers
func parseResponse(headersBlock []byte) (*HttpResponse, error) {
	parts := bytes.SplitN(headersBlock, []byte("\n"), 2)
	statusLine := bytes.TrimSuffix(parts[0], []byte("\r"))

	// Parse status line: "HTTP/1.1 200 OK"
	statusParts := bytes.SplitN(statusLine, []byte(" "), 3)
	if len(statusParts) < 2 {
		return nil, errors.NewProtocolError(
			errors.ProtocolErrorInvalidStatusLine,
			"invalid status line format",
			nil,
		)
	}

	statusCode, err := strconv.Atoi(string(statusParts[1]))
	if err != nil {
		return nil, errors.NewProtocolError(
			errors.ProtocolErrorInvalidStatusLine,
			fmt.Sprintf("invalid status code: %s", statusParts[1]),
			err,
		)
	}

	resp := &HttpResponse{
		Protocol:   string(statusParts[0]),
		StatusCode: statusCode,
		Headers:    make(map[string]string),
	}
	if len(statusParts) >= 3 {
		resp.Message = string(statusParts[2])
	}

	if len(parts) > 1 {
		for _, line := range bytes.Split(parts[1], []byte("\n")) {
			line = bytes.TrimSuffix(line, []byte("\r"))
			if len(line) == 0 {
				break
			}

			headerParts := bytes.SplitN(line, []byte(":"), 2)
			if len(headerParts) == 2 {
				resp.Headers[string(headerParts[0])] = strings.TrimSpace(string(headerParts[1]))
			}
		}
	}

	return resp, nil
}
