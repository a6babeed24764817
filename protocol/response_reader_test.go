package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nczempin/httpd-go-uring/errors"
)

func TestResponseReader_Pipelined(t *testing.T) {
	first := NewHttpResponse(200, "OK")
	first.Body = []byte("first body")
	second := NewHttpResponse(404, "Not Found")
	second.SetHeader("Content-Type", "text/html")
	second.Body = []byte("<p>missing</p>")

	stream := string(first.Bytes()) + string(second.Bytes())
	r := NewResponseReader(newScripted(stream[:7], stream[7:40], stream[40:]))

	resp, err := r.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "OK", resp.Message)
	assert.Equal(t, "first body", string(resp.Body))

	resp, err = r.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "Not Found", resp.Message)
	ct, ok := resp.Header("content-type")
	assert.True(t, ok)
	assert.Equal(t, "text/html", ct)
	assert.Equal(t, "<p>missing</p>", string(resp.Body))
}

func TestResponseReader_NoContentLengthReadsToClose(t *testing.T) {
	r := NewResponseReader(newScripted("HTTP/1.0 200 OK\r\nServer: x\r\n\r\npart one,", " part two"))

	resp, err := r.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, "part one, part two", string(resp.Body))
}

func TestResponseReader_TruncatedBody(t *testing.T) {
	r := NewResponseReader(newScripted("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nabc"))

	_, err := r.ReadResponse()
	require.Error(t, err)
	assert.True(t, errors.IsProtocol(err, errors.ProtocolErrorIncompleteResponse))
}

func TestResponseReader_ClosedBeforeHeaders(t *testing.T) {
	r := NewResponseReader(newScripted("HTTP/1.1 200"))

	_, err := r.ReadResponse()
	require.Error(t, err)
	assert.True(t, errors.IsProtocol(err, errors.ProtocolErrorIncompleteResponse))
}

func TestResponseReader_InvalidStatusLine(t *testing.T) {
	r := NewResponseReader(newScripted("HTTP/1.1 abc OK\r\nContent-Length: 0\r\n\r\n"))

	_, err := r.ReadResponse()
	require.Error(t, err)
	assert.True(t, errors.IsProtocol(err, errors.ProtocolErrorInvalidStatusLine))
}

func TestResponseReader_TransportErrorPassesThrough(t *testing.T) {
	st := newScripted()
	st.readErr = errors.NewTransportError(errors.TransportErrorTimeout, "read timed out", nil)

	_, err := NewResponseReader(st).ReadResponse()
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err, errors.TransportErrorTimeout))
}
