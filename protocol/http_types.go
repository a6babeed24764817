package protocol

import (
	"bytes"
	"sort"
	"strconv"
	"strings"
)

// MethodGet is the only request method the server accepts
const MethodGet = "GET"

// DefaultVersion is written on requests and responses that do not name one
const DefaultVersion = "HTTP/1.1"

// HttpRequest is a decoded request header block. Header keys are lowercase.
type HttpRequest struct {
	Method  string
	URI     string
	Version string
	Headers map[string]string
}

// NewHttpRequest returns a request for "/" with no headers
func NewHttpRequest() *HttpRequest {
	return &HttpRequest{
		Method:  MethodGet,
		URI:     "/",
		Headers: make(map[string]string),
	}
}

// Header returns the value stored under the lowercased key
func (r *HttpRequest) Header(key string) (string, bool) {
	v, ok := r.Headers[strings.ToLower(key)]
	return v, ok
}

// WantsClose reports whether the peer asked for the connection to end after
// this request.
func (r *HttpRequest) WantsClose() bool {
	conn, ok := r.Header("connection")
	if ok && strings.EqualFold(strings.TrimSpace(conn), "close") {
		return true
	}
	return r.Version == "HTTP/1.0" && !(ok && strings.EqualFold(strings.TrimSpace(conn), "keep-alive"))
}

// Bytes renders the request in wire format. Headers are written in key order.
func (r *HttpRequest) Bytes() []byte {
	var buf bytes.Buffer

	method := r.Method
	if method == "" {
		method = MethodGet
	}
	uri := r.URI
	if uri == "" {
		uri = "/"
	}
	version := r.Version
	if version == "" {
		version = DefaultVersion
	}

	buf.WriteString(method + " " + uri + " " + version + "\r\n")
	writeHeaders(&buf, r.Headers)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// HttpResponse is a status line, headers and a body
type HttpResponse struct {
	Protocol   string
	StatusCode int
	Message    string
	Headers    map[string]string
	Body       []byte
}

// NewHttpResponse returns an empty response with the given status
func NewHttpResponse(code int, message string) *HttpResponse {
	return &HttpResponse{
		Protocol:   DefaultVersion,
		StatusCode: code,
		Message:    message,
		Headers:    make(map[string]string),
	}
}

// SetHeader stores a header, replacing any key that differs only in case
func (r *HttpResponse) SetHeader(key, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	for k := range r.Headers {
		if strings.EqualFold(k, key) {
			delete(r.Headers, k)
		}
	}
	r.Headers[key] = value
}

// Header looks a header up case-insensitively
func (r *HttpResponse) Header(key string) (string, bool) {
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Bytes serialises the response. Content-Length always matches Body.
func (r *HttpResponse) Bytes() []byte {
	var buf bytes.Buffer

	proto := r.Protocol
	if proto == "" {
		proto = DefaultVersion
	}
	buf.WriteString(proto + " " + strconv.Itoa(r.StatusCode) + " " + r.Message + "\r\n")

	headers := make(map[string]string, len(r.Headers)+1)
	for k, v := range r.Headers {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		headers[k] = v
	}
	headers["Content-Length"] = strconv.Itoa(len(r.Body))
	writeHeaders(&buf, headers)

	buf.WriteString("\r\n")
	buf.Write(r.Body)
	return buf.Bytes()
}

func writeHeaders(buf *bytes.Buffer, headers map[string]string) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString(k + ": " + headers[k] + "\r\n")
	}
}
