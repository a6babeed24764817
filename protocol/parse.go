package protocol

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/nczempin/httpd-go-uring/errors"
)

const (
	lineDelim     = "\r\n"
	keyValueDelim = ": "
)

// ParseRequest decodes one raw header block, request line first. Header lines
// without ": " are dropped; a repeated key keeps its last value.
func ParseRequest(raw string) (*HttpRequest, error) {
	req := NewHttpRequest()

	lines := strings.Split(strings.TrimRightFunc(raw, unicode.IsSpace), lineDelim)

	fields := strings.Fields(lines[0])
	if len(fields) < 2 {
		return nil, errors.NewProtocolError(
			errors.ProtocolErrorMalformedRequestLine,
			fmt.Sprintf("request line %q has fewer than two fields", lines[0]),
			nil,
		)
	}
	if fields[0] != MethodGet {
		return nil, errors.NewProtocolError(
			errors.ProtocolErrorUnsupportedMethod,
			fmt.Sprintf("unsupported method %q", fields[0]),
			nil,
		)
	}

	req.Method = fields[0]
	req.URI = fields[1]
	if len(fields) > 2 {
		req.Version = fields[2]
	}

	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, keyValueDelim)
		if !ok {
			continue
		}
		req.Headers[strings.ToLower(key)] = value
	}

	return req, nil
}
