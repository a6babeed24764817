package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType int

const (
	ErrorNone ErrorType = iota
	ErrorTransport
	ErrorProtocol
	ErrorResolution
	ErrorInvalidArgument
)

func (t ErrorType) String() string {
	switch t {
	case ErrorNone:
		return "None"
	case ErrorTransport:
		return "Transport"
	case ErrorProtocol:
		return "Protocol"
	case ErrorResolution:
		return "Resolution"
	case ErrorInvalidArgument:
		return "InvalidArgument"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(t))
	}
}

// TransportError represents socket and I/O level errors
type TransportError int

const (
	TransportErrorNone TransportError = iota
	TransportErrorSocketCreateFailure
	TransportErrorBindFailure
	TransportErrorListenFailure
	TransportErrorAcceptFailure
	TransportErrorSocketConnectFailure
	TransportErrorSocketReadFailure
	TransportErrorSocketWriteFailure
	TransportErrorShortWrite
	TransportErrorConnectionClosed
	TransportErrorTimeout
	TransportErrorIoUringInit
	TransportErrorIoUringSubmit
)

// ProtocolError represents request framing and parsing errors
type ProtocolError int

const (
	ProtocolErrorNone ProtocolError = iota
	ProtocolErrorIncompleteRequest
	ProtocolErrorMissingMethod
	ProtocolErrorMalformedRequestLine
	ProtocolErrorUnsupportedMethod
	ProtocolErrorHeaderTooLarge
	ProtocolErrorInvalidStatusLine
	ProtocolErrorIncompleteResponse
)

// ResolutionError represents endpoint identity errors. The codes mirror the
// getnameinfo(3) results the acceptor distinguishes.
type ResolutionError int

const (
	ResolutionErrorNone ResolutionError = iota
	ResolutionErrorUnsupportedFamily
	ResolutionErrorNoName
	ResolutionErrorTryAgain
	ResolutionErrorLookup
	ResolutionErrorSockname
)

// HttpError is the single error type returned by every package of the server
type HttpError struct {
	Type          ErrorType
	TransportErr  TransportError
	ProtocolErr   ProtocolError
	ResolutionErr ResolutionError
	Message       string
	UnderlyingErr error
}

// Error implements the error interface
func (e *HttpError) Error() string {
	if e == nil {
		return "no error"
	}

	var typeStr string
	switch e.Type {
	case ErrorTransport:
		typeStr = fmt.Sprintf("Transport error (%d)", e.TransportErr)
	case ErrorProtocol:
		typeStr = fmt.Sprintf("Protocol error (%d)", e.ProtocolErr)
	case ErrorResolution:
		typeStr = fmt.Sprintf("Resolution error (%d)", e.ResolutionErr)
	case ErrorInvalidArgument:
		typeStr = "Invalid argument"
	default:
		typeStr = "Unknown error"
	}

	if e.Message != "" {
		typeStr = fmt.Sprintf("%s: %s", typeStr, e.Message)
	}

	if e.UnderlyingErr != nil {
		return fmt.Sprintf("%s (caused by: %v)", typeStr, e.UnderlyingErr)
	}

	return typeStr
}

// Unwrap returns the underlying error for error chain support
func (e *HttpError) Unwrap() error {
	return e.UnderlyingErr
}

// NewTransportError creates a new transport error
func NewTransportError(err TransportError, message string, underlying error) *HttpError {
	return &HttpError{
		Type:          ErrorTransport,
		TransportErr:  err,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NewProtocolError creates a new protocol error
func NewProtocolError(err ProtocolError, message string, underlying error) *HttpError {
	return &HttpError{
		Type:          ErrorProtocol,
		ProtocolErr:   err,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NewResolutionError creates a new endpoint resolution error
func NewResolutionError(err ResolutionError, message string, underlying error) *HttpError {
	return &HttpError{
		Type:          ErrorResolution,
		ResolutionErr: err,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string) *HttpError {
	return &HttpError{
		Type:    ErrorInvalidArgument,
		Message: message,
	}
}

// As returns the first *HttpError in err's chain.
func As(err error) (*HttpError, bool) {
	var he *HttpError
	if stderrors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// IsTransport reports whether any error in err's chain carries the given
// transport code.
func IsTransport(err error, code TransportError) bool {
	return walk(err, func(he *HttpError) bool {
		return he.Type == ErrorTransport && he.TransportErr == code
	})
}

// IsProtocol reports whether any error in err's chain carries the given
// protocol code.
func IsProtocol(err error, code ProtocolError) bool {
	return walk(err, func(he *HttpError) bool {
		return he.Type == ErrorProtocol && he.ProtocolErr == code
	})
}

// IsResolution reports whether any error in err's chain carries the given
// resolution code.
func IsResolution(err error, code ResolutionError) bool {
	return walk(err, func(he *HttpError) bool {
		return he.Type == ErrorResolution && he.ResolutionErr == code
	})
}

func walk(err error, match func(*HttpError) bool) bool {
	for err != nil {
		if he, ok := err.(*HttpError); ok && he != nil && match(he) {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}
