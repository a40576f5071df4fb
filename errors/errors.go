// Package errors defines the error taxonomy shared by the transport and
// protocol layers. Every failure surfaced by the core is an *HttpError whose
// kind can be inspected directly or matched with the standard errors.Is
// against the sentinel values declared below.
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
	ErrorInvalidArgument
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTransport:
		return "transport"
	case ErrorProtocol:
		return "protocol"
	case ErrorInvalidArgument:
		return "invalid argument"
	default:
		return "none"
	}
}

// TransportError represents transport-layer specific errors
type TransportError int

const (
	TransportErrorNone TransportError = iota
	TransportErrorConnect
	TransportErrorTLS
	TransportErrorWrite
	TransportErrorRead
	TransportErrorConnectionClosed
	TransportErrorTimeout
	TransportErrorInitFailure
	TransportErrorIoUringSubmit
)

func (e TransportError) String() string {
	switch e {
	case TransportErrorConnect:
		return "connect failed"
	case TransportErrorTLS:
		return "TLS handshake failed"
	case TransportErrorWrite:
		return "socket write failed"
	case TransportErrorRead:
		return "socket read failed"
	case TransportErrorConnectionClosed:
		return "connection closed"
	case TransportErrorTimeout:
		return "timed out"
	case TransportErrorInitFailure:
		return "initialization failed"
	case TransportErrorIoUringSubmit:
		return "io_uring submission failed"
	case TransportErrorNone:
		return "none"
	default:
		return fmt.Sprintf("unknown transport error %d", int(e))
	}
}

// ProtocolError represents protocol-layer specific errors
type ProtocolError int

const (
	ProtocolErrorNone ProtocolError = iota
	ProtocolErrorIncompleteHeader
	ProtocolErrorMissingContentLength
	ProtocolErrorMalformedStatusLine
	ProtocolErrorShortRead
	ProtocolErrorBodyTooLarge
)

func (e ProtocolError) String() string {
	switch e {
	case ProtocolErrorIncompleteHeader:
		return "incomplete header"
	case ProtocolErrorMissingContentLength:
		return "missing content length"
	case ProtocolErrorMalformedStatusLine:
		return "malformed status line"
	case ProtocolErrorShortRead:
		return "short read"
	case ProtocolErrorBodyTooLarge:
		return "body too large"
	case ProtocolErrorNone:
		return "none"
	default:
		return fmt.Sprintf("unknown protocol error %d", int(e))
	}
}

// Sentinels for errors.Is. Only the kind is compared.
var (
	ErrConnect          = &HttpError{Type: ErrorTransport, TransportErr: TransportErrorConnect}
	ErrTLS              = &HttpError{Type: ErrorTransport, TransportErr: TransportErrorTLS}
	ErrWrite            = &HttpError{Type: ErrorTransport, TransportErr: TransportErrorWrite}
	ErrRead             = &HttpError{Type: ErrorTransport, TransportErr: TransportErrorRead}
	ErrConnectionClosed = &HttpError{Type: ErrorTransport, TransportErr: TransportErrorConnectionClosed}
	ErrTimeout          = &HttpError{Type: ErrorTransport, TransportErr: TransportErrorTimeout}

	ErrIncompleteHeader     = &HttpError{Type: ErrorProtocol, ProtocolErr: ProtocolErrorIncompleteHeader}
	ErrMissingContentLength = &HttpError{Type: ErrorProtocol, ProtocolErr: ProtocolErrorMissingContentLength}
	ErrMalformedStatusLine  = &HttpError{Type: ErrorProtocol, ProtocolErr: ProtocolErrorMalformedStatusLine}
	ErrShortRead            = &HttpError{Type: ErrorProtocol, ProtocolErr: ProtocolErrorShortRead}
	ErrBodyTooLarge         = &HttpError{Type: ErrorProtocol, ProtocolErr: ProtocolErrorBodyTooLarge}
)

// HttpError is the main error type for the HTTP client
type HttpError struct {
	Type          ErrorType
	TransportErr  TransportError
	ProtocolErr   ProtocolError
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
		typeStr = fmt.Sprintf("transport error: %s", e.TransportErr)
	case ErrorProtocol:
		typeStr = fmt.Sprintf("protocol error: %s", e.ProtocolErr)
	case ErrorInvalidArgument:
		typeStr = "invalid argument"
	default:
		typeStr = "unknown error"
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

// Is reports whether target is an *HttpError of the same kind.
func (e *HttpError) Is(target error) bool {
	t, ok := target.(*HttpError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Type == t.Type && e.TransportErr == t.TransportErr && e.ProtocolErr == t.ProtocolErr
}

// IsProtocol reports whether err carries a protocol-level HttpError, i.e. the
// server sent a response that violates the HTTP/1.1 + Content-Length contract.
func IsProtocol(err error) bool {
	var he *HttpError
	return stderrors.As(err, &he) && he.Type == ErrorProtocol
}

// IsTransport reports whether err carries a transport-level HttpError.
func IsTransport(err error) bool {
	var he *HttpError
	return stderrors.As(err, &he) && he.Type == ErrorTransport
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
func NewProtocolError(err ProtocolError, message string) *HttpError {
	return &HttpError{
		Type:        ErrorProtocol,
		ProtocolErr: err,
		Message:     message,
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string) *HttpError {
	return &HttpError{
		Type:    ErrorInvalidArgument,
		Message: message,
	}
}
