// Package rawerr provides the engine's structured error taxonomy: a
// caller-facing *Error carrying Authority/Role/Protocol context (the
// same vocabulary Session, Peer, and Listener are built around), and
// the CloseReason tags a Session stores at teardown. The two are
// related rather than independent: CloseReason.ErrorType maps a close
// tag onto the *Error category the same failure would carry.
package rawerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorType categorizes the layer at which an operation failed.
type ErrorType string

const (
	ErrorTypeDNS ErrorType = "dns"
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeTLS ErrorType = "tls"
	ErrorTypeTimeout ErrorType = "timeout"
	ErrorTypeProtocol ErrorType = "protocol"
	ErrorTypeIO ErrorType = "io"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypePool ErrorType = "pool"
)

// Error is a structured error carrying the context a Session/Peer/
// Listener failure happens in: the authority it concerns, which side
// of the connection hit it, and — once protocol negotiation has
// happened — h1.1 or h2.
type Error struct {
	Type ErrorType
	Op string
	Message string
	Cause error

	// Authority is the host:port this failure concerns: a Peer's
	// dial target, a Listener's bound address, or an accepted
	// connection's remote address — the same Authority vocabulary
	// Peer/Listener are built around, rather than separate
	// host/port/addr fields.
	Authority string
	// Role is "client" or "server"; empty when the failure has no
	// connection side yet (NewValidationError on a bare config value).
	Role string
	// Protocol is "h1.1" or "h2" once negotiated; empty beforehand.
	Protocol string

	Timestamp time.Time
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Type))
	if e.Role != "" {
		parts = append(parts, e.Role)
	}
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Authority != "" {
		parts = append(parts, e.Authority)
	}
	if e.Protocol != "" {
		parts = append(parts, e.Protocol)
	}
	s := strings.Join(parts, " ")
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// NewDNSError reports a failed name resolution for a Peer's authority.
func NewDNSError(authority string, cause error) *Error {
	return &Error{Type: ErrorTypeDNS, Op: "lookup", Role: "client",
		Message: fmt.Sprintf("DNS lookup failed for %s", authority),
		Cause: cause, Authority: authority, Timestamp: time.Now()}
}

// NewConnectionError reports a Peer dial failure or a Listener
// bind/accept failure; role is "client" or "server" accordingly.
func NewConnectionError(authority, role string, cause error) *Error {
	return &Error{Type: ErrorTypeConnection, Op: "dial", Role: role,
		Message: fmt.Sprintf("failed to connect to %s", authority),
		Cause: cause, Authority: authority, Timestamp: time.Now()}
}

// NewTLSError reports a handshake or ALPN-negotiation failure for the
// named authority on the given role.
func NewTLSError(authority, role string, cause error) *Error {
	return &Error{Type: ErrorTypeTLS, Op: "handshake", Role: role,
		Message: fmt.Sprintf("TLS handshake failed for %s", authority),
		Cause: cause, Authority: authority, Timestamp: time.Now()}
}

// NewTimeoutError reports an operation that exceeded its deadline.
func NewTimeoutError(authority, role, operation string, timeout time.Duration) *Error {
	return &Error{Type: ErrorTypeTimeout, Op: operation, Role: role,
		Message: fmt.Sprintf("%s timed out after %v", operation, timeout),
		Authority: authority, Timestamp: time.Now()}
}

// NewProtocolError reports an H1.1 parse failure or an H2 codec
// failure on an established Session.
func NewProtocolError(authority, role, protocol, message string, cause error) *Error {
	return &Error{Type: ErrorTypeProtocol, Op: "parse", Role: role, Protocol: protocol,
		Message: message, Cause: cause, Authority: authority, Timestamp: time.Now()}
}

// NewIOError reports a socket read/write failure on an established
// Session. operation names the call that failed; the read/write op
// tag is inferred from it.
func NewIOError(authority, role, operation string, cause error) *Error {
	op := operation
	low := strings.ToLower(operation)
	if strings.Contains(low, "read") {
		op = "read"
	} else if strings.Contains(low, "writ") {
		op = "write"
	}
	return &Error{Type: ErrorTypeIO, Op: op, Role: role,
		Message: fmt.Sprintf("I/O error during %s", operation),
		Cause: cause, Authority: authority, Timestamp: time.Now()}
}

// NewValidationError reports a malformed configuration value (an
// authority string, a peer pool size) with no connection context yet.
func NewValidationError(message string) *Error {
	return &Error{Type: ErrorTypeValidation, Op: "validate", Message: message, Timestamp: time.Now()}
}

// NewPoolError reports a Peer routing failure: no active slot found,
// or the pool already terminating.
func NewPoolError(authority, message string) *Error {
	return &Error{Type: ErrorTypePool, Op: "route", Role: "client",
		Message: message, Authority: authority, Timestamp: time.Now()}
}

func IsTimeoutError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func GetErrorType(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// CloseReason tags why a Session was torn down — stored on the
// Session itself. A Session free has no caller to return an *Error
// to, so this is a separate, smaller taxonomy that ErrorType bridges.
type CloseReason string

const (
	CloseNone CloseReason = ""
	CloseBySockErr CloseReason = "BY_SOCK_ERR"
	CloseBySockEOF CloseReason = "BY_SOCK_EOF"
	CloseBySSLErr CloseReason = "BY_SSL_ERR"
	CloseByCodecErr CloseReason = "BY_NGHTTP2_ERR"
	CloseByCodecEnd CloseReason = "BY_NGHTTP2_END"
	CloseByHTTPErr CloseReason = "BY_HTTP_ERR"
	CloseByHTTPEnd CloseReason = "BY_HTTP_END"
)

// ErrorType maps a close tag onto the *Error category a caller-facing
// report of the same failure would carry.
func (r CloseReason) ErrorType() ErrorType {
	switch r {
	case CloseBySockErr:
		return ErrorTypeIO
	case CloseBySockEOF:
		return ErrorTypeConnection
	case CloseBySSLErr:
		return ErrorTypeTLS
	case CloseByCodecErr, CloseByHTTPErr:
		return ErrorTypeProtocol
	default:
		return ""
	}
}

// NewSessionCloseError renders a Session's teardown as a *Error for
// logging. It returns nil for CloseNone and the two clean-end
// reasons, which are not failures.
func NewSessionCloseError(authority, role, protocol string, reason CloseReason) *Error {
	if reason == CloseNone || reason == CloseByHTTPEnd || reason == CloseByCodecEnd {
		return nil
	}
	return &Error{Type: reason.ErrorType(), Op: "close", Role: role, Protocol: protocol,
		Message: string(reason), Authority: authority, Timestamp: time.Now()}
}
