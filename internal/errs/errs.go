// Package errs defines the closed error taxonomy shared by the DNS,
// connection, and session layers. Every failure that crosses a package
// boundary in the core pipeline is a *Error carrying one of the Kind
// values below, so callers branch with errors.As instead of parsing
// message strings.
package errs

import "fmt"

// Kind is a closed taxonomy of failure classes, not a Go type per error site.
type Kind string

const (
	// DNS kinds.
	KindDNSHardFail      Kind = "DNS_HARD_FAIL"
	KindDNSSoftFail      Kind = "DNS_SOFT_FAIL"
	KindDNSTimeout       Kind = "DNS_TIMEOUT"
	KindDNSNoMXRecords   Kind = "DNS_NO_MX_RECORDS"
	KindDNSInvalidDomain Kind = "DNS_INVALID_DOMAIN"

	// Connection kinds.
	KindProxyAuthFailed        Kind = "PROXY_AUTH_FAILED"
	KindProxyHandshakeTimeout  Kind = "PROXY_HANDSHAKE_TIMEOUT"
	KindProxyConnectionFailed  Kind = "PROXY_CONNECTION_FAILED"
	KindSMTPBannerTimeout      Kind = "SMTP_BANNER_TIMEOUT"
	KindSMTPBannerInvalid      Kind = "SMTP_BANNER_INVALID"
	KindSMTPConnectionFailed   Kind = "SMTP_CONNECTION_FAILED"
	KindSMTPSocketError        Kind = "SMTP_SOCKET_ERROR"
	KindSocketTimeout          Kind = "SOCKET_TIMEOUT"
	KindInvalidConfig          Kind = "INVALID_CONFIG"

	// Protocol kinds.
	KindHandshakeFailed     Kind = "HANDSHAKE_FAILED"
	KindProtocolViolation   Kind = "PROTOCOL_VIOLATION"
	KindEmptyResponse       Kind = "EMPTY_RESPONSE"
)

// Phase identifies which side of a SOCKS5 handshake a connection failure
// is attributable to.
type Phase string

const (
	PhaseNone  Phase = ""
	PhaseProxy Phase = "proxy"
	PhaseTarget Phase = "target"
)

// Error is the single error type every core package returns. Phase,
// SOCKSCode and HasSOCKSCode carry kind-specific extra context (e.g. the raw SOCKS5 reply code) without
// resorting to untyped ad-hoc fields.
type Error struct {
	Kind    Kind
	Message string
	Phase   Phase
	// SOCKSCode is the raw SOCKS5 reply field, set only for connection
	// errors arising from a SOCKS5 CONNECT reply.
	SOCKSCode byte
	HasSOCKSCode bool
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a bare *Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithPhase attaches connection-phase attribution to an existing error,
// returning a new *Error (the original is left untouched).
func WithPhase(e *Error, phase Phase) *Error {
	cp := *e
	cp.Phase = phase
	return &cp
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind == kind
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
