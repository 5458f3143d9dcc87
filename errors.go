package ftpcore

import (
	"errors"
	"fmt"
	"net"
)

// Sentinel errors returned by session operations.
var (
	// ErrAlreadyDisposed is returned when an operation is attempted on a
	// session that has been closed.
	ErrAlreadyDisposed = errors.New("ftpcore: session already disposed")

	// ErrNotConnected is returned when a reply is requested but no control
	// connection exists.
	ErrNotConnected = errors.New("ftpcore: not connected")

	// ErrTLSUnavailable is returned when the server refuses AUTH TLS in
	// explicit encryption mode.
	ErrTLSUnavailable = errors.New("ftpcore: server refused AUTH TLS")

	// ErrTLSRejected is returned when no certificate validation subscriber
	// accepted the server certificate.
	ErrTLSRejected = errors.New("ftpcore: server certificate rejected")

	// ErrUnexpectedDisconnect is returned when the server closes the
	// control connection in the middle of a reply.
	ErrUnexpectedDisconnect = errors.New("ftpcore: connection closed while awaiting reply")

	// ErrNetworkUnreachable is returned when no resolved address of the
	// server could be connected.
	ErrNetworkUnreachable = errors.New("ftpcore: no route to server")

	// ErrInvalidConfiguration is returned when the session configuration
	// is unusable.
	ErrInvalidConfiguration = errors.New("ftpcore: invalid configuration")
)

// ProtocolError represents an FTP protocol error with full context of the
// command/reply conversation.
type ProtocolError struct {
	// Command is the FTP command that was sent (e.g., "PROT P")
	Command string

	// Reply is the reply received from the server
	Reply *Reply
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftpcore: %s failed: %s (code %d)", e.Command, e.Reply.Message, e.Reply.Code)
}

// Code returns the numeric reply code, or 0 if no reply was captured.
func (e *ProtocolError) Code() int {
	if e.Reply == nil {
		return 0
	}
	return e.Reply.Code
}

// IsTemporary returns true if the error is a transient failure (4xx).
// Higher layers can use this to drive their retry policy.
func (e *ProtocolError) IsTemporary() bool {
	return e.Code() >= 400 && e.Code() < 500
}

// IsPermanent returns true if the error is a permanent failure (5xx).
func (e *ProtocolError) IsPermanent() bool {
	return e.Code() >= 500 && e.Code() < 600
}

// AuthError is returned when the USER/PASS sequence fails. It carries
// the server's reply.
type AuthError struct {
	Reply *Reply
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("ftpcore: authentication failed: %s", e.Reply)
}

// TransportError wraps a socket-level failure on the control or data
// connection.
type TransportError struct {
	// Op is the operation that failed ("read", "write", "connect", ...)
	Op string

	// Err is the underlying error
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("ftpcore: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiry.
func (e *TransportError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}
