// Package errors provides domain-specific error types for tlsrelay.
//
// These types carry structured context (operation, address, file path)
// that lets the listener decide whether a failure is fatal, belongs to
// a single connection, or is just the peer going away.
package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrPeerClosed    = errors.New("peer closed the connection")
	ErrFrameTooLarge = errors.New("frame exceeds maximum length")
	ErrCertMissing   = errors.New("certificate or key file not found")
	ErrHandshake     = errors.New("tls handshake failed")
	ErrNoGreeting    = errors.New("peer sent no greeting")
	ErrConsoleClosed = errors.New("operator console closed")
	ErrAuthFailed    = errors.New("authentication failed")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op   string // operation: "listen", "accept", "read", "write"
	Addr string // network address involved
	Err  error  // underlying error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TLSError is a per-connection TLS failure.  It never stops the
// listener.
type TLSError struct {
	Op     string // "handshake", "config"
	Remote string
	Err    error
}

func (e *TLSError) Error() string {
	if e.Remote == "" {
		return fmt.Sprintf("tls %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("tls %s %s: %v", e.Op, e.Remote, e.Err)
}

func (e *TLSError) Unwrap() error { return e.Err }

// Is lets a failed handshake match ErrHandshake whatever the
// underlying cause.
func (e *TLSError) Is(target error) bool {
	return target == ErrHandshake && e.Op == "handshake"
}

// CertError reports a certificate or key file that could not be used.
type CertError struct {
	Path string
	Err  error
	Hint string // multi-line suggestion printed under the error
}

func (e *CertError) Error() string {
	msg := fmt.Sprintf("certificate %s: %v", e.Path, e.Err)
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

func (e *CertError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "forward"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{Op: op, Addr: addr, Err: err}
}

// WrapTLS creates a TLSError.
func WrapTLS(op, remote string, err error) *TLSError {
	return &TLSError{Op: op, Remote: remote, Err: err}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsDisconnect reports whether err means the peer went away: an
// orderly EOF, a reset, a broken pipe, or a connection that is already
// closed.  These end a session but are not failures.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrPeerClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	return false
}

// IsTimeout reports whether err is a deadline expiry.  On a
// connection with a poll deadline this is the "no data yet" signal,
// not a failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// IsFatal reports whether err should stop the process at startup
// rather than just end one connection.
func IsFatal(err error) bool {
	var (
		ce  *CertError
		cfg *ConfigError
		ne  *NetworkError
	)
	switch {
	case errors.As(err, &ce), errors.As(err, &cfg):
		return true
	case errors.As(err, &ne):
		return ne.Op == "listen"
	}
	return false
}
