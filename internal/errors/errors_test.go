package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestNetworkError_Format(t *testing.T) {
	err := NetworkError{Op: "listen", Addr: "0.0.0.0:5656", Err: fmt.Errorf("bind failed")}
	want := "listen 0.0.0.0:5656: bind failed"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	err := Wrap("read", "x", io.EOF)
	if !errors.Is(err, io.EOF) {
		t.Error("should unwrap to io.EOF")
	}
}

func TestTLSError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  *TLSError
		want string
	}{
		{"with remote", WrapTLS("handshake", "10.0.0.7:51000", fmt.Errorf("bad record MAC")),
			"tls handshake 10.0.0.7:51000: bad record MAC"},
		{"no remote", WrapTLS("config", "", fmt.Errorf("no certificates")),
			"tls config: no certificates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCertError_Format(t *testing.T) {
	err := &CertError{Path: "server.crt", Err: ErrCertMissing, Hint: "run --generate-cert"}
	want := "certificate server.crt: certificate or key file not found\n  hint: run --generate-cert"
	if got := err.Error(); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
	if !errors.Is(err, ErrCertMissing) {
		t.Error("should unwrap to ErrCertMissing")
	}
}

func TestSSHError_Format(t *testing.T) {
	err := WrapSSH("handshake", "bastion.example.com", 22, fmt.Errorf("connection refused"))
	want := "ssh handshake bastion.example.com:22: connection refused"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestConfigError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  ConfigError
		want string
	}{
		{
			name: "with value and hint",
			err: ConfigError{
				Field:   "port",
				Value:   99999,
				Message: "out of range 1-65535",
				Hint:    "use a port between 1 and 65535",
			},
			want: "config: --port=99999: out of range 1-65535\n  hint: use a port between 1 and 65535",
		},
		{
			name: "missing value no hint",
			err: ConfigError{
				Field:   "remote-port",
				Message: "required with --gateway",
			},
			want: "config: --remote-port: required with --gateway",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestIsDisconnect(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("read: %w", io.EOF), true},
		{"peer closed", ErrPeerClosed, true},
		{"net closed", net.ErrClosed, true},
		{"reset", &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, true},
		{"broken pipe", syscall.EPIPE, true},
		{"plain", fmt.Errorf("boom"), false},
		{"frame too large", ErrFrameTooLarge, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDisconnect(tt.err); got != tt.want {
				t.Errorf("IsDisconnect(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(os.ErrDeadlineExceeded) {
		t.Error("deadline exceeded should be a timeout")
	}
	if !IsTimeout(&net.OpError{Op: "read", Err: os.ErrDeadlineExceeded}) {
		t.Error("wrapped deadline should be a timeout")
	}
	if IsTimeout(io.EOF) {
		t.Error("EOF is not a timeout")
	}
	if IsTimeout(nil) {
		t.Error("nil is not a timeout")
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"cert", &CertError{Path: "x", Err: ErrCertMissing}, true},
		{"config", &ConfigError{Field: "port", Message: "bad"}, true},
		{"listen", Wrap("listen", ":1", fmt.Errorf("in use")), true},
		{"accept", Wrap("accept", ":1", fmt.Errorf("too many files")), false},
		{"tls", WrapTLS("handshake", "x", fmt.Errorf("bad certificate")), false},
		{"wrapped cert", fmt.Errorf("startup: %w", &CertError{Path: "k"}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSentinels(t *testing.T) {
	sentinels := []error{
		ErrPeerClosed, ErrFrameTooLarge, ErrCertMissing, ErrHandshake,
		ErrNoGreeting, ErrConsoleClosed, ErrAuthFailed,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinel %d and %d should not match", i, j)
			}
		}
	}
}

func TestTLSError_MatchesHandshake(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"handshake", WrapTLS("handshake", "10.0.0.7:51000", io.EOF), true},
		{"wrapped handshake", fmt.Errorf("conn: %w", WrapTLS("handshake", "", io.EOF)), true},
		{"config", WrapTLS("config", "", fmt.Errorf("no certificates")), false},
		{"plain", fmt.Errorf("tls: bad record MAC"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, ErrHandshake); got != tt.want {
				t.Errorf("errors.Is(ErrHandshake) = %v, want %v", got, tt.want)
			}
		})
	}
	if !errors.Is(WrapTLS("handshake", "", io.EOF), io.EOF) {
		t.Error("cause should still unwrap")
	}
}
