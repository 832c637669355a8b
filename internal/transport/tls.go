package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"time"

	relayerr "tlsrelay/internal/errors"
	"tlsrelay/util"
)

// certHint tells the operator how to produce a usable key pair.
func certHint(certPath, keyPath string) string {
	return fmt.Sprintf("generate a key pair first, e.g.:\n"+
		"    openssl req -x509 -newkey rsa:4096 -keyout %s -out %s -days 365 -nodes -subj \"/CN=localhost\"\n"+
		"  or run with --generate-cert", keyPath, certPath)
}

// LoadServerConfig loads the certificate and key and returns a server
// configuration that refuses anything older than TLS 1.3.
func LoadServerConfig(certPath, keyPath string) (*tls.Config, error) {
	for _, p := range []string{certPath, keyPath} {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				err = relayerr.ErrCertMissing
			}
			return nil, &relayerr.CertError{Path: p, Err: err, Hint: certHint(certPath, keyPath)}
		}
	}

	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, &relayerr.CertError{Path: certPath, Err: err, Hint: certHint(certPath, keyPath)}
	}
	return NewServerConfig(pair), nil
}

// NewServerConfig returns the relay's TLS server settings for pair.
func NewServerConfig(pair tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS13,
	}
}

// ServerHandshake wraps conn in TLS and completes the server handshake
// within timeout (no limit when zero).  On failure conn is left for
// the caller to close.
func ServerHandshake(ctx context.Context, conn net.Conn, cfg *tls.Config, timeout time.Duration) (*tls.Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tc := tls.Server(conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, relayerr.WrapTLS("handshake", util.RemoteString(conn), err)
	}
	return tc, nil
}
