package transport

import (
	"context"
	"net"

	relayerr "tlsrelay/internal/errors"
	"tlsrelay/util"
)

// TCPSource listens on a local TCP address.  The Go runtime sets
// SO_REUSEADDR on listening sockets, so a restart does not wait out
// TIME_WAIT on the port.
type TCPSource struct {
	Host string
	Port int

	bound string
}

// Listen binds the address.  A bind failure is returned as a
// NetworkError with Op "listen".
func (s *TCPSource) Listen(ctx context.Context) (net.Listener, error) {
	var lc net.ListenConfig
	addr := util.FormatAddr(s.Host, s.Port)
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, relayerr.Wrap("listen", addr, err)
	}
	s.bound = ln.Addr().String()
	return ln, nil
}

// Close is a no-op for a local socket.
func (s *TCPSource) Close() error { return nil }

// String returns the bound address once listening, which resolves a
// zero port.
func (s *TCPSource) String() string {
	if s.bound != "" {
		return s.bound
	}
	return util.FormatAddr(s.Host, s.Port)
}
