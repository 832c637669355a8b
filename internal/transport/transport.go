// Package transport provides the network side of the relay: where
// inbound connections come from and how they are wrapped in TLS.
// Transports handle the "how" of connection establishment,
// independent of what happens over the connection (which is the
// capability layer's job).
package transport

import (
	"context"
	"net"
)

// Source opens the listener that inbound connections arrive on.
// Implementations include a plain local TCP socket and an SSH gateway
// that forwards connections from a remote port.
type Source interface {
	// Listen opens the listener.  Errors are fatal to the relay.
	Listen(ctx context.Context) (net.Listener, error)

	// Close releases any long-lived resources held by the source
	// (e.g. an SSH client).  Stateless sources return nil.
	Close() error

	// String describes where connections are accepted, for logs.
	String() string
}
