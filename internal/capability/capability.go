// Package capability defines what happens over an established
// connection.  A Capability operates on a Session rather than a raw
// net.Conn, which keeps it testable and decoupled from how the
// connection was accepted.
package capability

import (
	"context"

	"tlsrelay/internal/session"
)

// Capability handles a single connection after the greeting has been
// read.
type Capability interface {
	// Handle runs against the given session.  It blocks until the
	// connection is done or the context is cancelled.  Returning nil
	// means the connection ended normally; the caller goes back to
	// accepting.
	Handle(ctx context.Context, sess *session.Session) error
}
