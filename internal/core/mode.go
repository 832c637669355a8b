// Package core is the orchestration layer.  It composes a connection
// source, TLS, and the interactive capability into the relay's serve
// loop, and provides a builder that assembles it from a Config.
//
// Architecture layers (bottom → top):
//
//	wire / transport  →  session  →  capability  →  core  →  cmd (CLI)
package core

import "context"

// Mode is a complete operational mode with its own lifecycle from
// binding to teardown.  Run returns nil on an orderly shutdown and an
// error only when the relay cannot continue.
type Mode interface {
	Run(ctx context.Context) error
}
