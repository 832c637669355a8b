// tlsrelay - a TLS 1.3 command relay for a single remote peer.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tlsrelay/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Execute has already reported the error on stdout.
	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		cancel()
		os.Exit(1)
	}
}
