package worker

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// StopContext is cancelled on SIGINT or SIGTERM. A supervised worker also
// treats end of stdin as a stop request: the host holds the pipe open for as
// long as it wants the worker alive, and the pipe closes when the host exits.
func StopContext(parent context.Context, supervised bool, stdin io.Reader) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if !supervised || stdin == nil {
		return ctx, stop
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		_, _ = io.Copy(io.Discard, stdin)
		cancel()
	}()
	return ctx, func() {
		cancel()
		stop()
	}
}
