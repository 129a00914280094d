package runtime

import (
	"context"
	"os/signal"
	"syscall"
)

// SignalContext returns the process root context, cancelled on SIGINT or
// SIGTERM. Everything long-running hangs off this context.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
