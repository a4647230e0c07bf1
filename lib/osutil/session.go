package osutil

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext returns a context that is cancelled on the first Ctrl+C
// (or SIGTERM) so running work can wind down and log out. A second signal
// exits the process immediately.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			slog.Info("interrupted, finishing up (press Ctrl+C again to quit now)")
			cancel()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigs:
			os.Exit(130)
		case <-parent.Done():
		}
	}()

	return ctx, cancel
}
