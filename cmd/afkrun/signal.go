package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/neo154/afkrun/internal/logger"
)

// listenSignals cancels ctx on SIGINT/SIGTERM, grounded on the teacher's
// own signal-to-listener forwarding shape (cmd/signal.go), adapted from a
// listener interface to a plain cancel func since afkrun has exactly one
// shutdown path.
func listenSignals(ctx context.Context, cancel context.CancelFunc, log logger.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
		case sig := <-sigCh:
			log.Infof("received signal %s", sig)
			cancel()
		}
	}()
}
