package util

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/small-frappuccino/gatecore/pkg/log"
)

// WaitForInterrupt blocks until SIGINT or SIGTERM arrives.
func WaitForInterrupt() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.ApplicationLogger().Info("interrupt received, shutting down")
}
