package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/canopy-network/exitwatch/app/exitwatch"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := exitwatch.Initialize(ctx)

	app.Start(ctx)
}
