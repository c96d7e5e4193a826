package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/anthonygricco/openevidence-cli/cmd"
)

func main() {
	// SIGINT/SIGTERM cancel the command context so the browser is released
	// cleanly instead of leaking a Chrome process.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}
