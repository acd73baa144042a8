package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"ledgerly/cmd/ledgerly/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := commands.NewCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
