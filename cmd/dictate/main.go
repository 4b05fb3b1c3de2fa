package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"dictate/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	deps := cli.NewDependencies(os.Stderr)
	err := cli.NewRootCmd(deps).ExecuteContext(ctx)
	stop()
	if err != nil {
		logger := deps.Logger()
		logger.Error().Err(err).Msg("command failed")
	}
	_ = deps.Close()
	if err != nil {
		os.Exit(1)
	}
}
