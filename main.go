package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/comicforge/pkg/cli"
	"github.com/m-mizutani/comicforge/pkg/utils/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Run(ctx, os.Args); err != nil {
		logging.Default().Error(err.Message)
		stop()
		os.Exit(err.Code)
	}
}
