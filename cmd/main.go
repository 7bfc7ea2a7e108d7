package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/okian/atlasbatch/pkg/logger"
)

func main() {
	if err := logger.Init(); err != nil {
		// Use fmt for initialization errors since logger isn't available yet
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newApp().Run(ctx, os.Args)
	stop()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "atlasbatch",
		Usage: "Search, order, download and unpack OneAtlas imagery for a batch of sites",
		// Run flags live on the root so the default command accepts them too.
		Flags: rootFlags(),
		Commands: []*cli.Command{
			newRunCommand(),
			newSearchCommand(),
			newKeysCommand(),
		},
		DefaultCommand: "run",
	}
}
